/*
Copyright © 2019 the gravgrid authors.
This file is part of gravgrid.

gravgrid is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

gravgrid is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with gravgrid.  If not, see <http://www.gnu.org/licenses/>.
*/

package gravgridutil

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func TestIsBlobIsURL(t *testing.T) {
	for _, test := range []struct {
		path          string
		isBlob, isURL bool
	}{
		{path: "gs://bucket/a.gdf", isBlob: true},
		{path: "s3://bucket/a.gdf", isBlob: true},
		{path: "file:///tmp/a.gdf", isBlob: true},
		{path: "http://example.com/a.gdf", isURL: true},
		{path: "https://example.com/a.gdf", isURL: true},
		{path: "/tmp/a.gdf"},
		{path: "a.gdf"},
	} {
		if IsBlob(test.path) != test.isBlob {
			t.Errorf("IsBlob(%s) = %v", test.path, !test.isBlob)
		}
		if IsURL(test.path) != test.isURL {
			t.Errorf("IsURL(%s) = %v", test.path, !test.isURL)
		}
	}
}

// testServer serves "/ok", fails "/flaky" the first two times it is
// requested, and returns 404 or 500 for "/missing" and "/broken".
func testServer(t *testing.T) (*httptest.Server, map[string]*int32) {
	hits := map[string]*int32{"/ok": new(int32), "/flaky": new(int32), "/missing": new(int32), "/broken": new(int32)}
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, ok := hits[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		c := atomic.AddInt32(n, 1)
		switch {
		case r.URL.Path == "/missing":
			http.NotFound(w, r)
		case r.URL.Path == "/broken", r.URL.Path == "/flaky" && c <= 2:
			http.Error(w, "try again", http.StatusServiceUnavailable)
		default:
			io.WriteString(w, "grid data")
		}
	}))
	t.Cleanup(s.Close)
	return s, hits
}

func testOpener(retries int) *opener {
	log, _ := test.NewNullLogger()
	return &opener{
		retries: retries,
		log:     log,
		backOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}
}

func readAll(t *testing.T, r io.ReadCloser) string {
	defer r.Close()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(b)
}

func TestOpener_url(t *testing.T) {
	s, hits := testServer(t)
	ctx := context.Background()

	r, err := testOpener(3).Open(ctx, s.URL+"/ok")
	require.NoError(t, err)
	require.Equal(t, "grid data", readAll(t, r))

	r, err = testOpener(3).Open(ctx, s.URL+"/flaky")
	require.NoError(t, err)
	require.Equal(t, "grid data", readAll(t, r))
	require.EqualValues(t, 3, atomic.LoadInt32(hits["/flaky"]))

	_, err = testOpener(3).Open(ctx, s.URL+"/missing")
	var se statusError
	require.True(t, errors.As(err, &se), "error %v", err)
	require.Equal(t, http.StatusNotFound, se.status)
	require.EqualValues(t, 1, atomic.LoadInt32(hits["/missing"]), "not found should not be retried")

	_, err = testOpener(2).Open(ctx, s.URL+"/broken")
	require.Error(t, err)
	require.EqualValues(t, 3, atomic.LoadInt32(hits["/broken"]))
}

func TestOpener_retryLogged(t *testing.T) {
	s, _ := testServer(t)
	log, hook := test.NewNullLogger()
	o := testOpener(3)
	o.log = log
	r, err := o.Open(context.Background(), s.URL+"/flaky")
	require.NoError(t, err)
	r.Close()
	require.Len(t, hook.AllEntries(), 2)
	require.Equal(t, "retrying read", hook.LastEntry().Message)
}

func TestOpener_cancelled(t *testing.T) {
	s, hits := testServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testOpener(3).Open(ctx, s.URL+"/ok")
	require.True(t, errors.Is(err, context.Canceled), "error %v", err)
	require.EqualValues(t, 0, atomic.LoadInt32(hits["/ok"]))
}

func TestOpener_local(t *testing.T) {
	r, err := testOpener(0).Open(context.Background(), "../testdata/testtopo-testloc.gdf")
	require.NoError(t, err)
	require.Contains(t, readAll(t, r), "topography_grd")

	_, err = testOpener(0).Open(context.Background(), "../testdata/nothing.gdf")
	require.True(t, errors.Is(err, os.ErrNotExist), "error %v", err)
}

func fileURL(dir, name string) string {
	return "file://" + filepath.ToSlash(dir) + "/" + name
}

func TestWriteTo_blob(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	dest := fileURL(dir, "out.txt")
	err := writeTo(ctx, dest, func(w *os.File) error {
		_, err := io.WriteString(w, "uploaded")
		return err
	})
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	require.Equal(t, "uploaded", string(b))

	r, err := testOpener(0).Open(ctx, dest)
	require.NoError(t, err)
	require.Equal(t, "uploaded", readAll(t, r))

	_, err = testOpener(0).Open(ctx, fileURL(dir, "missing.txt"))
	require.Error(t, err)
}

func TestWriteTo_local(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, os.WriteFile(dest, []byte("old contents that are longer"), 0644))
	err := writeTo(context.Background(), dest, func(w *os.File) error {
		_, err := io.WriteString(w, "new")
		return err
	})
	require.NoError(t, err)
	b, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "new", string(b))

	failure := errors.New("write failed")
	err = writeTo(context.Background(), dest, func(*os.File) error { return failure })
	require.True(t, errors.Is(err, failure))
}

func TestOpenLocal(t *testing.T) {
	s, _ := testServer(t)
	f, cleanup, err := openLocal(context.Background(), testOpener(0), s.URL+"/ok")
	require.NoError(t, err)
	name := f.Name()
	b := make([]byte, 9)
	_, err = f.ReadAt(b, 0)
	require.NoError(t, err)
	require.Equal(t, "grid data", string(b))
	cleanup()
	_, err = os.Stat(name)
	require.True(t, os.IsNotExist(err), "temporary file should be removed")
}

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

package gravgrid

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func testAssembler() *Assembler {
	log, _ := test.NewNullLogger()
	return &Assembler{
		InputDir:        "testdata",
		GravityModel:    "TESTMODEL",
		TopographyModel: "testtopo",
		RunID:           "test-run",
		Log:             log,
	}
}

func TestAssemble(t *testing.T) {
	log, hook := test.NewNullLogger()
	a := testAssembler()
	a.Log = log

	d, err := a.Assemble(context.Background(), "testloc")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{HOverGeoid, GravityEarth, GeoidField, TopographyGrd, HOverEllipsoid, TopographyEll}
	if !reflect.DeepEqual(d.FieldNames(), want) {
		t.Errorf("fields: have %v, want %v", d.FieldNames(), want)
	}
	if d.Location != "testloc" {
		t.Errorf("location: %q", d.Location)
	}
	if !reflect.DeepEqual(d.Lat, []float64{45, 46, 47}) || !reflect.DeepEqual(d.Lon, []float64{10, 11, 12, 13}) {
		t.Errorf("axes: %v, %v", d.Lat, d.Lon)
	}

	sums := []struct{ sum, a, b string }{
		{HOverEllipsoid, HOverGeoid, GeoidField},
		{TopographyEll, TopographyGrd, GeoidField},
	}
	for _, s := range sums {
		sum, a, b := d.Field(s.sum).Data.Elements, d.Field(s.a).Data.Elements, d.Field(s.b).Data.Elements
		for i := range sum {
			if want := float64(float32(a[i] + b[i])); sum[i] != want {
				t.Errorf("%s[%d] = %g, want %g", s.sum, i, sum[i], want)
			}
		}
		if u := d.Field(s.sum).Units; u != "meter" {
			t.Errorf("%s units: %q", s.sum, u)
		}
	}
	// South-west corner: h_over_geoid 108, geoid 49.5.
	if v := d.Field(HOverEllipsoid).Data.Get(0, 0); v != 157.5 {
		t.Errorf("south-west h_over_ellipsoid = %g, want 157.5", v)
	}

	for _, src := range []string{SourceGravity, SourceGeoid, SourceTopography} {
		if d.Headers[src] == "" {
			t.Errorf("missing %s header", src)
		}
	}
	attrs := map[string]string{
		"run_id":               "test-run",
		"gravgrid_version":     Version,
		"gravity_model":        "TESTMODEL",
		"topography_model":     "testtopo",
		"modelname_gravity":    "TESTMODEL",
		"modelname_geoid":      "TESTMODEL",
		"modelname_topography": "testtopo",
	}
	for k, v := range attrs {
		if d.Attributes[k] != v {
			t.Errorf("attribute %s: have %q, want %q", k, d.Attributes[k], v)
		}
	}
	if len(d.Attributes["source_fingerprint"]) != 32 {
		t.Errorf("fingerprint: %q", d.Attributes["source_fingerprint"])
	}

	last := hook.LastEntry()
	if last == nil || last.Message != "assembled location" || last.Data["location"] != "testloc" {
		t.Errorf("last log entry: %+v", last)
	}
}

func TestAssemble_runID(t *testing.T) {
	a := testAssembler()
	a.RunID = ""
	d1, err := a.Assemble(context.Background(), "testloc")
	if err != nil {
		t.Fatal(err)
	}
	d2, err := a.Assemble(context.Background(), "testloc")
	if err != nil {
		t.Fatal(err)
	}
	if d1.Attributes["run_id"] == "" || d1.Attributes["run_id"] == d2.Attributes["run_id"] {
		t.Errorf("run ids: %q, %q", d1.Attributes["run_id"], d2.Attributes["run_id"])
	}
	if d1.Attributes["source_fingerprint"] != d2.Attributes["source_fingerprint"] {
		t.Error("fingerprint of the same inputs should not change")
	}
}

func TestAssemble_axisMismatch(t *testing.T) {
	a := testAssembler()
	if _, err := a.Assemble(context.Background(), "shiftloc"); !errors.Is(err, ErrAxisMismatch) {
		t.Errorf("have error %v, want %v", err, ErrAxisMismatch)
	}
	a.AxisTolerance = 0.6
	if _, err := a.Assemble(context.Background(), "shiftloc"); err != nil {
		t.Errorf("within tolerance: %v", err)
	}
}

func TestAssemble_missingInput(t *testing.T) {
	a := testAssembler()
	_, err := a.Assemble(context.Background(), "partloc")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("have error %v, want not exist", err)
	}
	if n := strings.Count(err.Error(), "gravgrid:"); n != 1 {
		t.Errorf("error %q has %d package prefixes", err, n)
	}
}

func TestAssemble_errorPrefix(t *testing.T) {
	_, err := testAssembler().Assemble(context.Background(), "shiftloc")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.HasPrefix(err.Error(), "gravgrid: assembling shiftloc: ") || strings.Count(err.Error(), "gravgrid:") != 1 {
		t.Errorf("error: %q", err)
	}
}

func TestAssemble_cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := testAssembler().Assemble(ctx, "testloc"); !errors.Is(err, context.Canceled) {
		t.Errorf("have error %v, want %v", err, context.Canceled)
	}
}

// trackedFile records when it is closed.
type trackedFile struct {
	*os.File
	events *[]string
}

func (f trackedFile) Close() error {
	*f.events = append(*f.events, "close "+filepath.Base(f.Name()))
	return f.File.Close()
}

func TestAssemble_openOrder(t *testing.T) {
	var events []string
	a := testAssembler()
	a.Open = func(_ context.Context, path string) (io.ReadCloser, error) {
		events = append(events, "open "+filepath.Base(path))
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		return trackedFile{File: f, events: &events}, nil
	}
	if _, err := a.Assemble(context.Background(), "testloc"); err != nil {
		t.Fatal(err)
	}
	var want []string
	for _, name := range []string{"TESTMODEL-testloc-gravity.gdf", "TESTMODEL-testloc-geoid.gdf", "testtopo-testloc.gdf"} {
		want = append(want, "open "+name, "close "+name)
	}
	if !reflect.DeepEqual(events, want) {
		t.Errorf("events: have %v, want %v", events, want)
	}
}

func TestAssembler_names(t *testing.T) {
	a := &Assembler{
		InputDir:        "in",
		GravityModel:    "EIGEN-6C4",
		TopographyModel: "etopo1",
		Templates:       Templates{Output: "[LOCATION]_[GRAVITYMODEL].nc"},
	}
	want := []Input{
		{Source: SourceGravity, Path: filepath.Join("in", "EIGEN-6C4-alps-gravity.gdf")},
		{Source: SourceGeoid, Path: filepath.Join("in", "EIGEN-6C4-alps-geoid.gdf")},
		{Source: SourceTopography, Path: filepath.Join("in", "etopo1-alps.gdf")},
	}
	if diff := cmp.Diff(want, a.Inputs("alps")); diff != "" {
		t.Errorf("inputs (-want +have):\n%s", diff)
	}
	if have := a.OutputName("alps"); have != "alps_EIGEN-6C4.nc" {
		t.Errorf("output: %q", have)
	}
	a.Templates = Templates{}
	if have := a.OutputName("alps"); have != "alps-gravity.nc" {
		t.Errorf("default output: %q", have)
	}
}

func TestJoinPath(t *testing.T) {
	for _, test := range []struct{ dir, name, want string }{
		{"", "a.gdf", "a.gdf"},
		{"data", "a.gdf", filepath.Join("data", "a.gdf")},
		{"gs://bucket/grids/", "a.gdf", "gs://bucket/grids/a.gdf"},
		{"https://example.com/grids", "a.gdf", "https://example.com/grids/a.gdf"},
	} {
		if have := JoinPath(test.dir, test.name); have != test.want {
			t.Errorf("JoinPath(%q, %q) = %q, want %q", test.dir, test.name, have, test.want)
		}
	}
}

func ExampleAssembler_Assemble() {
	log := logrus.New()
	log.Out = io.Discard
	a := &Assembler{
		InputDir:        "testdata",
		GravityModel:    "TESTMODEL",
		TopographyModel: "testtopo",
		Log:             log,
	}
	d, err := a.Assemble(context.Background(), "testloc")
	if err != nil {
		panic(err)
	}
	fmt.Println(d.FieldNames())
	// Output: [h_over_geoid gravity_earth geoid topography_grd h_over_ellipsoid topography_ell]
}

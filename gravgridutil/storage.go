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
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/cenkalti/backoff"
	"github.com/google/go-cloud/blob"
	"github.com/google/go-cloud/blob/fileblob"
	"github.com/google/go-cloud/blob/gcsblob"
	"github.com/google/go-cloud/blob/s3blob"
	"github.com/google/go-cloud/gcp"
	"github.com/sirupsen/logrus"
)

// IsBlob returns whether the given filename represents a blob.
// (i.e., if it starts with `gs://`, 's3://', or 'file://').
func IsBlob(path string) bool {
	return strings.HasPrefix(path, "gs://") || strings.HasPrefix(path, "s3://") || strings.HasPrefix(path, "file://")
}

// IsURL returns whether the given filename is an HTTP or HTTPS URL.
func IsURL(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

// OpenBucket returns the blob storage bucket specified by bucketName,
// where bucketName must be in the format 'provider://name' where provider
// is the name of the storage provider and name is the name of the bucket.
// The currently accepted storage providers are "file" for the local filesystem
// (e.g., for testing), "gs" for Google Cloud Storage, and "s3" for AWS S3.
// For "file", name is a local directory.
func OpenBucket(ctx context.Context, bucketName string) (*blob.Bucket, error) {
	u, err := url.Parse(bucketName)
	if err != nil {
		return nil, fmt.Errorf("gravgridutil.OpenBucket: %v", err)
	}
	switch u.Scheme {
	case "file":
		return fileblob.NewBucket(filepath.FromSlash(u.Host + u.Path))
	case "gs":
		return gsBucket(ctx, u.Hostname())
	case "s3":
		return s3Bucket(ctx, u.Hostname())
	default:
		return nil, fmt.Errorf("gravgridutil.OpenBucket: invalid provider %s", u.Scheme)
	}
}

func gsBucket(ctx context.Context, name string) (*blob.Bucket, error) {
	// See here for information on credentials:
	// https://cloud.google.com/docs/authentication/getting-started
	creds, err := gcp.DefaultCredentials(ctx)
	if err != nil {
		return nil, err
	}
	c, err := gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(creds))
	if err != nil {
		return nil, err
	}
	return gcsblob.OpenBucket(ctx, name, c)
}

// s3Bucket opens an s3 storage bucket. It assumes the following
// environment variables are set: AWS_REGION, AWS_ACCESS_KEY_ID, and
// AWS_SECRET_ACCESS_KEY.
func s3Bucket(ctx context.Context, name string) (*blob.Bucket, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-2"
	}
	c := &aws.Config{
		Region:      aws.String(region),
		Credentials: credentials.NewEnvCredentials(),
	}
	s, err := session.NewSession(c)
	if err != nil {
		return nil, err
	}
	return s3blob.OpenBucket(ctx, s, name)
}

// bucketObject splits a blob path into the bucket and the key
// within it. For "gs" and "s3" paths the bucket is the host and the key
// is the path. For "file" paths the bucket is the directory holding
// the file and the key is the file name.
func bucketObject(ctx context.Context, blobPath string) (*blob.Bucket, string, error) {
	u, err := url.Parse(blobPath)
	if err != nil {
		return nil, "", fmt.Errorf("gravgridutil: parsing blob path '%s': %v", blobPath, err)
	}
	var bucketName, key string
	if u.Scheme == "file" {
		bucketName = u.Scheme + "://" + path.Dir(u.Host+u.Path)
		key = path.Base(u.Path)
	} else {
		bucketName = u.Scheme + "://" + u.Host
		key = strings.TrimPrefix(u.Path, "/")
	}
	bucket, err := OpenBucket(ctx, bucketName)
	if err != nil {
		return nil, "", fmt.Errorf("gravgridutil: opening bucket for '%s': %v", blobPath, err)
	}
	return bucket, key, nil
}

// opener opens inputs from local files, HTTP(S) URLs, or blob storage.
type opener struct {
	// retries is the number of times a failed remote read is retried.
	retries int
	client  *http.Client
	log     logrus.FieldLogger

	// backOff creates the retry schedule. If nil, an exponential
	// back-off is used.
	backOff func() backoff.BackOff
}

func (o *opener) newBackOff() backoff.BackOff {
	var b backoff.BackOff
	if o.backOff != nil {
		b = o.backOff()
	} else {
		b = backoff.NewExponentialBackOff()
	}
	return backoff.WithMaxRetries(b, uint64(o.retries))
}

// Open opens the input at path.
func (o *opener) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	switch {
	case IsURL(path):
		return o.retry(ctx, path, func() (io.ReadCloser, error) { return o.get(ctx, path) })
	case IsBlob(path):
		return o.retry(ctx, path, func() (io.ReadCloser, error) {
			bucket, key, err := bucketObject(ctx, path)
			if err != nil {
				return nil, err
			}
			return bucket.NewReader(ctx, key)
		})
	default:
		return os.Open(path)
	}
}

// retry calls open until it succeeds, the retries are used up, or
// ctx is done.
func (o *opener) retry(ctx context.Context, path string, open func() (io.ReadCloser, error)) (io.ReadCloser, error) {
	var r io.ReadCloser
	var final error
	op := func() error {
		if err := ctx.Err(); err != nil {
			final = err
			return nil
		}
		var err error
		r, err = open()
		if se, ok := err.(statusError); ok && !se.temporary() {
			final = err
			return nil
		}
		return err
	}
	notify := func(err error, d time.Duration) {
		o.logger().WithFields(logrus.Fields{
			"path":  path,
			"error": err,
			"wait":  d,
		}).Warn("retrying read")
	}
	if err := backoff.RetryNotify(op, o.newBackOff(), notify); err != nil {
		return nil, fmt.Errorf("gravgridutil: reading %s: %w", path, err)
	}
	if final != nil {
		return nil, fmt.Errorf("gravgridutil: reading %s: %w", path, final)
	}
	return r, nil
}

func (o *opener) logger() logrus.FieldLogger {
	if o.log == nil {
		return logrus.StandardLogger()
	}
	return o.log
}

// statusError is returned for unsuccessful HTTP responses.
type statusError struct {
	url    string
	status int
}

func (e statusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.url, e.status, http.StatusText(e.status))
}

// temporary returns whether the request may succeed if it is retried.
func (e statusError) temporary() bool {
	return e.status >= 500 || e.status == http.StatusTooManyRequests
}

func (o *opener) get(ctx context.Context, u string) (io.ReadCloser, error) {
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	c := o.client
	if c == nil {
		c = http.DefaultClient
	}
	resp, err := c.Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, statusError{url: u, status: resp.StatusCode}
	}
	return resp.Body, nil
}

// writeTo creates the file at dest using write. If dest is a blob
// path, the file is written to a temporary location and then uploaded.
func writeTo(ctx context.Context, dest string, write func(w *os.File) error) error {
	if !IsBlob(dest) {
		w, err := os.Create(dest)
		if err != nil {
			return fmt.Errorf("gravgridutil: creating '%s': %v", dest, err)
		}
		if err := write(w); err != nil {
			w.Close()
			return err
		}
		return w.Close()
	}

	tmp, err := os.CreateTemp("", "gravgrid")
	if err != nil {
		return fmt.Errorf("gravgridutil: creating temporary file for upload: %v", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()
	if err := write(tmp); err != nil {
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return upload(ctx, tmp, dest)
}

// upload copies r to the blob at dest.
func upload(ctx context.Context, r io.Reader, dest string) error {
	bucket, key, err := bucketObject(ctx, dest)
	if err != nil {
		return err
	}
	w, err := bucket.NewWriter(ctx, key, &blob.WriterOptions{})
	if err != nil {
		return fmt.Errorf("gravgridutil: opening writer to upload file '%s': %v", dest, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("gravgridutil: uploading to '%s': %v", dest, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gravgridutil: uploading to '%s': %v", dest, err)
	}
	return nil
}

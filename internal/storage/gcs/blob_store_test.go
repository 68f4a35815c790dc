// Package gcs_test contains unit tests for the GCS report store.
package gcs_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/linkgate/internal/storage/gcs"
)

// newTestStore returns a BlobStore whose client talks to handler.
func newTestStore(t *testing.T, handler http.Handler, cfg gcs.Config) *gcs.BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, cfg)
	require.NoError(t, err)
	return store
}

func TestPutObject(t *testing.T) {
	const bucket = "test-bucket"
	payload := `{"broken":[]}`

	// Simulates the JSON API multipart upload.
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, fmt.Sprintf("/upload/storage/v1/b/%s/o", bucket))
		assert.Equal(t, "reports/run-1/report.json", r.URL.Query().Get("name"))
		assert.Equal(t, "multipart", r.URL.Query().Get("uploadType"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), payload)
		assert.Contains(t, string(body), "application/json")

		fmt.Fprintln(w, `{"name": "reports/run-1/report.json", "bucket": "`+bucket+`"}`)
	})

	store := newTestStore(t, handler, gcs.Config{Bucket: bucket, Prefix: "/reports/"})
	uri, err := store.PutObject(context.Background(), "run-1/report.json", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "gs://test-bucket/reports/run-1/report.json", uri)
}

func TestPutObjectServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	store := newTestStore(t, handler, gcs.Config{Bucket: "test-bucket"})
	_, err := store.PutObject(context.Background(), "report.json", "application/json", strings.NewReader("{}"))
	assert.Error(t, err)
}

func TestPutObjectEmptyPath(t *testing.T) {
	store := newTestStore(t, http.NotFoundHandler(), gcs.Config{Bucket: "test-bucket"})
	_, err := store.PutObject(context.Background(), "", "text/plain", strings.NewReader("x"))
	assert.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	assert.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = gcs.New(client, gcs.Config{})
	assert.Error(t, err)

	store, err := gcs.New(client, gcs.Config{Bucket: "b"})
	require.NoError(t, err)
	assert.Equal(t, "run/report.md", store.ObjectName("/run/report.md"))
}

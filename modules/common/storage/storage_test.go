package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadAndDownload(t *testing.T) {
	stored := map[string][]byte{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch r.Method {
		case http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			stored[r.URL.Path] = body
			assert.Equal(t, "image/webp", r.Header.Get("Content-Type"))
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			data, ok := stored[r.URL.Path]
			if !ok {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			w.Write(data)
		}
	}))
	defer srv.Close()

	c := NewClientWithURL(srv.URL+"/", "secret", nil)
	path := ResultPath("u1", "job-1")
	require.NoError(t, c.Upload(context.Background(), path, []byte("webp-bytes"), "image/webp"))
	assert.Contains(t, stored, "/storage/v1/object/attachments/generated-images/user-u1/tryon_job-1.webp")

	got, err := c.Download(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []byte("webp-bytes"), got)

	_, err = c.Download(context.Background(), "missing.png")
	assert.ErrorContains(t, err, "404")
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "tryon-inputs/user-anonymous/j/source", InputPath("", "j", "source"))
	assert.Equal(t, "generated-images/user-u/tryon_j.webp", ResultPath("u", "j"))
}

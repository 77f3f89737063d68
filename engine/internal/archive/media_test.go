package archive

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFaviconDownloadsOnce(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("fake-favicon-bytes"))
	}))
	defer srv.Close()

	writer, _ := newTestWriter(t)
	originKey := "a1b2c3d4e5" // callers pass urlnorm.KeyOf(origin); any opaque stem works here
	path1, err := writer.WriteFavicon(context.Background(), originKey, srv.URL+"/favicon.png")
	require.NoError(t, err)
	assert.Equal(t, "media/favicons/"+originKey+".png", path1)

	path2, err := writer.WriteFavicon(context.Background(), originKey, srv.URL+"/favicon.png")
	require.NoError(t, err)
	assert.Equal(t, path1, path2)
	assert.Equal(t, 1, requests, "second call for the same origin must not re-download")

	data, err := os.ReadFile(filepath.Join(writer.stagingDir, filepath.FromSlash(path1)))
	require.NoError(t, err)
	assert.Equal(t, "fake-favicon-bytes", string(data))
}

func TestWriteScreenshotWritesUnderViewportDir(t *testing.T) {
	writer, _ := newTestWriter(t)
	rel, err := writer.WriteScreenshot("urlkey123", "desktop", []byte{0xFF, 0xD8})
	require.NoError(t, err)
	assert.Equal(t, "media/screenshots/desktop/urlkey123.jpg", rel)

	_, err = writer.WriteScreenshot("urlkey123", "sideways", nil)
	assert.Error(t, err)
}

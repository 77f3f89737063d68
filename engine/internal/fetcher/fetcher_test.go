package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchCapturesBodyAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("X-Robots-Tag", "noindex")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	f := New(DefaultConfig())
	result, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Contains(t, result.ContentType, "text/html")
	assert.Equal(t, "noindex", result.RobotsHeader)
	assert.Equal(t, "<html><body>hello</body></html>", string(result.Body))
	assert.NotEmpty(t, result.RawHTMLHash)
}

func TestFetchFollowsRedirectsAndRecordsChain(t *testing.T) {
	var finalURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/middle", http.StatusFound)
	})
	mux.HandleFunc("/middle", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/end", http.StatusFound)
	})
	mux.HandleFunc("/end", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("done"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	finalURL = srv.URL + "/end"

	f := New(DefaultConfig())
	result, err := f.Fetch(context.Background(), srv.URL+"/start")
	require.NoError(t, err)

	assert.Equal(t, finalURL, result.FinalURL)
	assert.Len(t, result.RedirectChain, 2, "expected both intermediate hops recorded")
}

func TestFetchStopsAtMaxRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/b", http.StatusFound)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/a", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.MaxRedirects = 1
	f := New(cfg)
	result, err := f.Fetch(context.Background(), srv.URL+"/a")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(result.RedirectChain), 2)
}

func TestFetchInvalidURLReturnsUnknownConnectionKind(t *testing.T) {
	f := New(DefaultConfig())
	_, err := f.Fetch(context.Background(), "://not-a-url")
	require.Error(t, err)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, ConnUnknown, fe.Kind)
}

func TestFetchConnectionRefusedClassifiesAsAborted(t *testing.T) {
	f := New(DefaultConfig())
	_, err := f.Fetch(context.Background(), "http://127.0.0.1:1")
	require.Error(t, err)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.NotEqual(t, ConnUnknown, fe.Kind)
}

func TestFetchReusesCollectorAcrossMultipleCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(DefaultConfig())
	for i := 0; i < 5; i++ {
		result, err := f.Fetch(context.Background(), srv.URL)
		require.NoError(t, err)
		assert.Equal(t, "ok", string(result.Body))
	}
}

package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cartographer/engine/internal/telemetry/events"
	"cartographer/engine/models"
)

func TestEngineStaticCrawlProducesArchive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>hi</title></head><body>hello</body></html>`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	out := filepath.Join(dir, "crawl.atls")

	cfg := Defaults()
	cfg.Seeds = []string{srv.URL + "/"}
	cfg.OutAtlas = out
	cfg.Checkpoint.Enabled = false

	var finished bool
	e := New()
	unsub := e.On("crawl.finished", func(ev events.Event) { finished = true })
	defer unsub()

	require.NoError(t, e.Start(context.Background(), cfg))

	path, err := e.Wait()
	require.NoError(t, err)
	assert.True(t, finished)
	assert.Equal(t, out, path)

	_, statErr := os.Stat(out)
	assert.NoError(t, statErr)

	st := e.Status()
	assert.Equal(t, StateDone, st.State)
	assert.Equal(t, int64(1), st.Progress.Completed)
	assert.Equal(t, out, st.ManifestPath)
}

func TestEngineStartWhileRunningFailsIdempotently(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
		_, _ = w.Write([]byte(`<html><body>hi</body></html>`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := Defaults()
	cfg.Seeds = []string{srv.URL + "/"}
	cfg.OutAtlas = filepath.Join(dir, "crawl.atls")
	cfg.Checkpoint.Enabled = false

	e := New()
	require.NoError(t, e.Start(context.Background(), cfg))

	cfg2 := cfg
	cfg2.OutAtlas = filepath.Join(dir, "crawl2.atls")
	err := e.Start(context.Background(), cfg2)
	assert.ErrorIs(t, err, models.ErrAlreadyRunning)

	close(block)
	_, _ = e.Wait()
}

func TestEngineCancelBeforeStartReportsNotRunning(t *testing.T) {
	e := New()
	assert.ErrorIs(t, e.Cancel(), models.ErrNotRunning)
	assert.ErrorIs(t, e.Pause(), models.ErrNotRunning)
	assert.Equal(t, StateIdle, e.Status().State)
}

func TestEngineStatusReflectsMaxPagesCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><a href="/b">b</a></body></html>`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := Defaults()
	cfg.Seeds = []string{srv.URL + "/"}
	cfg.OutAtlas = filepath.Join(dir, "crawl.atls")
	cfg.MaxPages = 1
	cfg.Checkpoint.Enabled = false

	e := New()
	require.NoError(t, e.Start(context.Background(), cfg))

	_, err := e.Wait()
	require.NoError(t, err)

	assert.LessOrEqual(t, e.Status().Progress.Completed, int64(1))
}

func TestEngineEventSubscriptionReceivesFinishedEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body>hi</body></html>`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := Defaults()
	cfg.Seeds = []string{srv.URL + "/"}
	cfg.OutAtlas = filepath.Join(dir, "crawl.atls")
	cfg.Checkpoint.Enabled = false

	e := New()
	require.NoError(t, e.Start(context.Background(), cfg))

	sub, err := e.Subscribe(8)
	require.NoError(t, err)

	_, waitErr := e.Wait()
	require.NoError(t, waitErr)

	var sawFinished bool
	for !sawFinished {
		select {
		case ev := <-sub.C():
			if ev.Type == "crawl.finished" {
				sawFinished = true
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for crawl.finished on the bus")
		}
	}
}

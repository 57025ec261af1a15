package native

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memPersistor collects saved files in memory.
type memPersistor struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemPersistor() *memPersistor {
	return &memPersistor{files: make(map[string][]byte)}
}

func (p *memPersistor) Save(_ context.Context, name string, content []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files[name] = append([]byte(nil), content...)
	return "/out/" + name, nil
}

func (p *memPersistor) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for k := range p.files {
		out = append(out, k)
	}
	return out
}

// passRenderer echoes the body as markdown, or fails for marked inputs.
type passRenderer struct {
	fail string
}

func (r *passRenderer) RenderWithRecovery(html, _ string) (string, error) {
	if r.fail != "" && html == r.fail {
		return "", errors.New("render failed")
	}
	return html + "\n", nil
}

func newSiteServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`<html><body><a href="/one">one</a><a href="/two">two</a></body></html>`))
	})
	mux.HandleFunc("/one", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<p>page one</p>"))
	})
	mux.HandleFunc("/two", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<p>page two</p>"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRunFollowsLinksAndPersists(t *testing.T) {
	t.Parallel()

	srv := newSiteServer(t)
	persistor := newMemPersistor()
	c := New(Config{MaxDepth: 2, MaxPages: 10, Concurrency: 1}, &passRenderer{}, persistor, zap.NewNop())

	stats, err := c.Run(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, 3, stats.TotalURLs)
	require.Equal(t, 3, stats.Succeeded)
	require.Zero(t, stats.Failed)

	names := persistor.names()
	require.Len(t, names, 3)
	require.Contains(t, names, "one.md")
	require.Contains(t, names, "two.md")
	// The root page maps to the {host}_index stem.
	var foundIndex bool
	for _, n := range names {
		if strings.HasSuffix(n, "_index.md") {
			foundIndex = true
		}
	}
	require.True(t, foundIndex, "expected an index file, got %v", names)
}

func TestRunRenderFailureFallsBackToHTML(t *testing.T) {
	t.Parallel()

	srv := newSiteServer(t)
	persistor := newMemPersistor()
	renderer := &passRenderer{fail: "<p>page one</p>"}
	c := New(Config{MaxDepth: 2, MaxPages: 10, Concurrency: 1}, renderer, persistor, zap.NewNop())

	stats, err := c.Run(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, 3, stats.Succeeded)
	require.Contains(t, persistor.names(), "one.html")
}

func TestRunMaxPagesBound(t *testing.T) {
	t.Parallel()

	srv := newSiteServer(t)
	persistor := newMemPersistor()
	c := New(Config{MaxDepth: 2, MaxPages: 1, Concurrency: 1}, &passRenderer{}, persistor, zap.NewNop())

	stats, err := c.Run(context.Background(), srv.URL)
	require.NoError(t, err)
	require.LessOrEqual(t, stats.TotalURLs, 2)
}

func TestRunUnreachableDomain(t *testing.T) {
	t.Parallel()

	c := New(Config{}, &passRenderer{}, newMemPersistor(), zap.NewNop())
	stats, err := c.Run(context.Background(), "http://127.0.0.1:1")
	require.NoError(t, err)
	require.Zero(t, stats.Succeeded)
}

func TestStartURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://example.com/", startURL("example.com"))
	require.Equal(t, "https://example.com/", startURL(" example.com/ "))
	require.Equal(t, "http://example.com:8080/", startURL("http://example.com:8080"))
}

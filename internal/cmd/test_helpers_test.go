package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/runger/livesearch/internal/config"
)

type searchGlobals struct {
	json     bool
	offline  bool
	language string
	limit    int
}

func withSearchGlobals(t *testing.T, g searchGlobals) {
	t.Helper()
	old := searchGlobals{
		json:     searchJSON,
		offline:  searchOffline,
		language: searchLanguage,
		limit:    searchLimit,
	}
	searchJSON = g.json
	searchOffline = g.offline
	searchLanguage = g.language
	searchLimit = g.limit

	t.Cleanup(func() {
		searchJSON = old.json
		searchOffline = old.offline
		searchLanguage = old.language
		searchLimit = old.limit
	})
}

// withIsolatedHome points every config, data and cache directory at a
// temp dir, clears the environment overrides and turns colors off.
func withIsolatedHome(t *testing.T) *config.Paths {
	t.Helper()
	root := t.TempDir()
	t.Setenv("HOME", root)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(root, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(root, "data"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(root, "cache"))
	for _, k := range []string{
		"LIVESEARCH_LOG_LEVEL", "LIVESEARCH_DEBUG", "LIVESEARCH_DB_PATH",
		"LIVESEARCH_API_URL", "LIVESEARCH_THROTTLE_MS", "GITHUB_TOKEN",
	} {
		t.Setenv(k, "")
	}

	origMode := colorMode
	colorMode = "never"
	disableColors()
	t.Cleanup(func() {
		colorMode = origMode
		if !shouldDisableColors() {
			enableColors()
		}
	})

	return config.DefaultPaths()
}

// withSearchServer isolates the home directory and writes a config that
// sends searches to srv without client-side throttling or rate limiting.
func withSearchServer(t *testing.T, srv *httptest.Server) {
	t.Helper()
	paths := withIsolatedHome(t)

	cfg := config.DefaultConfig()
	cfg.Fetch.BaseURL = srv.URL
	cfg.Fetch.RatePerMinute = 0
	cfg.Log.Level = "error"
	cfg.Search.ThrottleMs = 0
	require.NoError(t, cfg.SaveToFile(paths.ConfigFile()))
}

type repoItem struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Language string `json:"language"`
}

// fakeGitHub serves the repository search endpoint from a fixed list,
// filtering by the name term and language in q.
type fakeGitHub struct {
	repos []repoItem
	fail  atomic.Bool
	calls atomic.Int32
}

func newFakeGitHub(t *testing.T, repos ...repoItem) (*fakeGitHub, *httptest.Server) {
	t.Helper()
	f := &fakeGitHub{repos: repos}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeGitHub) serve(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	if r.URL.Path != "/search/repositories" {
		http.NotFound(w, r)
		return
	}
	if f.fail.Load() {
		http.Error(w, `{"message":"API rate limit exceeded"}`, http.StatusForbidden)
		return
	}

	// q is "<term> language:<lang> in:name".
	var term, lang string
	for _, part := range strings.Fields(r.URL.Query().Get("q")) {
		switch {
		case strings.HasPrefix(part, "language:"):
			lang = strings.TrimPrefix(part, "language:")
		case part == "in:name":
		default:
			term = part
		}
	}

	items := []repoItem{}
	for _, repo := range f.repos {
		if repo.Language == lang && strings.Contains(strings.ToLower(repo.FullName), strings.ToLower(term)) {
			items = append(items, repo)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"total_count": len(items), "items": items})
}

// syncBuffer is a bytes.Buffer safe for one writer and concurrent readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe() failed: %v", err)
	}
	os.Stdout = w

	outC := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		outC <- buf.String()
	}()

	fn()
	_ = w.Close()
	os.Stdout = old
	out := <-outC
	_ = r.Close()
	return out
}

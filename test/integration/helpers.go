package integration

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/danieljhkim/charmbuild/internal/clock"
	"github.com/danieljhkim/charmbuild/internal/config"
	"github.com/danieljhkim/charmbuild/internal/engine"
	"github.com/danieljhkim/charmbuild/internal/execx"
	"github.com/danieljhkim/charmbuild/internal/fsops"
	"github.com/danieljhkim/charmbuild/internal/gitx"
	"github.com/danieljhkim/charmbuild/internal/hash"
)

func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

// setupTestEngine creates an engine over the real filesystem with fake
// subprocesses, returning it with its log buffer.
func setupTestEngine(t *testing.T, root string) (*engine.Engine, *bytes.Buffer) {
	t.Helper()
	logs := &bytes.Buffer{}
	logger := hclog.New(&hclog.LoggerOptions{Name: "build", Output: logs, Level: hclog.Debug})
	eng := engine.New(
		fsops.NewRealFS(),
		hash.NewSHA256Hasher(),
		execx.NewFakeRunner(nil),
		gitx.NewFakeGitRepo(root, "", "abc1234"),
		clock.NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)),
		nil,
		logger,
	)
	return eng, logs
}

// resolvePaths derives build paths for charmDir with everything kept
// under root.
func resolvePaths(t *testing.T, root, charmDir string) *config.Paths {
	t.Helper()
	env := map[string]string{
		config.EnvBuildDir: filepath.Join(root, "builds"),
		config.EnvCacheDir: filepath.Join(root, "cache"),
	}
	paths, err := config.Resolve(config.Options{CharmDir: charmDir, PID: 7}, func(key string) string {
		return env[key]
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	return paths
}

// indexServer serves layer index entries: entries maps
// "layers/basic.json" style paths to JSON bodies. It counts requests.
type indexServer struct {
	*httptest.Server
	hits map[string]int
}

func newIndexServer(t *testing.T, entries map[string]string) *indexServer {
	t.Helper()
	s := &indexServer{hits: map[string]int{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")
		s.hits[path]++
		body, ok := entries[path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(s.Close)
	return s
}

// Index returns the index base URL, ending in "/".
func (s *indexServer) Index() string {
	return s.Server.URL + "/"
}

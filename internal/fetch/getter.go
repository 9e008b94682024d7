package fetch

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	getter "github.com/hashicorp/go-getter"
	"github.com/hashicorp/go-hclog"

	"github.com/danieljhkim/charmbuild/internal/fsops"
)

// Getter downloads a source into a directory.
type Getter interface {
	Get(ctx context.Context, src, dst string) error
}

// GoGetter downloads sources with go-getter in directory mode.
type GoGetter struct {
	Pwd string
}

// Get implements Getter.
func (g *GoGetter) Get(ctx context.Context, src, dst string) error {
	client := &getter.Client{
		Ctx:  ctx,
		Src:  src,
		Dst:  dst,
		Pwd:  g.Pwd,
		Mode: getter.ClientModeDir,
	}
	if err := client.Get(); err != nil {
		return fmt.Errorf("failed to download %s: %w", src, err)
	}
	return nil
}

// GetterFetcher handles references go-getter can detect as remote sources.
type GetterFetcher struct {
	opts   Options
	fs     fsops.FS
	logger hclog.Logger
}

// NewGetterFetcher creates a GetterFetcher.
func NewGetterFetcher(opts Options) *GetterFetcher {
	opts = opts.withDefaults()
	return &GetterFetcher{
		opts:   opts,
		fs:     fsops.NewRealFS(),
		logger: opts.Logger.Named("fetch.getter"),
	}
}

// Match reports whether ref detects as a non-file go-getter source.
func (f *GetterFetcher) Match(ref string) bool {
	_, ok := f.detect(ref)
	return ok
}

// Fetch downloads ref into dest/<name>, replacing any earlier copy.
func (f *GetterFetcher) Fetch(ctx context.Context, ref, dest string) (Result, error) {
	src, ok := f.detect(ref)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	name := SourceName(ref)
	if err := f.fs.ValidateIdentifier(name); err != nil {
		return Result{}, &FetchError{Ref: ref, Err: err}
	}
	target := filepath.Join(dest, name)
	if err := f.fs.RemoveAll(target); err != nil {
		return Result{}, &FetchError{Ref: ref, Err: err}
	}
	f.logger.Debug("fetching", "ref", ref, "source", src, "target", target)
	if err := f.opts.Getter.Get(ctx, src, target); err != nil {
		return Result{}, &FetchError{Ref: ref, Err: err}
	}
	return Result{Dir: target, Fetched: true, Source: src, Revision: refParam(src)}, nil
}

func (f *GetterFetcher) detect(ref string) (string, bool) {
	if ref == "" {
		return "", false
	}
	src, err := getter.Detect(ref, f.opts.Pwd, getter.Detectors)
	if err != nil {
		return "", false
	}
	scheme := ""
	if i := strings.Index(src, "::"); i > 0 {
		scheme = src[:i]
	} else if u, err := url.Parse(src); err == nil {
		scheme = u.Scheme
	}
	if scheme == "" || scheme == "file" {
		return "", false
	}
	if _, ok := getter.Getters[scheme]; !ok {
		return "", false
	}
	return src, true
}

// SupportedSchemes lists the go-getter schemes available to references.
func SupportedSchemes() []string {
	var out []string
	for scheme := range getter.Getters {
		if scheme != "file" {
			out = append(out, scheme)
		}
	}
	sort.Strings(out)
	return out
}

// SourceName derives a directory name from a remote reference: the last
// path segment without query, subdirectory or ".git" suffix.
func SourceName(ref string) string {
	if i := strings.Index(ref, "::"); i > 0 {
		ref = ref[i+2:]
	}
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	start := 0
	if i := strings.Index(ref, "://"); i >= 0 {
		start = i + 3
	}
	if j := strings.Index(ref[start:], "//"); j >= 0 {
		ref = ref[:start+j]
	}
	ref = strings.TrimRight(ref, "/")
	if i := strings.LastIndexAny(ref, "/:"); i >= 0 {
		ref = ref[i+1:]
	}
	return strings.TrimSuffix(path.Base(ref), ".git")
}

// withRef adds a go-getter ref query parameter to src.
func withRef(src, ref string) string {
	sep := "?"
	if strings.Contains(src, "?") {
		sep = "&"
	}
	return src + sep + "ref=" + url.QueryEscape(ref)
}

func refParam(src string) string {
	if i := strings.Index(src, "::"); i > 0 {
		src = src[i+2:]
	}
	u, err := url.Parse(src)
	if err != nil {
		return ""
	}
	return u.Query().Get("ref")
}

// FakeGetter copies local directories in place of downloads, for tests.
type FakeGetter struct {
	// Sources maps a source string to a local directory.
	Sources map[string]string

	// Calls records every requested source.
	Calls []string
}

// NewFakeGetter creates a FakeGetter serving sources.
func NewFakeGetter(sources map[string]string) *FakeGetter {
	return &FakeGetter{Sources: sources}
}

// Get implements Getter.
func (g *FakeGetter) Get(_ context.Context, src, dst string) error {
	g.Calls = append(g.Calls, src)
	key := src
	if i := strings.Index(key, "?"); i >= 0 {
		key = key[:i]
	}
	dir, ok := g.Sources[key]
	if !ok {
		return fmt.Errorf("fake getter: unknown source %s", src)
	}
	if _, err := os.Stat(dir); err != nil {
		return err
	}
	return fsops.NewRealFS().Copy(dir, dst)
}

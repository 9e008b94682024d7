package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/tidwall/jsonc"

	"github.com/danieljhkim/charmbuild/internal/fsops"
)

// IndexEntry is one layer or interface record of a layer index.
type IndexEntry struct {
	Repo    string `json:"repo"`
	Subdir  string `json:"subdir,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// IndexFetcher resolves "<namespace>:<name>" references.
type IndexFetcher struct {
	// Namespace is "layer" or "interface".
	Namespace string

	// EnvVar names the variable users set to point at local copies.
	EnvVar string

	// Endpoint is the index subdirectory holding entries.
	Endpoint string

	// OptionalPrefix is stripped from names as a fallback index lookup.
	OptionalPrefix string

	localDir string
	opts     Options
	fs       fsops.FS
	logger   hclog.Logger
}

// NewLayerFetcher returns the fetcher for "layer:" references.
func NewLayerFetcher(opts Options) *IndexFetcher {
	opts = opts.withDefaults()
	return &IndexFetcher{
		Namespace:      "layer",
		EnvVar:         "CHARM_LAYERS_DIR",
		Endpoint:       "layers",
		OptionalPrefix: "juju-layer-",
		localDir:       opts.LayersDir,
		opts:           opts,
		fs:             fsops.NewRealFS(),
		logger:         opts.Logger.Named("fetch.layer"),
	}
}

// NewInterfaceFetcher returns the fetcher for "interface:" references.
func NewInterfaceFetcher(opts Options) *IndexFetcher {
	opts = opts.withDefaults()
	return &IndexFetcher{
		Namespace:      "interface",
		EnvVar:         "CHARM_INTERFACES_DIR",
		Endpoint:       "interfaces",
		OptionalPrefix: "juju-relation-",
		localDir:       opts.InterfacesDir,
		opts:           opts,
		fs:             fsops.NewRealFS(),
		logger:         opts.Logger.Named("fetch.interface"),
	}
}

// Match reports whether ref carries this fetcher's namespace.
func (f *IndexFetcher) Match(ref string) bool {
	return strings.HasPrefix(ref, f.Namespace+":")
}

// Fetch looks for a local copy, then consults each index and downloads the
// entry's repo into dest/<name>.
func (f *IndexFetcher) Fetch(ctx context.Context, ref, dest string) (Result, error) {
	name := strings.TrimPrefix(ref, f.Namespace+":")
	if err := f.fs.ValidateIdentifier(name); err != nil {
		return Result{}, &FetchError{Ref: ref, Err: err}
	}

	if dir, ok := f.findLocal(name); ok {
		f.logger.Debug("using local copy", "ref", ref, "dir", dir)
		return Result{Dir: dir}, nil
	}

	entry, ok, err := f.Lookup(ctx, name)
	if err != nil {
		return Result{}, &FetchError{Ref: ref, Err: err}
	}
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}

	src := entry.Repo
	if f.opts.Branch != "" {
		f.logger.Debug("adding branch", "branch", f.opts.Branch)
		src = withRef(src, f.opts.Branch)
	}

	target := filepath.Join(dest, name)
	staging := filepath.Join(dest, ".fetch-"+name)
	if err := f.fs.RemoveAll(staging); err != nil {
		return Result{}, &FetchError{Ref: ref, Err: err}
	}
	defer func() {
		_ = f.fs.RemoveAll(staging)
	}()

	f.logger.Debug("fetching", "ref", ref, "source", src)
	if err := f.opts.Getter.Get(ctx, src, staging); err != nil {
		return Result{}, &FetchError{Ref: ref, Err: err}
	}

	from := staging
	if entry.Subdir != "" {
		from = filepath.Join(staging, filepath.FromSlash(entry.Subdir))
	}
	if err := f.fs.RemoveAll(target); err != nil {
		return Result{}, &FetchError{Ref: ref, Err: err}
	}
	f.logger.Debug("copying", "from", from, "to", target)
	if err := f.fs.Copy(from, target); err != nil {
		return Result{}, &FetchError{Ref: ref, Err: err}
	}

	return Result{Dir: target, Fetched: true, Source: entry.Repo, Revision: f.opts.Branch}, nil
}

func (f *IndexFetcher) findLocal(name string) (string, bool) {
	if f.opts.NoLocalLayers || f.localDir == "" {
		return "", false
	}
	for _, dirname := range []string{name, f.Namespace + "-" + name} {
		p := filepath.Clean(filepath.Join(f.localDir, dirname))
		if isDir(p) {
			abs, err := filepath.Abs(p)
			if err != nil {
				return p, true
			}
			return abs, true
		}
	}
	return "", false
}

// Lookup searches every index for name, also trying name without the
// optional prefix. Unreachable indexes and malformed entries are skipped.
func (f *IndexFetcher) Lookup(ctx context.Context, name string) (IndexEntry, bool, error) {
	choices := []string{name}
	if trimmed := strings.TrimPrefix(name, f.OptionalPrefix); trimmed != name && trimmed != "" {
		choices = append(choices, trimmed)
	}

	for _, choice := range choices {
		for _, index := range f.opts.LayerIndexes {
			if err := ctx.Err(); err != nil {
				return IndexEntry{}, false, err
			}
			uri := fmt.Sprintf("%s%s/%s.json", index, f.Endpoint, choice)
			f.logger.Debug("checking layer index", "uri", uri)

			var (
				entry IndexEntry
				ok    bool
			)
			if strings.HasPrefix(uri, "file://") {
				entry, ok = f.readFileEntry(strings.TrimPrefix(uri, "file://"))
			} else {
				entry, ok = f.getEntry(ctx, uri)
			}
			if ok {
				f.logger.Debug("found repo", "repo", entry.Repo)
				return entry, true, nil
			}
		}
	}
	return IndexEntry{}, false, nil
}

func (f *IndexFetcher) readFileEntry(path string) (IndexEntry, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return IndexEntry{}, false
	}
	entry, err := decodeEntry(data)
	if err != nil {
		f.logger.Error("unable to parse index entry", "path", path, "error", err)
		return IndexEntry{}, false
	}
	return entry, entry.Repo != ""
}

func (f *IndexFetcher) getEntry(ctx context.Context, uri string) (IndexEntry, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return IndexEntry{}, false
	}
	resp, err := f.opts.HTTPClient.Do(req)
	if err != nil {
		f.logger.Debug("index unreachable", "uri", uri, "error", err)
		return IndexEntry{}, false
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return IndexEntry{}, false
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return IndexEntry{}, false
	}
	entry, err := decodeEntry(data)
	if err != nil {
		f.logger.Debug("unable to parse index entry", "uri", uri, "error", err)
		return IndexEntry{}, false
	}
	return entry, entry.Repo != ""
}

func decodeEntry(data []byte) (IndexEntry, error) {
	var entry IndexEntry
	if err := json.Unmarshal(jsonc.ToJSON(data), &entry); err != nil {
		return IndexEntry{}, err
	}
	return entry, nil
}

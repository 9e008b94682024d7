// Package fetch materializes layer and interface references on disk.
//
// A reference is one of:
//   - "layer:<name>" or "interface:<name>", looked up in a local directory
//     and then in the configured layer indexes
//   - a path relative to the working directory, JUJU_REPOSITORY or a
//     LAYER_PATH entry
//   - any source go-getter can detect (git URLs, github.com/..., archives)
//
// Fetcher configuration is an explicit Options value; nothing in this
// package is process-wide state.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
)

// DefaultLayerIndex is the index the DEFAULT token expands to.
const DefaultLayerIndex = "https://juju.github.io/layer-index/"

// ErrNotFound indicates a reference that no fetcher could resolve.
var ErrNotFound = errors.New("not found")

// Result describes a fetched reference.
type Result struct {
	// Dir is the local directory holding the layer.
	Dir string

	// Fetched is true when Dir was downloaded into the cache, false when an
	// existing local directory was used.
	Fetched bool

	// Source is the remote source the layer was downloaded from, if any.
	Source string

	// Revision is the requested branch or revision, if any.
	Revision string
}

// Fetcher resolves a reference into a local directory.
type Fetcher interface {
	// Match reports whether this fetcher handles ref.
	Match(ref string) bool

	// Fetch materializes ref, downloading into dest when needed.
	Fetch(ctx context.Context, ref, dest string) (Result, error)
}

// FetchError reports a failed fetch of a recognized reference.
type FetchError struct {
	Ref string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s: %v", e.Ref, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Options configures the fetchers of one build.
type Options struct {
	// LayerIndexes are index base URLs, each ending in "/".
	LayerIndexes []string

	// Branch overrides the revision fetched from index repos.
	Branch string

	// NoLocalLayers skips the local layer and interface directories.
	NoLocalLayers bool

	// LayersDir and InterfacesDir are searched for local copies.
	LayersDir     string
	InterfacesDir string

	// SearchPath resolves plain path references.
	SearchPath []string

	// Pwd is the working directory for go-getter detection.
	Pwd string

	HTTPClient *http.Client
	Getter     Getter
	Logger     hclog.Logger
}

func (o Options) withDefaults() Options {
	if len(o.LayerIndexes) == 0 {
		o.LayerIndexes = []string{DefaultLayerIndex}
	}
	if o.HTTPClient == nil {
		o.HTTPClient = cleanhttp.DefaultPooledClient()
	}
	if o.Getter == nil {
		o.Getter = &GoGetter{Pwd: o.Pwd}
	}
	if o.Logger == nil {
		o.Logger = hclog.NewNullLogger()
	}
	return o
}

// ParseIndexes splits a comma-separated index list, expanding the DEFAULT
// token. An empty string yields the default index.
func ParseIndexes(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{DefaultLayerIndex}
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		switch part {
		case "":
		case "DEFAULT":
			out = append(out, DefaultLayerIndex)
		default:
			out = append(out, part)
		}
	}
	return out
}

// Chain tries fetchers in order; the first that matches a reference
// handles it.
type Chain []Fetcher

// NewChain returns the standard fetcher chain for opts.
func NewChain(opts Options) Chain {
	opts = opts.withDefaults()
	return Chain{
		NewInterfaceFetcher(opts),
		NewLayerFetcher(opts),
		NewLocalFetcher(opts.SearchPath),
		NewGetterFetcher(opts),
	}
}

// Match reports whether any fetcher handles ref.
func (c Chain) Match(ref string) bool {
	for _, f := range c {
		if f.Match(ref) {
			return true
		}
	}
	return false
}

// Fetch delegates to the first matching fetcher.
func (c Chain) Fetch(ctx context.Context, ref, dest string) (Result, error) {
	for _, f := range c {
		if f.Match(ref) {
			return f.Fetch(ctx, ref, dest)
		}
	}
	return Result{}, fmt.Errorf("%w: no fetcher handles %s", ErrNotFound, ref)
}

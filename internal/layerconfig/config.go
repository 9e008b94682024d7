// Package layerconfig implements the layered build configuration.
//
// Every layer may ship a layer.yaml. While planning, the configs of the
// layers seen so far form a chain where the most specific (highest) layer
// comes first. Lookups search the chain front to back; RGet accumulates a
// key across the whole chain.
//
// A Config value is immutable once built: NewChildWith and AddConfig
// return new nodes and never touch the receiver's chain.
package layerconfig

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"

	"github.com/danieljhkim/charmbuild/internal/pathspec"
	"github.com/danieljhkim/charmbuild/internal/yamldoc"
)

// DefaultIgnores are always ignored and excluded, whatever layers declare.
var DefaultIgnores = []string{
	".bzr",
	".git",
	"**/.ropeproject",
	"*.pyc",
	"*~",
	".tox",
	"build",
}

// ErrMissingConfig indicates a required config file does not exist.
var ErrMissingConfig = errors.New("missing config file")

// Config is one node of the config chain.
type Config struct {
	// maps holds the chain, most specific first. maps[0] is this node's own map.
	maps []map[string]any

	configured bool

	// ignore and exclude compile this node's own lists on first use.
	ignore  *matcher
	exclude *matcher
}

type matcher struct {
	once sync.Once
	m    *pathspec.Matcher
	err  error
}

func (lm *matcher) get(lines []string) (*pathspec.Matcher, error) {
	if lm == nil {
		return pathspec.New(lines)
	}
	lm.once.Do(func() {
		lm.m, lm.err = pathspec.New(lines)
	})
	return lm.m, lm.err
}

// Declaration is the typed view of a single layer.yaml.
type Declaration struct {
	Includes []string       `mapstructure:"includes"`
	Tactics  []string       `mapstructure:"tactics"`
	Repo     string         `mapstructure:"repo"`
	Is       string         `mapstructure:"is"`
	Name     string         `mapstructure:"name"`
	Ignore   []string       `mapstructure:"ignore"`
	Exclude  []string       `mapstructure:"exclude"`
	Options  map[string]any `mapstructure:"options"`
	Defines  map[string]any `mapstructure:"defines"`
}

// New returns an empty, unconfigured config.
func New() *Config {
	return newConfig([]map[string]any{{}}, false)
}

func newConfig(maps []map[string]any, configured bool) *Config {
	return &Config{
		maps:       maps,
		configured: configured,
		ignore:     &matcher{},
		exclude:    &matcher{},
	}
}

// Load reads path into a new config.
func Load(path string, allowMissing bool) (*Config, error) {
	c := New()
	if err := c.Configure(path, allowMissing); err != nil {
		return nil, err
	}
	return c, nil
}

// Configure loads path into this node's own map.
//
// A missing file is an error unless allowMissing is set. A file holding only
// whitespace leaves the config unconfigured. Invalid ignore or exclude
// patterns fail the load. Once configured, further calls are no-ops.
func (c *Config) Configure(path string, allowMissing bool) error {
	if c.configured {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if allowMissing {
				return nil
			}
			return fmt.Errorf("%w: %s", ErrMissingConfig, path)
		}
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil
	}
	doc, err := yamldoc.Parse(data)
	if err != nil {
		return fmt.Errorf("malformed config file %s: %w", path, err)
	}
	m, err := doc.Map()
	if err != nil {
		return fmt.Errorf("malformed config file %s: %w", path, err)
	}
	for k, v := range m {
		c.maps[0][k] = v
	}
	c.ignore, c.exclude = &matcher{}, &matcher{}
	if _, err := c.IgnoreMatcher(); err != nil {
		return fmt.Errorf("invalid ignore pattern in %s: %w", path, err)
	}
	if _, err := c.ExcludeMatcher(); err != nil {
		return fmt.Errorf("invalid exclude pattern in %s: %w", path, err)
	}
	c.configured = true
	return nil
}

// Configured reports whether a config file has been loaded into this node.
func (c *Config) Configured() bool {
	return c.configured
}

// NewChildWith returns a new node with own in front of this chain.
func (c *Config) NewChildWith(own map[string]any) *Config {
	front := make(map[string]any, len(own))
	for k, v := range own {
		front[k] = v
	}
	maps := make([]map[string]any, 0, len(c.maps)+1)
	maps = append(maps, front)
	maps = append(maps, c.maps...)
	return newConfig(maps, c.configured || len(own) > 0)
}

// AddConfig returns a new node whose own map is a copy of other's own map.
func (c *Config) AddConfig(other *Config) *Config {
	if other == nil {
		return c.NewChildWith(nil)
	}
	return c.NewChildWith(other.Own())
}

// Own returns this node's own map.
func (c *Config) Own() map[string]any {
	return c.maps[0]
}

// Get returns the first value for key, searching most specific first.
func (c *Config) Get(key string) (any, bool) {
	for _, m := range c.maps {
		if v, ok := m[key]; ok {
			return v, true
		}
	}
	return nil, false
}

// GetString returns the first value for key as a string.
func (c *Config) GetString(key string) string {
	v, ok := c.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// RGet concatenates key across the whole chain in chain order. List values
// are flattened, scalars appended, and empty values skipped.
func (c *Config) RGet(key string) []any {
	var result []any
	for _, m := range c.maps {
		v, ok := m[key]
		if !ok || isEmpty(v) {
			continue
		}
		if list, ok := v.([]any); ok {
			result = append(result, list...)
			continue
		}
		result = append(result, v)
	}
	return result
}

// RGetStrings is RGet with every value rendered as a string.
func (c *Config) RGetStrings(key string) []string {
	values := c.RGet(key)
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, fmt.Sprint(v))
	}
	return out
}

// Name returns the configured layer name, if any.
func (c *Config) Name() string {
	return c.GetString("name")
}

// Tactics returns the custom tactic names declared across the chain.
func (c *Config) Tactics() []string {
	return c.RGetStrings("tactics")
}

// Ignores returns the default ignores plus this node's own ignore list.
// Lower layers' ignores are not included.
func (c *Config) Ignores() []string {
	return c.ownList("ignore")
}

// Excludes returns the default ignores plus this node's own exclude list.
func (c *Config) Excludes() []string {
	return c.ownList("exclude")
}

// IgnoreMatcher returns Ignores compiled. It is compiled once per node.
func (c *Config) IgnoreMatcher() (*pathspec.Matcher, error) {
	return c.ignore.get(c.Ignores())
}

// ExcludeMatcher returns Excludes compiled.
func (c *Config) ExcludeMatcher() (*pathspec.Matcher, error) {
	return c.exclude.get(c.Excludes())
}

func (c *Config) ownList(key string) []string {
	out := append([]string(nil), DefaultIgnores...)
	return append(out, toStrings(c.maps[0][key])...)
}

// Declaration decodes this node's own map into a typed Declaration.
func (c *Config) Declaration() (Declaration, error) {
	var d Declaration
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &d,
	})
	if err != nil {
		return d, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(c.maps[0]); err != nil {
		return d, fmt.Errorf("invalid layer declaration: %w", err)
	}
	return d, nil
}

func toStrings(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if item != nil {
				out = append(out, fmt.Sprint(item))
			}
		}
		return out
	}
	return nil
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case int:
		return t == 0
	case float64:
		return t == 0
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

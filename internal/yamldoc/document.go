// Package yamldoc provides round-trippable YAML documents.
//
// Layer documents (metadata.yaml, config.yaml, layer.yaml, ...) are kept as
// yaml.Node trees rather than decoded maps so that key order and scalar
// styles survive a load/merge/dump cycle. A quoted value such as
// "0123456789" stays a quoted string in the output.
//
// Key responsibilities:
//   - Load YAML and JSON (comments allowed) documents from disk
//   - Deep-merge documents the way layers are composed
//   - Delete dotted paths and reorder top-level keys
//   - Dump documents back to YAML
package yamldoc

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mitchellh/copystructure"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// ErrNotMapping indicates a document whose top level is not a mapping.
var ErrNotMapping = errors.New("document is not a mapping")

// Document is a YAML mapping document.
type Document struct {
	root *yaml.Node
}

// New creates an empty document.
func New() *Document {
	return &Document{root: &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}}
}

// Parse parses YAML (or JSON) data into a document.
// Empty input yields an empty document.
func Parse(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return New(), nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	root := &doc
	if root.Kind == 0 {
		return New(), nil
	}
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return New(), nil
		}
		root = root.Content[0]
	}
	if root.Kind == yaml.ScalarNode && root.Tag == "!!null" {
		return New(), nil
	}
	if root.Kind != yaml.MappingNode {
		return nil, ErrNotMapping
	}
	return &Document{root: root}, nil
}

// Load reads and parses the document at path.
// Files ending in .json are read as JSON with comments.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data = jsonc.ToJSON(data)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("malformed document %s: %w", path, err)
	}
	return doc, nil
}

// Root returns the underlying mapping node.
func (d *Document) Root() *yaml.Node {
	return d.root
}

// Len returns the number of top-level keys.
func (d *Document) Len() int {
	return len(d.root.Content) / 2
}

// Keys returns the top-level keys in document order.
func (d *Document) Keys() []string {
	keys := make([]string, 0, d.Len())
	for i := 0; i+1 < len(d.root.Content); i += 2 {
		keys = append(keys, d.root.Content[i].Value)
	}
	return keys
}

// Has reports whether key is present at the top level.
func (d *Document) Has(key string) bool {
	return indexOf(d.root, key) >= 0
}

// Get returns the value node for a top-level key.
func (d *Document) Get(key string) (*yaml.Node, bool) {
	return lookup(d.root, key)
}

// Lookup returns the value node at a dotted path such as "storage.data".
func (d *Document) Lookup(dotted string) (*yaml.Node, bool) {
	node := d.root
	for _, part := range strings.Split(dotted, ".") {
		next, ok := lookup(node, part)
		if !ok {
			return nil, false
		}
		node = next
	}
	return node, true
}

// GetString returns the scalar value of a top-level key.
func (d *Document) GetString(key string) (string, bool) {
	n, ok := d.Get(key)
	if !ok || n.Kind != yaml.ScalarNode || n.Tag == "!!null" {
		return "", false
	}
	return n.Value, true
}

// GetStrings returns a top-level sequence of scalars as strings.
// A single scalar is returned as a one-element list.
func (d *Document) GetStrings(key string) []string {
	n, ok := d.Get(key)
	if !ok {
		return nil
	}
	return Strings(n)
}

// Set encodes v and stores it under a top-level key, replacing any
// existing value in place.
func (d *Document) Set(key string, v any) error {
	if n, ok := v.(*yaml.Node); ok {
		d.SetNode(key, n)
		return nil
	}
	var n yaml.Node
	if err := n.Encode(v); err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	d.SetNode(key, &n)
	return nil
}

// SetNode stores a value node under a top-level key.
func (d *Document) SetNode(key string, value *yaml.Node) {
	setNode(d.root, key, value)
}

// Delete removes a top-level key. It reports whether the key existed.
func (d *Document) Delete(key string) bool {
	return deleteKey(d.root, key)
}

// DeletePath removes the value at a dotted path. Intermediate levels must
// be mappings; a missing level is not an error.
func (d *Document) DeletePath(dotted string) bool {
	parts := strings.Split(dotted, ".")
	node := d.root
	for _, part := range parts[:len(parts)-1] {
		next, ok := lookup(node, part)
		if !ok || next.Kind != yaml.MappingNode {
			return false
		}
		node = next
	}
	return deleteKey(node, parts[len(parts)-1])
}

// Reorder moves the listed keys to the front in the given order; the
// remaining keys follow in sorted order.
func (d *Document) Reorder(order []string) {
	type pair struct{ k, v *yaml.Node }
	pairs := make(map[string]pair, d.Len())
	for i := 0; i+1 < len(d.root.Content); i += 2 {
		k := d.root.Content[i]
		pairs[k.Value] = pair{k, d.root.Content[i+1]}
	}
	listed := make(map[string]bool, len(order))
	content := make([]*yaml.Node, 0, len(d.root.Content))
	for _, key := range order {
		if p, ok := pairs[key]; ok && !listed[key] {
			content = append(content, p.k, p.v)
			listed[key] = true
		}
	}
	var rest []string
	for _, key := range d.Keys() {
		if !listed[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		p := pairs[key]
		content = append(content, p.k, p.v)
	}
	d.root.Content = content
}

// Decode decodes the document into v.
func (d *Document) Decode(v any) error {
	return d.root.Decode(v)
}

// Map decodes the document into a generic map.
func (d *Document) Map() (map[string]any, error) {
	m := map[string]any{}
	if err := d.root.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	return &Document{root: CloneNode(d.root)}
}

// Marshal dumps the document as block-style YAML with a two space indent.
func (d *Document) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d.root); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MergeFrom deep-merges src into the document.
func (d *Document) MergeFrom(src *Document) {
	if src == nil {
		return
	}
	Merge(d.root, src.root)
}

// CloneNode deep-copies a node tree.
func CloneNode(n *yaml.Node) *yaml.Node {
	if n == nil {
		return nil
	}
	c, err := copystructure.Copy(n)
	if err != nil {
		// copystructure only fails on unsupported kinds, which a
		// yaml.Node never contains.
		panic(fmt.Sprintf("yamldoc: failed to copy node: %v", err))
	}
	return c.(*yaml.Node)
}

// Strings returns a scalar or sequence of scalars as strings.
func Strings(n *yaml.Node) []string {
	n = resolve(n)
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag == "!!null" || n.Value == "" {
			return nil
		}
		return []string{n.Value}
	case yaml.SequenceNode:
		out := make([]string, 0, len(n.Content))
		for _, item := range n.Content {
			item = resolve(item)
			if item.Kind == yaml.ScalarNode {
				out = append(out, item.Value)
			}
		}
		return out
	}
	return nil
}

// StringNode builds a plain string scalar node.
func StringNode(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

// SequenceNode builds a sequence node of string scalars.
func SequenceNode(values []string) *yaml.Node {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, v := range values {
		seq.Content = append(seq.Content, StringNode(v))
	}
	return seq
}

// MappingNode builds an empty mapping node.
func MappingNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

func resolve(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

func indexOf(m *yaml.Node, key string) int {
	m = resolve(m)
	if m == nil || m.Kind != yaml.MappingNode {
		return -1
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return i
		}
	}
	return -1
}

func lookup(m *yaml.Node, key string) (*yaml.Node, bool) {
	i := indexOf(m, key)
	if i < 0 {
		return nil, false
	}
	return resolve(resolve(m).Content[i+1]), true
}

func setNode(m *yaml.Node, key string, value *yaml.Node) {
	if i := indexOf(m, key); i >= 0 {
		m.Content[i+1] = value
		return
	}
	m.Content = append(m.Content, StringNode(key), value)
}

func deleteKey(m *yaml.Node, key string) bool {
	i := indexOf(m, key)
	if i < 0 {
		return false
	}
	m.Content = append(m.Content[:i], m.Content[i+2:]...)
	return true
}

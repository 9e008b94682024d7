// Package manifest persists build signatures.
//
// Every build writes .build.manifest at the root of the charm it produced.
// The manifest maps each output path to the layer that produced it, the
// tactic kind and the SHA-256 of the file. The next build compares the
// output directory against it to detect hand edits and to remove files no
// layer provides any more.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/danieljhkim/charmbuild/internal/fsops"
)

// FileName is the manifest's name inside the output directory.
const FileName = ".build.manifest"

// BuildLayer owns the build tool's own artifacts.
const BuildLayer = "build"

// Tactic kinds recorded in signatures.
const (
	KindStatic  = "static"
	KindDynamic = "dynamic"
)

// Unchecked is the digest of entries that are never compared.
const Unchecked = "unchecked"

// Entry is one signature: who produced a file, how, and its digest.
type Entry struct {
	Layer  string
	Kind   string
	Digest string
}

// MarshalJSON encodes an entry as a three element array.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]string{e.Layer, e.Kind, e.Digest})
}

// UnmarshalJSON decodes a three element array. A null digest is empty.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw []*string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid signature entry: %w", err)
	}
	if len(raw) != 3 {
		return fmt.Errorf("invalid signature entry: want 3 fields, got %d", len(raw))
	}
	field := func(i int) string {
		if raw[i] == nil {
			return ""
		}
		return *raw[i]
	}
	*e = Entry{Layer: field(0), Kind: field(1), Digest: field(2)}
	return nil
}

// Signatures maps slash-separated output paths to entries.
type Signatures map[string]Entry

// Merge copies other into s; other wins on conflicts.
func (s Signatures) Merge(other Signatures) {
	for k, v := range other {
		s[k] = v
	}
}

// Paths returns the signed paths in sorted order.
func (s Signatures) Paths() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Manifest is the persisted record of a build.
type Manifest struct {
	Signatures Signatures `json:"signatures"`
	Layers     []string   `json:"layers"`
}

// New builds a manifest from a build's signatures and layer IDs. The
// manifest's own entry and the trailing "build" layer are added.
func New(sigs Signatures, layerIDs []string) *Manifest {
	all := make(Signatures, len(sigs)+1)
	all.Merge(sigs)
	all[FileName] = Entry{Layer: BuildLayer, Kind: KindDynamic, Digest: Unchecked}

	ids := append([]string(nil), layerIDs...)
	if len(ids) == 0 || ids[len(ids)-1] != BuildLayer {
		ids = append(ids, BuildLayer)
	}
	return &Manifest{Signatures: all, Layers: ids}
}

// UnmarshalJSON accepts layers recorded as plain IDs or as {"url": ...}
// objects.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	var raw struct {
		Signatures Signatures        `json:"signatures"`
		Layers     []json.RawMessage `json:"layers"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Signatures = raw.Signatures
	if m.Signatures == nil {
		m.Signatures = Signatures{}
	}
	m.Layers = nil
	for _, l := range raw.Layers {
		var id string
		if err := json.Unmarshal(l, &id); err == nil {
			m.Layers = append(m.Layers, id)
			continue
		}
		var obj struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(l, &obj); err != nil {
			return fmt.Errorf("invalid layer entry: %w", err)
		}
		m.Layers = append(m.Layers, obj.URL)
	}
	return nil
}

// Load reads a manifest. A missing file returns os.ErrNotExist.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("malformed manifest %s: %w", path, err)
	}
	return &m, nil
}

// LoadIfExists reads a manifest, returning nil when there is none.
func LoadIfExists(path string) (*Manifest, error) {
	m, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return m, err
}

// Marshal encodes the manifest with sorted keys and a two space indent.
func (m *Manifest) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Save writes the manifest atomically.
func (m *Manifest) Save(fs fsops.FS, path string) error {
	data, err := m.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := fs.AtomicWrite(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

package tactics

import (
	"context"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/danieljhkim/charmbuild/internal/yamldoc"
)

// MetadataFile is the charm's metadata document.
const MetadataFile = "metadata.yaml"

// metadataOrder is the key order of the written metadata.yaml; other keys
// follow sorted.
var metadataOrder = []string{
	"name", "summary", "maintainer", "maintainers", "description",
	"tags", "series", "requires", "provides", "peers",
}

// Relation roles, in the order their endpoints are bound.
var relationRoles = []string{"provides", "requires", "peers"}

// Relation is an endpoint declared in metadata.yaml.
type Relation struct {
	Role      string
	Name      string
	Interface string
}

// MetadataTactic merges metadata.yaml.
//
// Beyond the plain merge, series lists are prepended by higher layers and
// de-duplicated, maintainers come only from the top-most layer providing
// metadata.yaml, and storage names are tracked with the layer that owns
// them.
type MetadataTactic struct {
	DocumentTactic

	maintainer  *yaml.Node
	maintainers *yaml.Node
	storage     map[string]string
}

func newMetadata(src Source) Tactic {
	m := &MetadataTactic{DocumentTactic: *newDocument(src, "metadata", "")}
	m.finish = m.combineMetadata
	m.edit = m.editMetadata
	return m
}

func (m *MetadataTactic) String() string { return m.describe("Metadata") }

// Combine records existing; the documents are merged when read.
func (m *MetadataTactic) Combine(existing Tactic) Tactic {
	m.prev = existing
	return m
}

func (m *MetadataTactic) combineMetadata(ctx context.Context, own *yamldoc.Document) error {
	if n, ok := own.Get("maintainer"); ok {
		m.maintainer = yamldoc.CloneNode(n)
	}
	if n, ok := own.Get("maintainers"); ok {
		m.maintainers = yamldoc.CloneNode(n)
	}

	m.storage = map[string]string{}
	prev, _ := m.prev.(*MetadataTactic)
	if prev != nil {
		for name, owner := range prev.storage {
			m.storage[name] = owner
		}
	}
	if st, ok := own.Get("storage"); ok && st.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(st.Content); i += 2 {
			m.storage[st.Content[i].Value] = m.src.Layer.ID()
		}
	}

	if prev == nil || prev.doc == nil {
		return nil
	}
	ownSeries, ok := own.Get("series")
	if !ok {
		return nil
	}
	series := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	series.Content = append(series.Content, seriesItems(ownSeries)...)
	if base, ok := prev.doc.Get("series"); ok {
		series.Content = append(series.Content, seriesItems(base)...)
	}
	m.doc.SetNode("series", series)
	return nil
}

func seriesItems(n *yaml.Node) []*yaml.Node {
	switch n.Kind {
	case yaml.SequenceNode:
		out := make([]*yaml.Node, 0, len(n.Content))
		for _, item := range n.Content {
			out = append(out, yamldoc.CloneNode(item))
		}
		return out
	case yaml.ScalarNode:
		if n.Tag != "!!null" && n.Value != "" {
			return []*yaml.Node{yamldoc.CloneNode(n)}
		}
	}
	return nil
}

func (m *MetadataTactic) editMetadata() {
	m.doc.Delete("maintainer")
	m.doc.Delete("maintainers")
	if m.maintainer != nil {
		m.doc.SetNode("maintainer", m.maintainer)
	}
	if m.maintainers != nil {
		m.doc.SetNode("maintainers", m.maintainers)
	}

	if series, ok := m.doc.Get("series"); ok && series.Kind == yaml.SequenceNode {
		seen := map[string]bool{}
		kept := series.Content[:0]
		for _, item := range series.Content {
			if seen[item.Value] {
				continue
			}
			seen[item.Value] = true
			kept = append(kept, item)
		}
		series.Content = kept
	}

	for _, key := range m.Deletes() {
		name, ok := strings.CutPrefix(key, "storage.")
		if !ok || strings.Contains(name, ".") {
			continue
		}
		delete(m.storage, name)
	}

	m.doc.Reorder(metadataOrder)
}

// Storage returns the declared storage names mapped to the ID of the layer
// that owns each. Call Process first.
func (m *MetadataTactic) Storage() map[string]string {
	out := make(map[string]string, len(m.storage))
	for k, v := range m.storage {
		out[k] = v
	}
	return out
}

// StorageNames returns the declared storage names, sorted.
func (m *MetadataTactic) StorageNames() []string {
	names := make([]string, 0, len(m.storage))
	for k := range m.storage {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Relations returns the declared relation endpoints, by role then in
// document order. Call Process first.
func (m *MetadataTactic) Relations() []Relation {
	if m.doc == nil {
		return nil
	}
	var out []Relation
	for _, role := range relationRoles {
		section, ok := m.doc.Get(role)
		if !ok || section.Kind != yaml.MappingNode {
			continue
		}
		for i := 0; i+1 < len(section.Content); i += 2 {
			name := section.Content[i].Value
			spec := section.Content[i+1]
			iface := relationInterface(spec)
			if iface == "" {
				continue
			}
			out = append(out, Relation{Role: role, Name: name, Interface: iface})
		}
	}
	return out
}

func relationInterface(spec *yaml.Node) string {
	if spec.Kind != yaml.MappingNode {
		return ""
	}
	for i := 0; i+1 < len(spec.Content); i += 2 {
		if spec.Content[i].Value == "interface" {
			return spec.Content[i+1].Value
		}
	}
	return ""
}

package yamldoc

import (
	"strconv"

	"gopkg.in/yaml.v3"
)

// Merge deep-merges the mapping src into the mapping dst and returns dst.
//
// For every key of src:
//   - both values are mappings and dst's is non-empty: merge recursively
//   - both values are sequences and dst's is non-empty: append the src
//     items dst does not already contain, keeping dst's order first
//   - otherwise the src value (copied) replaces dst's
//
// Values from src are copied, so src is never aliased into dst.
func Merge(dst, src *yaml.Node) *yaml.Node {
	dst = resolve(dst)
	src = resolve(src)
	if src == nil || src.Kind != yaml.MappingNode {
		return dst
	}
	for i := 0; i+1 < len(src.Content); i += 2 {
		key := src.Content[i]
		val := resolve(src.Content[i+1])

		j := indexOf(dst, key.Value)
		if j < 0 {
			dst.Content = append(dst.Content, CloneNode(key), CloneNode(val))
			continue
		}
		existing := resolve(dst.Content[j+1])
		switch {
		case truthy(existing) && val.Kind == yaml.MappingNode && existing.Kind == yaml.MappingNode:
			Merge(existing, val)
		case truthy(existing) && val.Kind == yaml.SequenceNode && existing.Kind == yaml.SequenceNode:
			for _, item := range val.Content {
				if !containsNode(existing.Content, item) {
					existing.Content = append(existing.Content, CloneNode(item))
				}
			}
		default:
			dst.Content[j+1] = CloneNode(val)
		}
	}
	return dst
}

// Equal reports whether two nodes hold the same data, ignoring style,
// comments and positions.
func Equal(a, b *yaml.Node) bool {
	a, b = resolve(a), resolve(b)
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case yaml.ScalarNode:
		return a.ShortTag() == b.ShortTag() && a.Value == b.Value
	case yaml.SequenceNode:
		if len(a.Content) != len(b.Content) {
			return false
		}
		for i := range a.Content {
			if !Equal(a.Content[i], b.Content[i]) {
				return false
			}
		}
		return true
	case yaml.MappingNode:
		if len(a.Content) != len(b.Content) {
			return false
		}
		for i := 0; i+1 < len(a.Content); i += 2 {
			other, ok := lookup(b, a.Content[i].Value)
			if !ok || !Equal(a.Content[i+1], other) {
				return false
			}
		}
		return true
	case yaml.DocumentNode:
		return len(a.Content) == len(b.Content) && (len(a.Content) == 0 || Equal(a.Content[0], b.Content[0]))
	}
	return false
}

func containsNode(items []*yaml.Node, n *yaml.Node) bool {
	for _, item := range items {
		if Equal(item, n) {
			return true
		}
	}
	return false
}

// truthy mirrors the emptiness test used when composing layers: null,
// false, zero, empty strings and empty collections are all "unset".
func truthy(n *yaml.Node) bool {
	if n == nil {
		return false
	}
	switch n.Kind {
	case yaml.MappingNode, yaml.SequenceNode:
		return len(n.Content) > 0
	case yaml.ScalarNode:
		switch n.ShortTag() {
		case "!!null":
			return false
		case "!!bool":
			b, err := strconv.ParseBool(n.Value)
			return err != nil || b
		case "!!int":
			i, err := strconv.ParseInt(n.Value, 0, 64)
			return err != nil || i != 0
		case "!!float":
			f, err := strconv.ParseFloat(n.Value, 64)
			return err != nil || f != 0
		}
		return n.Value != ""
	}
	return true
}

package tactics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/danieljhkim/charmbuild/internal/layers"
	"github.com/danieljhkim/charmbuild/internal/yamldoc"
)

// reactiveOptions may be set without a layer defining them.
const reactiveOptions = "charms.reactive"

// LayerYAMLTactic merges layer.yaml (or the legacy composer.yaml) into the
// charm's layer.yaml.
//
// Each layer's `defines` become the JSON schema of the options namespaced by
// the layer's name, and the merged `options` are validated against the
// merged schema with defaults filled in.
type LayerYAMLTactic struct {
	DocumentTactic

	// schema maps layer names to the schema of their options.
	schema *yaml.Node
}

func triggerLayerYAML(src Source) bool {
	return src.Rel == layers.LayerConfigFile || src.Rel == layers.LegacyLayerConfigFile
}

func newLayerYAML(src Source) Tactic {
	t := &LayerYAMLTactic{DocumentTactic: *newDocument(src, "", "")}
	t.output = layers.LayerConfigFile
	t.prepare = t.prepareOwn
	t.finish = t.combineSchema
	t.edit = t.normalize
	return t
}

func (t *LayerYAMLTactic) String() string { return t.describe("LayerYAML") }

// Combine records existing; documents and schemas are merged when read.
func (t *LayerYAMLTactic) Combine(existing Tactic) Tactic {
	t.prev = existing
	return t
}

func (t *LayerYAMLTactic) layerName() string {
	return t.src.Layer.Name()
}

func (t *LayerYAMLTactic) prepareOwn(own *yamldoc.Document) error {
	if ignore, ok := own.Get("ignore"); ok && ignore.Kind == yaml.SequenceNode {
		scoped := yamldoc.MappingNode()
		scoped.Content = append(scoped.Content, yamldoc.StringNode(t.layerName()), ignore)
		own.SetNode("ignore", scoped)
	}
	if _, ok := own.Get("options"); !ok {
		own.SetNode("options", yamldoc.MappingNode())
	}

	defines := yamldoc.MappingNode()
	if n, ok := own.Get("defines"); ok && n.Kind == yaml.MappingNode {
		defines = n
	}
	own.Delete("defines")

	entry := yamldoc.MappingNode()
	entry.Content = append(entry.Content,
		yamldoc.StringNode("type"), yamldoc.StringNode("object"),
		yamldoc.StringNode("properties"), defines,
		yamldoc.StringNode("default"), yamldoc.MappingNode(),
	)
	t.schema = yamldoc.MappingNode()
	t.schema.Content = append(t.schema.Content, yamldoc.StringNode(t.layerName()), entry)
	return nil
}

func (t *LayerYAMLTactic) combineSchema(ctx context.Context, own *yamldoc.Document) error {
	prev, ok := t.prev.(*LayerYAMLTactic)
	if !ok || prev.schema == nil {
		return nil
	}
	merged := yamldoc.CloneNode(prev.schema)
	yamldoc.Merge(merged, t.schema)
	t.schema = merged
	return nil
}

// SchemaLayers returns the names of the layers that define options.
func (t *LayerYAMLTactic) SchemaLayers() []string {
	if t.schema == nil {
		return nil
	}
	var out []string
	for i := 0; i+1 < len(t.schema.Content); i += 2 {
		out = append(out, t.schema.Content[i].Value)
	}
	return out
}

// Lint checks every option against the schema of the layer it is set for.
// Defaults from the schema are filled into the options.
func (t *LayerYAMLTactic) Lint(ctx context.Context) error {
	if err := t.load(ctx); err != nil {
		return err
	}
	options, ok := t.doc.Get("options")
	if !ok || options.Kind != yaml.MappingNode {
		options = yamldoc.MappingNode()
		t.doc.SetNode("options", options)
	}

	defined := map[string]bool{}
	for _, name := range t.SchemaLayers() {
		defined[name] = true
	}
	var unknown []string
	for i := 0; i+1 < len(options.Content); i += 2 {
		name := options.Content[i].Value
		if !defined[name] && name != reactiveOptions {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		plural := ""
		if len(unknown) > 1 {
			plural = "s"
		}
		return fmt.Errorf("Options set for undefined layer%s: %s", plural, strings.Join(unknown, ", "))
	}

	fillDefaults(t.schema, options)
	return t.validate(options)
}

func (t *LayerYAMLTactic) validate(options *yaml.Node) error {
	var props any
	if err := t.schema.Decode(&props); err != nil {
		return fmt.Errorf("invalid option schema: %w", err)
	}
	schemaJSON, err := json.Marshal(map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	})
	if err != nil {
		return fmt.Errorf("invalid option schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft4
	const url = "layer-options.json"
	if err := compiler.AddResource(url, bytes.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("invalid option schema: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("invalid option schema: %w", err)
	}

	instance, err := jsonValue(options)
	if err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	if m, ok := instance.(map[string]any); ok {
		delete(m, reactiveOptions)
	}
	err = schema.Validate(instance)
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return err
	}
	var result *multierror.Error
	for _, leaf := range leafErrors(verr) {
		loc := strings.ReplaceAll(strings.TrimPrefix(leaf.InstanceLocation, "/"), "/", ".")
		result = multierror.Append(result, fmt.Errorf("Invalid value for option %s: %s", loc, leaf.Message))
	}
	return result.ErrorOrNil()
}

// jsonValue converts a YAML node into the value space of encoding/json.
func jsonValue(n *yaml.Node) (any, error) {
	var v any
	if err := n.Decode(&v); err != nil {
		return nil, err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func leafErrors(e *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(e.Causes) == 0 {
		return []*jsonschema.ValidationError{e}
	}
	var out []*jsonschema.ValidationError
	for _, c := range e.Causes {
		out = append(out, leafErrors(c)...)
	}
	return out
}

// fillDefaults sets the default of every property in props missing from
// inst, descending into nested object schemas.
func fillDefaults(props, inst *yaml.Node) {
	if props == nil || props.Kind != yaml.MappingNode || inst.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(props.Content); i += 2 {
		name := props.Content[i].Value
		sub := props.Content[i+1]
		if sub.Kind != yaml.MappingNode {
			continue
		}
		child := mappingValue(inst, name)
		if child == nil {
			def := mappingValue(sub, "default")
			if def == nil {
				continue
			}
			child = yamldoc.CloneNode(def)
			inst.Content = append(inst.Content, yamldoc.StringNode(name), child)
		}
		fillDefaults(mappingValue(sub, "properties"), child)
	}
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

// normalize records which layer the charm is and rewrites path includes
// relative to their repository.
func (t *LayerYAMLTactic) normalize() {
	if !t.doc.Has("is") {
		t.doc.SetNode("is", yamldoc.StringNode(t.src.Layer.ID()))
	}
	includes := t.doc.GetStrings("includes")
	if len(includes) == 0 {
		return
	}
	norm := make([]string, 0, len(includes))
	for _, inc := range includes {
		if strings.Contains(inc, ":") {
			norm = append(norm, inc)
			continue
		}
		parts := strings.FieldsFunc(inc, func(r rune) bool { return r == '/' })
		if len(parts) > 2 {
			parts = parts[len(parts)-2:]
		}
		norm = append(norm, strings.Join(parts, "/"))
	}
	t.doc.SetNode("includes", yamldoc.SequenceNode(norm))
}

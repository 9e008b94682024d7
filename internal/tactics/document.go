package tactics

import (
	"context"
	"fmt"

	"github.com/danieljhkim/charmbuild/internal/builderr"
	"github.com/danieljhkim/charmbuild/internal/manifest"
	"github.com/danieljhkim/charmbuild/internal/yamldoc"
)

// documentSource is implemented by tactics whose output is a YAML document
// that a higher layer can merge over.
type documentSource interface {
	document(ctx context.Context) (*yamldoc.Document, error)
}

// DocumentTactic merges a YAML document across layers.
//
// The documents of every layer are deep-merged, lower layers first. The
// `deletes` list of the nearest `<section>` entry in the layer config chain
// then removes dotted paths, below prefix when one is set.
type DocumentTactic struct {
	Base

	section string
	prefix  string
	output  string

	// prepare rewrites this layer's own document before it is merged.
	prepare func(doc *yamldoc.Document) error

	// finish runs once the merged document is in place. own is this
	// layer's document after prepare.
	finish func(ctx context.Context, own *yamldoc.Document) error

	// edit runs after the configured deletes.
	edit func()

	prev      Tactic
	doc       *yamldoc.Document
	loaded    bool
	processed bool
}

func documentFactory(section, prefix string) func(Source) Tactic {
	return func(src Source) Tactic {
		return newDocument(src, section, prefix)
	}
}

func newDocument(src Source, section, prefix string) *DocumentTactic {
	return &DocumentTactic{
		Base:    NewBase(src),
		section: section,
		prefix:  prefix,
		output:  src.Rel,
	}
}

func (t *DocumentTactic) String() string { return t.describe("YAML") }

// Kind returns dynamic.
func (t *DocumentTactic) Kind() string { return manifest.KindDynamic }

// RelPath returns the output path.
func (t *DocumentTactic) RelPath() string { return t.output }

// Combine records existing; the documents are merged when read.
func (t *DocumentTactic) Combine(existing Tactic) Tactic {
	t.prev = existing
	return t
}

// Read loads this layer's document and merges it over the lower layers'.
func (t *DocumentTactic) Read(ctx context.Context) error {
	return t.load(ctx)
}

func (t *DocumentTactic) document(ctx context.Context) (*yamldoc.Document, error) {
	if err := t.load(ctx); err != nil {
		return nil, err
	}
	return t.doc, nil
}

func (t *DocumentTactic) load(ctx context.Context) error {
	if t.loaded {
		return nil
	}
	own, err := yamldoc.Load(t.src.Path())
	if err != nil {
		return builderr.Wrap(err, "Failed to process %s. Ensure the YAML is valid", t.src.Path())
	}
	if t.prepare != nil {
		if err := t.prepare(own); err != nil {
			return err
		}
	}
	ownDoc := own

	if prev, ok := t.prev.(documentSource); ok {
		base, err := prev.document(ctx)
		if err != nil {
			return err
		}
		if base != nil && base.Len() > 0 {
			merged := base.Clone()
			if own.Len() > 0 {
				merged.MergeFrom(own)
			}
			own = merged
		}
	}
	t.doc = own
	t.loaded = true
	if t.finish != nil {
		return t.finish(ctx, ownDoc)
	}
	return nil
}

// Process reads the document and applies the configured deletes. It is
// safe to call more than once.
func (t *DocumentTactic) Process(ctx context.Context) (*yamldoc.Document, error) {
	if err := t.load(ctx); err != nil {
		return nil, err
	}
	if !t.processed {
		t.applyDeletes()
		if t.edit != nil {
			t.edit()
		}
		t.processed = true
	}
	return t.doc, nil
}

// Deletes returns the dotted paths the config chain deletes from this
// document's section.
func (t *DocumentTactic) Deletes() []string {
	if t.src.Config == nil || t.section == "" {
		return nil
	}
	v, ok := t.src.Config.Get(t.section)
	if !ok {
		return nil
	}
	section, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	var out []string
	switch dels := section["deletes"].(type) {
	case []any:
		for _, d := range dels {
			out = append(out, fmt.Sprint(d))
		}
	case string:
		out = append(out, dels)
	}
	return out
}

func (t *DocumentTactic) applyDeletes() {
	for _, key := range t.Deletes() {
		path := key
		if t.prefix != "" {
			path = t.prefix + "." + key
		}
		if t.doc.DeletePath(path) {
			t.log().Debug("deleted", "file", t.output, "key", key)
		}
	}
}

// Call writes the processed document.
func (t *DocumentTactic) Call(ctx context.Context) error {
	doc, err := t.Process(ctx)
	if err != nil {
		return err
	}
	return t.write(doc)
}

func (t *DocumentTactic) write(doc *yamldoc.Document) error {
	data, err := doc.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", t.output, err)
	}
	target := t.target()
	if err := target.FS.AtomicWrite(target.Path(t.output), data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", t.output, err)
	}
	return nil
}

// Sign signs the written document.
func (t *DocumentTactic) Sign() (manifest.Signatures, error) {
	return t.target().Sign(t.output, t.src.Layer.ID(), t.Kind())
}

package tactics

import (
	"context"
	"fmt"

	"github.com/danieljhkim/charmbuild/internal/manifest"
)

// CopyrightFile is the charm's copyright notice.
const CopyrightFile = "copyright"

// CopyrightTactic keeps every layer's copyright notice. The top-most one is
// written to copyright; each lower layer's goes to
// copyright.<namespace>-<name>.
type CopyrightTactic struct {
	Base

	output   string
	previous []*CopyrightTactic
}

func newCopyright(src Source) Tactic {
	return &CopyrightTactic{Base: NewBase(src), output: src.Rel}
}

func (t *CopyrightTactic) String() string { return t.describe("Copyright") }

// Kind returns static.
func (t *CopyrightTactic) Kind() string { return manifest.KindStatic }

// RelPath returns the output path.
func (t *CopyrightTactic) RelPath() string { return t.output }

// Combine returns a new tactic keeping existing, and the notices it
// already kept, aside. Neither t nor existing is modified.
func (t *CopyrightTactic) Combine(existing Tactic) Tactic {
	prev, ok := existing.(*CopyrightTactic)
	if !ok {
		return t
	}
	l := prev.src.Layer
	moved := &CopyrightTactic{
		Base:   prev.Base,
		output: fmt.Sprintf("%s.%s-%s", CopyrightFile, l.Namespace, l.Name()),
	}
	previous := make([]*CopyrightTactic, 0, len(t.previous)+len(prev.previous)+1)
	previous = append(previous, t.previous...)
	previous = append(previous, prev.previous...)
	previous = append(previous, moved)
	return &CopyrightTactic{Base: t.Base, output: t.output, previous: previous}
}

// Call writes the lower layers' notices, then this one.
func (t *CopyrightTactic) Call(ctx context.Context) error {
	for _, p := range t.previous {
		if err := p.Call(ctx); err != nil {
			return err
		}
	}
	target := t.target()
	if err := target.FS.Copy(t.src.Path(), target.Path(t.output)); err != nil {
		return fmt.Errorf("failed to copy %s: %w", t.output, err)
	}
	return nil
}

// Sign signs every notice written.
func (t *CopyrightTactic) Sign() (manifest.Signatures, error) {
	sigs := manifest.Signatures{}
	for _, p := range t.previous {
		s, err := p.Sign()
		if err != nil {
			return nil, err
		}
		sigs.Merge(s)
	}
	s, err := t.target().Sign(t.output, t.src.Layer.ID(), t.Kind())
	if err != nil {
		return nil, err
	}
	sigs.Merge(s)
	return sigs, nil
}

package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/danieljhkim/charmbuild/internal/fsops"
	"github.com/danieljhkim/charmbuild/internal/hash"
	"github.com/danieljhkim/charmbuild/internal/pathspec"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func digest(t *testing.T, path string) string {
	t.Helper()
	sig, err := hash.NewSHA256Hasher().HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return sig
}

func TestNew_AddsSelfEntryAndBuildLayer(t *testing.T) {
	m := New(Signatures{"hooks/start": {Layer: "layer:basic", Kind: KindStatic, Digest: "abc"}}, []string{"layer:basic", "mycharm", "interface:mysql"})

	want := Entry{Layer: BuildLayer, Kind: KindDynamic, Digest: Unchecked}
	if got := m.Signatures[FileName]; got != want {
		t.Errorf("self entry = %+v, want %+v", got, want)
	}
	if diff := cmp.Diff([]string{"layer:basic", "mycharm", "interface:mysql", "build"}, m.Layers); diff != "" {
		t.Errorf("layers mismatch (-want +got):\n%s", diff)
	}
}

func TestMarshal_Format(t *testing.T) {
	m := New(Signatures{
		"metadata.yaml": {Layer: "layer:basic", Kind: KindDynamic, Digest: "d1"},
		"README.md":     {Layer: "mycharm", Kind: KindStatic, Digest: "d2"},
	}, []string{"layer:basic", "mycharm"})

	data, err := m.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	if !strings.Contains(text, `"metadata.yaml": [`+"\n"+`      "layer:basic",`) {
		t.Errorf("entries should be three element arrays:\n%s", text)
	}
	if strings.Index(text, `"README.md"`) > strings.Index(text, `"metadata.yaml"`) {
		t.Errorf("signature keys should be sorted:\n%s", text)
	}
	if strings.Index(text, `"layers"`) > strings.Index(text, `"signatures"`) {
		t.Errorf("top-level keys should be sorted:\n%s", text)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing", func(t *testing.T) {
		m, err := LoadIfExists(filepath.Join(dir, "absent"))
		if err != nil || m != nil {
			t.Fatalf("LoadIfExists = %v, %v", m, err)
		}
	})

	t.Run("legacy layer objects and null digests", func(t *testing.T) {
		path := filepath.Join(dir, "legacy.manifest")
		writeFile(t, path, `{
  "layers": [{"url": "layer:basic", "rev": "abc"}, {"url": "mycharm", "rev": null}],
  "signatures": {"hooks": ["layer:basic", "static", null]}
}`)
		m, err := Load(path)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{"layer:basic", "mycharm"}, m.Layers); diff != "" {
			t.Errorf("layers mismatch (-want +got):\n%s", diff)
		}
		if m.Signatures["hooks"].Digest != "" {
			t.Errorf("null digest should decode empty")
		}
	})

	t.Run("malformed", func(t *testing.T) {
		path := filepath.Join(dir, "bad.manifest")
		writeFile(t, path, `{"signatures": {"a": ["only-one"]}}`)
		if _, err := Load(path); err == nil || !strings.Contains(err.Error(), path) {
			t.Errorf("expected error naming the file, got %v", err)
		}
	})

	t.Run("saved manifest loads back", func(t *testing.T) {
		path := filepath.Join(dir, FileName)
		orig := New(Signatures{"a": {Layer: "l", Kind: KindStatic, Digest: "x"}}, []string{"l"})
		if err := orig.Save(fsops.NewRealFS(), path); err != nil {
			t.Fatal(err)
		}
		loaded, err := Load(path)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(orig, loaded); diff != "" {
			t.Errorf("manifest mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestEntry_UnmarshalRejectsWrongArity(t *testing.T) {
	var e Entry
	if err := json.Unmarshal([]byte(`["a", "b"]`), &e); err == nil {
		t.Error("expected error for two fields")
	}
}

func TestCompare(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "hooks", "start"), "start")
	writeFile(t, filepath.Join(root, "hooks", "stop"), "edited by hand")
	writeFile(t, filepath.Join(root, "layer.yaml"), "regenerated")
	writeFile(t, filepath.Join(root, "notes.txt"), "new file")
	writeFile(t, filepath.Join(root, ".git", "HEAD"), "ref")
	writeFile(t, filepath.Join(root, FileName), "{}")

	m := New(Signatures{
		"hooks/start":  {Layer: "layer:basic", Kind: KindStatic, Digest: digest(t, filepath.Join(root, "hooks", "start"))},
		"hooks/stop":   {Layer: "layer:basic", Kind: KindStatic, Digest: "stale"},
		"layer.yaml":   {Layer: BuildLayer, Kind: KindDynamic, Digest: "stale"},
		"hooks/remove": {Layer: "layer:basic", Kind: KindStatic, Digest: "gone"},
	}, nil)

	d, err := Compare(m, root, hash.NewSHA256Hasher(), pathspec.MustNew([]string{".git"}))
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	want := Delta{
		Added:   []string{"notes.txt"},
		Changed: []string{"hooks/stop"},
		Removed: []string{"hooks/remove"},
	}
	if diff := cmp.Diff(want, d); diff != "" {
		t.Errorf("delta mismatch (-want +got):\n%s", diff)
	}
	if d.Empty() {
		t.Error("delta should not be empty")
	}
}

func TestCompare_IgnoredManifestEntries(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "lib", "mod.py"), "code")
	m := New(Signatures{
		"lib/mod.py":              {Layer: "layer:basic", Kind: KindStatic, Digest: digest(t, filepath.Join(root, "lib", "mod.py"))},
		"lib/__pycache__/mod.pyc": {Layer: "layer:basic", Kind: KindStatic, Digest: "bytecode"},
		".git/HEAD":               {Layer: "layer:basic", Kind: KindStatic, Digest: "ref"},
	}, nil)

	d, err := Compare(m, root, hash.NewSHA256Hasher(), pathspec.MustNew([]string{".git", "*.pyc"}))
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if !d.Empty() {
		t.Errorf("ignored entries must not be reported, got %+v", d)
	}
}

func TestCompare_ChangedDigestReportedOnce(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "config.yaml")
	writeFile(t, path, "options: {}\n")
	m := New(Signatures{"config.yaml": {Layer: "layer:basic", Kind: KindDynamic, Digest: digest(t, path)}}, nil)

	writeFile(t, path, "options: {a: {}}\n")
	d, err := Compare(m, root, hash.NewSHA256Hasher(), nil)
	if err != nil {
		t.Fatal(err)
	}
	// The manifest file itself was never written to disk here.
	want := Delta{Changed: []string{"config.yaml"}, Removed: []string{FileName}}
	if diff := cmp.Diff(want, d); diff != "" {
		t.Errorf("delta mismatch (-want +got):\n%s", diff)
	}
}

func TestPrune(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "hooks", "start"), "start")
	writeFile(t, filepath.Join(root, "hooks", "old-hook"), "old")

	old := New(Signatures{
		"hooks/start":    {Layer: "l", Kind: KindStatic, Digest: "a"},
		"hooks/old-hook": {Layer: "l", Kind: KindStatic, Digest: "b"},
		"already-gone":   {Layer: "l", Kind: KindStatic, Digest: "c"},
	}, nil)
	sigs := Signatures{"hooks/start": {Layer: "l", Kind: KindStatic, Digest: "a"}}

	removed, err := Prune(fsops.NewRealFS(), root, old, sigs)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if diff := cmp.Diff([]string{"already-gone", "hooks/old-hook"}, removed); diff != "" {
		t.Errorf("removed mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(filepath.Join(root, "hooks", "old-hook")); !os.IsNotExist(err) {
		t.Error("old hook should be deleted")
	}
	if _, err := os.Stat(filepath.Join(root, "hooks", "start")); err != nil {
		t.Error("current hook must stay")
	}
}

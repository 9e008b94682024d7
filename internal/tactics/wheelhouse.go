package tactics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/danieljhkim/charmbuild/internal/builderr"
	"github.com/danieljhkim/charmbuild/internal/execx"
	"github.com/danieljhkim/charmbuild/internal/manifest"
)

// Wheelhouse paths in the charm.
const (
	WheelhouseFile = "wheelhouse.txt"
	WheelhouseDir  = "wheelhouse"
)

// pipOwner owns downloaded archives no layer asked for by name.
const pipOwner = "__pip__"

var (
	requirementPattern = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)`)
	eggPattern         = regexp.MustCompile(`#egg=([A-Za-z0-9][A-Za-z0-9._-]*)`)
	unsafeNameChars    = regexp.MustCompile(`[^A-Za-z0-9.]+`)
	separatorRun       = regexp.MustCompile(`[-_.]+`)
)

// WheelhouseTactic accumulates the Python requirements of every layer and
// downloads them, as source archives, into wheelhouse/.
//
// A requirement re-declared by a higher layer comments out the lower
// layer's line. All requirements are downloaded by one pip run in an
// isolated virtualenv.
type WheelhouseTactic struct {
	Base

	// path is the requirements file read, normally the layer's own.
	path  string
	purge bool

	prev    *WheelhouseTactic
	lines   []string
	refs    map[string]string
	loaded  bool
	tracked []string
	removed map[string]bool
}

// NewWheelhouse creates a wheelhouse tactic for src. With purge, older
// archives of a downloaded package are removed from wheelhouse/.
func NewWheelhouse(src Source, purge bool) *WheelhouseTactic {
	return &WheelhouseTactic{
		Base:    NewBase(src),
		path:    src.Path(),
		purge:   purge,
		removed: map[string]bool{},
	}
}

// NewWheelhouseOverrides creates a wheelhouse tactic for an overrides file
// outside of any layer. It purges superseded archives.
func NewWheelhouseOverrides(src Source, path string) *WheelhouseTactic {
	t := NewWheelhouse(src, true)
	t.path = path
	return t
}

func (t *WheelhouseTactic) String() string { return t.describe("Wheelhouse") }

// Kind returns dynamic.
func (t *WheelhouseTactic) Kind() string { return manifest.KindDynamic }

// Combine keeps existing's requirements below this layer's.
func (t *WheelhouseTactic) Combine(existing Tactic) Tactic {
	if prev, ok := existing.(*WheelhouseTactic); ok {
		t.prev = prev
	}
	return t
}

// Read parses this layer's requirements and merges the lower layers'.
func (t *WheelhouseTactic) Read(ctx context.Context) error {
	return t.load()
}

func (t *WheelhouseTactic) load() error {
	if t.loaded {
		return nil
	}
	data, err := t.target().FS.ReadFile(t.path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", t.path, err)
	}
	owner := t.src.Layer.ID()

	text := strings.TrimRight(string(data), "\n")
	var own []string
	if text != "" {
		own = strings.Split(text, "\n")
	}
	t.refs = map[string]string{}
	declared := map[string]bool{}
	for _, line := range own {
		name, err := requirementName(line)
		if err != nil {
			return err
		}
		if name != "" {
			declared[name] = true
		}
	}

	var lines []string
	if t.prev != nil {
		if err := t.prev.load(); err != nil {
			return err
		}
		for k, v := range t.prev.refs {
			t.refs[k] = v
		}
		for _, line := range t.prev.lines {
			name, _ := requirementName(line)
			if name != "" && declared[name] {
				line = fmt.Sprintf("# %s  # overridden by %s", line, owner)
			}
			lines = append(lines, line)
		}
	}
	for name := range declared {
		t.refs[name] = owner
	}
	lines = append(lines, "# "+owner)
	lines = append(lines, own...)
	lines = append(lines, "")

	t.lines = lines
	t.loaded = true
	return nil
}

// requirementName returns the safe name of the package a requirements
// line asks for, or "" for comments, blank lines and pip options.
func requirementName(line string) (string, error) {
	s := strings.TrimSpace(line)
	if s == "" || strings.HasPrefix(s, "#") {
		return "", nil
	}
	editable := false
	for _, opt := range []string{"-e ", "--editable ", "--editable="} {
		if rest, ok := strings.CutPrefix(s, opt); ok {
			s = strings.TrimSpace(rest)
			editable = true
			break
		}
	}
	if !editable && strings.HasPrefix(s, "-") {
		return "", nil
	}

	if editable || strings.Contains(s, "://") || strings.HasPrefix(s, "git+") {
		m := eggPattern.FindStringSubmatch(s)
		if m == nil {
			return "", builderr.Newf(`Unable to determine package name for "%s"; did you forget "#egg=..."?`, strings.TrimSpace(line))
		}
		return safeName(m[1]), nil
	}

	if i := strings.Index(s, " #"); i >= 0 {
		s = s[:i]
	}
	m := requirementPattern.FindStringSubmatch(s)
	if m == nil {
		return "", builderr.Newf(`Unable to determine package name for "%s"; did you forget "#egg=..."?`, strings.TrimSpace(line))
	}
	return safeName(m[1]), nil
}

func safeName(name string) string {
	return unsafeNameChars.ReplaceAllString(name, "-")
}

// canonicalName folds case and separators so archive names and
// requirement names compare equal.
func canonicalName(name string) string {
	return strings.ToLower(separatorRun.ReplaceAllString(name, "-"))
}

var archiveExts = []string{".tar.gz", ".tar.bz2", ".tar.xz", ".tgz", ".zip", ".whl", ".tar"}

// splitArchive splits an archive file name into package name and version.
func splitArchive(filename string) (name, version string) {
	base := filename
	for _, ext := range archiveExts {
		if strings.HasSuffix(base, ext) {
			base = strings.TrimSuffix(base, ext)
			break
		}
	}
	parts := strings.Split(base, "-")
	for i := 1; i < len(parts); i++ {
		if _, err := semver.NewVersion(parts[i]); err == nil {
			return strings.Join(parts[:i], "-"), parts[i]
		}
	}
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" && parts[i][0] >= '0' && parts[i][0] <= '9' {
			return strings.Join(parts[:i], "-"), parts[i]
		}
	}
	return base, ""
}

// Call downloads every requirement into wheelhouse/ and writes the
// combined wheelhouse.txt.
func (t *WheelhouseTactic) Call(ctx context.Context) error {
	if err := t.load(); err != nil {
		return err
	}
	target := t.target()

	tmp, err := os.MkdirTemp("", "charm-wheelhouse-")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(tmp)
	}()

	venv := filepath.Join(tmp, "venv")
	downloads := filepath.Join(tmp, WheelhouseDir)
	reqs := filepath.Join(tmp, WheelhouseFile)
	contents := []byte(strings.Join(t.lines, "\n") + "\n")
	if err := os.WriteFile(reqs, contents, 0644); err != nil {
		return fmt.Errorf("failed to write requirements: %w", err)
	}
	if err := os.MkdirAll(downloads, 0755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	if _, err := target.Runner.Run(ctx, execx.Command{
		Name: "virtualenv",
		Args: []string{"--python", "python3", venv},
	}); err != nil {
		return builderr.Wrap(err, "Unable to create virtualenv for %s", WheelhouseFile)
	}
	if _, err := target.Runner.Run(ctx, execx.Command{
		Name: filepath.Join(venv, "bin", "pip3"),
		Args: []string{"download", "--no-binary", ":all:", "-d", downloads, "-r", reqs},
	}); err != nil {
		return builderr.Wrap(err, "Unable to download the packages in %s", WheelhouseFile)
	}

	entries, err := os.ReadDir(downloads)
	if err != nil {
		return fmt.Errorf("failed to read downloads: %w", err)
	}
	if err := target.FS.MkdirAll(target.Path(WheelhouseDir), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", WheelhouseDir, err)
	}
	for _, e := range entries {
		rel := WheelhouseDir + "/" + e.Name()
		if t.isTracked(rel) {
			continue
		}
		dst := target.Path(rel)
		if t.purge {
			if err := t.purgeOld(e.Name()); err != nil {
				return err
			}
		} else if err := target.FS.RemoveAll(dst); err != nil {
			return fmt.Errorf("failed to replace %s: %w", rel, err)
		}
		if err := target.FS.Rename(filepath.Join(downloads, e.Name()), dst); err != nil {
			return fmt.Errorf("failed to move %s: %w", rel, err)
		}
		delete(t.removed, rel)
		t.tracked = append(t.tracked, rel)
	}

	if err := target.FS.AtomicWrite(target.Path(WheelhouseFile), contents, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", WheelhouseFile, err)
	}
	return nil
}

func (t *WheelhouseTactic) isTracked(rel string) bool {
	for _, r := range t.tracked {
		if r == rel {
			return true
		}
	}
	return false
}

// purgeOld removes the other archives of the package filename belongs to.
func (t *WheelhouseTactic) purgeOld(filename string) error {
	target := t.target()
	pkg, version := splitArchive(filename)
	entries, err := target.FS.ReadDir(target.Path(WheelhouseDir))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", WheelhouseDir, err)
	}
	for _, e := range entries {
		if e.Name() == filename {
			continue
		}
		oldPkg, oldVersion := splitArchive(e.Name())
		if canonicalName(oldPkg) != canonicalName(pkg) {
			continue
		}
		rel := WheelhouseDir + "/" + e.Name()
		if err := target.FS.RemoveAll(target.Path(rel)); err != nil {
			return fmt.Errorf("failed to remove %s: %w", rel, err)
		}
		t.removed[rel] = true
		t.log().Debug("purged wheel", "package", pkg, "old", oldVersion, "new", version, "change", versionChange(oldVersion, version))
	}
	return nil
}

func versionChange(from, to string) string {
	ov, err1 := semver.NewVersion(from)
	nv, err2 := semver.NewVersion(to)
	if err1 != nil || err2 != nil {
		return "replace"
	}
	switch ov.Compare(nv) {
	case -1:
		return "upgrade"
	case 1:
		return "downgrade"
	}
	return "reinstall"
}

// Sign signs wheelhouse.txt and every archive downloaded, each owned by
// the layer that asked for its package.
func (t *WheelhouseTactic) Sign() (manifest.Signatures, error) {
	target := t.target()
	sigs, err := target.Sign(WheelhouseFile, t.src.Layer.ID(), t.Kind())
	if err != nil {
		return nil, err
	}
	owners := make(map[string]string, len(t.refs))
	for name, owner := range t.refs {
		owners[canonicalName(name)] = owner
	}
	for _, rel := range t.tracked {
		if t.removed[rel] {
			continue
		}
		pkg, _ := splitArchive(filepath.Base(rel))
		owner, ok := owners[canonicalName(pkg)]
		if !ok {
			owner = pipOwner
		}
		s, err := target.Sign(rel, owner, t.Kind())
		if err != nil {
			return nil, err
		}
		sigs.Merge(s)
	}
	return sigs, nil
}

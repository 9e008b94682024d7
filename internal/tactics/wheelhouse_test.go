package tactics

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/danieljhkim/charmbuild/internal/builderr"
	"github.com/danieljhkim/charmbuild/internal/execx"
	"github.com/danieljhkim/charmbuild/internal/manifest"
)

// fakePip answers pip download by creating the archives in the -d
// directory.
func fakePip(t *testing.T, archives ...string) func(cmd execx.Command) ([]byte, error) {
	return func(cmd execx.Command) ([]byte, error) {
		if len(cmd.Args) == 0 || cmd.Args[0] != "download" {
			return nil, nil
		}
		for i, arg := range cmd.Args {
			if arg == "-d" && i+1 < len(cmd.Args) {
				for _, a := range archives {
					writeFile(t, filepath.Join(cmd.Args[i+1], a), "archive "+a)
				}
			}
		}
		return nil, nil
	}
}

func TestWheelhouse_OverridesLowerLayers(t *testing.T) {
	f := newFixture(t)
	base := f.layer("base", map[string]string{"wheelhouse.txt": "six\nrequests>=2\n"})
	top := f.layer("top", map[string]string{"wheelhouse.txt": "requests==2.20 # pinned\n"})

	tactic := f.plan("wheelhouse.txt", base, top).(*WheelhouseTactic)
	require.NoError(t, tactic.Read(context.Background()))

	want := []string{
		"# layer:base",
		"six",
		"# requests>=2  # overridden by layer:top",
		"",
		"# layer:top",
		"requests==2.20 # pinned",
		"",
	}
	if diff := cmp.Diff(want, tactic.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestWheelhouse_DownloadsAndSigns(t *testing.T) {
	f := newFixture(t)
	f.runner.Handler = fakePip(t, "six-1.16.0.tar.gz", "requests-2.20.0.tar.gz", "idna-3.4.tar.gz")
	base := f.layer("base", map[string]string{"wheelhouse.txt": "six\n"})
	top := f.layer("top", map[string]string{"wheelhouse.txt": "requests==2.20\n"})

	sigs := f.run(f.plan("wheelhouse.txt", base, top))

	require.Len(t, f.runner.Calls, 2)
	require.Equal(t, "virtualenv", f.runner.Calls[0].Name)
	require.Equal(t, "pip3", filepath.Base(f.runner.Calls[1].Name))
	require.Contains(t, f.runner.Calls[1].Args, ":all:")

	owners := map[string]string{}
	for rel, e := range sigs {
		owners[rel] = e.Layer
		require.Equal(t, manifest.KindDynamic, e.Kind, rel)
	}
	want := map[string]string{
		"wheelhouse.txt":                    "layer:top",
		"wheelhouse/six-1.16.0.tar.gz":      "layer:base",
		"wheelhouse/requests-2.20.0.tar.gz": "layer:top",
		"wheelhouse/idna-3.4.tar.gz":        "__pip__",
	}
	if diff := cmp.Diff(want, owners); diff != "" {
		t.Errorf("owners mismatch (-want +got):\n%s", diff)
	}
	require.Contains(t, f.out("wheelhouse.txt"), "requests==2.20")
}

func TestWheelhouse_Purge(t *testing.T) {
	f := newFixture(t)
	f.runner.Handler = fakePip(t, "six-1.16.0.tar.gz")
	writeFile(t, f.target.Path("wheelhouse/six-1.15.0.tar.gz"), "old")
	writeFile(t, f.target.Path("wheelhouse/other-1.0.tar.gz"), "other")
	base := f.layer("base", map[string]string{"wheelhouse.txt": "six\n"})

	src := Source{Rel: WheelhouseFile, Layer: base, Config: base.MustConfig(), Current: base.MustConfig(), Target: f.target}
	f.run(NewWheelhouse(src, true))

	_, err := os.Stat(f.target.Path("wheelhouse/six-1.15.0.tar.gz"))
	require.True(t, os.IsNotExist(err), "old archive should be purged")
	_, err = os.Stat(f.target.Path("wheelhouse/other-1.0.tar.gz"))
	require.NoError(t, err, "unrelated archives stay")
	require.Equal(t, "archive six-1.16.0.tar.gz", f.out("wheelhouse/six-1.16.0.tar.gz"))
}

func TestWheelhouse_DownloadFailure(t *testing.T) {
	f := newFixture(t)
	f.runner.Handler = func(cmd execx.Command) ([]byte, error) {
		if len(cmd.Args) > 0 && cmd.Args[0] == "download" {
			return []byte("no such package"), &execx.ExitError{Cmd: cmd, Code: 1, Output: []byte("no such package")}
		}
		return nil, nil
	}
	base := f.layer("base", map[string]string{"wheelhouse.txt": "nosuchpackage\n"})
	err := f.plan("wheelhouse.txt", base).Call(context.Background())
	require.True(t, builderr.Is(err), "expected a BuildError, got %v", err)
}

func TestRequirementName(t *testing.T) {
	tests := []struct {
		line    string
		want    string
		wantErr bool
	}{
		{line: "six", want: "six"},
		{line: "requests>=2.0", want: "requests"},
		{line: "Foo_Bar==1.0", want: "Foo-Bar"},
		{line: "zope.interface; python_version < '3'", want: "zope.interface"},
		{line: "pkg # pinned upstream", want: "pkg"},
		{line: "  # a comment", want: ""},
		{line: "", want: ""},
		{line: "-r other.txt", want: ""},
		{line: "--index-url https://pypi.example.com", want: ""},
		{line: "-e git+https://example.com/thing.git#egg=thing", want: "thing"},
		{line: "git+https://example.com/x.git@main#egg=x_y", want: "x-y"},
		{line: "git+https://example.com/x.git", wantErr: true},
		{line: "-e ../local", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := requirementName(tt.line)
			if tt.wantErr {
				require.Error(t, err)
				require.True(t, strings.Contains(err.Error(), "#egg="), err.Error())
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestSplitArchive(t *testing.T) {
	tests := []struct {
		file, name, version string
	}{
		{"six-1.16.0.tar.gz", "six", "1.16.0"},
		{"python-dateutil-2.8.2.tar.gz", "python-dateutil", "2.8.2"},
		{"pkg-1.0rc1.zip", "pkg", "1.0rc1"},
		{"charmhelpers-0.20.22.tar.gz", "charmhelpers", "0.20.22"},
		{"noversion.tar.gz", "noversion", ""},
	}
	for _, tt := range tests {
		name, version := splitArchive(tt.file)
		if name != tt.name || version != tt.version {
			t.Errorf("splitArchive(%q) = %q, %q; want %q, %q", tt.file, name, version, tt.name, tt.version)
		}
	}
}

func TestVersionChange(t *testing.T) {
	require.Equal(t, "upgrade", versionChange("1.0.0", "1.1.0"))
	require.Equal(t, "downgrade", versionChange("2.0", "1.9"))
	require.Equal(t, "reinstall", versionChange("1.0", "1.0.0"))
	require.Equal(t, "replace", versionChange("dev", "1.0"))
}

func TestInstaller(t *testing.T) {
	f := newFixture(t)
	f.runner.Handler = func(cmd execx.Command) ([]byte, error) {
		var userBase string
		for _, kv := range cmd.Env {
			if v, ok := strings.CutPrefix(kv, "PYTHONUSERBASE="); ok {
				userBase = v
			}
		}
		writeFile(t, filepath.Join(userBase, "bin", "tool"), "#!/bin/sh\n")
		writeFile(t, filepath.Join(userBase, "lib", "python3.8", "site-packages", "tool", "__init__.py"), "")
		return nil, nil
	}
	base := f.layer("base", map[string]string{"lib/tool.pypi": "tool==1.0\n"})

	sigs := f.run(f.plan("lib/tool.pypi", base))

	require.Len(t, f.runner.Calls, 1)
	require.Equal(t, []string{"install", "--user", "--ignore-installed", "tool==1.0"}, f.runner.Calls[0].Args)
	require.Contains(t, sigs, "bin/tool")
	require.Contains(t, sigs, "lib/tool/__init__.py")
	require.Equal(t, "layer:base", sigs["bin/tool"].Layer)
	_, err := os.Stat(f.target.Path("lib/tool.pypi"))
	require.True(t, os.IsNotExist(err), "the .pypi file itself is not copied")
}

func TestInstaller_EmptyRequirement(t *testing.T) {
	f := newFixture(t)
	base := f.layer("base", map[string]string{"lib/tool.pypi": "\n"})
	err := f.plan("lib/tool.pypi", base).Call(context.Background())
	require.True(t, builderr.Is(err), "expected a BuildError, got %v", err)
	require.Empty(t, f.runner.Calls)
}

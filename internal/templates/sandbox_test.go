package templates

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSandboxValidatesRoot(t *testing.T) {
	_, err := NewSandbox("")
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	_, err = NewSandbox(file)
	require.ErrorContains(t, err, "not a directory")

	dir := t.TempDir()
	sb, err := NewSandbox(dir)
	require.NoError(t, err)
	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	require.Equal(t, want, sb.Root())
}

func TestSandboxResolve(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	target := filepath.Join(dir, "fetched.tmpl")
	require.NoError(t, os.WriteFile(target, []byte("hi"), 0o600))

	sb, err := NewSandbox(dir)
	require.NoError(t, err)

	resolved, err := sb.Resolve("fetched.tmpl")
	require.NoError(t, err)
	require.Equal(t, target, resolved)

	resolved, err = sb.Resolve("./sub/../fetched.tmpl")
	require.NoError(t, err)
	require.Equal(t, target, resolved)

	_, err = sb.Resolve("../outside")
	require.ErrorContains(t, err, "escapes")

	require.True(t, sb.Exists("fetched.tmpl"))
	require.False(t, sb.Exists("missing.tmpl"))
	require.False(t, sb.Exists("."))
}

func TestSandboxResolveSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require admin on Windows CI")
	}
	root := t.TempDir()
	outside := filepath.Join(t.TempDir(), "data.txt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o600))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link.tmpl")))

	sb, err := NewSandbox(root)
	require.NoError(t, err)

	_, err = sb.Resolve("link.tmpl")
	require.ErrorContains(t, err, "escapes")
	require.False(t, sb.Exists("link.tmpl"))
}

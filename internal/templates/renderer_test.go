package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRendererStripsEnvironmentAndFileHelpers(t *testing.T) {
	renderer := NewRenderer(nil)
	t.Setenv("RECIPECTL_SECRET", "value")

	for _, source := range []string{
		`{{ env "RECIPECTL_SECRET" }}`,
		`{{ expandenv "$RECIPECTL_SECRET" }}`,
		`{{ readFile "/etc/passwd" }}`,
	} {
		_, err := renderer.CompileInline("inline", source)
		require.Error(t, err, source)
	}
}

func TestRendererSprigHelpers(t *testing.T) {
	tmpl, err := NewRenderer(nil).CompileInline("inline", `{{ .q | upper | quote }} {{ .missing }}`)
	require.NoError(t, err)
	out, err := tmpl.Render(map[string]any{"q": "soup"})
	require.NoError(t, err)
	require.Equal(t, `"SOUP" <no value>`, out)
}

func TestRendererBlankSourceIsNil(t *testing.T) {
	tmpl, err := NewRenderer(nil).CompileInline("blank", "  \n")
	require.NoError(t, err)
	require.Nil(t, tmpl)

	_, err = tmpl.Render(nil)
	require.Error(t, err)
	require.Empty(t, tmpl.Name())
}

func TestRendererCompileFileHonoursSandbox(t *testing.T) {
	dir := t.TempDir()
	allowed := filepath.Join(dir, "notices")
	require.NoError(t, os.MkdirAll(allowed, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(allowed, "body.tmpl"), []byte("hello {{ .name }}"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "outside.tmpl"), []byte("nope"), 0o600))

	sandbox, err := NewSandbox(allowed)
	require.NoError(t, err)
	renderer := NewRenderer(sandbox)

	tmpl, err := renderer.CompileFile("body.tmpl")
	require.NoError(t, err)
	require.Equal(t, "body.tmpl", tmpl.Name())
	out, err := tmpl.Render(map[string]any{"name": "world"})
	require.NoError(t, err)
	require.Equal(t, "hello world", out)

	_, err = renderer.CompileFile("../outside.tmpl")
	require.ErrorContains(t, err, "escapes")

	_, err = NewRenderer(nil).CompileFile("body.tmpl")
	require.Error(t, err)
}

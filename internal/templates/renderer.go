package templates

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	sprig "github.com/Masterminds/sprig/v3"
)

// Renderer compiles notice templates with the sprig function map. File
// templates resolve through the sandbox so overrides cannot escape their
// directory.
type Renderer struct {
	sandbox *Sandbox
	funcs   template.FuncMap
}

// Template is a compiled template. Templates are safe for concurrent use.
type Template struct {
	name string
	tmpl *template.Template
}

// NewRenderer builds a renderer. A nil sandbox disables file templates.
func NewRenderer(sandbox *Sandbox) *Renderer {
	funcs := sprig.TxtFuncMap()
	// Notices render user-facing copy; nothing in them may read the process
	// environment or the filesystem.
	for _, name := range []string{
		"env",
		"expandenv",
		"readDir",
		"mustReadDir",
		"readFile",
		"mustReadFile",
		"glob",
	} {
		delete(funcs, name)
	}
	return &Renderer{sandbox: sandbox, funcs: funcs}
}

// Sandbox exposes the renderer's sandbox, which may be nil.
func (r *Renderer) Sandbox() *Sandbox { return r.sandbox }

// CompileInline parses an inline template. Blank sources return nil without
// error so optional overrides can be passed through unchecked.
func (r *Renderer) CompileInline(name, source string) (*Template, error) {
	if strings.TrimSpace(source) == "" {
		return nil, nil
	}
	if name == "" {
		name = "inline"
	}
	tmpl, err := template.New(name).Funcs(r.funcs).Option("missingkey=zero").Parse(source)
	if err != nil {
		return nil, fmt.Errorf("templates: compile %q: %w", name, err)
	}
	return &Template{name: name, tmpl: tmpl}, nil
}

// CompileFile reads a template through the sandbox.
func (r *Renderer) CompileFile(path string) (*Template, error) {
	if r.sandbox == nil {
		return nil, errors.New("templates: file templates require a sandbox")
	}
	resolved, err := r.sandbox.Resolve(path)
	if err != nil {
		return nil, err
	}
	contents, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("templates: read %q: %w", path, err)
	}
	return r.CompileInline(filepath.Base(resolved), string(contents))
}

// Render executes the template with data.
func (t *Template) Render(data any) (string, error) {
	if t == nil {
		return "", errors.New("templates: nil template")
	}
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("templates: execute %q: %w", t.name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func (t *Template) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}

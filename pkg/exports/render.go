package exports

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/spf13/afero"
)

// DefaultTemplate renders one exports(5) line per entry, repeating the export
// options for every permitted client.
//
// Entries without any permitted address are not rendered: an exports line
// without a client would be exported to the world.
const DefaultTemplate = `# This file is managed by exportd. Local changes will be overwritten.
{{- range .Mounts }}
{{- if .Addresses }}
{{ .Mountpoint }}{{ $opts := .ExportOptions }}{{ range .Addresses }} {{ . }}({{ $opts }}){{ end }}
{{- end }}
{{- end }}
`

// mountContext is the structure handed to the template.
type mountContext struct {
	Mountpoint    string
	Addresses     []string
	ExportOptions string
}

type templateContext struct {
	Mounts []mountContext
}

// Renderer writes export tables to disk.
//
// A table file that is absent means "no exports"; the renderer never leaves an
// empty file in place of a removed table.
type Renderer struct {
	fs   afero.Fs
	tmpl *template.Template
}

// NewRenderer creates a Renderer. An empty templateText uses DefaultTemplate.
func NewRenderer(fs afero.Fs, templateText string) (*Renderer, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if templateText == "" {
		templateText = DefaultTemplate
	}

	tmpl, err := template.New("exports").Option("missingkey=error").Parse(templateText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse exports template: %w", err)
	}

	return &Renderer{fs: fs, tmpl: tmpl}, nil
}

// NewRendererFromFile creates a Renderer from a template file on fs.
func NewRendererFromFile(fs afero.Fs, templatePath string) (*Renderer, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	data, err := afero.ReadFile(fs, templatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read exports template %s: %w", templatePath, err)
	}
	return NewRenderer(fs, string(data))
}

// Bytes renders the table without touching the filesystem.
func (r *Renderer) Bytes(table Table) ([]byte, error) {
	ctx := templateContext{Mounts: make([]mountContext, 0, len(table.Entries))}
	for _, e := range table.Entries {
		ctx.Mounts = append(ctx.Mounts, mountContext{
			Mountpoint:    e.Path,
			Addresses:     e.Addresses,
			ExportOptions: e.Options,
		})
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, ctx); err != nil {
		return nil, fmt.Errorf("failed to render exports template: %w", err)
	}
	return buf.Bytes(), nil
}

// Render writes the table to path, replacing any previous content atomically.
//
// The parent directory is created if needed. Rendering a table with nothing to
// export is an error: callers must Remove instead.
func (r *Renderer) Render(table Table, path string) error {
	if table.Exported().Empty() {
		return fmt.Errorf("refusing to render empty export table to %s", path)
	}

	data, err := r.Bytes(table)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := r.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create exports directory %s: %w", dir, err)
	}

	tmp := path + ".tmp"
	if err := afero.WriteFile(r.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := r.fs.Rename(tmp, path); err != nil {
		_ = r.fs.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	return nil
}

// Remove deletes the table file. A file that is already absent is not an error.
func (r *Renderer) Remove(path string) error {
	err := r.fs.Remove(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to remove export table %s: %w", path, err)
}

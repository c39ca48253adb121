package templates

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"os"

	sprig "github.com/Masterminds/sprig/v3"
)

// Card template names.
const (
	Uptime = "uptime.html"
	Cron   = "cron.html"
)

//go:embed cards/*.html
var builtin embed.FS

// Renderer holds the compiled card templates. Built-in templates are used
// unless the sandbox holds a file of the same name. Renderers are safe for
// concurrent use.
type Renderer struct {
	sandbox   *Sandbox
	templates map[string]*template.Template
}

// NewRenderer compiles every card template. A nil sandbox uses the built-in
// templates only.
func NewRenderer(sandbox *Sandbox) (*Renderer, error) {
	r := &Renderer{sandbox: sandbox, templates: make(map[string]*template.Template)}
	funcs := funcMap()
	for _, name := range []string{Uptime, Cron} {
		source, err := r.source(name)
		if err != nil {
			return nil, err
		}
		tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=zero").Parse(source)
		if err != nil {
			return nil, fmt.Errorf("templates: compile %q: %w", name, err)
		}
		r.templates[name] = tmpl
	}
	return r, nil
}

func (r *Renderer) source(name string) (string, error) {
	if r.sandbox != nil {
		resolved, err := r.sandbox.Resolve(name)
		switch {
		case err == nil:
			contents, err := os.ReadFile(resolved)
			if err != nil {
				return "", fmt.Errorf("templates: read %q: %w", name, err)
			}
			return string(contents), nil
		case errors.Is(err, fs.ErrNotExist):
		default:
			return "", err
		}
	}
	contents, err := builtin.ReadFile("cards/" + name)
	if err != nil {
		return "", fmt.Errorf("templates: builtin %q: %w", name, err)
	}
	return string(contents), nil
}

// Render executes the named card template with data.
func (r *Renderer) Render(name string, data any) (string, error) {
	if r == nil {
		return "", errors.New("templates: nil renderer")
	}
	tmpl, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("templates: unknown template %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("templates: execute %q: %w", name, err)
	}
	return buf.String(), nil
}

func funcMap() template.FuncMap {
	funcs := sprig.HtmlFuncMap()
	// Card templates render request data only; drop the helpers that read the
	// process environment or the filesystem.
	for _, name := range []string{"env", "expandenv", "readDir", "mustReadDir", "readFile", "mustReadFile", "glob"} {
		delete(funcs, name)
	}
	funcs["deref"] = func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	return funcs
}

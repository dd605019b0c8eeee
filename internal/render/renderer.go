// Package render personalizes message subjects and bodies with text/template.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// noValue is what text/template prints for a key missing from a map.
const noValue = "<no value>"

// bareField matches mustache-style placeholders such as {{ firstName }}.
var bareField = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

var keywords = map[string]bool{
	"if": true, "else": true, "end": true, "range": true, "with": true, "define": true,
	"template": true, "block": true, "break": true, "continue": true, "nil": true, "true": true, "false": true,
}

// Renderer renders templates against entity data. Parsed templates are
// cached by their source text.
type Renderer struct {
	funcMap template.FuncMap

	mu    sync.RWMutex
	cache map[string]*template.Template
	named map[string]*template.Template
}

// NewRenderer creates a renderer and loads the built-in templates.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{
		cache: make(map[string]*template.Template),
		named: make(map[string]*template.Template),
	}
	r.funcMap = template.FuncMap{
		"title":      titleCase,
		"upper":      strings.ToUpper,
		"lower":      strings.ToLower,
		"default":    defaultValue,
		"formatTime": formatTime,
	}

	for _, name := range []string{"notify"} {
		filename := fmt.Sprintf("templates/%s.tmpl", name)
		content, err := templatesFS.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", filename, err)
		}
		tmpl, err := template.New(name).Funcs(r.funcMap).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		r.named[name] = tmpl
	}

	return r, nil
}

// Render executes text against data. Placeholders naming a missing key
// render as empty strings.
func (r *Renderer) Render(text string, data map[string]any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	tmpl, err := r.parse(text)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return strings.ReplaceAll(buf.String(), noValue, ""), nil
}

// RenderNamed executes one of the built-in templates.
func (r *Renderer) RenderNamed(name string, data any) (string, error) {
	tmpl, ok := r.named[name]
	if !ok {
		return "", fmt.Errorf("template not found: %s", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Validate reports whether text parses as a template.
func (r *Renderer) Validate(text string) error {
	_, err := r.parse(text)
	return err
}

func (r *Renderer) parse(text string) (*template.Template, error) {
	r.mu.RLock()
	tmpl, ok := r.cache[text]
	r.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	tmpl, err := template.New("inline").Funcs(r.funcMap).Parse(normalize(text, r.funcMap))
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}

	r.mu.Lock()
	r.cache[text] = tmpl
	r.mu.Unlock()
	return tmpl, nil
}

// normalize rewrites {{ name }} to {{ .name }} unless name is a function
// or keyword.
func normalize(text string, funcs template.FuncMap) string {
	return bareField.ReplaceAllStringFunc(text, func(m string) string {
		name := bareField.FindStringSubmatch(m)[1]
		if _, isFunc := funcs[name]; isFunc || keywords[name] {
			return m
		}
		return "{{." + name + "}}"
	})
}

var titleCaser = cases.Title(language.English)

func titleCase(v any) string {
	if v == nil {
		return ""
	}
	return titleCaser.String(fmt.Sprint(v))
}

func defaultValue(def string, v any) any {
	if v == nil {
		return def
	}
	if s, ok := v.(string); ok && s == "" {
		return def
	}
	return v
}

func formatTime(t time.Time) string {
	return t.UTC().Format("Jan 2, 2006 15:04 UTC")
}

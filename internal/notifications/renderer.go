package notifications

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Template names, one per job category.
var templateNames = []string{
	"job_alert",
	"connection_request",
	"endorsement",
	"message",
	"system",
	"digest_daily",
	"digest_weekly",
}

// Rendered is the output of one render: an HTML body plus a plain-text
// variant derived from it.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// Renderer compiles notification templates once at construction and
// renders job payloads into deliverable bodies. Render failures never
// block delivery: RenderOrFallback substitutes a minimal generated
// body instead of returning an error.
type Renderer struct {
	templates map[string]*template.Template
}

// NewRenderer loads and compiles all embedded templates.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"title":      titleCase,
		"upper":      strings.ToUpper,
		"lower":      strings.ToLower,
		"formatTime": formatTime,
		"formatDate": formatDate,
	}

	r := &Renderer{templates: make(map[string]*template.Template)}

	for _, name := range templateNames {
		filename := fmt.Sprintf("templates/%s.tmpl", name)
		content, err := templatesFS.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", filename, err)
		}

		tmpl, err := template.New(name).Funcs(funcMap).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		r.templates[name] = tmpl
	}

	return r, nil
}

// Render renders the named template with the given payload.
func (r *Renderer) Render(name string, p *Payload) (*Rendered, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return nil, fmt.Errorf("template not found: %s", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, p); err != nil {
		return nil, fmt.Errorf("execute template %s: %w", name, err)
	}

	html := strings.TrimSpace(buf.String())
	return &Rendered{
		Subject: renderSubject(p),
		HTML:    html,
		Text:    htmlToText(html),
	}, nil
}

// RenderOrFallback renders the named template, substituting a minimal
// generated body on any failure. The bool reports whether the fallback
// was used.
func (r *Renderer) RenderOrFallback(name string, p *Payload) (*Rendered, bool) {
	rendered, err := r.Render(name, p)
	if err != nil {
		return Fallback(p), true
	}
	return rendered, false
}

// Fallback builds a minimal body from the payload's own title and
// message, guaranteed non-empty.
func Fallback(p *Payload) *Rendered {
	subject := renderSubject(p)
	text := strings.TrimSpace(p.Title + "\n\n" + p.Message)
	if text == "" {
		text = "You have a new notification."
	}
	return &Rendered{
		Subject: subject,
		HTML:    "<p>" + template.HTMLEscapeString(text) + "</p>",
		Text:    text,
	}
}

func renderSubject(p *Payload) string {
	if p.Subject != "" {
		return p.Subject
	}
	if p.Title != "" {
		return p.Title
	}
	return "New notification"
}

var (
	tagPattern   = regexp.MustCompile(`<[^>]*>`)
	blankPattern = regexp.MustCompile(`\n{3,}`)
)

// htmlToText derives a plain-text body from rendered HTML.
func htmlToText(s string) string {
	s = strings.ReplaceAll(s, "<br>", "\n")
	s = strings.ReplaceAll(s, "<br/>", "\n")
	s = strings.ReplaceAll(s, "</p>", "\n\n")
	s = strings.ReplaceAll(s, "</li>", "\n")
	s = tagPattern.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&#39;", "'")
	s = strings.ReplaceAll(s, "&#34;", `"`)
	s = blankPattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Template functions

var titleCaser = cases.Title(language.English)

func titleCase(s string) string {
	return titleCaser.String(s)
}

func formatTime(t time.Time) string {
	return t.UTC().Format("Jan 2, 2006 15:04 UTC")
}

func formatDate(t time.Time) string {
	return t.UTC().Format("Jan 2, 2006")
}

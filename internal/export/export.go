// ABOUTME: Markdown and HTML rendering of a session's reviewable sections
// ABOUTME: HTML goes through goldmark with raw HTML disabled, wrapped in a minimal page template

package export

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/docforge-gateway/internal/session"
	"github.com/2389/docforge-gateway/internal/store"
)

// ErrUnknownFormat is returned by ParseFormat.
var ErrUnknownFormat = errors.New("unknown export format")

// Format selects the output representation.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// ParseFormat accepts "markdown", "md", "html" and the empty string (markdown).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "markdown", "md":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// ContentType is the HTTP media type for f.
func (f Format) ContentType() string {
	if f == FormatHTML {
		return "text/html; charset=utf-8"
	}
	return "text/markdown; charset=utf-8"
}

// Document is what gets rendered.
type Document struct {
	Title    string
	Protocol store.Protocol
	Snapshot session.Snapshot // usually session.Store.ExportView output
}

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

var page = template.Must(template.New("export").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<article>
{{.Body}}
</article>
</body>
</html>
`))

// Render writes doc to w in format f.
func Render(w io.Writer, doc Document, f Format) error {
	switch f {
	case FormatMarkdown:
		_, err := w.Write(Markdown(doc))
		return err
	case FormatHTML:
		return renderHTML(w, doc)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
}

// Markdown renders doc as a Markdown document. Sections still awaiting
// review are marked as drafts.
func Markdown(doc Document) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# %s\n\n", heading(doc))
	if doc.Protocol.Title != "" {
		fmt.Fprintf(&b, "_%s_\n\n", doc.Protocol.Title)
	}
	for _, sec := range doc.Snapshot.Sections {
		if sec.Status != session.StatusReady && sec.Status != session.StatusApproved {
			continue
		}
		title := sec.Title
		if title == "" {
			title = sec.Key
		}
		fmt.Fprintf(&b, "## %s\n\n", title)
		if sec.Status == session.StatusReady {
			b.WriteString("> Draft: awaiting review\n\n")
		}
		b.WriteString(strings.TrimSpace(sec.Content))
		b.WriteString("\n\n")
	}
	return b.Bytes()
}

func renderHTML(w io.Writer, doc Document) error {
	var body bytes.Buffer
	if err := md.Convert(Markdown(doc), &body); err != nil {
		return fmt.Errorf("converting markdown: %w", err)
	}
	return page.Execute(w, struct {
		Title string
		Body  template.HTML
	}{
		Title: heading(doc),
		Body:  template.HTML(body.String()),
	})
}

func heading(doc Document) string {
	title := doc.Title
	if title == "" {
		title = doc.Snapshot.DocumentType
	}
	if doc.Protocol.StudyAcronym != "" {
		return fmt.Sprintf("%s: %s", doc.Protocol.StudyAcronym, title)
	}
	return title
}

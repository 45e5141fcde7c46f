package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"

	"folio/api/internal/diff"
)

//go:embed templates/*.html
var templateFS embed.FS

var (
	versionTemplate *template.Template
	compareTemplate *template.Template
)

func init() {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}
	versionTemplate = template.Must(template.New("version.html").Funcs(funcMap).ParseFS(templateFS, "templates/version.html"))
	compareTemplate = template.Must(template.New("compare.html").Funcs(funcMap).ParseFS(templateFS, "templates/compare.html"))
}

// VersionData holds data for the single version template.
type VersionData struct {
	Title       string
	Sequence    int64
	ChangeType  string
	Summary     string
	Author      string
	CreatedAt   time.Time
	ContentHTML template.HTML
}

// CompareData holds data for the comparison template.
type CompareData struct {
	Title        string
	FromSequence int64
	ToSequence   int64
	Author       string
	Summary      diff.Summary
	DiffHTML     template.HTML
}

func RenderVersionHTML(data VersionData) (string, error) {
	var buf bytes.Buffer
	if err := versionTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func RenderCompareHTML(data CompareData) (string, error) {
	var buf bytes.Buffer
	if err := compareTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

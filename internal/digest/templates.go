// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package digest

import (
	"bytes"
	"embed"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"
)

//go:embed templates/*
var templatesFS embed.FS

var funcs = map[string]any{
	"date": func(t time.Time) string {
		if t.IsZero() {
			return "unknown"
		}
		return t.Format("2006-01-02 15:04 MST")
	},
}

var (
	htmlTmpl = htmltemplate.Must(htmltemplate.New("digest.html").Funcs(funcs).ParseFS(templatesFS, "templates/digest.html"))
	textTmpl = texttemplate.Must(texttemplate.New("digest.txt").Funcs(funcs).ParseFS(templatesFS, "templates/digest.txt"))
)

type templateData struct {
	Subject string
	Count   int
	Groups  []Group
}

func newTemplateData(batch []Summary) templateData {
	return templateData{
		Subject: Subject(len(batch)),
		Count:   len(batch),
		Groups:  GroupByCategory(batch),
	}
}

// RenderHTML renders batch as an HTML document.
func RenderHTML(batch []Summary) (string, error) {
	var buf bytes.Buffer
	if err := htmlTmpl.Execute(&buf, newTemplateData(batch)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderText renders batch as plain text.
func RenderText(batch []Summary) (string, error) {
	var buf bytes.Buffer
	if err := textTmpl.Execute(&buf, newTemplateData(batch)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

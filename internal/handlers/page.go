package handlers

import (
	"embed"
	"html/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var pageTemplate = template.Must(template.New("").ParseFS(templateFS, "templates/*.tmpl"))

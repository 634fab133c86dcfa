// Package handler contains the HTTP handlers of the gateway.
//
// Handlers are the glue between HTTP and the rest of the app:
//  1. Parse the request (query params, body, path params)
//  2. Call the service or query layer
//  3. Write the response (status, headers, body)
//
// They hold no business rules. Errors from lower layers are translated to
// status codes in one place, WriteError.
package handler

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"
)

//go:embed templates/*.html
var templateFS embed.FS

// PageRenderer renders the few HTML pages the API has: the OAuth callback
// a browser lands on after Google's consent screen.
//
// Templates are parsed once at startup. base.html holds the page frame and
// calls {{template "content" .}}, which each page defines.
type PageRenderer struct {
	callback *template.Template
	logger   *slog.Logger
}

func NewPageRenderer(logger *slog.Logger) (*PageRenderer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/base.html", "templates/callback.html")
	if err != nil {
		return nil, err
	}
	return &PageRenderer{callback: tmpl, logger: logger}, nil
}

// callbackPage is the data of templates/callback.html. Error set means
// the failure variant is shown.
type callbackPage struct {
	Title       string
	Error       string
	Email       string
	AccessToken string
	ExpiresAt   string
	Properties  any
	BaseURL     string
}

func (p *PageRenderer) render(w http.ResponseWriter, status int, data callbackPage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := p.callback.ExecuteTemplate(w, "base", data); err != nil {
		p.logger.Error("failed to render template", slog.String("error", err.Error()))
	}
}

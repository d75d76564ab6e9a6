package handler

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/flacronsport/daily/internal/adheaders"
	"github.com/flacronsport/daily/internal/identity"
	"github.com/flacronsport/daily/internal/premium"
)

//go:embed templates/*.html
var templateFS embed.FS

type PageHandler struct {
	templates *template.Template
	title     string
	wasmURL   string
	logger    *slog.Logger
}

func NewPageHandler(title string, logger *slog.Logger) *PageHandler {
	return &PageHandler{
		templates: template.Must(template.ParseFS(templateFS, "templates/*.html")),
		title:     title,
		wasmURL:   "/static/pagegate.wasm",
		logger:    logger,
	}
}

// Home handles GET /{$}. The shaped set and the embedded snapshot come from
// the same resolution as the response headers.
func (h *PageHandler) Home(w http.ResponseWriter, r *http.Request) {
	set := adheaders.FromContext(r.Context())
	data := map[string]any{
		"Title": h.title,
		"Set":   set,
		"Snapshot": premium.Snapshot{
			Subject: identity.Subject(r.Context()),
			Premium: set.Premium,
		},
		"WasmURL": h.wasmURL,
	}

	w.Header().Set("Cache-Control", "private, no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		h.logger.Error("render home", "error", err)
	}
}

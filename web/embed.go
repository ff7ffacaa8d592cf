// Package web embeds the built onboarding frontend (dist/) and serves it as a
// single-page application.
//
// dist/ holds a placeholder page until the frontend build replaces it. In
// development, run the Vite dev server and point FRONTEND_URL at it.
package web

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

// reservedPrefixes are owned by the Go router; unknown paths under them must
// not fall through to index.html.
var reservedPrefixes = []string{"api/", "ws/"}

// SPAHandler returns an http.Handler that serves the embedded frontend.
// Paths that don't match a file get index.html so client-side routes such
// as /signup and /agents/{id} work on reload.
func SPAHandler() http.Handler {
	subFS, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}

	fileServer := http.FileServer(http.FS(subFS))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")
		for _, p := range reservedPrefixes {
			if strings.HasPrefix(path, p) {
				http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
				return
			}
		}
		if path == "" {
			path = "index.html"
		}

		if f, err := subFS.Open(path); err == nil {
			if closeErr := f.Close(); closeErr != nil {
				slog.Debug("web: failed to close embedded file", "path", path, "error", closeErr)
			}
			fileServer.ServeHTTP(w, r)
			return
		}

		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	})
}

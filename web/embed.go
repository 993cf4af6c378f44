// Package web embeds the dashboard page and serves it at the site root.
//
// The page watches /ws/live and drives the session through /api/session.
package web

import (
	"bytes"
	_ "embed"
	"net/http"
	"time"
)

//go:embed dist/index.html
var page []byte

// Handler serves the dashboard at / and /index.html. Any other path is
// not found, so unknown API routes are not masked by the page.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" && r.URL.Path != "/index.html" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeContent(w, r, "index.html", time.Time{}, bytes.NewReader(page))
	})
}

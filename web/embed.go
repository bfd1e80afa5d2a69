// Package web serves an optional static frontend from a runtime-configured
// directory (STATIC_DIR). Nothing is embedded at build time: the relay is a
// pure API service, and the static assets — if any — are deployed alongside
// the binary rather than baked into it.
package web

import (
	"net/http"
	"os"
	"path/filepath"
)

// StaticHandler serves files out of dir, falling back to dir/index.html for
// any path that doesn't match a file on disk (single-page-app routing).
// Returns a handler that answers 404 for everything if dir is unusable.
func StaticHandler(dir string) http.Handler {
	fileServer := http.FileServer(http.Dir(dir))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested := filepath.Join(dir, filepath.Clean(r.URL.Path))
		if info, err := os.Stat(requested); err == nil && !info.IsDir() {
			fileServer.ServeHTTP(w, r)
			return
		}

		http.ServeFile(w, r, filepath.Join(dir, "index.html"))
	})
}

package middleware

import (
	"net/http"
	"os"
	"path/filepath"
)

const placeholderAvatarSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 200 200"><circle cx="100" cy="100" r="100" fill="#e8f0e8"/><circle cx="100" cy="78" r="34" fill="#9bb89b"/><path d="M100 120c-34 0-58 20-58 46v34h116v-34c0-26-24-46-58-46z" fill="#9bb89b"/></svg>`

// StaticFileServer serves uploaded avatars, falling back to a generated
// placeholder when the file is missing.
func StaticFileServer(dir string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(dir, filepath.Clean(r.URL.Path))

		if _, err := os.Stat(path); err == nil {
			w.Header().Set("Cache-Control", "public, max-age=2592000")
			http.ServeFile(w, r, path)
			return
		}

		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.Write([]byte(placeholderAvatarSVG))
	})
}

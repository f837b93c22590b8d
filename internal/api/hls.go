package api

import (
	"net/http"
	"path"
	"strings"
)

// HLSFileServer serves segment directories under /hls/{id}/. Directory
// listings are refused and playlists are never cached.
func HLSFileServer(dir string, cors CORSConfig) http.Handler {
	files := http.StripPrefix("/hls/", http.FileServer(http.Dir(dir)))
	return withCORS(cors, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		switch path.Ext(r.URL.Path) {
		case ".m3u8":
			w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
			w.Header().Set("Cache-Control", "no-cache")
		case ".ts":
			w.Header().Set("Content-Type", "video/mp2t")
		default:
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	}))
}

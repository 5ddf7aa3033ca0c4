package chat

import (
	"embed"
	"io/fs"
	"net/http"

	"github.com/gorilla/websocket"
)

//go:embed web
var webFS embed.FS

func webRoot() fs.FS {
	sub, err := fs.Sub(webFS, "web")
	if err != nil {
		panic(err)
	}
	return sub
}

// Assets serves the browser client's static files.
func Assets() http.Handler {
	return http.FileServerFS(webRoot())
}

// Page serves the chat page at whatever path it is mounted on. The page
// opens its socket on that same path.
func Page() http.Handler {
	root := webRoot()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeFileFS(w, r, root, "index.html")
	})
}

// UpgradeOr sends websocket upgrade requests to ws and everything else to
// page, so the chat page and its socket can share a path.
func UpgradeOr(ws, page http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			ws.ServeHTTP(w, r)
			return
		}
		page.ServeHTTP(w, r)
	})
}

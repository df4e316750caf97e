package core

import "net/http"

// Index is a minimal liveness handler for the root path.
func (a *App) Index(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
}

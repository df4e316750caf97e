package router

import (
	"github.com/julienschmidt/httprouter"
	"net/http"
)

// Router wraps httprouter.Router; the REST surface it serves is pure
// POST+JSON with no path parameters, so only method registration is needed.
type Router struct {
	*httprouter.Router
}

func (r *Router) Get(path string, handler http.Handler) {
	r.Handler("GET", path, handler)
}

func (r *Router) Post(path string, handler http.Handler) {
	r.Handler("POST", path, handler)
}

func New() *Router {
	return &Router{httprouter.New()}
}

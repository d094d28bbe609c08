package api

import (
	"fmt"
	"net/http"
	"os"
	"runtime/debug"

	"github.com/semihalev/zlog/v2"
)

type Router struct {
	mux *http.ServeMux
}

type Group struct {
	parent *Router
	path   string
}

var extraHeaders = map[string]string{
	"Server":                      "dnsproxy",
	"Access-Control-Allow-Origin": "*",
	"Cache-Control":               "no-cache, no-store, no-transform, must-revalidate, private, max-age=0",
	"Pragma":                      "no-cache",
}

func NewRouter() *Router {
	return &Router{mux: http.NewServeMux()}
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if r := recover(); r != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			zlog.Error("Recovered in API", "recover", fmt.Sprint(r))

			_, _ = os.Stderr.WriteString(fmt.Sprintf("panic: %v\n\n", r))
			debug.PrintStack()
		}
	}()

	for k, v := range extraHeaders {
		w.Header().Set(k, v)
	}

	rt.mux.ServeHTTP(w, r)
}

// Handle registers handle for method and a ServeMux path pattern.
func (rt *Router) Handle(method, path string, handle Handler) {
	rt.mux.HandleFunc(method+" "+path, func(w http.ResponseWriter, r *http.Request) {
		handle(&Context{Request: r, Writer: w})
	})
}

func (rt *Router) GET(path string, handle Handler) {
	rt.Handle(http.MethodGet, path, handle)
}

func (rt *Router) POST(path string, handle Handler) {
	rt.Handle(http.MethodPost, path, handle)
}

func (rt *Router) Group(rp string) *Group {
	return &Group{parent: rt, path: rp}
}

func (g *Group) GET(path string, handle Handler) {
	g.parent.GET(g.path+path, handle)
}

func (g *Group) POST(path string, handle Handler) {
	g.parent.POST(g.path+path, handle)
}

// Package hosting runs the transient file services a gateway pulls its
// firmware image from. Lifecycle is start once, never stopped: the servers
// die with the process.
package hosting

import (
	"fmt"
	"net"
	"net/http"
	"path"
	"sync"

	"github.com/chrisdefazio/adtranfirmwareupgrader/logger"
	"github.com/chrisdefazio/adtranfirmwareupgrader/schema"
)

var log schema.Logger

func init() {
	log = logger.Log
}

// Service is a running file host. Served reports whether the device has
// fetched the named file, which corroborates the shell-side progress
// heuristics.
type Service interface {
	Start() error
	Served(file string) bool
}

type HTTPServer struct {
	Dir  string
	Port int

	addr    string
	mut     sync.Mutex
	fetched map[string]bool
}

func NewHTTP(dir string, port int) *HTTPServer {
	return &HTTPServer{Dir: dir, Port: port, fetched: make(map[string]bool)}
}

// Start begins serving the directory and returns once the listener is
// bound. Serving continues for the process lifetime.
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", h.Port))
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	h.addr = ln.Addr().String()
	files := http.FileServer(http.Dir(h.Dir))
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := path.Base(r.URL.Path)
		log.Infof("HTTP %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		h.mut.Lock()
		h.fetched[name] = true
		h.mut.Unlock()
		files.ServeHTTP(w, r)
	})
	go func() {
		if err := http.Serve(ln, handler); err != nil {
			log.Warningf("HTTP server stopped: %v", err)
		}
	}()
	log.Infof("HTTP server running at port %d, serving %s", h.Port, h.Dir)
	return nil
}

// Addr is the bound listen address, available after Start.
func (h *HTTPServer) Addr() string {
	return h.addr
}

func (h *HTTPServer) Served(file string) bool {
	h.mut.Lock()
	defer h.mut.Unlock()
	return h.fetched[file]
}

// Package server serves files from a directory, assembling sarascript
// directives in HTML and Markdown before they are sent.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/mux"

	"github.com/ib-77/sarascript/pkg/assemble"
	"github.com/ib-77/sarascript/pkg/rop/core"
	"github.com/ib-77/sarascript/pkg/script"
)

const cacheControl = "max-age=86400"

type Options struct {
	Root                string
	ServerSideRendering bool
	// MaxWorkers bounds the operations of one document running at once.
	// Zero or less means no bound.
	MaxWorkers int
}

type Server struct {
	opts      Options
	assembler *assemble.Assembler
	router    *mux.Router
}

func New(opts Options, assembler *assemble.Assembler) *Server {
	s := &Server{
		opts:      opts,
		assembler: assembler,
		router:    mux.NewRouter(),
	}
	s.router.PathPrefix("/").Methods(http.MethodGet, http.MethodHead).HandlerFunc(s.serveFile)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		glog.Warningf("[server] %s %s: method not allowed\n", r.Method, r.URL.Path)
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		glog.Infof("[server] listening on %s, serving %s\n", addr, s.opts.Root)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		glog.Infof("[server] shutting down\n")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request) {
	f, err := readFileOrIndex(s.opts.Root, r.URL.Path)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	body := f.contents
	if f.contentType.mayContainScripts() && s.opts.ServerSideRendering {
		ctx := core.WithWorkerOptions(r.Context(), s.opts.MaxWorkers)
		body, err = s.assembler.Assemble(ctx, f.contents)
		if err != nil {
			s.fail(w, r, err)
			return
		}
	}

	h := w.Header()
	h.Set("Content-Type", f.contentType.String())
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("Cache-Control", cacheControl)
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write(body)
	}
	glog.V(1).Infof("[server] %s %s: %d bytes from %s\n", r.Method, r.URL.Path, len(body), f.name)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		reqErr   *requestError
		parseErr *script.ParseError
		joinErr  *assemble.JoinFailure
	)
	status, msg := http.StatusInternalServerError, "internal server error"
	switch {
	case errors.As(err, &reqErr):
		status, msg = reqErr.status, reqErr.msg
	case errors.As(err, &parseErr):
		status, msg = http.StatusUnprocessableEntity, parseErr.Error()
	case errors.As(err, &joinErr):
		status, msg = http.StatusInternalServerError, "could not assemble document"
	}

	if status >= 500 {
		glog.Errorf("[server] %s %s: %v\n", r.Method, r.URL.Path, err)
	} else {
		glog.Warningf("[server] %s %s: %v\n", r.Method, r.URL.Path, err)
	}
	http.Error(w, msg, status)
}

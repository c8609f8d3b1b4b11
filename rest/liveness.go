// Copyright 2026 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package rest serves the liveness page.  It knows nothing about the
// bootstrap, and answers whether or not the bootstrap succeeded.
package rest

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/net/netutil"
)

const (
	// MaxConns bounds concurrent liveness connections.
	MaxConns = 64

	shutdownGrace = 5 * time.Second
)

// Handler serves a single static page at /.
type Handler struct {
	page   string
	logger *log.Logger
	r      *mux.Router
}

func (h *Handler) internalError(w http.ResponseWriter, e error) {
	h.logger.Printf("Liveness page: %v", e)
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

func (h *Handler) getPage(w http.ResponseWriter, r *http.Request) {
	b, e := os.ReadFile(h.page)
	if e != nil {
		h.internalError(w, e)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(b))
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.r.ServeHTTP(w, req)
}

// NewHandler returns a Handler serving the file at page.  The file is
// read on every request, so it may appear after the handler is created.
func NewHandler(page string, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	r := mux.NewRouter()
	h := &Handler{page: page, logger: logger, r: r}
	r.HandleFunc("/", h.getPage).Methods("GET", "HEAD")
	return h
}

// Serve accepts liveness connections on l until ctx is done, then shuts
// the server down gracefully.  It returns nil after a clean shutdown.
func Serve(ctx context.Context, l net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(netutil.LimitListener(l, MaxConns))
	}()

	select {
	case e := <-errc:
		return e
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	e := srv.Shutdown(sctx)
	if se := <-errc; !errors.Is(se, http.ErrServerClosed) && e == nil {
		e = se
	}
	return e
}

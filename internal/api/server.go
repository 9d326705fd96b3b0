// Package api exposes documents over HTTP under /api/v1.
//
// Handlers are thin: they decode query parameters and bodies, call the
// document, and map fault codes to status codes.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/roach88/stagehand/internal/config"
	"github.com/roach88/stagehand/internal/document"
)

// Root is the path prefix of every route.
const Root = "/api/v1"

// Server serves the document API.
type Server struct {
	registry *document.Registry
	live     *config.Live
	httpSrv  *http.Server
}

// NewServer builds the route table. ws, when not nil, is mounted at
// /api/v1/ws.
func NewServer(registry *document.Registry, live *config.Live, ws http.Handler) *Server {
	mux := http.NewServeMux()
	s := &Server{
		registry: registry,
		live:     live,
		httpSrv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	mux.HandleFunc("GET "+Root+"/document", s.listDocuments)
	mux.HandleFunc("POST "+Root+"/document", s.createDocument)
	mux.HandleFunc("GET "+Root+"/configuration", s.getConfiguration)
	mux.HandleFunc("PUT "+Root+"/configuration", s.putConfiguration)

	doc := Root + "/document/{documentId}"
	mux.HandleFunc("GET "+doc, s.withDocument(s.getDocument))
	mux.HandleFunc("DELETE "+doc, s.deleteDocument)
	mux.HandleFunc("GET "+doc+"/dump", s.withDocument(s.dumpDocument))

	mux.HandleFunc("GET "+doc+"/xml/get", s.withDocument(s.xmlGet))
	mux.HandleFunc("POST "+doc+"/xml/paste", s.withDocument(s.xmlPaste))
	mux.HandleFunc("POST "+doc+"/xml/cut", s.withDocument(s.xmlCut))
	mux.HandleFunc("POST "+doc+"/xml/copy", s.withDocument(s.xmlCopy))
	mux.HandleFunc("POST "+doc+"/xml/move", s.withDocument(s.xmlMove))
	mux.HandleFunc("PUT "+doc+"/xml/modifyAttributes", s.withDocument(s.xmlModifyAttributes))
	mux.HandleFunc("PUT "+doc+"/xml/modifyData", s.withDocument(s.xmlModifyData))

	mux.HandleFunc("GET "+doc+"/events", s.withDocument(s.eventsGet))
	mux.HandleFunc("GET "+doc+"/events/requestbroadcast", s.withDocument(s.eventsBroadcast))
	mux.HandleFunc("POST "+doc+"/events/{eventId}/trigger", s.withDocument(s.eventsTrigger))
	mux.HandleFunc("POST "+doc+"/events/{eventId}/enqueue", s.withDocument(s.eventsEnqueue))
	mux.HandleFunc("POST "+doc+"/events/{eventId}/dequeue", s.withDocument(s.eventsDequeue))
	mux.HandleFunc("PUT "+doc+"/events/{eventId}/modify", s.withDocument(s.eventsModify))

	for _, aspect := range []string{"serve", "viewer"} {
		viewer := aspect == "viewer"
		mux.HandleFunc("GET "+doc+"/"+aspect+"/timeline.xml", s.withDocument(s.serveTimeline(viewer)))
		mux.HandleFunc("GET "+doc+"/"+aspect+"/client.json", s.withDocument(s.serveClient(aspect)))
		mux.HandleFunc("GET "+doc+"/"+aspect+"/getliveinfo", s.withDocument(s.serveLiveInfo))
		mux.HandleFunc("GET "+doc+"/"+aspect+"/gethistory", s.withDocument(s.serveHistory))
	}
	mux.HandleFunc("PUT "+doc+"/serve/updatedocstate", s.withDocument(s.serveUpdateState))
	mux.HandleFunc("POST "+doc+"/serve/addlistener", s.withDocument(s.serveAddListener))

	if ws != nil {
		mux.Handle(Root+"/ws", ws)
	}
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.Serve(ln)
	}()
	slog.Info("api listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

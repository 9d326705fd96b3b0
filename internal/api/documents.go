package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/roach88/stagehand/internal/config"
	"github.com/roach88/stagehand/internal/document"
	"github.com/roach88/stagehand/internal/events"
	"github.com/roach88/stagehand/internal/fault"
	"github.com/roach88/stagehand/internal/journal"
	"github.com/roach88/stagehand/internal/tree"
)

// maxBody bounds request bodies; documents are the largest payload.
const maxBody = 16 << 20

type docHandler func(w http.ResponseWriter, r *http.Request, d *document.Document)

func (s *Server) withDocument(h docHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := s.registry.Get(r.PathValue("documentId"))
		if err != nil {
			writeFault(w, r, err)
			return
		}
		h(w, r, d)
	}
}

func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return nil, fault.MalformedWrap(err, "read request body")
	}
	return data, nil
}

// query returns the named query parameter, failing when it is absent.
func query(r *http.Request, name string) (string, error) {
	q := r.URL.Query()
	if !q.Has(name) {
		return "", fault.Malformed("missing query parameter %q", name)
	}
	return q.Get(name), nil
}

func queryWhere(r *http.Request) (tree.Where, error) {
	where, err := query(r, "where")
	if err != nil {
		return 0, err
	}
	return tree.ParseWhere(where)
}

func mimetype(r *http.Request) string {
	if m := r.URL.Query().Get("mimetype"); m != "" {
		return m
	}
	return document.MimeXML
}

// Documents.

func (s *Server) listDocuments(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

type createResponse struct {
	DocumentID string `json:"documentId"`
}

// createDocument loads from ?url= when given, else from the request body.
func (s *Server) createDocument(w http.ResponseWriter, r *http.Request) {
	var (
		d   *document.Document
		err error
	)
	if u := r.URL.Query().Get("url"); u != "" {
		d, err = s.registry.CreateFromURL(r.Context(), u)
	} else {
		var data []byte
		if data, err = readBody(r); err == nil {
			if len(data) == 0 {
				err = fault.Malformed("no document: give ?url= or an XML body")
			} else {
				d, err = s.registry.Create(r.Context(), data)
			}
		}
	}
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, createResponse{DocumentID: d.ID()})
}

func (s *Server) getDocument(w http.ResponseWriter, _ *http.Request, d *document.Document) {
	writeText(w, document.MimeXML, d.Timeline(false))
}

func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Delete(r.Context(), r.PathValue("documentId")); err != nil {
		writeFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) dumpDocument(w http.ResponseWriter, _ *http.Request, d *document.Document) {
	writeText(w, "text/plain; charset=utf-8", d.Dump())
}

// Configuration.

func (s *Server) getConfiguration(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.live.Settings())
}

func (s *Server) putConfiguration(w http.ResponseWriter, r *http.Request) {
	var patch config.Patch
	if err := decodeJSON(r, &patch); err != nil {
		writeFault(w, r, err)
		return
	}
	settings, modeChanged, err := s.live.Update(patch)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	if modeChanged {
		s.registry.SetMode(settings.Mode)
	}
	writeJSON(w, http.StatusOK, settings)
}

func decodeJSON(r *http.Request, v any) error {
	data, err := readBody(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fault.MalformedWrap(err, "bad JSON body")
	}
	return nil
}

// XML aspect.

func (s *Server) xmlGet(w http.ResponseWriter, r *http.Request, d *document.Document) {
	path, err := query(r, "path")
	if err != nil {
		writeFault(w, r, err)
		return
	}
	m := mimetype(r)
	out, err := d.Get(path, m)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeText(w, m, out)
}

// xmlPaste takes the new content from ?data= or, when absent, the body.
func (s *Server) xmlPaste(w http.ResponseWriter, r *http.Request, d *document.Document) {
	path, err := query(r, "path")
	if err != nil {
		writeFault(w, r, err)
		return
	}
	where, err := queryWhere(r)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	q := r.URL.Query()
	data := q.Get("data")
	if !q.Has("data") {
		body, err := readBody(r)
		if err != nil {
			writeFault(w, r, err)
			return
		}
		data = string(body)
	}
	newPath, err := d.Paste(r.Context(), path, where, q.Get("tag"), data, mimetype(r))
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeText(w, "text/plain; charset=utf-8", newPath)
}

func (s *Server) xmlCut(w http.ResponseWriter, r *http.Request, d *document.Document) {
	path, err := query(r, "path")
	if err != nil {
		writeFault(w, r, err)
		return
	}
	m := mimetype(r)
	out, err := d.Cut(r.Context(), path, m)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeText(w, m, out)
}

type relocateFunc func(ctx context.Context, path string, where tree.Where, sourcePath string) (string, error)

func (s *Server) relocate(w http.ResponseWriter, r *http.Request, op relocateFunc) {
	path, err := query(r, "path")
	if err != nil {
		writeFault(w, r, err)
		return
	}
	where, err := queryWhere(r)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	source, err := query(r, "sourcepath")
	if err != nil {
		writeFault(w, r, err)
		return
	}
	newPath, err := op(r.Context(), path, where, source)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeText(w, "text/plain; charset=utf-8", newPath)
}

func (s *Server) xmlCopy(w http.ResponseWriter, r *http.Request, d *document.Document) {
	s.relocate(w, r, d.Copy)
}

func (s *Server) xmlMove(w http.ResponseWriter, r *http.Request, d *document.Document) {
	s.relocate(w, r, d.Move)
}

func (s *Server) xmlModifyAttributes(w http.ResponseWriter, r *http.Request, d *document.Document) {
	path, err := query(r, "path")
	if err != nil {
		writeFault(w, r, err)
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	if err := d.ModifyAttributes(r.Context(), path, string(body)); err != nil {
		writeFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) xmlModifyData(w http.ResponseWriter, r *http.Request, d *document.Document) {
	path, err := query(r, "path")
	if err != nil {
		writeFault(w, r, err)
		return
	}
	data, err := query(r, "data")
	if err != nil {
		writeFault(w, r, err)
		return
	}
	if err := d.ModifyData(r.Context(), path, data); err != nil {
		writeFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Events aspect.

func (s *Server) eventsGet(w http.ResponseWriter, _ *http.Request, d *document.Document) {
	writeJSON(w, http.StatusOK, d.Events().Events)
}

func (s *Server) eventsBroadcast(w http.ResponseWriter, r *http.Request, d *document.Document) {
	if err := d.RequestBroadcast(); err != nil {
		writeFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// params decodes a JSON list of {parameter, value}. An empty body is no
// parameters.
func params(r *http.Request) ([]events.Param, error) {
	data, err := readBody(r)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var ps []events.Param
	if err := json.Unmarshal(data, &ps); err != nil {
		return nil, fault.MalformedWrap(err, "parameters must be a list of {parameter, value}")
	}
	return ps, nil
}

func (s *Server) eventsTrigger(w http.ResponseWriter, r *http.Request, d *document.Document) {
	s.stage(w, r, d.Trigger)
}

func (s *Server) eventsEnqueue(w http.ResponseWriter, r *http.Request, d *document.Document) {
	s.stage(w, r, d.Enqueue)
}

func (s *Server) stage(w http.ResponseWriter, r *http.Request, op func(context.Context, string, []events.Param) (string, error)) {
	ps, err := params(r)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	id, err := op(r.Context(), r.PathValue("eventId"), ps)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeText(w, "text/plain; charset=utf-8", id)
}

type dequeueResponse struct {
	Status bool `json:"status"`
}

func (s *Server) eventsDequeue(w http.ResponseWriter, r *http.Request, d *document.Document) {
	removed, err := d.Dequeue(r.Context(), r.PathValue("eventId"))
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dequeueResponse{Status: removed})
}

func (s *Server) eventsModify(w http.ResponseWriter, r *http.Request, d *document.Document) {
	ps, err := params(r)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	if err := d.Modify(r.Context(), r.PathValue("eventId"), ps); err != nil {
		writeFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Serve and viewer aspects.

func (s *Server) serveTimeline(viewer bool) docHandler {
	return func(w http.ResponseWriter, _ *http.Request, d *document.Document) {
		writeText(w, document.MimeXML, d.Timeline(viewer))
	}
}

// serveClient builds the player bootstrap pointing back at this server.
func (s *Server) serveClient(aspect string) docHandler {
	return func(w http.ResponseWriter, r *http.Request, d *document.Document) {
		docRoot := fmt.Sprintf("%s%s/document/%s/%s/", origin(r), Root, d.ID(), aspect)
		input := document.ServiceInput{Timeline: docRoot + "timeline.xml"}
		q := r.URL.Query()
		writeJSON(w, http.StatusOK, d.ClientConfig(input, q.Get("base"), q.Get("mode")))
	}
}

// origin is the scheme and host the client used to reach us.
func origin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + r.Host
}

func (s *Server) serveLiveInfo(w http.ResponseWriter, _ *http.Request, d *document.Document) {
	writeJSON(w, http.StatusOK, d.LiveInfo())
}

func (s *Server) serveHistory(w http.ResponseWriter, r *http.Request, d *document.Document) {
	oldest := 0
	if v := r.URL.Query().Get("oldest"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeFault(w, r, fault.Malformed("bad oldest %q", v))
			return
		}
		oldest = n
	}
	history := d.History(oldest)
	if history == nil {
		history = []journal.Batch{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) serveUpdateState(w http.ResponseWriter, r *http.Request, d *document.Document) {
	var states map[string]events.ElementState
	if err := decodeJSON(r, &states); err != nil {
		writeFault(w, r, err)
		return
	}
	if states == nil {
		writeFault(w, r, fault.Malformed("document state must be an object"))
		return
	}
	if _, err := d.SetDocumentState(r.Context(), states); err != nil {
		writeFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) serveAddListener(w http.ResponseWriter, r *http.Request, d *document.Document) {
	u, err := query(r, "url")
	if err != nil {
		writeFault(w, r, err)
		return
	}
	if err := d.AddListener(u); err != nil {
		writeFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/roach88/stagehand/internal/journal"
)

// StatusError reports a non-2xx answer from a remote listener.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

// HTTPListener POSTs each batch as JSON to a remote URL. The state request
// travels as the query parameter wantstate=true.
type HTTPListener struct {
	url    string
	client *http.Client
}

// NewHTTPListener creates a listener for rawURL. A nil client means
// http.DefaultClient; per-request timeouts come from the Forwarder.
func NewHTTPListener(rawURL string, client *http.Client) (*HTTPListener, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("listener url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("listener url %q: scheme must be http or https", rawURL)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPListener{url: rawURL, client: client}, nil
}

// Name returns the listener URL.
func (l *HTTPListener) Name() string {
	return l.url
}

// Deliver implements Listener.
func (l *HTTPListener) Deliver(ctx context.Context, batch journal.Batch, wantState bool) error {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(batch); err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	target := l.url
	if wantState {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + "wantstate=true"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Applier is a document that accepts forwarded batches in-process.
type Applier interface {
	ApplyBatch(ctx context.Context, batch journal.Batch) error
}

// Replica forwards batches to an in-process document. The state request is
// ignored.
type Replica struct {
	name   string
	target Applier
}

// NewReplica creates an in-process listener.
func NewReplica(name string, target Applier) *Replica {
	return &Replica{name: name, target: target}
}

// Name returns the replica's name.
func (r *Replica) Name() string {
	return r.name
}

// Deliver implements Listener.
func (r *Replica) Deliver(ctx context.Context, batch journal.Batch, _ bool) error {
	return r.target.ApplyBatch(ctx, batch)
}

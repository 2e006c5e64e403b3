// Package opensearch indexes history events in OpenSearch or Elasticsearch
// through the REST document API.
package opensearch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/loykin/auditweb/internal/history"
)

// DefaultIndex receives events when no index is configured.
const DefaultIndex = "audit-history"

// indexMapping keeps identifiers and labels as exact-match keywords.
const indexMapping = `{"mappings":{"properties":{
"type":{"type":"keyword"},
"occurred_at":{"type":"date"},
"record":{"properties":{
"run_id":{"type":"keyword"},"script":{"type":"keyword"},"log_path":{"type":"keyword"},
"outcome":{"type":"keyword"},"exit_code":{"type":"integer"},"ok":{"type":"boolean"},
"started_at":{"type":"date"},"duration_ms":{"type":"long"},"output_bytes":{"type":"long"},
"deleted":{"type":"integer"},"error":{"type":"text"}}}}}}`

type Options struct {
	BaseURL  string
	Index    string
	Username string
	Password string
	// InsecureSkipVerify disables certificate checks for https endpoints.
	InsecureSkipVerify bool
	// Timeout bounds each request when the caller's context has no deadline.
	Timeout time.Duration
}

// Sink PUTs every event to <base>/<index>/_doc/<event key>, so a redelivered
// event replaces its earlier copy. The index mapping is created before the
// first successful delivery.
type Sink struct {
	ensured  atomic.Bool
	client   *http.Client
	baseURL  string
	index    string
	username string
	password string
}

func New(baseURL, index string) *Sink {
	return NewWithOptions(Options{BaseURL: baseURL, Index: index})
}

func NewWithOptions(o Options) *Sink {
	if o.Index == "" {
		o.Index = DefaultIndex
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if o.InsecureSkipVerify {
		// #nosec G402 -- opt-in for self-signed lab clusters
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Sink{
		client:   &http.Client{Timeout: o.Timeout, Transport: transport},
		baseURL:  strings.TrimRight(o.BaseURL, "/"),
		index:    o.Index,
		username: o.Username,
		password: o.Password,
	}
}

func (s *Sink) Index() string { return s.index }

// EnsureIndex creates the index with a keyword mapping. An index that
// already exists is left alone.
func (s *Sink) EnsureIndex(ctx context.Context) error {
	resp, err := s.do(ctx, http.MethodPut, s.baseURL+"/"+s.index, []byte(indexMapping))
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 300 {
		return nil
	}
	body := readSnippet(resp.Body)
	if resp.StatusCode == http.StatusBadRequest && strings.Contains(body, "already_exists") {
		return nil
	}
	return &StatusError{Code: resp.StatusCode, Body: body}
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	if !s.ensured.Load() {
		// the cluster auto-creates a dynamic index if this fails
		if err := s.EnsureIndex(ctx); err == nil {
			s.ensured.Store(true)
		}
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	u := fmt.Sprintf("%s/%s/_doc/%s", s.baseURL, s.index, url.PathEscape(e.Key()))
	resp, err := s.do(ctx, http.MethodPut, u, b)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: readSnippet(resp.Body)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (s *Sink) do(ctx context.Context, method, u string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.username != "" {
		req.SetBasicAuth(s.username, s.password)
	}
	return s.client.Do(req)
}

// StatusError is a non-2xx reply from the cluster.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("opensearch sink status %d", e.Code)
	}
	return fmt.Sprintf("opensearch sink status %d: %s", e.Code, e.Body)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}

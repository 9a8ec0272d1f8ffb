package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cocina/internal/metrics"
	"cocina/internal/session"
)

const DefaultBaseURL = "https://backend-solandre.onrender.com"

var (
	ErrTransport = errors.New("backend unreachable")
	ErrBackend   = errors.New("backend error")
)

// Result is the normalized outcome of one backend call. Error carries the
// backend's own message when it sent one and is empty otherwise.
type Result struct {
	Success bool
	Status  int
	Data    json.RawMessage
	Error   string
	Err     error
}

type Client struct {
	baseURL string
	session *session.Session
	client  *http.Client
	metrics *metrics.ClientMetrics
	log     *slog.Logger
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

func WithMetrics(m *metrics.ClientMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

func New(baseURL string, sess *session.Session, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		session: sess,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends one request and never returns a Go error; failures are described
// by the Result.
func (c *Client) Do(ctx context.Context, method, path string, body any) Result {
	start := time.Now()
	route := routeLabel(path)

	res := c.do(ctx, method, path, body)

	outcome := metrics.OutcomeSuccess
	switch {
	case res.Success:
	case errors.Is(res.Err, ErrTransport):
		outcome = metrics.OutcomeTransportError
		c.log.Warn("backend unreachable", "method", method, "path", path, "error", res.Err)
	default:
		outcome = metrics.OutcomeBackendError
		c.log.Warn("backend rejected request", "method", method, "path", path, "status", res.Status, "detail", res.Error)
	}
	c.metrics.Observe(method, route, outcome, time.Since(start))
	c.log.Debug("backend request", "method", method, "path", path, "status", res.Status, "took", time.Since(start))

	return res
}

func (c *Client) do(ctx context.Context, method, path string, body any) Result {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return Result{Err: fmt.Errorf("%w: encode body: %v", ErrTransport, err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return Result{Err: fmt.Errorf("%w: create request: %v", ErrTransport, err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth := c.session.Authorization(); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{Err: fmt.Errorf("%w: do request: %v", ErrTransport, err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Status: resp.StatusCode, Err: fmt.Errorf("%w: read response: %v", ErrTransport, err)}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if len(bytes.TrimSpace(raw)) == 0 {
			raw = []byte("null")
		}
		return Result{Success: true, Status: resp.StatusCode, Data: raw}
	}

	msg := errorMessage(raw)
	return Result{
		Status: resp.StatusCode,
		Error:  msg,
		Err:    fmt.Errorf("%w: status %d", ErrBackend, resp.StatusCode),
	}
}

// errorMessage pulls a human message out of an error body. FastAPI style
// detail (string or validation list) wins over message and error.
func errorMessage(raw []byte) string {
	var body struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}

	if len(body.Detail) > 0 {
		var s string
		if err := json.Unmarshal(body.Detail, &s); err == nil && s != "" {
			return s
		}
		var list []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(body.Detail, &list); err == nil {
			for _, item := range list {
				if item.Msg != "" {
					return item.Msg
				}
			}
		}
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Error
}

// idCollections names the path segments whose next segment is an identifier.
var idCollections = map[string]struct{}{
	"pedidos": {},
}

// routeLabel keeps metric cardinality bounded by masking identifier segments:
// the one after a known collection and any that is not a plain word.
func routeLabel(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if i > 0 {
			if _, ok := idCollections[segments[i-1]]; ok {
				segments[i] = "{id}"
				continue
			}
		}
		if !isWord(seg) {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}

func isWord(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && r != '_' && r != '-' {
			return false
		}
	}
	return true
}

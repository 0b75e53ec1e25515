// Package httpsource implements recache.Source over a REST collection
// endpoint plus a WebSocket notification feed.
//
// The REST side maps straight onto the collaborator calls:
//
//	FetchAll → GET    base
//	Fetch    → GET    base/{key}
//	Create   → POST   base
//	Update   → PUT    base/{key}
//	Delete   → DELETE base/{key}
//
// The notification feed reads JSON frames shaped like recache.Notification
// from a WebSocket endpoint, with ping/pong keepalive and automatic
// reconnection.
package httpsource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/jilio/recache"
)

const (
	// writeTimeout is the deadline for a single WebSocket control write.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong before treating the feed
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often ping frames are sent. Must be less
	// than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// notifyBufSize is the notification channel depth.
	notifyBufSize = 64

	// initialBackoff and maxBackoff bound the reconnect delay.
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Option configures a Source.
type Option func(*Source)

// WithClient sets the HTTP client. Defaults to http.DefaultClient.
func WithClient(client *http.Client) Option {
	return func(s *Source) {
		if client != nil {
			s.client = client
		}
	}
}

// WithDialer sets the WebSocket dialer. Defaults to websocket.DefaultDialer.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(s *Source) {
		if dialer != nil {
			s.dialer = dialer
		}
	}
}

// WithHeader sets headers sent on every HTTP request and on the WebSocket
// handshake, for auth tokens and the like.
func WithHeader(header http.Header) Option {
	return func(s *Source) {
		if header != nil {
			s.header = header
		}
	}
}

// WithLogger injects a structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithKeyField sets the field used to build entity URLs for Update and
// Delete. It should match the cache's key field. Defaults to "id".
func WithKeyField(field string) Option {
	return func(s *Source) {
		if field != "" {
			s.keyField = field
		}
	}
}

// Source is a recache.Source over HTTP and WebSocket.
type Source struct {
	base     string
	feedURL  string
	keyField string
	client   *http.Client
	dialer   *websocket.Dialer
	header   http.Header
	logger   *slog.Logger
}

// New creates a Source for the collection at base (for example
// "https://api.example.com/widgets") with a notification feed at feedURL
// (for example "wss://api.example.com/widgets/events"). An empty feedURL
// disables notifications.
func New(base, feedURL string, opts ...Option) *Source {
	s := &Source{
		base:     base,
		feedURL:  feedURL,
		keyField: "id",
		client:   http.DefaultClient,
		dialer:   websocket.DefaultDialer,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchAll implements recache.Source.
func (s *Source) FetchAll(ctx context.Context) ([]json.RawMessage, error) {
	body, err := s.do(ctx, http.MethodGet, s.base, nil)
	if err != nil {
		return nil, err
	}
	var batch []json.RawMessage
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, fmt.Errorf("httpsource: decode collection: %w", err)
	}
	return batch, nil
}

// Fetch implements recache.Source.
func (s *Source) Fetch(ctx context.Context, key string) (json.RawMessage, error) {
	return s.do(ctx, http.MethodGet, s.entityURL(key), nil)
}

// Create implements recache.Source.
func (s *Source) Create(ctx context.Context, entity json.RawMessage) (json.RawMessage, error) {
	return s.do(ctx, http.MethodPost, s.base, entity)
}

// Update implements recache.Source.
func (s *Source) Update(ctx context.Context, entity json.RawMessage) (json.RawMessage, error) {
	key, err := s.keyOf(entity)
	if err != nil {
		return nil, err
	}
	return s.do(ctx, http.MethodPut, s.entityURL(key), entity)
}

// Delete implements recache.Source. A 2xx response with an empty body is
// reported as the JSON literal true, so the cache treats the delete as
// confirmed.
func (s *Source) Delete(ctx context.Context, entity json.RawMessage) (json.RawMessage, error) {
	key, err := s.keyOf(entity)
	if err != nil {
		return nil, err
	}
	body, err := s.do(ctx, http.MethodDelete, s.entityURL(key), nil)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return json.RawMessage("true"), nil
	}
	return body, nil
}

func (s *Source) keyOf(entity json.RawMessage) (string, error) {
	v := gjson.GetBytes(entity, s.keyField)
	if !v.Exists() {
		return "", fmt.Errorf("httpsource: entity has no %q field", s.keyField)
	}
	return v.String(), nil
}

func (s *Source) entityURL(key string) string {
	return s.base + "/" + url.PathEscape(key)
}

func (s *Source) do(ctx context.Context, method, target string, body json.RawMessage) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("httpsource: build request: %w", err)
	}
	for k, vs := range s.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpsource: %s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpsource: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("httpsource: %s %s: unexpected status %s", method, target, resp.Status)
	}
	return data, nil
}

// Notifications implements recache.Source. The returned channel carries
// frames from the feed until ctx is cancelled; the reader reconnects with
// capped exponential backoff after connection loss. With no feed URL
// configured, the channel is closed immediately.
func (s *Source) Notifications(ctx context.Context) (<-chan recache.Notification, error) {
	ch := make(chan recache.Notification, notifyBufSize)
	if s.feedURL == "" {
		close(ch)
		return ch, nil
	}
	go s.readLoop(ctx, ch)
	return ch, nil
}

func (s *Source) readLoop(ctx context.Context, ch chan<- recache.Notification) {
	defer close(ch)

	backoff := initialBackoff
	for ctx.Err() == nil {
		conn, resp, err := s.dialer.DialContext(ctx, s.feedURL, s.header)
		if err != nil {
			s.logger.Warn("httpsource: notification feed dial failed",
				"url", s.feedURL, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		resp.Body.Close()
		backoff = initialBackoff
		s.consume(ctx, conn, ch)
	}
}

// consume reads frames from one connection until it breaks or ctx is
// cancelled, keeping the connection alive with ping/pong.
func (s *Source) consume(ctx context.Context, conn *websocket.Conn, ch chan<- recache.Notification) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		t := time.NewTicker(pingPeriod)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				// Unblock the reader; the close frame is best effort.
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeTimeout))
				conn.Close()
				return
			case <-t.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
					return
				}
			}
		}
	}()

	for {
		var n recache.Notification
		if err := conn.ReadJSON(&n); err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("httpsource: notification feed read failed", "error", err)
			}
			return
		}
		select {
		case ch <- n:
		case <-ctx.Done():
			return
		}
	}
}

package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DialerSettings tunes the websocket client.
type DialerSettings struct {
	HandshakeTimeout time.Duration
	ReconnectTimeout time.Duration
	ReadTimeout      time.Duration
}

// DefaultDialerSettings returns the settings used by NewDialer.
func DefaultDialerSettings() DialerSettings {
	return DialerSettings{
		HandshakeTimeout: 5 * time.Second,
		ReconnectTimeout: 2 * time.Second,
		ReadTimeout:      pongWait,
	}
}

// Dialer subscribes to a remote change feed over websocket. A dropped
// connection is re-established after ReconnectTimeout until the
// subscription is closed. Events written while disconnected are not replayed.
type Dialer struct {
	baseURL  string
	token    func() string
	settings DialerSettings
	logger   *slog.Logger
}

// Ensure Dialer implements Subscriber
var _ Subscriber = (*Dialer)(nil)

// NewDialer creates a Dialer for a server base URL (http or https). token is
// called on every connect so refreshed sessions are picked up.
func NewDialer(baseURL string, token func() string, logger *slog.Logger) *Dialer {
	return NewDialerWithSettings(baseURL, token, DefaultDialerSettings(), logger)
}

func NewDialerWithSettings(baseURL string, token func() string, settings DialerSettings, logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{baseURL: baseURL, token: token, settings: settings, logger: logger}
}

type remoteSubscription struct {
	parent context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *remoteSubscription) Close() error {
	s.cancel()
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
	return nil
}

func (s *remoteSubscription) Done() <-chan struct{} {
	return s.done
}

// Err is non-nil only when the context passed to Subscribe ended. Lost
// connections are redialled rather than reported.
func (s *remoteSubscription) Err() error {
	return s.parent.Err()
}

// Subscribe connects to the feed for topic. The first connection is made
// before Subscribe returns so handshake failures surface to the caller.
func (d *Dialer) Subscribe(ctx context.Context, topic string, filter EventFilter, handler EventHandler) (Handle, error) {
	endpoint, err := d.endpoint(topic, filter)
	if err != nil {
		return nil, err
	}

	conn, err := d.dial(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &remoteSubscription{parent: ctx, cancel: cancel, done: make(chan struct{}), conn: conn}

	go func() {
		defer close(s.done)
		for {
			d.consume(subCtx, conn, filter, handler)
			if subCtx.Err() != nil {
				return
			}

			d.logger.Warn("Realtime connection lost, reconnecting",
				"topic", topic,
				"retry_in", d.settings.ReconnectTimeout,
			)
			for {
				select {
				case <-subCtx.Done():
					return
				case <-time.After(d.settings.ReconnectTimeout):
				}
				next, err := d.dial(subCtx, endpoint)
				if err == nil {
					conn = next
					break
				}
				d.logger.Warn("Realtime reconnect failed", "topic", topic, "error", err)
			}

			s.mu.Lock()
			s.conn = conn
			s.mu.Unlock()
			// Close may have run between dial and publishing the new conn.
			if subCtx.Err() != nil {
				conn.Close()
				return
			}
		}
	}()

	return s, nil
}

// consume reads events until the connection fails or ctx ends.
func (d *Dialer) consume(ctx context.Context, conn *websocket.Conn, filter EventFilter, handler EventHandler) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(d.settings.ReadTimeout))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(d.settings.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				d.logger.Debug("Realtime read failed", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(d.settings.ReadTimeout))

		var e Event
		if err := json.Unmarshal(data, &e); err != nil {
			d.logger.Error("Failed to unmarshal event", "error", err)
			continue
		}
		// The server filters on collection and kinds; field matches are applied here.
		if !filter.Matches(e) {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		handler(ctx, e)
	}
}

func (d *Dialer) dial(ctx context.Context, endpoint string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.settings.HandshakeTimeout,
	}
	header := http.Header{}
	if d.token != nil {
		if token := d.token(); token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to change feed: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("failed to connect to change feed: %w", err)
	}
	return conn, nil
}

func (d *Dialer) endpoint(topic string, filter EventFilter) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(d.baseURL, "/") + "/realtime")
	if err != nil {
		return "", fmt.Errorf("invalid realtime url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	q := url.Values{}
	q.Set("topic", topic)
	if filter.Collection != "" {
		q.Set("collection", filter.Collection)
	}
	if len(filter.Kinds) > 0 {
		q.Set("kinds", FormatKinds(filter.Kinds))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

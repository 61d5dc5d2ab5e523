package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

const (
	dialTimeout    = 15 * time.Second
	tickleInterval = 60 * time.Second
)

// accountStream holds the websocket push channel for order and P&L updates.
// Its second job is session keepalive: the gateway drops the brokerage
// session without a periodic tickle. The stream is restartable; each
// (re)connect gets its own connection context.
type accountStream struct {
	client *Client

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	running bool
}

// createHTTP1Client creates an HTTP client that forces HTTP/1.1.
// The websocket upgrade handshake requires HTTP/1.1, but the gateway's TLS
// stack negotiates HTTP/2 via ALPN unless it is excluded.
func createHTTP1Client(insecure bool) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: insecure,
				NextProtos:         []string{"http/1.1"},
			},
			ForceAttemptHTTP2: false,
		},
	}
}

func newAccountStream(client *Client) *accountStream {
	return &accountStream{client: client}
}

// wsURL derives the websocket endpoint from the REST base URL
func (s *accountStream) wsURL() string {
	url := s.client.baseURL + apiPrefix + "/ws"
	url = strings.Replace(url, "https://", "wss://", 1)
	return strings.Replace(url, "http://", "ws://", 1)
}

// start dials the websocket and subscribes to order and P&L topics. Already
// running is not an error.
func (s *accountStream) start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(ctx, dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, s.wsURL(), &websocket.DialOptions{
		HTTPClient: createHTTP1Client(s.client.insecure),
	})
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	connCtx, cancel := context.WithCancel(context.Background())

	// Topic subscriptions: sor = order status, spl = P&L
	for _, topic := range []string{"sor+{}", "spl+{}"} {
		writeCtx, writeCancel := context.WithTimeout(connCtx, 5*time.Second)
		err := conn.Write(writeCtx, websocket.MessageText, []byte(topic))
		writeCancel()
		if err != nil {
			cancel()
			_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
			return fmt.Errorf("websocket subscribe failed: %w", err)
		}
	}

	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	go s.readLoop(connCtx, conn)
	go s.keepaliveLoop(connCtx, conn)

	s.client.log.Info().Msg("Account update stream started")
	return nil
}

// readLoop consumes push messages until the connection dies
func (s *accountStream) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer s.markStopped(conn)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.client.log.Warn().Err(err).Msg("Account update stream closed")
			}
			return
		}

		var msg struct {
			Topic string          `json:"topic"`
			Args  json.RawMessage `json:"args"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Topic {
		case "sor":
			s.client.log.Debug().RawJSON("args", nonEmptyJSON(msg.Args)).Msg("Order status update")
		case "spl":
			s.client.log.Debug().Msg("P&L update")
		case "system":
			// Heartbeat
		}
	}
}

// keepaliveLoop tickles the gateway session and pings the websocket. A
// failed tickle means the session is gone; the connection manager handles
// the reconnect.
func (s *accountStream) keepaliveLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(tickleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			writeCtx, writeCancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, []byte("tic"))
			writeCancel()
			if err != nil {
				s.client.log.Warn().Err(err).Msg("Websocket ping failed")
				return
			}

			tickleCtx, tickleCancel := context.WithTimeout(ctx, 10*time.Second)
			err = s.client.post(tickleCtx, "/tickle", nil, nil)
			tickleCancel()
			if err != nil {
				s.client.markDisconnected("tickle failed")
			}
		}
	}
}

// markStopped clears the running flag when the read loop exits
func (s *accountStream) markStopped(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.running = false
		s.conn = nil
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
	}
	s.mu.Unlock()
}

// stop closes the current connection. The stream can be started again.
func (s *accountStream) stop() {
	s.mu.Lock()
	conn := s.conn
	cancel := s.cancel
	s.conn = nil
	s.cancel = nil
	s.running = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "shutdown")
	}
}

// SubscribeAccountUpdates starts the push stream. Fire-and-forget from the
// bridge's perspective: an error here degrades to polling, it never blocks
// trading.
func (c *Client) SubscribeAccountUpdates(ctx context.Context) error {
	return c.stream.start(ctx)
}

// nonEmptyJSON keeps zerolog's RawJSON happy when args are absent
func nonEmptyJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize int64 = 64 * 1024
)

// WebSocketTransport dials {URL}/{channel} and reads JSON envelopes from it.
// A dropped connection is re-dialed after RetryDelay until the subscription
// is closed.
type WebSocketTransport struct {
	URL        string
	Header     http.Header
	Dialer     *websocket.Dialer
	RetryDelay time.Duration
	Logger     Logger
}

func (t *WebSocketTransport) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	conn, err := t.dial(ctx, channel)
	if err != nil {
		return nil, err
	}

	s := &wsSubscription{
		transport: t,
		channel:   channel,
		conn:      conn,
		msgs:      make(chan Envelope, 64),
		closed:    make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func (t *WebSocketTransport) dial(ctx context.Context, channel string) (*websocket.Conn, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, strings.TrimRight(t.URL, "/")+"/"+channel, t.Header)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxMessageSize)
	return conn, nil
}

func (t *WebSocketTransport) retryDelay() time.Duration {
	if t.RetryDelay <= 0 {
		return 3 * time.Second
	}
	return t.RetryDelay
}

func (t *WebSocketTransport) logf(format string, args ...any) {
	if t.Logger != nil {
		t.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

type wsSubscription struct {
	transport *WebSocketTransport
	channel   string

	mu   sync.Mutex
	conn *websocket.Conn

	msgs      chan Envelope
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *wsSubscription) Messages() <-chan Envelope {
	return s.msgs
}

func (s *wsSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mu.Lock()
		if s.conn != nil {
			err = s.conn.Close()
		}
		s.mu.Unlock()
	})
	return err
}

func (s *wsSubscription) run() {
	defer close(s.msgs)

	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		s.read(conn)

		select {
		case <-s.closed:
			return
		default:
		}

		if s.redial() == nil {
			return
		}
	}
}

func (s *wsSubscription) redial() *websocket.Conn {
	for {
		select {
		case <-s.closed:
			return nil
		case <-time.After(s.transport.retryDelay()):
		}

		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		conn, err := s.transport.dial(ctx, s.channel)
		cancel()
		if err != nil {
			s.transport.logf("[realtime] redial %s: %v", s.channel, err)
			continue
		}

		s.mu.Lock()
		select {
		case <-s.closed:
			s.mu.Unlock()
			_ = conn.Close()
			return nil
		default:
		}
		s.conn = conn
		s.mu.Unlock()
		return conn
	}
}

func (s *wsSubscription) read(conn *websocket.Conn) {
	stop := make(chan struct{})
	defer close(stop)
	go s.ping(conn, stop)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.transport.logf("[realtime] read %s: %v", s.channel, err)
				}
			}
			_ = conn.Close()
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.transport.logf("[realtime] bad frame on %s: %v", s.channel, err)
			continue
		}

		select {
		case s.msgs <- env:
		case <-s.closed:
			return
		}
	}
}

func (s *wsSubscription) ping(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

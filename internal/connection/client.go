package connection

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/rickgao/basket-router/internal/message"
)

// Client is a websocket connection to one venue. It implements Conn.
//
// Connect and Disconnect requests are handled locally (dial / close) and
// answered with a result on Events. Every other message is encoded and
// written to the socket; frames read from the socket are decoded and
// published on Events.
type Client struct {
	cfg    ClientConfig
	logger *logrus.Entry

	events chan message.Message
	closed chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu         sync.RWMutex
	sess       *session
	lastPingAt time.Time
	shutdown   bool
}

// session is one dialed websocket.
type session struct {
	conn      *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.conn.Close()
	})
}

// NewClient creates a venue client. Nothing is dialed until a Connect is sent.
func NewClient(cfg ClientConfig, logger *logrus.Entry) *Client {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	def := DefaultClientConfig()
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.PingTimeout == 0 {
		cfg.PingTimeout = def.PingTimeout
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = def.BufferSize
	}

	return &Client{
		cfg:    cfg,
		logger: logger.WithFields(logrus.Fields{"component": "venue_client", "conn": cfg.ID}),
		events: make(chan message.Message, cfg.BufferSize),
		closed: make(chan struct{}),
	}
}

// ID returns the configured connection name.
func (c *Client) ID() ID {
	return c.cfg.ID
}

// Events returns the channel of messages coming from the venue.
func (c *Client) Events() <-chan message.Message {
	return c.events
}

// IsConnected returns current connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess != nil
}

// Send handles a request for this venue.
func (c *Client) Send(ctx context.Context, m message.Message) error {
	c.mu.RLock()
	shutdown := c.shutdown
	c.mu.RUnlock()
	if shutdown {
		return ErrAlreadyClosed
	}

	switch m.(type) {
	case *message.Connect:
		go c.connect(context.WithoutCancel(ctx))
		return nil
	case *message.Disconnect:
		go c.disconnect()
		return nil
	case *message.Reset:
		// Reset only concerns routing state; the socket stays as it is.
		return nil
	}

	data, err := message.Encode(m)
	if err != nil {
		return err
	}
	return c.write(data)
}

// Close shuts the client down for good.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil
	}
	c.shutdown = true
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()

	close(c.closed)
	if sess != nil {
		sess.close()
	}
	return nil
}

func (c *Client) connect(ctx context.Context) {
	c.mu.RLock()
	already := c.sess != nil
	c.mu.RUnlock()
	if already {
		c.emit(&message.Connect{})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		c.emit(&message.Connect{Error: fmt.Errorf("dial %s: %w", c.cfg.URL, err)})
		return
	}

	sess := &session{conn: conn, done: make(chan struct{})}

	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		sess.close()
		return
	}
	c.sess = sess
	c.lastPingAt = time.Now()
	c.mu.Unlock()

	// Server sends ping, we respond with pong
	conn.SetPingHandler(func(data string) error {
		c.touch()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	c.logger.WithField("url", c.cfg.URL).Debug("websocket connected")
	c.emit(&message.Connect{})

	go c.readLoop(sess)
	go c.heartbeatLoop(sess)
}

func (c *Client) disconnect() {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()

	if sess != nil {
		sess.close()
	}
	c.emit(&message.Disconnect{})
}

// drop tears down sess if it is still current and reports the loss.
func (c *Client) drop(sess *session, err error) {
	c.mu.Lock()
	current := c.sess == sess
	if current {
		c.sess = nil
	}
	c.mu.Unlock()

	sess.close()
	if current {
		c.logger.WithField("error", err).Warn("connection lost")
		c.emit(&message.Disconnect{Error: err})
	}
}

func (c *Client) write(data []byte) error {
	c.mu.RLock()
	sess := c.sess
	c.mu.RUnlock()
	if sess == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	sess.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return sess.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastPingAt = time.Now()
	c.mu.Unlock()
}

// emit publishes a lifecycle result. It blocks until delivered or the client is closed.
func (c *Client) emit(m message.Message) {
	select {
	case c.events <- m:
	case <-c.closed:
	}
}

// readLoop decodes frames from the websocket onto the events channel.
func (c *Client) readLoop(sess *session) {
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			select {
			case <-sess.done:
			default:
				c.drop(sess, err)
			}
			return
		}

		m, err := message.Decode(data)
		if err != nil {
			c.logger.WithField("error", err).Warn("dropping undecodable frame")
			continue
		}

		select {
		case c.events <- m:
		case <-sess.done:
			return
		default:
			c.logger.WithField("kind", m.Kind()).Warn("event buffer full, dropping message")
		}
	}
}

// heartbeatLoop pings the venue and drops the session when it goes stale.
func (c *Client) heartbeatLoop(sess *session) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := sess.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.WithField("error", err).Debug("failed to send ping")
			}

			c.mu.RLock()
			lastPing := c.lastPingAt
			c.mu.RUnlock()

			if time.Since(lastPing) > c.cfg.PingTimeout {
				c.logger.WithFields(logrus.Fields{
					"last_ping": lastPing,
					"timeout":   c.cfg.PingTimeout,
				}).Warn("no ping received, connection stale")
				c.drop(sess, ErrStaleConnection)
				return
			}
		}
	}
}

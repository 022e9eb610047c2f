package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fitcoach/coachchat/internal/auth"
)

// CloseCredentialExpired is sent when the credential a connection was opened
// with passes its expiry.
const CloseCredentialExpired = 4001

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("connection send buffer full")
)

// ConnOptions tunes a live connection.
type ConnOptions struct {
	SendBuffer      int
	WriteWait       time.Duration
	PongWait        time.Duration
	MaxMessageBytes int64
}

func (o ConnOptions) withDefaults() ConnOptions {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 1 << 20
	}
	return o
}

func (o ConnOptions) pingPeriod() time.Duration {
	return o.PongWait * 9 / 10
}

// Connection wraps an authenticated websocket. Outbound writes are queued on a
// buffered channel and drained by a single write loop. Safe for concurrent use.
type Connection struct {
	id      string
	session auth.Session

	ws   *websocket.Conn
	opts ConnOptions
	send chan []byte
	once sync.Once
	done chan struct{}
}

func NewConnection(session auth.Session, ws *websocket.Conn, opts ConnOptions) *Connection {
	opts = opts.withDefaults()
	return &Connection{
		id:      uuid.NewString(),
		session: session,
		ws:      ws,
		opts:    opts,
		send:    make(chan []byte, opts.SendBuffer),
		done:    make(chan struct{}),
	}
}

func (c *Connection) ID() string              { return c.id }
func (c *Connection) UserID() string          { return c.session.UserID }
func (c *Connection) Identity() auth.Identity { return c.session.Identity }
func (c *Connection) Done() <-chan struct{}   { return c.done }

// Start launches the write loop. It must be called exactly once per connection.
func (c *Connection) Start() {
	go c.writeLoop()
}

// Send enqueues payload without blocking. A slow client whose buffer is full
// is disconnected.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.ClosePolicyViolation, "send buffer full")
		return ErrSendBufferFull
	}
}

// Close marks the connection closed and returns immediately. The close frame
// and socket teardown run on their own goroutine, so a peer that stopped
// reading never stalls the caller. Later calls are no-ops.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		go c.teardown(code, reason)
	})
}

func (c *Connection) teardown(code int, reason string) {
	deadline := time.Now().Add(c.opts.WriteWait)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = c.ws.Close()
}

// ReadLoop delivers inbound text frames to handle, one at a time, until the
// peer goes away or stops answering pings.
func (c *Connection) ReadLoop(handle func(payload []byte)) error {
	c.ws.SetReadLimit(c.opts.MaxMessageBytes)
	if err := c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait)); err != nil {
		return err
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		kind, payload, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		if kind != websocket.TextMessage {
			continue
		}
		handle(payload)
	}
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.opts.pingPeriod())
	defer ticker.Stop()

	var expired <-chan time.Time
	if !c.session.ExpiresAt.IsZero() {
		timer := time.NewTimer(time.Until(c.session.ExpiresAt))
		defer timer.Stop()
		expired = timer.C
	}

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseInternalServerErr, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseInternalServerErr, "ping failed")
				return
			}
		case <-expired:
			c.Close(CloseCredentialExpired, "credential expired")
			return
		}
	}
}

func (c *Connection) write(kind int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(kind, payload)
}

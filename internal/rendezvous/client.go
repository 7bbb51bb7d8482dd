package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pairlink/pairlink/internal/dns"
	"github.com/pairlink/pairlink/internal/signaling"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	queueSize      = 64
)

var (
	ErrClosed = errors.New("rendezvous connection closed")
	// ErrRejected is returned by Join when the server answers with an error.
	ErrRejected = errors.New("join rejected")
)

// Client manages the websocket connection to the rendezvous server.
type Client struct {
	conn     *websocket.Conn
	incoming chan *signaling.Message
	outgoing chan *signaling.Message
	done     chan struct{}
	once     sync.Once
	log      zerolog.Logger
}

// Dial connects to serverURL. Host names are resolved through dns.Lookup so
// a broken system resolver does not prevent a session.
func Dial(ctx context.Context, serverURL string, log zerolog.Logger) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	dialer := websocket.Dialer{
		NetDialContext:   dns.DialContext,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", u.Host, err)
	}

	c := &Client{
		conn:     conn,
		incoming: make(chan *signaling.Message, queueSize),
		outgoing: make(chan *signaling.Message, queueSize),
		done:     make(chan struct{}),
		log:      log.With().Str("component", "rendezvous").Logger(),
	}
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()
	return c, nil
}

// Join asks the server to place this connection in roomID (an empty id asks
// for a generated one) and waits for the acknowledgement. A full room
// yields signaling.ErrRoomFull along with the result.
func (c *Client) Join(ctx context.Context, roomID string) (signaling.JoinResult, error) {
	if err := c.Send(&signaling.Message{Type: signaling.TypeJoinRoom, RoomID: roomID}); err != nil {
		return signaling.JoinResult{}, err
	}

	for {
		select {
		case <-ctx.Done():
			return signaling.JoinResult{}, ctx.Err()

		case msg, ok := <-c.incoming:
			if !ok {
				return signaling.JoinResult{}, ErrClosed
			}
			switch msg.Type {
			case signaling.TypeJoinResult:
				var res signaling.JoinResult
				if err := msg.Decode(&res); err != nil {
					return res, fmt.Errorf("decode join result: %w", err)
				}
				if !res.Success {
					return res, fmt.Errorf("%w: %s", signaling.ErrRoomFull, res.Message)
				}
				return res, nil

			case signaling.TypeError:
				var p signaling.ErrorPayload
				_ = msg.Decode(&p)
				return signaling.JoinResult{}, fmt.Errorf("%w: %s", ErrRejected, p.Error)

			default:
				c.log.Debug().Str("type", msg.Type).Msg("ignoring message before join result")
			}
		}
	}
}

// Send queues msg for the write pump.
func (c *Client) Send(msg *signaling.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Incoming returns messages from the server. It is closed when the
// connection ends.
func (c *Client) Incoming() <-chan *signaling.Message {
	return c.incoming
}

// Done is closed once Close has been called.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close ends the connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		var msg signaling.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		select {
		case c.incoming <- &msg:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

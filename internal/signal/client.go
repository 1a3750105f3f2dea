package signal

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"webrtc_mobile/conference/internal/domain"
	"webrtc_mobile/conference/internal/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/logging"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 256 * 1024
	sendBuffer     = 64

	defaultPingInterval = 30 * time.Second
)

// Envelope methods.
const (
	MethodJoin         = "JOIN"
	MethodJoinResponse = "JOIN_RESPONSE"
	MethodLeave        = "LEAVE"
	MethodPeerIn       = "PEER_IN"
	MethodPeerOut      = "PEER_OUT"
	MethodTransmit     = "TRANSMIT"
	MethodError        = "ERROR"

	MessageTypeOfferAnswer = "OFFER_ANSWER"
	MessageTypeCandidate   = "CANDIDATE"
)

var (
	ErrClosed       = errors.New("signaling connection closed")
	ErrNotConnected = errors.New("signaling not connected")
)

// message is the generic WebSocket message envelope.
type message struct {
	Method            string `json:"method"`
	Code              *int   `json:"code,omitempty"`
	Message           string `json:"message,omitempty"`
	ClientID          string `json:"clientId,omitempty"`
	Room              string `json:"room,omitempty"`
	RecipientClientID string `json:"recipientClientId,omitempty"`
	SenderClientID    string `json:"senderClientId,omitempty"`
	MessageType       string `json:"messageType,omitempty"`
	MessagePayload    string `json:"messagePayload,omitempty"`
	Timestamp         int64  `json:"timestamp,omitempty"`
}

// Config configures a Client.
type Config struct {
	// URL is the ws:// or wss:// endpoint of the signaling server.
	URL string

	// ClientID identifies this participant to other peers.
	// A random UUID is used when empty.
	ClientID string

	// PingInterval defaults to 30s. The read deadline is three intervals.
	PingInterval time.Duration

	LoggerFactory logging.LoggerFactory
}

// Client manages the WebSocket connection to the signaling server.
// It implements domain.Signaler.
type Client struct {
	url          string
	clientID     string
	pingInterval time.Duration
	handler      domain.SignalHandler
	log          logging.LeveledLogger

	conn     *websocket.Conn
	outgoing chan message
	joinResp chan message

	mu     sync.Mutex
	room   string
	closed chan struct{}
	once   sync.Once
}

// NewClient creates a signaling client that delivers events to handler.
func NewClient(cfg Config, handler domain.SignalHandler) *Client {
	id := cfg.ClientID
	if id == "" {
		id = uuid.NewString()
	}
	ping := cfg.PingInterval
	if ping <= 0 {
		ping = defaultPingInterval
	}
	return &Client{
		url:          cfg.URL,
		clientID:     id,
		pingInterval: ping,
		handler:      handler,
		log:          logger.Scoped(cfg.LoggerFactory, "signal"),
		outgoing:     make(chan message, sendBuffer),
		joinResp:     make(chan message, 1),
		closed:       make(chan struct{}),
	}
}

// ClientID returns the id other peers see for this client.
func (c *Client) ClientID() string {
	return c.clientID
}

// Connect dials the signaling WebSocket and starts the read and write loops.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.log.Infof("connecting to %s as %s", c.url, c.clientID)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(3 * c.pingInterval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(3 * c.pingInterval))
	})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.writeLoop(conn)

	return nil
}

// Join asks the server to add this client to room and waits for the response.
func (c *Client) Join(ctx context.Context, room string) error {
	c.mu.Lock()
	connected := c.conn != nil
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	c.send(message{
		Method:   MethodJoin,
		ClientID: c.clientID,
		Room:     room,
	})

	select {
	case resp := <-c.joinResp:
		if resp.Code == nil || *resp.Code != 0 {
			code := -1
			if resp.Code != nil {
				code = *resp.Code
			}
			return fmt.Errorf("join %q rejected: code=%d msg=%s", room, code, resp.Message)
		}
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return ErrClosed
	}

	c.mu.Lock()
	c.room = room
	c.mu.Unlock()

	c.log.Infof("joined room %q", room)
	return nil
}

// Leave tells the server this client is leaving its room. No-op if not joined.
func (c *Client) Leave() {
	c.mu.Lock()
	room := c.room
	c.room = ""
	c.mu.Unlock()

	if room == "" {
		return
	}
	c.send(message{
		Method:   MethodLeave,
		ClientID: c.clientID,
		Room:     room,
	})
}

// SendOfferAnswer transmits an encoded offer/answer to peerID.
func (c *Client) SendOfferAnswer(peerID string, payload []byte) {
	c.transmit(peerID, MessageTypeOfferAnswer, payload)
}

// SendCandidate transmits an encoded ICE candidate to peerID.
func (c *Client) SendCandidate(peerID string, payload []byte) {
	c.transmit(peerID, MessageTypeCandidate, payload)
}

func (c *Client) transmit(peerID, messageType string, payload []byte) {
	c.send(message{
		Method:            MethodTransmit,
		MessageType:       messageType,
		MessagePayload:    base64.StdEncoding.EncodeToString(payload),
		SenderClientID:    c.clientID,
		RecipientClientID: peerID,
		Timestamp:         time.Now().UnixMilli(),
	})
}

// send queues msg for the write loop. Messages sent after Close are dropped.
func (c *Client) send(msg message) {
	if c.isClosed() {
		c.log.Debugf("closed, dropping %s", msg.Method)
		return
	}
	select {
	case <-c.closed:
	case c.outgoing <- msg:
	}
}

// Close shuts down the WebSocket connection after flushing queued messages.
func (c *Client) Close() {
	// The write loop sends the close frame and closes conn.
	c.once.Do(func() { close(c.closed) })
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				c.log.Warnf("read error: %v", err)
			}
			return
		}

		c.log.Tracef("<<< %s", string(data))

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warnf("unmarshal error: %v", err)
			continue
		}

		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg message) {
	switch msg.Method {
	case MethodJoinResponse:
		select {
		case c.joinResp <- msg:
		default:
			c.log.Debugf("unexpected join response: code=%v msg=%s", msg.Code, msg.Message)
		}

	case MethodPeerIn:
		if msg.ClientID == "" || msg.ClientID == c.clientID {
			return
		}
		c.log.Infof("peer in: %s", msg.ClientID)
		c.handler.OnPeerJoined(msg.ClientID)

	case MethodPeerOut:
		if msg.ClientID == "" || msg.ClientID == c.clientID {
			return
		}
		c.log.Infof("peer out: %s", msg.ClientID)
		c.handler.OnPeerLeft(msg.ClientID)

	case MethodTransmit:
		if msg.SenderClientID == "" {
			c.log.Warnf("transmit without sender, dropping")
			return
		}
		if msg.RecipientClientID != "" && msg.RecipientClientID != c.clientID {
			return
		}
		payload, err := base64.StdEncoding.DecodeString(msg.MessagePayload)
		if err != nil {
			c.log.Warnf("decode %s from %s: %v", msg.MessageType, msg.SenderClientID, err)
			return
		}

		switch msg.MessageType {
		case MessageTypeOfferAnswer:
			c.handler.OnRemoteOfferAnswer(msg.SenderClientID, payload)
		case MessageTypeCandidate:
			c.handler.OnRemoteCandidate(msg.SenderClientID, payload)
		default:
			c.log.Warnf("unhandled transmit type: %s", msg.MessageType)
		}

	case MethodError:
		c.log.Errorf("server error: code=%v msg=%s", msg.Code, msg.Message)

	default:
		c.log.Debugf("unhandled method: %s", msg.Method)
	}
}

func (c *Client) writeLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg := <-c.outgoing:
			if err := c.write(conn, msg); err != nil {
				c.log.Warnf("write error: %v", err)
				c.Close()
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Warnf("ping error: %v", err)
				c.Close()
				return
			}

		case <-c.closed:
			c.flush(conn)
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is still queued, such as a LEAVE sent right before Close.
func (c *Client) flush(conn *websocket.Conn) {
	for {
		select {
		case msg := <-c.outgoing:
			if err := c.write(conn, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(conn *websocket.Conn, msg message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Method, err)
	}
	c.log.Tracef(">>> %s", string(data))
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

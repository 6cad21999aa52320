package interview

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
)

var ErrChannelClosed = errors.New("channel closed")

type wireInput struct {
	Text    string `json:"text"`
	Command string `json:"command"`
}

// WSChannel is a Channel over one websocket connection.
type WSChannel struct {
	ID string

	conn    *websocket.Conn
	writeMu sync.Mutex
	inputs  chan Input
	done    chan struct{}
	readErr error
	log     *slog.Logger
}

func NewWSChannel(conn *websocket.Conn, log *slog.Logger) *WSChannel {
	if log == nil {
		log = slog.Default()
	}
	id := uuid.NewString()
	c := &WSChannel{
		ID:     id,
		conn:   conn,
		inputs: make(chan Input, 8),
		done:   make(chan struct{}),
		log:    log.With("conn_id", id),
	}
	go c.readPump()
	go c.pingPump()
	return c
}

func (c *WSChannel) readPump() {
	defer close(c.inputs)
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("websocket read failed", "error", err)
			}
			c.readErr = err
			return
		}
		var w wireInput
		if err := json.Unmarshal(raw, &w); err != nil {
			w = wireInput{Text: string(raw)}
		}
		in := Input{Text: w.Text}
		if strings.TrimSpace(w.Command) != "" {
			cmd, err := ParseCommand(w.Command)
			if err != nil {
				_ = c.Notify(context.Background(), err.Error())
				continue
			}
			in = Input{Command: &cmd}
		}
		select {
		case c.inputs <- in:
		case <-c.done:
			return
		}
	}
}

func (c *WSChannel) pingPump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *WSChannel) Receive(ctx context.Context) (Input, error) {
	select {
	case <-ctx.Done():
		return Input{}, ctx.Err()
	case in, ok := <-c.inputs:
		if !ok {
			if c.readErr != nil {
				return Input{}, c.readErr
			}
			return Input{}, ErrChannelClosed
		}
		return in, nil
	}
}

func (c *WSChannel) Ask(_ context.Context, p Prompt) error {
	return c.write(Message{Kind: MessagePrompt, Prompt: &p})
}

func (c *WSChannel) Notify(_ context.Context, message string) error {
	return c.write(Message{Kind: MessageNotice, Text: message})
}

func (c *WSChannel) write(m Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(m)
}

// Close sends a normal closure and releases the connection.
func (c *WSChannel) Close(reason string) error {
	select {
	case <-c.done:
		return nil
	default:
		close(c.done)
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	return c.conn.Close()
}

type sessionRunner interface {
	Run(ctx context.Context, userID int64, ch Channel) error
}

// WSHandler upgrades GET /ws/interviews/{userID} and runs the interview over it.
type WSHandler struct {
	runner   sessionRunner
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewWSHandler accepts any origin when allowedOrigin is empty or "*".
func NewWSHandler(runner sessionRunner, allowedOrigin string, log *slog.Logger) *WSHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WSHandler{
		runner: runner,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" || allowedOrigin == "*" {
					return true
				}
				return r.Header.Get("Origin") == allowedOrigin
			},
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}
	ch := NewWSChannel(conn, h.log)
	h.log.Info("websocket connected", "user_id", userID, "conn_id", ch.ID)

	runErr := h.runner.Run(r.Context(), userID, ch)
	reason := "interview completed"
	if runErr != nil {
		reason = "interview interrupted"
		h.log.Info("websocket session ended", "user_id", userID, "conn_id", ch.ID, "error", runErr)
	}
	_ = ch.Close(reason)
}

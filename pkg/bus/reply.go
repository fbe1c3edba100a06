package bus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Replier delivers a reply to an agent on the bus.
type Replier interface {
	SendReply(ctx context.Context, agentID, text string) error
}

// Envelope is a bus message event.
type Envelope struct {
	Event     string      `json:"event"`
	Publisher string      `json:"publisher"`
	Target    string      `json:"target"`
	Data      MessageData `json:"data"`
}

// MessageData carries the text of a message event.
type MessageData struct {
	Message string `json:"message"`
}

// Ack is the bus acknowledgement of a published envelope.
type Ack struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// CommandReplier sends replies by running "<Command> <agent> <message>".
type CommandReplier struct {
	Shell   Shell
	Command string
}

// SendReply implements Replier.
func (c *CommandReplier) SendReply(ctx context.Context, agentID, text string) error {
	if agentID == "" {
		return fmt.Errorf("reply target is required")
	}
	if strings.TrimSpace(c.Command) == "" {
		return fmt.Errorf("reply command is not configured")
	}

	res := c.Shell.Exec(ctx, fmt.Sprintf("%s %s %s", c.Command, Quote(agentID), Quote(text)))
	if !res.OK {
		return fmt.Errorf("send reply to %s failed: %s", agentID, res.Error)
	}
	return nil
}

// WebSocketReplier publishes replies to a websocket bus endpoint and
// waits for its acknowledgement.
type WebSocketReplier struct {
	URL       string
	Publisher string
	Dialer    *websocket.Dialer
	Timeout   time.Duration
}

// SendReply implements Replier.
func (w *WebSocketReplier) SendReply(ctx context.Context, agentID, text string) error {
	if agentID == "" {
		return fmt.Errorf("reply target is required")
	}

	dialer := w.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, w.URL, nil)
	if err != nil {
		return fmt.Errorf("connect to bus: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	env := Envelope{
		Event:     "message",
		Publisher: w.Publisher,
		Target:    agentID,
		Data:      MessageData{Message: text},
	}
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("publish reply: %w", err)
	}

	if err := conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	var ack Ack
	if err := conn.ReadJSON(&ack); err != nil {
		return fmt.Errorf("read bus ack: %w", err)
	}
	if !ack.OK {
		if ack.Error == "" {
			ack.Error = "rejected"
		}
		return fmt.Errorf("send reply to %s failed: %s", agentID, ack.Error)
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return nil
}

package streamclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Level is the display severity a consumer should render an event with.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelSuccess Level = "success"
)

// Event is a stream event as delivered to consumer callbacks.
type Event struct {
	Type      string    `json:"type"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
	// Raw carries the undecoded data payload for consumers that need more
	// than the flattened message.
	Raw json.RawMessage `json:"-"`
}

// wireMessage is the framing every stream message shares.
type wireMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// structuredPayload is the second-pass decode of a structured_event's data.
type structuredPayload struct {
	Type       string `json:"type"`
	Content    string `json:"content"`
	Confidence string `json:"confidence"`
	Action     string `json:"action"`
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	Screenshot string `json:"screenshot"`
}

// lifecycleData is the decoded payload of plain lifecycle events.
type lifecycleData struct {
	Message string `json:"message"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// readLoop reads and dispatches messages until the connection drops or the
// context is cancelled. Malformed messages are reported through the error
// callbacks and never break the connection.
func (c *Client) readLoop(ctx context.Context, conn Conn) error {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		c.dispatch(data)
	}
}

// dispatch recognizes exactly four payload kinds: plain events, structured
// events, errors, and everything else (logged and ignored).
func (c *Client) dispatch(raw []byte) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.deliverError(fmt.Errorf("failed to parse stream message: %w", err))
		return
	}

	switch msg.Type {
	case "structured_event":
		c.dispatchStructured(msg)
	case "error":
		c.dispatchError(msg)
	case "event", "workflow_started", "workflow_progress", "workflow_completed",
		"workflow_paused", "workflow_resumed", "step_started", "step_completed":
		c.deliverEvent(Event{
			Type:      msg.Type,
			Level:     LevelInfo,
			Message:   lifecycleMessage(msg),
			SessionID: msg.SessionID,
			Timestamp: msg.Timestamp,
			Raw:       msg.Data,
		})
	case "workflow_failed", "step_failed":
		c.deliverEvent(Event{
			Type:      msg.Type,
			Level:     LevelError,
			Message:   lifecycleMessage(msg),
			SessionID: msg.SessionID,
			Timestamp: msg.Timestamp,
			Raw:       msg.Data,
		})
	default:
		c.log.Debug("ignoring unrecognized stream message", "type", msg.Type)
	}
}

// dispatchStructured performs the second parse pass: data is a JSON-encoded
// string holding the typed sub-payload.
func (c *Client) dispatchStructured(msg wireMessage) {
	var encoded string
	if err := json.Unmarshal(msg.Data, &encoded); err != nil {
		c.deliverError(fmt.Errorf("failed to parse structured event envelope: %w", err))
		return
	}
	var payload structuredPayload
	if err := json.Unmarshal([]byte(encoded), &payload); err != nil {
		c.deliverError(fmt.Errorf("failed to parse structured event payload: %w", err))
		return
	}

	ev := Event{
		SessionID: msg.SessionID,
		Timestamp: msg.Timestamp,
		Raw:       msg.Data,
	}
	switch payload.Type {
	case "reasoning":
		ev.Type = "reasoning"
		ev.Message = payload.Content
		switch payload.Confidence {
		case "high":
			ev.Level = LevelInfo
		case "medium":
			ev.Level = LevelWarning
		case "low":
			ev.Level = LevelError
		default:
			ev.Level = LevelInfo
		}
	case "action":
		ev.Type = "action"
		if payload.Success {
			ev.Level = LevelSuccess
			ev.Message = fmt.Sprintf("Action %s succeeded", payload.Action)
		} else {
			ev.Level = LevelError
			ev.Message = fmt.Sprintf("Action %s failed: %s", payload.Action, payload.Error)
		}
	case "screenshot":
		ev.Type = "screenshot"
		ev.Level = LevelInfo
		ev.Message = "Screenshot captured"
	default:
		c.log.Debug("ignoring unrecognized structured payload", "payload_type", payload.Type)
		return
	}
	c.deliverEvent(ev)
}

func (c *Client) dispatchError(msg wireMessage) {
	var data lifecycleData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		c.deliverError(fmt.Errorf("failed to parse error event: %w", err))
		return
	}
	message := data.Message
	if data.Error != nil && data.Error.Message != "" {
		message = data.Error.Message
	}
	if message == "" {
		message = "stream error"
	}
	c.deliverError(fmt.Errorf("stream error for session %s: %s", msg.SessionID, message))
}

func lifecycleMessage(msg wireMessage) string {
	var data lifecycleData
	if err := json.Unmarshal(msg.Data, &data); err == nil && data.Message != "" {
		return data.Message
	}
	return msg.Type
}

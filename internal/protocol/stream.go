// ABOUTME: Decoding of stream-room-messages changed frames into message events.
// ABOUTME: Handles EJSON millisecond dates and the [message, meta] args layout.

package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Room type markers as they appear on the wire.
const (
	RoomTypeDirect   = "d"
	RoomTypeChannel  = "c"
	RoomTypePrivate  = "p"
	RoomTypeLivechat = "l"
)

// User identifies a message author.
type User struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// Attachment is a file or link reference carried by a message.
type Attachment struct {
	Title       string `json:"title"`
	TitleLink   string `json:"title_link"`
	ImageURL    string `json:"image_url"`
	Description string `json:"description"`
}

// Date unwraps EJSON {"$date": ms} timestamps; plain RFC 3339 strings are
// accepted too since some server builds emit them.
type Date struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(data []byte) error {
	var ejson struct {
		Date int64 `json:"$date"`
	}
	if err := json.Unmarshal(data, &ejson); err == nil && ejson.Date != 0 {
		d.Time = time.UnixMilli(ejson.Date).UTC()
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("parsing date %q: %w", s, err)
		}
		d.Time = t.UTC()
		return nil
	}

	return fmt.Errorf("unrecognized date encoding: %s", data)
}

// MarshalJSON implements json.Marshaler, emitting the EJSON form.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]int64{"$date": d.Time.UnixMilli()})
}

// Message is the raw chat message payload inside a changed frame.
type Message struct {
	ID          string       `json:"_id"`
	RoomID      string       `json:"rid"`
	Body        string       `json:"msg"`
	User        User         `json:"u"`
	Timestamp   Date         `json:"ts"`
	ThreadID    string       `json:"tmid"`
	SystemType  string       `json:"t"`
	Attachments []Attachment `json:"attachments"`
}

// IsSystem reports whether the message is server-generated (join/leave/etc).
func (m Message) IsSystem() bool {
	return m.SystemType != ""
}

// RoomMeta is the second args element on my-messages stream events.
type RoomMeta struct {
	RoomParticipant bool   `json:"roomParticipant"`
	RoomType        string `json:"roomType"`
	RoomName        string `json:"roomName"`
}

// StreamEvent is one decoded stream-room-messages event.
type StreamEvent struct {
	EventName string
	Message   Message
	Meta      RoomMeta
}

// DecodeStreamEvent unpacks the fields object of a changed frame. The meta
// element is optional; a missing or short args array for the message itself
// is an error.
func DecodeStreamEvent(fields json.RawMessage) (*StreamEvent, error) {
	var f struct {
		EventName string            `json:"eventName"`
		Args      []json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal(fields, &f); err != nil {
		return nil, fmt.Errorf("decoding stream fields: %w", err)
	}
	if len(f.Args) == 0 {
		return nil, fmt.Errorf("stream event %q has no args", f.EventName)
	}

	ev := &StreamEvent{EventName: f.EventName}
	if err := json.Unmarshal(f.Args[0], &ev.Message); err != nil {
		return nil, fmt.Errorf("decoding stream message: %w", err)
	}
	if len(f.Args) > 1 {
		// Meta is best-effort; a malformed second arg doesn't sink the message.
		_ = json.Unmarshal(f.Args[1], &ev.Meta)
	}

	return ev, nil
}

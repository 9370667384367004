package event

import "encoding/json"

// Known event type tags.
const (
	TypeMessage = "m.room.message"
	TypeMember  = "m.room.member"
	TypeName    = "m.room.name"
	TypeTopic   = "m.room.topic"
	TypeAvatar  = "m.room.avatar"
	TypeCreate  = "m.room.create"
)

// Record is the canonical storage form of one protocol event. Records are
// created once on first sight of an event id and only ever replaced whole.
type Record struct {
	EventID        string          `json:"event_id"`
	RoomID         string          `json:"room_id"`
	Sender         string          `json:"sender"`
	Type           string          `json:"type"`
	OriginServerTS int64           `json:"origin_server_ts"`
	Content        map[string]any  `json:"content"`
	Source         json.RawMessage `json:"source,omitempty"`
	Backfilled     bool            `json:"backfilled,omitempty"`
}

// IsMessage reports whether the record is a room message event.
func (r *Record) IsMessage() bool {
	return r.Type == TypeMessage
}

// Body returns the text body of a message record, or "" for non-text events.
func (r *Record) Body() string {
	if r.Content == nil {
		return ""
	}
	body, _ := r.Content["body"].(string)
	return body
}

package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedEvent marks a raw event that cannot be stored, typically one
// missing its event id. Callers skip such events; they never reach the store.
var ErrMalformedEvent = errors.New("malformed event")

// envelope holds the fields common to every raw protocol event. Missing
// optional fields decode to their zero values.
type envelope struct {
	EventID        string          `json:"event_id"`
	RoomID         string          `json:"room_id"`
	Sender         string          `json:"sender"`
	Type           string          `json:"type"`
	OriginServerTS int64           `json:"origin_server_ts"`
	Content        json.RawMessage `json:"content"`
}

// content is the decoded payload of a raw event, one variant per known event
// kind plus a generic fallback for everything else.
type content interface {
	asMap() map[string]any
}

type messageContent struct {
	Body    string `json:"body"`
	MsgType string `json:"msgtype"`
	raw     map[string]any
}

// asMap keeps the original payload but guarantees body and msgtype are
// present even when the underlying shape differed.
func (c messageContent) asMap() map[string]any {
	m := c.raw
	if m == nil {
		m = make(map[string]any, 2)
	}
	m["body"] = c.Body
	m["msgtype"] = c.MsgType
	return m
}

type memberContent struct{ raw map[string]any }

func (c memberContent) asMap() map[string]any { return c.raw }

type nameContent struct{ raw map[string]any }

func (c nameContent) asMap() map[string]any { return c.raw }

type topicContent struct{ raw map[string]any }

func (c topicContent) asMap() map[string]any { return c.raw }

type avatarContent struct{ raw map[string]any }

func (c avatarContent) asMap() map[string]any { return c.raw }

type createContent struct{ raw map[string]any }

func (c createContent) asMap() map[string]any { return c.raw }

type genericContent struct{ raw map[string]any }

func (c genericContent) asMap() map[string]any { return c.raw }

// decodeContent dispatches on the event type tag and produces the matching
// content variant. Unknown tags fall back to the generic variant carrying the
// raw structured payload.
func decodeContent(typ string, raw json.RawMessage) content {
	m := decodeMap(raw)
	switch typ {
	case TypeMessage:
		var mc messageContent
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &mc)
		}
		mc.raw = m
		return mc
	case TypeMember:
		return memberContent{raw: m}
	case TypeName:
		return nameContent{raw: m}
	case TypeTopic:
		return topicContent{raw: m}
	case TypeAvatar:
		return avatarContent{raw: m}
	case TypeCreate:
		return createContent{raw: m}
	default:
		return genericContent{raw: m}
	}
}

func decodeMap(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

// Serialize normalizes one raw protocol event into its canonical Record.
// roomID overrides an absent room_id field; history pagination responses omit
// it. An event without an event id is rejected with ErrMalformedEvent.
func Serialize(roomID string, raw json.RawMessage) (*Record, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.EventID == "" {
		return nil, fmt.Errorf("%w: missing event_id", ErrMalformedEvent)
	}
	if env.RoomID == "" {
		env.RoomID = roomID
	}

	return &Record{
		EventID:        env.EventID,
		RoomID:         env.RoomID,
		Sender:         env.Sender,
		Type:           env.Type,
		OriginServerTS: env.OriginServerTS,
		Content:        decodeContent(env.Type, env.Content).asMap(),
		Source:         raw,
	}, nil
}

package matrix

import "encoding/json"

// Direction selects pagination order for room history.
type Direction string

const (
	DirBackward Direction = "b"
	DirForward  Direction = "f"
)

// SyncResponse is one /sync long-poll result: new timeline events per joined
// room plus the resume token for the next poll.
type SyncResponse struct {
	NextBatch string       `json:"next_batch"`
	Rooms     RoomsSection `json:"rooms"`
}

type RoomsSection struct {
	Join map[string]JoinedRoom `json:"join"`
}

type JoinedRoom struct {
	Timeline Timeline `json:"timeline"`
}

type Timeline struct {
	Events    []json.RawMessage `json:"events"`
	PrevBatch string            `json:"prev_batch"`
	Limited   bool              `json:"limited"`
}

// MessagesResponse is one page of room history. An absent End token means the
// history is exhausted in the requested direction.
type MessagesResponse struct {
	Start string            `json:"start"`
	End   string            `json:"end"`
	Chunk []json.RawMessage `json:"chunk"`
}

type loginRequest struct {
	Type                     string          `json:"type"`
	Identifier               loginIdentifier `json:"identifier"`
	Password                 string          `json:"password"`
	DeviceID                 string          `json:"device_id,omitempty"`
	InitialDeviceDisplayName string          `json:"initial_device_display_name,omitempty"`
}

type loginIdentifier struct {
	Type string `json:"type"`
	User string `json:"user"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	DeviceID    string `json:"device_id"`
	UserID      string `json:"user_id"`
}

type whoamiResponse struct {
	UserID string `json:"user_id"`
}

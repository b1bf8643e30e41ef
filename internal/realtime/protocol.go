package realtime

import "encoding/json"

// Phoenix channel events used by the realtime server.
const (
	EventJoin      = "phx_join"
	EventLeave     = "phx_leave"
	EventReply     = "phx_reply"
	EventError     = "phx_error"
	EventClose     = "phx_close"
	EventHeartbeat = "heartbeat"
	EventChanges   = "postgres_changes"
	EventSystem    = "system"

	PhoenixTopic = "phoenix"
	TopicPrefix  = "realtime:"

	ProtocolVersion = "1.0.0"
)

// Frame is the envelope of every websocket message in both directions.
type Frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

// JoinPayload is sent with phx_join.
type JoinPayload struct {
	Config      JoinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

// JoinConfig lists the postgres changes a channel wants.
type JoinConfig struct {
	PostgresChanges []ChangeFilter `json:"postgres_changes"`
}

// ReplyPayload is carried by phx_reply.
type ReplyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response,omitempty"`
}

// JoinResponse is the response of a successful join. Each entry carries the
// server assigned id of the matching requested filter.
type JoinResponse struct {
	PostgresChanges []struct {
		ID int64 `json:"id"`
		ChangeFilter
	} `json:"postgres_changes"`
}

// ChangesPayload is carried by postgres_changes.
type ChangesPayload struct {
	IDs  []int64 `json:"ids"`
	Data Event   `json:"data"`
}

// SystemPayload is carried by system events.
type SystemPayload struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Extension string `json:"extension"`
}

func encodePayload(v any) json.RawMessage {
	if v == nil {
		return json.RawMessage(`{}`)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

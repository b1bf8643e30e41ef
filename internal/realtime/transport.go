// Package realtime manages subscriptions to the backend's change stream.
//
// A Transport hands out named channels; the Registry keeps at most one live
// channel for the global attendance log stream and at most one per session
// report, tearing them down on request, on transport errors and when the
// transport reports them closed.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrInvalidSessionID = errors.New("invalid session id")
	ErrNotConnected     = errors.New("realtime socket not connected")
	ErrJoinTimeout      = errors.New("channel join timed out")
	ErrLeaveTimeout     = errors.New("channel leave timed out")
)

// Status is the lifecycle state a transport reports for one channel.
type Status int

const (
	StatusConnecting Status = iota
	StatusSubscribed
	StatusChannelError
	StatusTimedOut
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "CONNECTING"
	case StatusSubscribed:
		return "SUBSCRIBED"
	case StatusChannelError:
		return "CHANNEL_ERROR"
	case StatusTimedOut:
		return "TIMED_OUT"
	case StatusClosed:
		return "CLOSED"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Event is one row change pushed by the server. Record holds the new row
// exactly as the server sent it.
type Event struct {
	Schema          string          `json:"schema"`
	Table           string          `json:"table"`
	Type            string          `json:"type"`
	CommitTimestamp string          `json:"commit_timestamp"`
	Record          json.RawMessage `json:"record,omitempty"`
	OldRecord       json.RawMessage `json:"old_record,omitempty"`
}

// ChangeFilter selects the postgres changes a channel binding receives.
// Filter uses the server's "column=op.value" syntax.
type ChangeFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

// StatusFunc receives channel lifecycle updates. err is set for
// StatusChannelError and StatusTimedOut when the transport has one.
type StatusFunc func(status Status, err error)

// Channel is one named subscription on a Transport.
type Channel interface {
	Topic() string
	// OnChange binds fn to changes matching filter. Bindings must be added
	// before Subscribe.
	OnChange(filter ChangeFilter, fn func(Event))
	// Subscribe starts joining the channel. fn may be called from any
	// goroutine, including synchronously.
	Subscribe(fn StatusFunc)
}

// Transport opens and releases channels.
type Transport interface {
	Channel(name string) Channel
	// RemoveChannel leaves the channel and forgets it. The channel reports
	// StatusClosed once it is gone.
	RemoveChannel(ctx context.Context, ch Channel) error
}

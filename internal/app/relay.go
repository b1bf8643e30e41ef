package app

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

const relayBuffer = 64

// Relay carries messages from background goroutines (realtime callbacks,
// auth watchers, socket state) into the Bubble Tea loop. The model keeps
// one Next command outstanding and re-arms it after every relayed message.
type Relay struct {
	ch   chan tea.Msg
	done chan struct{}
	once sync.Once
}

// NewRelay creates an open relay.
func NewRelay() *Relay {
	return &Relay{ch: make(chan tea.Msg, relayBuffer), done: make(chan struct{})}
}

// Push queues msg. It blocks while the buffer is full and reports false
// once the relay is closed.
func (r *Relay) Push(msg tea.Msg) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.ch <- msg:
		return true
	case <-r.done:
		return false
	}
}

// Next returns a command that waits for the next relayed message. It
// yields nil after Close.
func (r *Relay) Next() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-r.ch:
			return msg
		case <-r.done:
			return nil
		}
	}
}

// Close releases every blocked Push and Next.
func (r *Relay) Close() {
	r.once.Do(func() { close(r.done) })
}

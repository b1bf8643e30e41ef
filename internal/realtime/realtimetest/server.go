// Package realtimetest runs an in-process realtime server speaking the
// Phoenix channel protocol, for tests of code built on realtime.Socket.
package realtimetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/attendance-app/client/internal/realtime"
	"github.com/gorilla/websocket"
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

type subscription struct {
	client  *client
	joinRef string
	filters []realtime.ChangeFilter
}

// Server is a fake realtime endpoint. Joins succeed unless RejectJoins or
// IgnoreJoins say otherwise.
type Server struct {
	srv *httptest.Server

	mu              sync.Mutex
	clients         map[*client]bool
	subs            map[string]*subscription
	frames          []realtime.Frame
	nextID          int64
	rejectJoin      func(topic string) string
	ignoreJoin      func(topic string) bool
	ignoreHeartbeat bool
}

// NewServer starts a server and stops it when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		clients: make(map[*client]bool),
		subs:    make(map[string]*subscription),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handleWS))
	t.Cleanup(s.Close)
	return s
}

// URL returns the websocket endpoint.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/realtime/v1/websocket"
}

// RejectJoins answers a join with an error reply whenever fn returns a
// non-empty reason.
func (s *Server) RejectJoins(fn func(topic string) string) {
	s.mu.Lock()
	s.rejectJoin = fn
	s.mu.Unlock()
}

// IgnoreJoins leaves joins unanswered whenever fn returns true.
func (s *Server) IgnoreJoins(fn func(topic string) bool) {
	s.mu.Lock()
	s.ignoreJoin = fn
	s.mu.Unlock()
}

// IgnoreHeartbeats stops or resumes heartbeat replies.
func (s *Server) IgnoreHeartbeats(ignore bool) {
	s.mu.Lock()
	s.ignoreHeartbeat = ignore
	s.mu.Unlock()
}

// Close disconnects every client and stops the server.
func (s *Server) Close() {
	s.DropConnections()
	s.srv.Close()
}

// DropConnections closes every client connection without stopping the server.
func (s *Server) DropConnections() {
	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[*client]bool)
	s.subs = make(map[string]*subscription)
	s.mu.Unlock()
	for c := range clients {
		close(c.send)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 64)}
	go c.writePump()

	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()

	go func() {
		defer s.removeClient(c)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f realtime.Frame
			if json.Unmarshal(data, &f) != nil {
				continue
			}
			s.handleFrame(c, f)
		}
	}()
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.clients[c] {
		return
	}
	delete(s.clients, c)
	for topic, sub := range s.subs {
		if sub.client == c {
			delete(s.subs, topic)
		}
	}
	close(c.send)
}

func (s *Server) handleFrame(c *client, f realtime.Frame) {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	rejectJoin, ignoreJoin, ignoreHeartbeat := s.rejectJoin, s.ignoreJoin, s.ignoreHeartbeat
	s.mu.Unlock()

	switch f.Event {
	case realtime.EventHeartbeat:
		if !ignoreHeartbeat {
			s.reply(c, f, "ok", nil)
		}

	case realtime.EventJoin:
		if ignoreJoin != nil && ignoreJoin(f.Topic) {
			return
		}
		if rejectJoin != nil {
			if reason := rejectJoin(f.Topic); reason != "" {
				s.reply(c, f, "error", map[string]string{"reason": reason})
				return
			}
		}
		var p realtime.JoinPayload
		_ = json.Unmarshal(f.Payload, &p)

		type assigned struct {
			ID int64 `json:"id"`
			realtime.ChangeFilter
		}
		resp := struct {
			PostgresChanges []assigned `json:"postgres_changes"`
		}{}
		s.mu.Lock()
		for _, filter := range p.Config.PostgresChanges {
			s.nextID++
			resp.PostgresChanges = append(resp.PostgresChanges, assigned{ID: s.nextID, ChangeFilter: filter})
		}
		s.subs[f.Topic] = &subscription{client: c, joinRef: f.Ref, filters: p.Config.PostgresChanges}
		s.mu.Unlock()
		s.reply(c, f, "ok", resp)

	case realtime.EventLeave:
		s.mu.Lock()
		if sub := s.subs[f.Topic]; sub != nil && sub.client == c {
			delete(s.subs, f.Topic)
		}
		s.mu.Unlock()
		s.reply(c, f, "ok", nil)
	}
}

func (s *Server) reply(c *client, f realtime.Frame, status string, response any) {
	payload := map[string]any{"status": status, "response": response}
	if response == nil {
		payload["response"] = map[string]any{}
	}
	s.sendTo(c, realtime.Frame{
		Topic:   f.Topic,
		Event:   realtime.EventReply,
		Payload: mustJSON(payload),
		Ref:     f.Ref,
		JoinRef: f.JoinRef,
	})
}

func (s *Server) sendTo(c *client, f realtime.Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
		// Client too slow, drop the frame
	}
}

// Joined reports whether a client currently holds a subscription for the
// channel name (without the "realtime:" prefix).
func (s *Server) Joined(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[realtime.TopicPrefix+name]
	return ok
}

// Filters returns the postgres_changes filters of the current subscription.
func (s *Server) Filters(name string) []realtime.ChangeFilter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub := s.subs[realtime.TopicPrefix+name]; sub != nil {
		return append([]realtime.ChangeFilter(nil), sub.filters...)
	}
	return nil
}

// Received returns the frames received so far with the given event.
func (s *Server) Received(event string) []realtime.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []realtime.Frame
	for _, f := range s.frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

// Insert pushes an INSERT of record into table to the channel's subscriber.
// It reports false when nobody is subscribed.
func (s *Server) Insert(name, table string, record any) bool {
	topic := realtime.TopicPrefix + name
	s.mu.Lock()
	sub := s.subs[topic]
	s.mu.Unlock()
	if sub == nil {
		return false
	}
	payload := realtime.ChangesPayload{
		Data: realtime.Event{
			Schema:          "public",
			Table:           table,
			Type:            "INSERT",
			CommitTimestamp: time.Now().UTC().Format(time.RFC3339),
			Record:          mustJSON(record),
		},
	}
	s.sendTo(sub.client, realtime.Frame{Topic: topic, Event: realtime.EventChanges, Payload: mustJSON(payload)})
	return true
}

// Fail sends phx_error for the channel's current join.
func (s *Server) Fail(name string) bool {
	return s.channelEvent(name, realtime.EventError)
}

// CloseChannel sends phx_close for the channel's current join and forgets it.
func (s *Server) CloseChannel(name string) bool {
	return s.channelEvent(name, realtime.EventClose)
}

func (s *Server) channelEvent(name, event string) bool {
	topic := realtime.TopicPrefix + name
	s.mu.Lock()
	sub := s.subs[topic]
	if sub != nil && event == realtime.EventClose {
		delete(s.subs, topic)
	}
	s.mu.Unlock()
	if sub == nil {
		return false
	}
	s.sendTo(sub.client, realtime.Frame{
		Topic:   topic,
		Event:   event,
		Payload: mustJSON(map[string]any{}),
		Ref:     sub.joinRef,
		JoinRef: sub.joinRef,
	})
	return true
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

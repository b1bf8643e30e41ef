package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	reconnectBaseDelay       = 1 * time.Second
	defaultReconnectMaxDelay = 30 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
	defaultJoinTimeout       = 10 * time.Second
	defaultLeaveTimeout      = 5 * time.Second
	writeTimeout             = 10 * time.Second
)

// Delays between rejoin attempts of an errored channel; the last one repeats.
var rejoinDelays = []time.Duration{1 * time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second}

// SocketOptions tunes a Socket. Zero values use the defaults.
type SocketOptions struct {
	HeartbeatInterval time.Duration
	JoinTimeout       time.Duration
	LeaveTimeout      time.Duration
	ReconnectMaxDelay time.Duration

	// AccessToken returns the user's access token sent with every join.
	AccessToken func() string
	// OnConnectionChange is called, in order, whenever the socket connects
	// or drops.
	OnConnectionChange func(connected bool)

	Logger *slog.Logger
	Dialer *websocket.Dialer
}

// Socket is a Transport over the realtime server's Phoenix websocket.
// Run owns the connection; channels created before the first connect are
// joined once it is up and rejoined after every reconnect.
type Socket struct {
	endpoint string
	opts     SocketOptions
	log      *slog.Logger
	dispatch *dispatcher

	mu           sync.Mutex
	writeMu      sync.Mutex // serialises all conn writes
	conn         *websocket.Conn
	ref          uint64
	heartbeatRef string
	channels     map[string]*channel
	pending      map[string]func(Frame, bool)
}

// NewSocket creates a socket for the realtime endpoint, e.g.
// "wss://project.example.co/realtime/v1/websocket".
func NewSocket(endpoint, apiKey string, opts SocketOptions) (*Socket, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse realtime url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("realtime url %q: scheme must be ws or wss", endpoint)
	}
	q := u.Query()
	if apiKey != "" {
		q.Set("apikey", apiKey)
	}
	q.Set("vsn", ProtocolVersion)
	u.RawQuery = q.Encode()

	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = defaultJoinTimeout
	}
	if opts.LeaveTimeout <= 0 {
		opts.LeaveTimeout = defaultLeaveTimeout
	}
	if opts.ReconnectMaxDelay <= 0 {
		opts.ReconnectMaxDelay = defaultReconnectMaxDelay
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Socket{
		endpoint: u.String(),
		opts:     opts,
		log:      logger,
		dispatch: newDispatcher(),
		channels: make(map[string]*channel),
		pending:  make(map[string]func(Frame, bool)),
	}, nil
}

// Run connects and keeps the socket connected until ctx is done.
func (s *Socket) Run(ctx context.Context) error {
	delay := reconnectBaseDelay
	for {
		conn, _, err := s.opts.Dialer.DialContext(ctx, s.endpoint, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("realtime: dial failed", "err", err, "retry_in", delay)
			if !sleepContext(ctx, delay) {
				return ctx.Err()
			}
			delay = min(delay*2, s.opts.ReconnectMaxDelay)
			continue
		}

		delay = reconnectBaseDelay
		err = s.serve(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn("realtime: connection lost", "err", err, "retry_in", delay)
		if !sleepContext(ctx, delay) {
			return ctx.Err()
		}
	}
}

func (s *Socket) serve(ctx context.Context, conn *websocket.Conn) error {
	s.attach(conn)

	hbCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.heartbeatLoop(hbCtx, conn)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	err := s.readLoop(conn)
	s.detach(conn, err)
	return err
}

func (s *Socket) attach(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.heartbeatRef = ""
	chans := make([]*channel, 0, len(s.channels))
	for _, c := range s.channels {
		chans = append(chans, c)
	}
	s.mu.Unlock()

	s.log.Info("realtime: connected", "channels", len(chans))
	s.notifyConnection(true)
	for _, c := range chans {
		c.rejoin()
	}
}

func (s *Socket) detach(conn *websocket.Conn, cause error) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	pending := s.pending
	s.pending = make(map[string]func(Frame, bool))
	chans := make([]*channel, 0, len(s.channels))
	for _, c := range s.channels {
		chans = append(chans, c)
	}
	s.mu.Unlock()

	conn.Close()
	for _, reply := range pending {
		reply(Frame{}, false)
	}
	s.notifyConnection(false)
	for _, c := range chans {
		c.socketClosed(cause)
	}
}

func (s *Socket) readLoop(conn *websocket.Conn) error {
	timeout := 2 * s.opts.HeartbeatInterval
	conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(timeout))

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.log.Debug("realtime: dropping malformed frame", "err", err)
			continue
		}
		s.route(f)
	}
}

// heartbeatLoop sends a heartbeat every interval and drops the connection
// when the previous one was never acknowledged.
func (s *Socket) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.conn != conn {
				s.mu.Unlock()
				return
			}
			if s.heartbeatRef != "" {
				s.mu.Unlock()
				s.log.Warn("realtime: heartbeat not acknowledged, reconnecting")
				conn.Close()
				return
			}
			s.ref++
			ref := strconv.FormatUint(s.ref, 10)
			s.heartbeatRef = ref
			s.mu.Unlock()

			f := Frame{Topic: PhoenixTopic, Event: EventHeartbeat, Payload: encodePayload(nil), Ref: ref}
			if err := s.write(conn, f); err != nil {
				return
			}
		}
	}
}

func (s *Socket) route(f Frame) {
	if f.Event == EventReply {
		s.mu.Lock()
		if f.Topic == PhoenixTopic && f.Ref != "" && f.Ref == s.heartbeatRef {
			s.heartbeatRef = ""
			s.mu.Unlock()
			return
		}
		reply, ok := s.pending[f.Ref]
		if ok {
			delete(s.pending, f.Ref)
		}
		s.mu.Unlock()
		if ok {
			reply(f, true)
		}
		return
	}

	s.mu.Lock()
	c := s.channels[f.Topic]
	s.mu.Unlock()
	if c != nil {
		c.handle(f)
	}
}

func (s *Socket) nextRef() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ref++
	return strconv.FormatUint(s.ref, 10)
}

// push writes f and registers onReply for its ref. onReply runs on the read
// goroutine and must not block; ok is false when the connection dropped
// before a reply arrived.
func (s *Socket) push(f Frame, onReply func(Frame, bool)) error {
	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if onReply != nil {
		s.pending[f.Ref] = onReply
	}
	s.mu.Unlock()

	if err := s.write(conn, f); err != nil {
		s.forget(f.Ref)
		return err
	}
	return nil
}

func (s *Socket) write(conn *websocket.Conn, f Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(f)
}

func (s *Socket) forget(ref string) {
	s.mu.Lock()
	delete(s.pending, ref)
	s.mu.Unlock()
}

func (s *Socket) forgetChannel(c *channel) {
	s.mu.Lock()
	if s.channels[c.topic] == c {
		delete(s.channels, c.topic)
	}
	s.mu.Unlock()
}

func (s *Socket) accessToken() string {
	if s.opts.AccessToken == nil {
		return ""
	}
	return s.opts.AccessToken()
}

func (s *Socket) notifyConnection(connected bool) {
	if fn := s.opts.OnConnectionChange; fn != nil {
		s.dispatch.push(func() { fn(connected) })
	}
}

// Channel creates a channel named name. It does nothing on the wire until
// Subscribe is called.
func (s *Socket) Channel(name string) Channel {
	c := &channel{socket: s, topic: TopicPrefix + name}
	s.mu.Lock()
	if _, exists := s.channels[c.topic]; exists {
		s.log.Warn("realtime: replacing channel with the same topic", "topic", c.topic)
	}
	s.channels[c.topic] = c
	s.mu.Unlock()
	return c
}

// RemoveChannel leaves ch and waits for the server to acknowledge, bounded
// by the leave timeout and ctx. The channel is forgotten and reports
// StatusClosed even when the leave fails.
func (s *Socket) RemoveChannel(ctx context.Context, ch Channel) error {
	c, ok := ch.(*channel)
	if !ok || c.socket != s {
		return fmt.Errorf("realtime: channel %q does not belong to this socket", ch.Topic())
	}

	c.mu.Lock()
	prev := c.state
	if prev == stateLeaving || prev == stateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = stateLeaving
	c.stopTimersLocked()
	joinRef := c.joinRef
	c.mu.Unlock()
	s.forgetChannel(c)

	defer func() {
		c.mu.Lock()
		c.state = stateClosed
		c.mu.Unlock()
		c.emit(StatusClosed, nil)
	}()

	// A join that timed out may still land on the server, so any sent
	// join gets a leave.
	if joinRef == "" {
		return nil
	}

	done := make(chan bool, 1)
	ref := s.nextRef()
	leave := Frame{Topic: c.topic, Event: EventLeave, Payload: encodePayload(nil), Ref: ref, JoinRef: joinRef}
	err := s.push(leave, func(_ Frame, ok bool) { done <- ok })
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("leave %s: %w", c.topic, err)
	}

	timer := time.NewTimer(s.opts.LeaveTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		s.forget(ref)
		return fmt.Errorf("leave %s: %w", c.topic, ErrLeaveTimeout)
	case <-ctx.Done():
		s.forget(ref)
		return fmt.Errorf("leave %s: %w", c.topic, ctx.Err())
	}
}

// RefreshAuth sends the current access token to every joined channel.
func (s *Socket) RefreshAuth() {
	token := s.accessToken()
	if token == "" {
		return
	}
	s.mu.Lock()
	chans := make([]*channel, 0, len(s.channels))
	for _, c := range s.channels {
		chans = append(chans, c)
	}
	s.mu.Unlock()

	for _, c := range chans {
		c.mu.Lock()
		joined, joinRef := c.state == stateJoined, c.joinRef
		c.mu.Unlock()
		if !joined {
			continue
		}
		f := Frame{
			Topic:   c.topic,
			Event:   "access_token",
			Payload: encodePayload(map[string]string{"access_token": token}),
			Ref:     s.nextRef(),
			JoinRef: joinRef,
		}
		if err := s.push(f, nil); err != nil {
			s.log.Debug("realtime: access token push failed", "topic", c.topic, "err", err)
		}
	}
}

// Connected reports whether the socket currently has a live connection.
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Close drops the connection and stops callback delivery. Run should be
// stopped through its context.
func (s *Socket) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	s.dispatch.stop()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

type channelState int

const (
	stateIdle channelState = iota
	stateJoining
	stateJoined
	stateErrored
	stateLeaving
	stateClosed
)

type binding struct {
	filter ChangeFilter
	fn     func(Event)
	id     int64 // server assigned, set once joined
}

type channel struct {
	socket *Socket
	topic  string

	mu          sync.Mutex
	state       channelState
	joinRef     string
	bindings    []*binding
	statusFn    StatusFunc
	joinTimer   *time.Timer
	rejoinTimer *time.Timer
	rejoinTries int
}

func (c *channel) Topic() string { return c.topic }

func (c *channel) OnChange(filter ChangeFilter, fn func(Event)) {
	c.mu.Lock()
	c.bindings = append(c.bindings, &binding{filter: filter, fn: fn})
	c.mu.Unlock()
}

func (c *channel) Subscribe(fn StatusFunc) {
	c.mu.Lock()
	switch c.state {
	case stateLeaving, stateClosed:
		c.mu.Unlock()
		if fn != nil {
			c.socket.dispatch.push(func() { fn(StatusClosed, nil) })
		}
		return
	case stateIdle:
	default:
		c.mu.Unlock()
		c.socket.log.Warn("realtime: channel subscribed more than once", "topic", c.topic)
		return
	}
	c.statusFn = fn
	c.state = stateJoining
	c.mu.Unlock()

	c.emit(StatusConnecting, nil)
	c.join()
}

func (c *channel) rejoin() {
	c.mu.Lock()
	if c.rejoinTimer != nil {
		c.rejoinTimer.Stop()
		c.rejoinTimer = nil
	}
	c.mu.Unlock()
	c.join()
}

func (c *channel) join() {
	s := c.socket

	c.mu.Lock()
	if c.state != stateJoining && c.state != stateErrored {
		c.mu.Unlock()
		return
	}
	if c.state == stateJoining && c.joinRef != "" {
		// A join is already in flight on the current connection.
		c.mu.Unlock()
		return
	}
	if !s.Connected() {
		// Joined by attach once the socket is up.
		c.state = stateJoining
		c.joinRef = ""
		if c.joinTimer != nil {
			c.joinTimer.Stop()
		}
		c.mu.Unlock()
		return
	}
	c.state = stateJoining
	filters := make([]ChangeFilter, len(c.bindings))
	for i, b := range c.bindings {
		filters[i] = b.filter
	}
	ref := s.nextRef()
	c.joinRef = ref
	if c.joinTimer != nil {
		c.joinTimer.Stop()
	}
	c.joinTimer = time.AfterFunc(s.opts.JoinTimeout, func() { c.joinTimedOut(ref) })
	c.mu.Unlock()

	payload := JoinPayload{
		Config:      JoinConfig{PostgresChanges: filters},
		AccessToken: s.accessToken(),
	}
	f := Frame{Topic: c.topic, Event: EventJoin, Payload: encodePayload(payload), Ref: ref, JoinRef: ref}
	err := s.push(f, func(reply Frame, ok bool) { c.joinReplied(ref, reply, ok) })
	if err != nil {
		s.log.Debug("realtime: join deferred", "topic", c.topic, "err", err)
		c.mu.Lock()
		if c.joinRef == ref && c.joinTimer != nil {
			c.joinTimer.Stop()
			c.joinRef = ""
		}
		c.mu.Unlock()
	}
}

func (c *channel) joinReplied(ref string, f Frame, ok bool) {
	c.mu.Lock()
	if c.joinRef != ref || c.state != stateJoining {
		c.mu.Unlock()
		return
	}
	if c.joinTimer != nil {
		c.joinTimer.Stop()
	}
	if !ok {
		c.mu.Unlock()
		return
	}

	var reply ReplyPayload
	if err := json.Unmarshal(f.Payload, &reply); err != nil || reply.Status != "ok" {
		c.state = stateErrored
		c.mu.Unlock()
		c.emit(StatusChannelError, fmt.Errorf("join %s rejected: %s", c.topic, strings.TrimSpace(string(reply.Response))))
		c.scheduleRejoin()
		return
	}

	var resp JoinResponse
	if len(reply.Response) > 0 {
		_ = json.Unmarshal(reply.Response, &resp)
	}
	for i, b := range c.bindings {
		if i < len(resp.PostgresChanges) {
			b.id = resp.PostgresChanges[i].ID
		}
	}
	c.state = stateJoined
	c.rejoinTries = 0
	c.mu.Unlock()

	c.emit(StatusSubscribed, nil)
}

func (c *channel) joinTimedOut(ref string) {
	c.mu.Lock()
	if c.joinRef != ref || c.state != stateJoining {
		c.mu.Unlock()
		return
	}
	c.state = stateErrored
	c.mu.Unlock()

	c.socket.forget(ref)
	c.emit(StatusTimedOut, ErrJoinTimeout)
	c.scheduleRejoin()
}

func (c *channel) scheduleRejoin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateErrored {
		return
	}
	delay := rejoinDelays[min(c.rejoinTries, len(rejoinDelays)-1)]
	c.rejoinTries++
	if c.rejoinTimer != nil {
		c.rejoinTimer.Stop()
	}
	c.rejoinTimer = time.AfterFunc(delay, c.join)
}

func (c *channel) socketClosed(cause error) {
	c.mu.Lock()
	if c.state != stateJoined && c.state != stateJoining {
		c.mu.Unlock()
		return
	}
	sent := c.joinRef != ""
	c.state = stateErrored
	if c.joinTimer != nil {
		c.joinTimer.Stop()
	}
	c.mu.Unlock()

	if sent {
		c.emit(StatusChannelError, fmt.Errorf("%w: %v", ErrNotConnected, cause))
	}
}

func (c *channel) handle(f Frame) {
	switch f.Event {
	case EventChanges:
		var p ChangesPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			c.socket.log.Debug("realtime: malformed postgres_changes payload", "topic", c.topic, "err", err)
			return
		}
		c.mu.Lock()
		if c.state != stateJoined {
			c.mu.Unlock()
			return
		}
		var fns []func(Event)
		for _, b := range c.bindings {
			if b.matches(p) {
				fns = append(fns, b.fn)
			}
		}
		c.mu.Unlock()
		for _, fn := range fns {
			fn := fn
			ev := p.Data
			c.socket.dispatch.push(func() { fn(ev) })
		}

	case EventError:
		c.mu.Lock()
		if !c.currentLocked(f) || (c.state != stateJoined && c.state != stateJoining) {
			c.mu.Unlock()
			return
		}
		c.state = stateErrored
		if c.joinTimer != nil {
			c.joinTimer.Stop()
		}
		c.mu.Unlock()
		c.emit(StatusChannelError, fmt.Errorf("server reported error on %s: %s", c.topic, strings.TrimSpace(string(f.Payload))))
		c.scheduleRejoin()

	case EventClose:
		c.mu.Lock()
		if !c.currentLocked(f) || c.state == stateLeaving || c.state == stateClosed {
			c.mu.Unlock()
			return
		}
		c.state = stateClosed
		c.stopTimersLocked()
		c.mu.Unlock()
		c.socket.forgetChannel(c)
		c.emit(StatusClosed, nil)

	case EventSystem:
		var p SystemPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return
		}
		if p.Status == "error" {
			c.emit(StatusChannelError, fmt.Errorf("%s: %s", p.Extension, p.Message))
		}
	}
}

// currentLocked reports whether f belongs to the current join. Version 1
// frames carry the join ref in ref for phx_error and phx_close.
func (c *channel) currentLocked(f Frame) bool {
	ref := f.JoinRef
	if ref == "" {
		ref = f.Ref
	}
	return ref == "" || ref == c.joinRef
}

func (c *channel) stopTimersLocked() {
	if c.joinTimer != nil {
		c.joinTimer.Stop()
		c.joinTimer = nil
	}
	if c.rejoinTimer != nil {
		c.rejoinTimer.Stop()
		c.rejoinTimer = nil
	}
}

func (c *channel) emit(status Status, err error) {
	c.mu.Lock()
	fn := c.statusFn
	c.mu.Unlock()
	if fn == nil {
		return
	}
	c.socket.dispatch.push(func() { fn(status, err) })
}

func (b *binding) matches(p ChangesPayload) bool {
	if b.id != 0 && len(p.IDs) > 0 {
		for _, id := range p.IDs {
			if id == b.id {
				return true
			}
		}
		return false
	}
	if b.filter.Event != "*" && !strings.EqualFold(b.filter.Event, p.Data.Type) {
		return false
	}
	return b.filter.Schema == p.Data.Schema && b.filter.Table == p.Data.Table
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

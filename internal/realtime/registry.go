package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	globalChannelName    = "public-attendance-log-inserts"
	sessionChannelPrefix = "session-report-"
)

// EventFunc receives one change event.
type EventFunc func(Event)

// ErrorFunc receives a human readable reason plus the transport error, if any.
type ErrorFunc func(reason string, err error)

type registration struct {
	channel Channel
	onEvent EventFunc
	onError ErrorFunc

	// detached is set once the registration has been replaced, removed or
	// closed. Nothing is delivered to a detached registration.
	detached atomic.Bool
}

func (r *registration) deliver(ev Event) {
	if r.detached.Load() || r.onEvent == nil {
		return
	}
	r.onEvent(ev)
}

// Registry owns the realtime subscriptions of the client: one optional
// global attendance log stream plus one optional stream per session report.
type Registry struct {
	transport Transport
	log       *slog.Logger

	mu       sync.Mutex
	global   *registration
	sessions map[int64]*registration

	globalOp sync.Mutex
	keys     keyedMutex
}

// NewRegistry creates an empty registry on top of t. A nil logger uses
// slog.Default().
func NewRegistry(t Transport, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		transport: t,
		log:       logger,
		sessions:  make(map[int64]*registration),
	}
}

// ParseSessionID validates a raw session identifier, typically a route
// parameter. Only positive base-10 integers are accepted.
func ParseSessionID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSessionID, raw)
	}
	return id, nil
}

// LogInsertFilter matches inserts into the attendance log table.
func LogInsertFilter() ChangeFilter {
	return ChangeFilter{Event: "INSERT", Schema: "public", Table: "attendance_logs"}
}

// SessionInsertFilter matches inserts into the attendance log for one session.
func SessionInsertFilter(sessionID int64) ChangeFilter {
	f := LogInsertFilter()
	f.Filter = "session_id=eq." + strconv.FormatInt(sessionID, 10)
	return f
}

// SubscribeGlobal starts listening for every new attendance log. An existing
// global subscription is torn down first so only one delivery path exists.
// Transport errors are reported to onError; the subscription stays in place
// so the transport can rejoin it.
func (r *Registry) SubscribeGlobal(ctx context.Context, onEvent EventFunc, onError ErrorFunc) {
	r.globalOp.Lock()
	r.mu.Lock()
	prev := r.global
	r.mu.Unlock()
	if prev != nil {
		r.log.Warn("realtime: already listening for attendance logs, replacing previous subscription")
		r.releaseGlobal(ctx, prev)
	}

	reg := &registration{onEvent: onEvent, onError: onError}
	reg.channel = r.transport.Channel(globalChannelName)
	reg.channel.OnChange(LogInsertFilter(), reg.deliver)

	r.mu.Lock()
	r.global = reg
	r.mu.Unlock()
	r.globalOp.Unlock()

	reg.channel.Subscribe(func(status Status, err error) {
		r.globalStatus(reg, status, err)
	})
}

func (r *Registry) globalStatus(reg *registration, status Status, err error) {
	switch status {
	case StatusConnecting:
		r.log.Debug("realtime: joining attendance log channel")
	case StatusSubscribed:
		r.log.Info("realtime: subscribed to attendance log inserts")
	case StatusChannelError, StatusTimedOut:
		if reg.detached.Load() {
			return
		}
		r.log.Error("realtime: attendance log channel failed", "status", status, "err", err)
		if reg.onError != nil {
			reg.onError(fmt.Sprintf("Realtime (Attendance Logs) Error: %s", status), err)
		}
	case StatusClosed:
		r.log.Info("realtime: attendance log channel closed")
		r.mu.Lock()
		if r.global == reg {
			r.global = nil
		}
		r.mu.Unlock()
		reg.detached.Store(true)
	default:
		r.log.Warn("realtime: unknown channel status", "channel", globalChannelName, "status", status)
	}
}

// UnsubscribeGlobal releases the global subscription. It is safe to call
// when nothing is subscribed. A failed release is logged and the local
// state is cleared regardless.
func (r *Registry) UnsubscribeGlobal(ctx context.Context) {
	r.globalOp.Lock()
	defer r.globalOp.Unlock()

	r.mu.Lock()
	reg := r.global
	r.mu.Unlock()
	if reg == nil {
		return
	}
	r.releaseGlobal(ctx, reg)
}

// releaseGlobal must be called with globalOp held.
func (r *Registry) releaseGlobal(ctx context.Context, reg *registration) {
	reg.detached.Store(true)
	defer func() {
		r.mu.Lock()
		if r.global == reg {
			r.global = nil
		}
		r.mu.Unlock()
	}()

	if err := r.transport.RemoveChannel(ctx, reg.channel); err != nil {
		r.log.Error("realtime: error unsubscribing from attendance logs", "err", err)
		return
	}
	r.log.Info("realtime: unsubscribed from attendance logs")
}

// SubscribeForSession starts listening for new attendance logs of one
// session. An invalid sessionID is reported to onError before returning and
// nothing is subscribed. A previous subscription for the same session is
// released first. Transport errors are reported to onError and remove the
// subscription.
func (r *Registry) SubscribeForSession(ctx context.Context, sessionID string, onEvent EventFunc, onError ErrorFunc) {
	id, err := ParseSessionID(sessionID)
	if err != nil {
		r.log.Error("realtime: invalid session id for session report listener", "session", sessionID)
		if onError != nil {
			onError("Invalid sessionId for Realtime subscription.", err)
		}
		return
	}

	unlock := r.keys.lock(id)
	r.mu.Lock()
	prev := r.sessions[id]
	r.mu.Unlock()
	if prev != nil {
		r.log.Warn("realtime: replacing existing session report listener", "session", id)
		r.releaseSession(ctx, id, prev)
	}

	reg := &registration{onEvent: onEvent, onError: onError}
	reg.channel = r.transport.Channel(sessionChannelPrefix + strconv.FormatInt(id, 10))
	reg.channel.OnChange(SessionInsertFilter(id), reg.deliver)

	r.mu.Lock()
	r.sessions[id] = reg
	r.mu.Unlock()
	unlock()

	reg.channel.Subscribe(func(status Status, err error) {
		r.sessionStatus(id, reg, status, err)
	})
}

func (r *Registry) sessionStatus(id int64, reg *registration, status Status, err error) {
	switch status {
	case StatusConnecting:
		r.log.Debug("realtime: joining session report channel", "session", id)
	case StatusSubscribed:
		r.log.Info("realtime: subscribed to session report updates", "session", id)
	case StatusChannelError, StatusTimedOut:
		if reg.detached.Load() {
			return
		}
		r.log.Error("realtime: session report channel failed", "session", id, "status", status, "err", err)
		if reg.onError != nil {
			reg.onError(fmt.Sprintf("Realtime (Session Report %d) Error: %s", id, status), err)
		}
		r.teardownSession(id, reg)
	case StatusClosed:
		r.log.Info("realtime: session report channel closed", "session", id)
		r.mu.Lock()
		if r.sessions[id] == reg {
			delete(r.sessions, id)
		}
		r.mu.Unlock()
		reg.detached.Store(true)
	default:
		r.log.Warn("realtime: unknown channel status", "session", id, "status", status)
	}
}

// teardownSession releases reg if it still occupies the key.
func (r *Registry) teardownSession(id int64, reg *registration) {
	unlock := r.keys.lock(id)
	defer unlock()

	r.mu.Lock()
	current := r.sessions[id] == reg
	r.mu.Unlock()
	if !current {
		return
	}
	r.releaseSession(context.Background(), id, reg)
}

// UnsubscribeForSession releases the subscription for one session. Invalid
// identifiers and unknown sessions are ignored.
func (r *Registry) UnsubscribeForSession(ctx context.Context, sessionID string) {
	id, err := ParseSessionID(sessionID)
	if err != nil {
		return
	}

	unlock := r.keys.lock(id)
	defer unlock()

	r.mu.Lock()
	reg := r.sessions[id]
	r.mu.Unlock()
	if reg == nil {
		return
	}
	r.releaseSession(ctx, id, reg)
}

// releaseSession must be called with the key lock for id held.
func (r *Registry) releaseSession(ctx context.Context, id int64, reg *registration) {
	reg.detached.Store(true)
	defer func() {
		r.mu.Lock()
		if r.sessions[id] == reg {
			delete(r.sessions, id)
		}
		r.mu.Unlock()
	}()

	if err := r.transport.RemoveChannel(ctx, reg.channel); err != nil {
		r.log.Error("realtime: error unsubscribing from session report", "session", id, "err", err)
		return
	}
	r.log.Info("realtime: unsubscribed from session report updates", "session", id)
}

// HasGlobal reports whether the global stream is registered.
func (r *Registry) HasGlobal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.global != nil
}

// Sessions returns the registered session ids in ascending order.
func (r *Registry) Sessions() []int64 {
	r.mu.Lock()
	ids := make([]int64, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close releases every subscription.
func (r *Registry) Close(ctx context.Context) {
	r.UnsubscribeGlobal(ctx)
	for _, id := range r.Sessions() {
		r.UnsubscribeForSession(ctx, strconv.FormatInt(id, 10))
	}
}

// keyedMutex serializes operations per session id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key int64) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[int64]*keyLock)
	}
	l := k.locks[key]
	if l == nil {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

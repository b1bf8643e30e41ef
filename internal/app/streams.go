package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/attendance-app/client/internal/client"
	"github.com/attendance-app/client/internal/realtime"
	"github.com/attendance-app/client/internal/router"
)

const (
	globalStream        = "global"
	sessionStreamPrefix = "session:"
)

// streams keeps the realtime subscriptions in step with the current route.
// Registry calls run on one goroutine in the order they were requested, so
// leaving a view always finishes before the next view subscribes.
type streams struct {
	registry *realtime.Registry
	relay    *Relay
	log      *slog.Logger

	ops     chan func(context.Context)
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	current string // touched only by the Bubble Tea goroutine
	stopped bool
}

func newStreams(registry *realtime.Registry, relay *Relay, logger *slog.Logger) *streams {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &streams{
		registry: registry,
		relay:    relay,
		log:      logger,
		ops:      make(chan func(context.Context), 16),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	go s.run()
	return s
}

func (s *streams) run() {
	defer close(s.done)
	for op := range s.ops {
		op(s.ctx)
	}
}

// follow switches subscriptions to what loc needs and reports whether a
// live stream backs the view.
func (s *streams) follow(loc router.Location) bool {
	var want string
	switch loc.Name() {
	case router.Attendance:
		want = globalStream
	case router.SessionReport:
		want = sessionStreamPrefix + loc.Params["sessionId"]
	}
	live := want != ""
	if raw, ok := strings.CutPrefix(want, sessionStreamPrefix); ok {
		if _, err := realtime.ParseSessionID(raw); err != nil {
			live = false
		}
	}
	if s.stopped || want == s.current {
		return live && !s.stopped
	}

	prev := s.current
	s.current = want
	if prev != "" {
		s.ops <- func(ctx context.Context) { s.release(ctx, prev) }
	}
	if want != "" {
		s.ops <- func(ctx context.Context) { s.subscribe(ctx, want) }
	}
	return live
}

func (s *streams) subscribe(ctx context.Context, key string) {
	onError := func(reason string, err error) {
		s.relay.Push(streamErrorMsg{Reason: reason, Err: err})
	}
	if key == globalStream {
		s.registry.SubscribeGlobal(ctx, func(ev realtime.Event) {
			if log, ok := s.decode(ev); ok {
				s.relay.Push(logInsertedMsg{Log: log})
			}
		}, onError)
		return
	}

	raw := strings.TrimPrefix(key, sessionStreamPrefix)
	id, _ := realtime.ParseSessionID(raw)
	s.registry.SubscribeForSession(ctx, raw, func(ev realtime.Event) {
		if log, ok := s.decode(ev); ok {
			s.relay.Push(sessionLogMsg{SessionID: id, Log: log})
		}
	}, onError)
}

func (s *streams) release(ctx context.Context, key string) {
	if key == globalStream {
		s.registry.UnsubscribeGlobal(ctx)
		return
	}
	s.registry.UnsubscribeForSession(ctx, strings.TrimPrefix(key, sessionStreamPrefix))
}

func (s *streams) decode(ev realtime.Event) (client.AttendanceLog, bool) {
	var log client.AttendanceLog
	if err := json.Unmarshal(ev.Record, &log); err != nil {
		s.log.Warn("app: undecodable attendance log event", "table", ev.Table, "err", err)
		return log, false
	}
	return log, true
}

// stop releases the current subscription and waits for queued calls.
func (s *streams) stop() {
	if s.stopped {
		return
	}
	s.stopped = true
	if s.current != "" {
		prev := s.current
		s.current = ""
		s.ops <- func(ctx context.Context) { s.release(ctx, prev) }
	}
	close(s.ops)
	<-s.done
	s.cancel()
}

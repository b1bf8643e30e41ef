package realtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
)

type fakeChannel struct {
	name string

	mu       sync.Mutex
	filters  []ChangeFilter
	handlers []func(Event)
	status   StatusFunc
}

func (c *fakeChannel) Topic() string { return c.name }

func (c *fakeChannel) OnChange(filter ChangeFilter, fn func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters = append(c.filters, filter)
	c.handlers = append(c.handlers, fn)
}

func (c *fakeChannel) Subscribe(fn StatusFunc) {
	c.mu.Lock()
	c.status = fn
	c.mu.Unlock()
	fn(StatusConnecting, nil)
	fn(StatusSubscribed, nil)
}

func (c *fakeChannel) send(ev Event) {
	c.mu.Lock()
	handlers := append([]func(Event){}, c.handlers...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (c *fakeChannel) report(status Status, err error) {
	c.mu.Lock()
	fn := c.status
	c.mu.Unlock()
	if fn != nil {
		fn(status, err)
	}
}

type fakeTransport struct {
	mu        sync.Mutex
	channels  []*fakeChannel
	removed   []*fakeChannel
	removeErr error
}

func (t *fakeTransport) Channel(name string) Channel {
	c := &fakeChannel{name: name}
	t.mu.Lock()
	t.channels = append(t.channels, c)
	t.mu.Unlock()
	return c
}

func (t *fakeTransport) RemoveChannel(_ context.Context, ch Channel) error {
	c := ch.(*fakeChannel)
	t.mu.Lock()
	t.removed = append(t.removed, c)
	err := t.removeErr
	t.mu.Unlock()
	c.report(StatusClosed, nil)
	return err
}

func (t *fakeTransport) created() []*fakeChannel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*fakeChannel(nil), t.channels...)
}

func (t *fakeTransport) removedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.removed)
}

type recorder struct {
	mu      sync.Mutex
	events  []Event
	reasons []string
	errs    []error
}

func (r *recorder) onEvent(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) onError(reason string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
	r.errs = append(r.errs, err)
}

func (r *recorder) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) errorReasons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.reasons...)
}

func newTestRegistry() (*Registry, *fakeTransport) {
	t := &fakeTransport{}
	return NewRegistry(t, slog.New(slog.NewTextHandler(io.Discard, nil))), t
}

func insert(table string) Event {
	return Event{Schema: "public", Table: table, Type: "INSERT", Record: []byte(`{"id":1}`)}
}

func TestParseSessionID(t *testing.T) {
	tests := []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{"42", 42, false},
		{" 7 ", 7, false},
		{"1", 1, false},
		{"", 0, true},
		{"abc", 0, true},
		{"0", 0, true},
		{"-3", 0, true},
		{"1.5", 0, true},
		{"12abc", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSessionID(tt.raw)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidSessionID) {
				t.Errorf("ParseSessionID(%q) error = %v, want ErrInvalidSessionID", tt.raw, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseSessionID(%q) = %d, %v, want %d", tt.raw, got, err, tt.want)
		}
	}
}

func TestSessionInsertFilter(t *testing.T) {
	f := SessionInsertFilter(42)
	if f.Filter != "session_id=eq.42" {
		t.Errorf("Filter = %q, want %q", f.Filter, "session_id=eq.42")
	}
	if f.Event != "INSERT" || f.Schema != "public" || f.Table != "attendance_logs" {
		t.Errorf("SessionInsertFilter(42) = %+v", f)
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusConnecting, "CONNECTING"},
		{StatusSubscribed, "SUBSCRIBED"},
		{StatusChannelError, "CHANNEL_ERROR"},
		{StatusTimedOut, "TIMED_OUT"},
		{StatusClosed, "CLOSED"},
		{Status(99), "Status(99)"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", int(tt.status), got, tt.want)
		}
	}
}

func TestSubscribeGlobalDeliversEvents(t *testing.T) {
	reg, tr := newTestRegistry()
	var rec recorder
	reg.SubscribeGlobal(context.Background(), rec.onEvent, rec.onError)

	chans := tr.created()
	if len(chans) != 1 {
		t.Fatalf("channels created = %d, want 1", len(chans))
	}
	if chans[0].name != "public-attendance-log-inserts" {
		t.Errorf("channel name = %q", chans[0].name)
	}
	if len(chans[0].filters) != 1 || chans[0].filters[0] != LogInsertFilter() {
		t.Errorf("filters = %+v, want [%+v]", chans[0].filters, LogInsertFilter())
	}
	if !reg.HasGlobal() {
		t.Error("HasGlobal() = false, want true")
	}

	chans[0].send(insert("attendance_logs"))
	if got := rec.eventCount(); got != 1 {
		t.Errorf("events = %d, want 1", got)
	}
}

func TestSubscribeGlobalReplacesPrevious(t *testing.T) {
	reg, tr := newTestRegistry()
	var first, second recorder
	reg.SubscribeGlobal(context.Background(), first.onEvent, first.onError)
	reg.SubscribeGlobal(context.Background(), second.onEvent, second.onError)

	chans := tr.created()
	if len(chans) != 2 {
		t.Fatalf("channels created = %d, want 2", len(chans))
	}
	if got := tr.removedCount(); got != 1 {
		t.Errorf("removed = %d, want 1", got)
	}

	chans[0].send(insert("attendance_logs"))
	chans[1].send(insert("attendance_logs"))
	if got := first.eventCount(); got != 0 {
		t.Errorf("replaced subscription got %d events, want 0", got)
	}
	if got := second.eventCount(); got != 1 {
		t.Errorf("current subscription got %d events, want 1", got)
	}
	if !reg.HasGlobal() {
		t.Error("HasGlobal() = false after replacement")
	}
}

func TestGlobalErrorKeepsSubscription(t *testing.T) {
	reg, tr := newTestRegistry()
	var rec recorder
	reg.SubscribeGlobal(context.Background(), rec.onEvent, rec.onError)

	cause := errors.New("boom")
	tr.created()[0].report(StatusChannelError, cause)

	reasons := rec.errorReasons()
	if len(reasons) != 1 || reasons[0] != "Realtime (Attendance Logs) Error: CHANNEL_ERROR" {
		t.Errorf("reasons = %q", reasons)
	}
	if rec.errs[0] != cause {
		t.Errorf("err = %v, want %v", rec.errs[0], cause)
	}
	if !reg.HasGlobal() {
		t.Error("HasGlobal() = false, want true after channel error")
	}
	if got := tr.removedCount(); got != 0 {
		t.Errorf("removed = %d, want 0", got)
	}

	tr.created()[0].send(insert("attendance_logs"))
	if got := rec.eventCount(); got != 1 {
		t.Errorf("events after error = %d, want 1", got)
	}
}

func TestGlobalClosedClearsRegistration(t *testing.T) {
	reg, tr := newTestRegistry()
	var rec recorder
	reg.SubscribeGlobal(context.Background(), rec.onEvent, rec.onError)

	ch := tr.created()[0]
	ch.report(StatusClosed, nil)
	if reg.HasGlobal() {
		t.Error("HasGlobal() = true after close")
	}
	if got := tr.removedCount(); got != 0 {
		t.Errorf("removed = %d, want 0", got)
	}

	ch.send(insert("attendance_logs"))
	ch.report(StatusChannelError, nil)
	if rec.eventCount() != 0 || len(rec.errorReasons()) != 0 {
		t.Error("closed subscription still receives callbacks")
	}
}

func TestUnsubscribeGlobal(t *testing.T) {
	reg, tr := newTestRegistry()
	var rec recorder

	reg.UnsubscribeGlobal(context.Background())
	if got := tr.removedCount(); got != 0 {
		t.Errorf("removed = %d without a subscription", got)
	}

	reg.SubscribeGlobal(context.Background(), rec.onEvent, rec.onError)
	reg.UnsubscribeGlobal(context.Background())
	reg.UnsubscribeGlobal(context.Background())

	if reg.HasGlobal() {
		t.Error("HasGlobal() = true after unsubscribe")
	}
	if got := tr.removedCount(); got != 1 {
		t.Errorf("removed = %d, want 1", got)
	}
	tr.created()[0].send(insert("attendance_logs"))
	if got := rec.eventCount(); got != 0 {
		t.Errorf("events after unsubscribe = %d, want 0", got)
	}
}

func TestUnsubscribeGlobalRemoveFailure(t *testing.T) {
	reg, tr := newTestRegistry()
	tr.removeErr = errors.New("leave failed")
	var rec recorder

	reg.SubscribeGlobal(context.Background(), rec.onEvent, rec.onError)
	reg.UnsubscribeGlobal(context.Background())
	if reg.HasGlobal() {
		t.Error("HasGlobal() = true after failed release")
	}
}

func TestSubscribeForSessionInvalidID(t *testing.T) {
	for _, raw := range []string{"", "abc", "0", "-3", "1.5"} {
		reg, tr := newTestRegistry()
		var rec recorder
		reg.SubscribeForSession(context.Background(), raw, rec.onEvent, rec.onError)

		reasons := rec.errorReasons()
		if len(reasons) != 1 || reasons[0] != "Invalid sessionId for Realtime subscription." {
			t.Errorf("SubscribeForSession(%q) reasons = %q", raw, reasons)
			continue
		}
		if !errors.Is(rec.errs[0], ErrInvalidSessionID) {
			t.Errorf("SubscribeForSession(%q) err = %v, want ErrInvalidSessionID", raw, rec.errs[0])
		}
		if n := len(tr.created()); n != 0 {
			t.Errorf("SubscribeForSession(%q) created %d channels", raw, n)
		}
		if ids := reg.Sessions(); len(ids) != 0 {
			t.Errorf("SubscribeForSession(%q) Sessions() = %v", raw, ids)
		}
	}
}

func TestSubscribeForSession(t *testing.T) {
	reg, tr := newTestRegistry()
	var rec recorder
	reg.SubscribeForSession(context.Background(), "7", rec.onEvent, rec.onError)

	chans := tr.created()
	if len(chans) != 1 || chans[0].name != "session-report-7" {
		t.Fatalf("channels = %+v", chans)
	}
	if chans[0].filters[0].Filter != "session_id=eq.7" {
		t.Errorf("filter = %q", chans[0].filters[0].Filter)
	}
	if ids := reg.Sessions(); len(ids) != 1 || ids[0] != 7 {
		t.Errorf("Sessions() = %v, want [7]", ids)
	}

	chans[0].send(insert("attendance_logs"))
	if got := rec.eventCount(); got != 1 {
		t.Errorf("events = %d, want 1", got)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	reg, tr := newTestRegistry()
	var one, two recorder
	reg.SubscribeForSession(context.Background(), "1", one.onEvent, one.onError)
	reg.SubscribeForSession(context.Background(), "2", two.onEvent, two.onError)

	reg.UnsubscribeForSession(context.Background(), "1")
	if ids := reg.Sessions(); len(ids) != 1 || ids[0] != 2 {
		t.Errorf("Sessions() = %v, want [2]", ids)
	}

	chans := tr.created()
	chans[0].send(insert("attendance_logs"))
	chans[1].send(insert("attendance_logs"))
	if one.eventCount() != 0 || two.eventCount() != 1 {
		t.Errorf("events = %d, %d, want 0, 1", one.eventCount(), two.eventCount())
	}
}

func TestSessionErrorTearsDown(t *testing.T) {
	reg, tr := newTestRegistry()
	var rec recorder
	reg.SubscribeForSession(context.Background(), "7", rec.onEvent, rec.onError)

	ch := tr.created()[0]
	ch.report(StatusTimedOut, ErrJoinTimeout)

	reasons := rec.errorReasons()
	if len(reasons) != 1 || reasons[0] != "Realtime (Session Report 7) Error: TIMED_OUT" {
		t.Errorf("reasons = %q", reasons)
	}
	if got := tr.removedCount(); got != 1 {
		t.Errorf("removed = %d, want 1", got)
	}
	if ids := reg.Sessions(); len(ids) != 0 {
		t.Errorf("Sessions() = %v after error", ids)
	}

	// Late callbacks from the torn down channel are dropped.
	ch.report(StatusChannelError, nil)
	ch.send(insert("attendance_logs"))
	if len(rec.errorReasons()) != 1 || rec.eventCount() != 0 {
		t.Error("torn down subscription still receives callbacks")
	}
}

func TestSessionResubscribeReplaces(t *testing.T) {
	reg, tr := newTestRegistry()
	var first, second recorder
	reg.SubscribeForSession(context.Background(), "7", first.onEvent, first.onError)
	reg.SubscribeForSession(context.Background(), "7", second.onEvent, second.onError)

	if got := tr.removedCount(); got != 1 {
		t.Errorf("removed = %d, want 1", got)
	}
	if ids := reg.Sessions(); len(ids) != 1 || ids[0] != 7 {
		t.Errorf("Sessions() = %v, want [7]", ids)
	}

	chans := tr.created()
	chans[0].send(insert("attendance_logs"))
	chans[1].send(insert("attendance_logs"))
	if first.eventCount() != 0 || second.eventCount() != 1 {
		t.Errorf("events = %d, %d, want 0, 1", first.eventCount(), second.eventCount())
	}
}

func TestSessionClosedDropsKey(t *testing.T) {
	reg, tr := newTestRegistry()
	var rec recorder
	reg.SubscribeForSession(context.Background(), "7", rec.onEvent, rec.onError)

	tr.created()[0].report(StatusClosed, nil)
	if ids := reg.Sessions(); len(ids) != 0 {
		t.Errorf("Sessions() = %v after close", ids)
	}
	if got := tr.removedCount(); got != 0 {
		t.Errorf("removed = %d, want 0", got)
	}
}

func TestUnsubscribeForSessionIgnoresUnknown(t *testing.T) {
	reg, tr := newTestRegistry()
	reg.UnsubscribeForSession(context.Background(), "99")
	reg.UnsubscribeForSession(context.Background(), "not-a-number")
	if got := tr.removedCount(); got != 0 {
		t.Errorf("removed = %d, want 0", got)
	}
}

func TestUnsubscribeForSessionRemoveFailure(t *testing.T) {
	reg, tr := newTestRegistry()
	tr.removeErr = errors.New("leave failed")
	var rec recorder

	reg.SubscribeForSession(context.Background(), "5", rec.onEvent, rec.onError)
	reg.UnsubscribeForSession(context.Background(), "5")
	reg.UnsubscribeForSession(context.Background(), "5")

	if ids := reg.Sessions(); len(ids) != 0 {
		t.Errorf("Sessions() = %v after failed release", ids)
	}
	if got := tr.removedCount(); got != 1 {
		t.Errorf("removed = %d, want 1", got)
	}
}

func TestRegistryClose(t *testing.T) {
	reg, tr := newTestRegistry()
	var rec recorder
	reg.SubscribeGlobal(context.Background(), rec.onEvent, rec.onError)
	reg.SubscribeForSession(context.Background(), "1", rec.onEvent, rec.onError)
	reg.SubscribeForSession(context.Background(), "2", rec.onEvent, rec.onError)

	reg.Close(context.Background())
	if reg.HasGlobal() || len(reg.Sessions()) != 0 {
		t.Errorf("after Close: HasGlobal() = %v, Sessions() = %v", reg.HasGlobal(), reg.Sessions())
	}
	if got := tr.removedCount(); got != 3 {
		t.Errorf("removed = %d, want 3", got)
	}
}

func TestConcurrentSessionSubscribe(t *testing.T) {
	reg, tr := newTestRegistry()
	const n = 20

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var rec recorder
			reg.SubscribeForSession(context.Background(), "5", rec.onEvent, rec.onError)
		}()
	}
	wg.Wait()

	if got := len(tr.created()); got != n {
		t.Errorf("channels created = %d, want %d", got, n)
	}
	if got := tr.removedCount(); got != n-1 {
		t.Errorf("removed = %d, want %d", got, n-1)
	}
	if ids := reg.Sessions(); len(ids) != 1 || ids[0] != 5 {
		t.Errorf("Sessions() = %v, want [5]", ids)
	}

	reg.keys.mu.Lock()
	left := len(reg.keys.locks)
	reg.keys.mu.Unlock()
	if left != 0 {
		t.Errorf("key locks left = %d, want 0", left)
	}
}

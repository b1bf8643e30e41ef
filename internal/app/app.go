// Package app is the root Bubble Tea model. It routes navigation through
// the router, loads each view's data from the backend and feeds realtime
// events into the views that asked for them.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/attendance-app/client/internal/auth"
	"github.com/attendance-app/client/internal/client"
	"github.com/attendance-app/client/internal/realtime"
	"github.com/attendance-app/client/internal/router"
	"github.com/attendance-app/client/internal/theme"
	"github.com/attendance-app/client/internal/views/attendance"
	"github.com/attendance-app/client/internal/views/debug"
	"github.com/attendance-app/client/internal/views/home"
	"github.com/attendance-app/client/internal/views/login"
	"github.com/attendance-app/client/internal/views/sessionreport"
	"github.com/attendance-app/client/internal/views/sessions"
	"github.com/attendance-app/client/internal/views/status"
	"github.com/attendance-app/client/internal/views/studentreport"
	"github.com/attendance-app/client/internal/views/students"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Deps are the services the model drives. Registry may be nil, in which
// case views load once and never update live.
type Deps struct {
	API      *client.Client
	Gateway  *auth.Gateway
	Router   *router.Router
	Registry *realtime.Registry
	Relay    *Relay
	Debug    *debug.Log
	Logger   *slog.Logger
	// Style is the glamour style of the student report.
	Style string
}

// Model is the root Bubble Tea model.
type Model struct {
	api     *client.Client
	gateway *auth.Gateway
	router  *router.Router
	relay   *Relay
	streams *streams
	log     *slog.Logger
	style   string
	ctx     context.Context
	cancel  context.CancelFunc
	unwatch func()

	keys   KeyMap
	width  int
	height int

	// Navigation.
	loc    router.Location
	navSeq int
	notice string

	// Sub-views.
	statusBar     status.Model
	login         login.Model
	home          home.Model
	students      students.Model
	studentReport studentreport.Model
	sessions      sessions.Model
	sessionReport sessionreport.Model
	attendance    attendance.Model
	debug         debug.Model
	showDebug     bool
	spinner       spinner.Model
}

// New creates the root model. It starts watching the session state at
// once; call Close when the program exits.
func New(d Deps) Model {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Relay == nil {
		d.Relay = NewRelay()
	}
	if d.Debug == nil {
		d.Debug = debug.NewLog()
	}
	ctx, cancel := context.WithCancel(context.Background())

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.ColorAccent)

	m := Model{
		api:        d.API,
		gateway:    d.Gateway,
		router:     d.Router,
		relay:      d.Relay,
		log:        d.Logger,
		style:      d.Style,
		ctx:        ctx,
		cancel:     cancel,
		keys:       DefaultKeyMap(),
		statusBar:  status.New(),
		login:      login.New(),
		home:       home.New(),
		students:   students.New(),
		sessions:   sessions.New(),
		attendance: attendance.New(),
		debug:      debug.New(d.Debug),
		spinner:    sp,
		navSeq:     1,
	}
	if d.Registry != nil {
		m.streams = newStreams(d.Registry, d.Relay, d.Logger)
	}
	relay := d.Relay
	m.unwatch = d.Gateway.State().Watch(func(s auth.Snapshot) {
		relay.Push(authChangedMsg{Snapshot: s})
	})
	if u := d.Gateway.Snapshot().User; u != nil {
		m.statusBar.User = u.Email
	}
	return m
}

// Close stops the session watcher and releases live subscriptions.
func (m Model) Close() {
	if m.unwatch != nil {
		m.unwatch()
	}
	if m.streams != nil {
		m.streams.stop()
	}
	m.cancel()
	m.relay.Close()
}

// Init resolves the session by navigating to the home route.
func (m Model) Init() tea.Cmd {
	r := m.router
	return tea.Batch(m.relay.Next(), m.spinner.Tick, navigateCmd(m.ctx, m.navSeq, func(ctx context.Context) (router.Location, error) {
		return r.Navigate(ctx, "/")
	}))
}

// navigate runs a router call off the Bubble Tea goroutine. Results of
// superseded navigations are dropped.
func (m *Model) navigate(fn func(ctx context.Context) (router.Location, error)) tea.Cmd {
	m.navSeq++
	return navigateCmd(m.ctx, m.navSeq, fn)
}

func navigateCmd(ctx context.Context, seq int, fn func(ctx context.Context) (router.Location, error)) tea.Cmd {
	return func() tea.Msg {
		loc, err := fn(ctx)
		return navigatedMsg{seq: seq, loc: loc, err: err}
	}
}

func (m *Model) push(name string, params router.Params) tea.Cmd {
	r := m.router
	return m.navigate(func(ctx context.Context) (router.Location, error) {
		return r.Push(ctx, name, params, nil)
	})
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.login.Width = msg.Width
		m.home.Width = msg.Width
		m.students.Width, m.students.Height = msg.Width, msg.Height
		m.studentReport.Width = msg.Width
		m.sessions.Width = msg.Width
		m.sessionReport.Width = msg.Width
		m.attendance.Width, m.attendance.Height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case navigatedMsg:
		if msg.seq != m.navSeq {
			return m, nil
		}
		if msg.err != nil {
			m.log.Error("router: navigation failed", "err", msg.err)
			m.notice = msg.err.Error()
			return m, nil
		}
		return m.enter(msg.loc)

	// Relayed messages re-arm the relay.
	case ConnectionMsg:
		m.statusBar.Connected = msg.Connected
		return m, m.relay.Next()

	case authChangedMsg:
		return m.authChanged(msg.Snapshot)

	case logInsertedMsg:
		var cmd tea.Cmd
		if m.loc.Name() == router.Attendance && m.attendance.Prepend(msg.Log) {
			// The insert carries no joined student or session details.
			cmd = m.loadLogs()
		}
		return m, tea.Batch(m.relay.Next(), cmd)

	case sessionLogMsg:
		var cmd tea.Cmd
		if m.loc.Name() == router.SessionReport && msg.SessionID == m.sessionReport.SessionID {
			var found bool
			found, cmd = m.sessionReport.ApplyLog(msg.Log)
			if !found {
				cmd = m.loadSessionReport(m.sessionReport.SessionID)
			}
		}
		return m, tea.Batch(m.relay.Next(), cmd)

	case streamErrorMsg:
		m.notice = msg.Reason
		m.statusBar.Live = false
		return m, m.relay.Next()

	// Command results.
	case signedInMsg:
		if msg.err != nil {
			m.login.Busy = false
			m.login.Err = msg.err.Error()
			return m, nil
		}
		m.statusBar.User = msg.user.Email
		target := m.loc.Query.Get(router.RedirectParam)
		if target == "" {
			target = "/"
		}
		r := m.router
		return m, m.navigate(func(ctx context.Context) (router.Location, error) {
			return r.Navigate(ctx, target)
		})

	case signedOutMsg:
		if msg.err != nil {
			m.log.Warn("auth: sign-out failed on the server", "err", msg.err)
		}
		m.statusBar.User = ""
		return m, m.navigate(m.router.Refresh)

	case dashboardMsg:
		m.home.Dashboard, m.home.Err = msg.dashboard, msg.err
		return m, nil

	case studentsMsg:
		m.students.SetRows(msg.rows, msg.err)
		return m, nil

	case studentReportMsg:
		if msg.id == m.studentReport.StudentID {
			m.studentReport.Rows, m.studentReport.Err, m.studentReport.Loading = msg.rows, msg.err, false
		}
		return m, nil

	case sessionsMsg:
		m.sessions.SetRows(msg.rows, msg.err)
		return m, nil

	case sessionReportMsg:
		if msg.id != m.sessionReport.SessionID {
			return m, nil
		}
		if msg.className != "" {
			m.sessionReport.ClassName = msg.className
		}
		return m, m.sessionReport.SetRows(msg.rows, msg.err)

	case sessionreport.FrameMsg:
		var cmd tea.Cmd
		m.sessionReport, cmd = m.sessionReport.Update(msg)
		return m, cmd

	case logsMsg:
		m.attendance.SetRows(msg.rows, msg.err)
		return m, nil

	case actionMsg:
		if msg.err != nil {
			m.log.Error("api: action failed", "action", msg.done, "err", msg.err)
			m.notice = msg.err.Error()
			return m, nil
		}
		m.log.Info("api: " + msg.done)
		m.notice = ""
		return m, m.reload()

	case reviewedMsg:
		if msg.err != nil {
			m.log.Error("api: review failed", "log", msg.id, "err", msg.err)
			m.attendance.Notice = msg.err.Error()
			return m, nil
		}
		m.attendance.Notice = ""
		m.attendance.SetStatus(msg.id, msg.status, msg.reason)
		return m, nil

	case login.SubmitMsg:
		g, ctx := m.gateway, m.ctx
		return m, func() tea.Msg {
			u, err := g.SignIn(ctx, msg.Email, msg.Password)
			return signedInMsg{user: u, err: err}
		}

	case sessions.StartMsg:
		api, ctx := m.api, m.ctx
		return m, func() tea.Msg {
			_, err := api.StartSession(ctx, msg.Name, msg.ClassName)
			return actionMsg{done: fmt.Sprintf("started session %q", msg.Name), err: err}
		}

	case attendance.ReviewMsg:
		api, ctx := m.api, m.ctx
		return m, func() tea.Msg {
			_, err := api.UpdateScanStatus(ctx, msg.LogID, msg.Status, msg.Reason)
			return reviewedMsg{id: msg.LogID, status: msg.Status, reason: msg.Reason, err: err}
		}
	}

	return m, nil
}

// enter makes loc the current view and starts loading its data.
func (m Model) enter(loc router.Location) (tea.Model, tea.Cmd) {
	m.loc = loc
	m.notice = ""
	m.statusBar.Route = loc.FullPath()
	if m.streams != nil {
		m.statusBar.Live = m.streams.follow(loc)
	}

	switch loc.Name() {
	case router.Login:
		m.login.Reset()
		return m, nil

	case router.StudentReport:
		id, err := strconv.ParseInt(loc.Params["studentId"], 10, 64)
		if err != nil || id <= 0 {
			m.notice = fmt.Sprintf("Invalid student id %q", loc.Params["studentId"])
			return m, nil
		}
		var name string
		if s, ok := m.students.Selected(); ok && s.ID == id {
			name = s.FullName
		}
		m.studentReport = studentreport.New(id, name)
		m.studentReport.Width = m.width
		m.studentReport.Style = m.style

	case router.SessionReport:
		id, err := realtime.ParseSessionID(loc.Params["sessionId"])
		if err != nil {
			m.notice = err.Error()
			return m, nil
		}
		if id != m.sessionReport.SessionID || m.sessionReport.Err != nil {
			m.sessionReport = sessionreport.New(id)
			m.sessionReport.Width = m.width
		}
	}
	return m, m.reload()
}

// reload fetches the data of the current view.
func (m Model) reload() tea.Cmd {
	api, ctx := m.api, m.ctx
	switch m.loc.Name() {
	case router.Home:
		return func() tea.Msg {
			d, err := api.FetchDashboard(ctx)
			return dashboardMsg{dashboard: d, err: err}
		}
	case router.Students:
		filter := m.students.Filter()
		return func() tea.Msg {
			rows, err := api.FetchStudents(ctx, filter)
			return studentsMsg{rows: rows, err: err}
		}
	case router.StudentReport:
		id := m.studentReport.StudentID
		if id == 0 {
			return nil
		}
		return func() tea.Msg {
			rows, err := api.FetchStudentAttendanceSummary(ctx, id)
			return studentReportMsg{id: id, rows: rows, err: err}
		}
	case router.Sessions:
		return func() tea.Msg {
			rows, err := api.FetchSessions(ctx)
			return sessionsMsg{rows: rows, err: err}
		}
	case router.SessionReport:
		if m.sessionReport.SessionID == 0 {
			return nil
		}
		return m.loadSessionReport(m.sessionReport.SessionID)
	case router.Attendance:
		return m.loadLogs()
	}
	return nil
}

func (m Model) loadSessionReport(id int64) tea.Cmd {
	api, ctx := m.api, m.ctx
	return func() tea.Msg {
		rows, err := api.FetchSessionAttendanceReport(ctx, id)
		msg := sessionReportMsg{id: id, rows: rows, err: err}
		if err == nil {
			msg.className = api.SessionClassName(ctx, id)
		}
		return msg
	}
}

func (m Model) loadLogs() tea.Cmd {
	api, ctx, filter := m.api, m.ctx, m.attendance.Filter()
	return func() tea.Msg {
		rows, err := api.FetchAttendanceLogs(ctx, filter)
		return logsMsg{rows: rows, err: err}
	}
}

// authChanged follows session changes made outside the login form, such as
// an expired refresh token or a sign-out from another command.
func (m Model) authChanged(s auth.Snapshot) (tea.Model, tea.Cmd) {
	cmds := []tea.Cmd{m.relay.Next()}
	m.statusBar.User = ""
	if s.User != nil {
		m.statusBar.User = s.User.Email
	}
	if s.User == nil && !s.Loading && m.loc.Route != nil && m.router.Table().RequiresAuth(m.loc.Route) {
		m.log.Info("auth: session ended, leaving protected view", "route", m.loc.Name())
		cmds = append(cmds, m.navigate(m.router.Refresh))
	}
	return m, tea.Batch(cmds...)
}

// typing reports whether keys go to a text input.
func (m Model) typing() bool {
	return m.loc.Name() == router.Login || m.sessions.Creating || m.attendance.Rejecting
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.ForceQuit) {
		return m, tea.Quit
	}

	if m.showDebug {
		switch {
		case key.Matches(msg, m.keys.Debug), key.Matches(msg, m.keys.Back):
			m.showDebug = false
		case key.Matches(msg, m.keys.Up):
			m.debug.ScrollUp(1)
		case key.Matches(msg, m.keys.Down):
			m.debug.ScrollDown(1)
		}
		return m, nil
	}

	if m.typing() {
		var cmd tea.Cmd
		switch {
		case m.loc.Name() == router.Login:
			m.login, cmd = m.login.Update(msg)
		case m.sessions.Creating:
			m.sessions, cmd = m.sessions.UpdateForm(msg)
		case m.attendance.Rejecting:
			m.attendance, cmd = m.attendance.UpdateReject(msg)
		}
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Debug):
		m.showDebug = true
		m.debug.Offset = 0
		return m, nil
	case key.Matches(msg, m.keys.Home):
		return m, m.push(router.Home, nil)
	case key.Matches(msg, m.keys.Students):
		return m, m.push(router.Students, nil)
	case key.Matches(msg, m.keys.Sessions):
		return m, m.push(router.Sessions, nil)
	case key.Matches(msg, m.keys.Attendance):
		return m, m.push(router.Attendance, nil)
	case key.Matches(msg, m.keys.Back):
		return m, m.navigate(m.router.Back)
	case key.Matches(msg, m.keys.Reload):
		return m, m.reload()
	case key.Matches(msg, m.keys.SignOut):
		g, ctx := m.gateway, m.ctx
		return m, func() tea.Msg { return signedOutMsg{err: g.SignOut(ctx)} }
	}

	return m.viewKey(msg)
}

// viewKey handles the keys of the current view.
func (m Model) viewKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.loc.Name() {
	case router.Students:
		switch {
		case key.Matches(msg, m.keys.Up):
			m.students.Up()
		case key.Matches(msg, m.keys.Down):
			m.students.Down()
		case key.Matches(msg, m.keys.Cycle):
			m.students.NextClass()
			return m, m.reload()
		case key.Matches(msg, m.keys.Enter):
			if s, ok := m.students.Selected(); ok {
				return m, m.push(router.StudentReport, router.Params{"studentId": strconv.FormatInt(s.ID, 10)})
			}
		}

	case router.Sessions:
		switch {
		case key.Matches(msg, m.keys.Up):
			m.sessions.Up()
		case key.Matches(msg, m.keys.Down):
			m.sessions.Down()
		case key.Matches(msg, m.keys.New):
			return m, m.sessions.OpenForm()
		case key.Matches(msg, m.keys.End):
			if !m.sessions.HasOpen() {
				m.sessions.Notice = "No session is open."
				return m, nil
			}
			api, ctx := m.api, m.ctx
			return m, func() tea.Msg {
				_, err := api.EndLatestSession(ctx)
				return actionMsg{done: "ended the latest session", err: err}
			}
		case key.Matches(msg, m.keys.Enter):
			if s, ok := m.sessions.Selected(); ok {
				return m, m.push(router.SessionReport, router.Params{"sessionId": strconv.FormatInt(s.ID, 10)})
			}
		}

	case router.Attendance:
		switch {
		case key.Matches(msg, m.keys.Up):
			m.attendance.Up()
		case key.Matches(msg, m.keys.Down):
			m.attendance.Down()
		case key.Matches(msg, m.keys.Cycle):
			m.attendance.NextStatus()
			return m, m.reload()
		case key.Matches(msg, m.keys.Approve):
			return m, m.attendance.Approve()
		case key.Matches(msg, m.keys.Reject):
			return m, m.attendance.StartReject()
		}
	}
	return m, nil
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	var body string
	switch {
	case m.showDebug:
		body = m.debug.View(m.width, m.height-4)
	case m.loc.Route == nil:
		body = m.spinner.View() + " Checking session..."
	default:
		body = m.viewBody()
	}

	sections := []string{m.statusBar.View(), body}
	if m.notice != "" {
		sections = append(sections, theme.StyleError.Render(m.notice))
	}
	sections = append(sections, theme.StyleDimmed.Render("  "+m.help()))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) viewBody() string {
	var body string
	loading := false
	switch m.loc.Name() {
	case router.Login:
		return m.login.View()
	case router.Home:
		body = m.home.View()
		loading = m.home.Dashboard == nil && m.home.Err == nil
	case router.Students:
		body, loading = m.students.View(), m.students.Loading
	case router.StudentReport:
		body, loading = m.studentReport.View(), m.studentReport.Loading
	case router.Sessions:
		body, loading = m.sessions.View(), m.sessions.Loading
	case router.SessionReport:
		body, loading = m.sessionReport.View(), m.sessionReport.Loading
	case router.Attendance:
		body, loading = m.attendance.View(), m.attendance.Loading
	}
	if loading {
		body = m.spinner.View() + " " + body
	}
	return body
}

func (m Model) help() string {
	nav := "1:home  2:students  3:sessions  4:attendance  esc:back  r:reload  o:sign out  d:debug  q:quit"
	switch m.loc.Name() {
	case router.Login:
		return "ctrl+c:quit"
	case router.Students:
		return "j/k:select  enter:report  c:class  " + nav
	case router.Sessions:
		return "j/k:select  enter:report  n:new  e:end  " + nav
	case router.Attendance:
		return "j/k:select  a:approve  x:reject  c:status  " + nav
	}
	return nav
}

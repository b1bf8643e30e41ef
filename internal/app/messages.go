package app

import (
	"github.com/attendance-app/client/internal/auth"
	"github.com/attendance-app/client/internal/client"
	"github.com/attendance-app/client/internal/router"
)

// --- Relayed messages ---

// ConnectionMsg reports the realtime socket state.
type ConnectionMsg struct{ Connected bool }

// authChangedMsg is sent after every session state change.
type authChangedMsg struct{ Snapshot auth.Snapshot }

// logInsertedMsg delivers a log from the global stream.
type logInsertedMsg struct{ Log client.AttendanceLog }

// sessionLogMsg delivers a log from one session's stream.
type sessionLogMsg struct {
	SessionID int64
	Log       client.AttendanceLog
}

// streamErrorMsg reports a failed realtime subscription.
type streamErrorMsg struct {
	Reason string
	Err    error
}

// --- Command results ---

type navigatedMsg struct {
	seq int
	loc router.Location
	err error
}

type signedInMsg struct {
	user *auth.User
	err  error
}

type signedOutMsg struct{ err error }

type dashboardMsg struct {
	dashboard *client.Dashboard
	err       error
}

type studentsMsg struct {
	rows []client.StudentSummary
	err  error
}

type studentReportMsg struct {
	id   int64
	rows []client.StudentAttendanceRow
	err  error
}

type sessionsMsg struct {
	rows []client.Session
	err  error
}

type sessionReportMsg struct {
	id        int64
	rows      []client.SessionReportRow
	className string
	err       error
}

type logsMsg struct {
	rows []client.AttendanceLog
	err  error
}

// actionMsg is the outcome of a write that should reload the current view.
type actionMsg struct {
	done string
	err  error
}

type reviewedMsg struct {
	id     int64
	status client.ScanStatus
	reason string
	err    error
}

package router

// Route names of the application.
const (
	Login         = "login"
	Home          = "home"
	Students      = "students"
	StudentReport = "student-report"
	Sessions      = "sessions"
	SessionReport = "session-report"
	Attendance    = "attendance"
)

// RedirectParam is the login query parameter holding the path to return to.
const RedirectParam = "redirect"

// DefaultRoutes returns the application's route table entries.
func DefaultRoutes() []Route {
	return []Route{
		{Name: Login, Path: "/login"},
		{Name: Home, Path: "/", RequiresAuth: true},
		{Name: Students, Path: "/students", RequiresAuth: true},
		{Name: StudentReport, Path: "/students/:studentId/report", RequiresAuth: true, Parent: Students},
		{Name: Sessions, Path: "/sessions", RequiresAuth: true},
		{Name: SessionReport, Path: "/sessions/:sessionId/report", RequiresAuth: true},
		{Name: Attendance, Path: "/attendance", RequiresAuth: true},
		{Path: CatchAll, Redirect: "/"},
	}
}

// DefaultTable builds the table of DefaultRoutes.
func DefaultTable() *Table {
	t, err := NewTable(DefaultRoutes()...)
	if err != nil {
		panic(err)
	}
	return t
}

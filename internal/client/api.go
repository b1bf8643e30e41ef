package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// PredefinedClasses are the class names offered everywhere a class is
// picked, sorted.
var PredefinedClasses = sortedClasses("ESE", "ELT", "AUTO", "GP", "INDUS", "PM", "SE", "RT", "IMSI")

func sortedClasses(names ...string) []string {
	sort.Strings(names)
	return names
}

// Classes returns a copy of PredefinedClasses.
func Classes() []string { return append([]string(nil), PredefinedClasses...) }

// StudentFilter narrows FetchStudents. Empty fields match everything.
type StudentFilter struct {
	Name      string
	ClassName string
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func cleanName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// FetchStudents lists students with their attendance stats.
func (c *Client) FetchStudents(ctx context.Context, f StudentFilter) ([]StudentSummary, error) {
	var out []StudentSummary
	err := c.RPC(ctx, "get_students_with_summary_stats", map[string]any{
		"p_name_filter":  nullable(f.Name),
		"p_class_filter": nullable(f.ClassName),
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("fetch students: %w", err)
	}
	if out == nil {
		out = []StudentSummary{}
	}
	for i := range out {
		if p := out[i].FaceImagePath; p != nil {
			out[i].FaceImageURL = c.PublicURL(FaceImagesBucket, *p)
		}
	}
	return out, nil
}

// AddStudent inserts a student. The tag UID is trimmed and upper-cased.
func (c *Client) AddStudent(ctx context.Context, in StudentInput) (*Student, error) {
	if strings.TrimSpace(in.TagUID) == "" || strings.TrimSpace(in.FullName) == "" {
		return nil, errors.New("add student: tag uid and full name are required")
	}
	row := map[string]any{
		"tag_uid":         NormalizeTagUID(in.TagUID),
		"full_name":       cleanName(in.FullName),
		"class_name":      in.ClassName,
		"face_image_path": nullable(in.FaceImagePath),
	}
	var out Student
	if err := c.insertSingle(ctx, "students", row, &out); err != nil {
		return nil, fmt.Errorf("add student: %w", err)
	}
	return &out, nil
}

// UpdateStudent changes the name, class and face image of a student. The
// tag UID cannot be changed.
func (c *Client) UpdateStudent(ctx context.Context, id int64, in StudentInput) (*Student, error) {
	patch := map[string]any{
		"full_name":       cleanName(in.FullName),
		"class_name":      in.ClassName,
		"face_image_path": nullable(in.FaceImagePath),
	}
	var out Student
	if err := c.updateSingle(ctx, "students", url.Values{"id": {eq(id)}}, patch, &out); err != nil {
		return nil, fmt.Errorf("update student %d: %w", id, err)
	}
	return &out, nil
}

// DeleteStudent removes a student.
func (c *Client) DeleteStudent(ctx context.Context, id int64) error {
	if err := c.deleteRows(ctx, "students", url.Values{"id": {eq(id)}}); err != nil {
		return fmt.Errorf("delete student %d: %w", id, err)
	}
	return nil
}

// FetchSessions lists sessions, newest first.
func (c *Client) FetchSessions(ctx context.Context) ([]Session, error) {
	var out []Session
	q := url.Values{"select": {"*"}, "order": {"started_at.desc"}}
	if err := c.selectRows(ctx, "sessions", q, &out); err != nil {
		return nil, fmt.Errorf("fetch sessions: %w", err)
	}
	return out, nil
}

// StartSession opens a new attendance session and returns the procedure's
// result.
func (c *Client) StartSession(ctx context.Context, name, className string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.RPC(ctx, "start_session", map[string]any{
		"p_name":       strings.TrimSpace(name),
		"p_class_name": className,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	return out, nil
}

// EndLatestSession closes the most recent open session.
func (c *Client) EndLatestSession(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.RPC(ctx, "end_latest_session", nil, &out); err != nil {
		return nil, fmt.Errorf("end latest session: %w", err)
	}
	return out, nil
}

// SessionClassName returns the class of a session, or "" when the session
// is unknown or the lookup fails.
func (c *Client) SessionClassName(ctx context.Context, sessionID int64) string {
	if sessionID <= 0 {
		return ""
	}
	var row struct {
		ClassName *string `json:"class_name"`
	}
	q := url.Values{"select": {"class_name"}, "id": {eq(sessionID)}}
	if err := c.selectSingle(ctx, "sessions", q, &row); err != nil {
		c.log.Error("client: error fetching session class name", "session", sessionID, "err", err)
		return ""
	}
	if row.ClassName == nil {
		return ""
	}
	return *row.ClassName
}

// FetchFilterOptions returns the sessions by name and the class list.
func (c *Client) FetchFilterOptions(ctx context.Context) (*FilterOptions, error) {
	var sessions []SessionOption
	q := url.Values{"select": {"id,name,class_name"}, "order": {"name.asc"}}
	if err := c.selectRows(ctx, "sessions", q, &sessions); err != nil {
		return nil, fmt.Errorf("fetch filter options: %w", err)
	}
	if sessions == nil {
		sessions = []SessionOption{}
	}
	return &FilterOptions{Sessions: sessions, Classes: Classes()}, nil
}

// FetchAttendanceLogs lists attendance logs with student and session details.
func (c *Client) FetchAttendanceLogs(ctx context.Context, f LogFilter) ([]AttendanceLog, error) {
	params, err := toParams(f)
	if err != nil {
		return nil, err
	}
	var out []AttendanceLog
	if err := c.RPC(ctx, "get_attendance_logs_with_details", params, &out); err != nil {
		return nil, fmt.Errorf("fetch attendance logs: %w", err)
	}
	if out == nil {
		out = []AttendanceLog{}
	}
	return out, nil
}

// FetchSessionAttendanceReport returns the per-student report of a session.
func (c *Client) FetchSessionAttendanceReport(ctx context.Context, sessionID int64) ([]SessionReportRow, error) {
	if sessionID <= 0 {
		return nil, errors.New("session id is required to fetch an attendance report")
	}
	var out []SessionReportRow
	err := c.RPC(ctx, "get_session_attendance_report", map[string]any{"p_session_id_param": sessionID}, &out)
	if err != nil {
		return nil, fmt.Errorf("fetch session %d report: %w", sessionID, err)
	}
	if out == nil {
		out = []SessionReportRow{}
	}
	return out, nil
}

// FetchStudentAttendanceSummary returns the per-session attendance of a
// student.
func (c *Client) FetchStudentAttendanceSummary(ctx context.Context, studentID int64) ([]StudentAttendanceRow, error) {
	if studentID <= 0 {
		return nil, errors.New("student id is required to fetch attendance summary")
	}
	var out []StudentAttendanceRow
	err := c.RPC(ctx, "get_student_attendance_summary", map[string]any{"p_student_id_param": studentID}, &out)
	if err != nil {
		return nil, fmt.Errorf("fetch student %d summary: %w", studentID, err)
	}
	if out == nil {
		out = []StudentAttendanceRow{}
	}
	return out, nil
}

// FetchDashboard returns the active session and the row counts.
func (c *Client) FetchDashboard(ctx context.Context) (*Dashboard, error) {
	var active []Session
	q := url.Values{
		"select":   {"*"},
		"ended_at": {"is.null"},
		"order":    {"started_at.desc"},
		"limit":    {"1"},
	}
	if err := c.selectRows(ctx, "sessions", q, &active); err != nil {
		return nil, fmt.Errorf("fetch active session: %w", err)
	}
	d := &Dashboard{}
	if len(active) > 0 {
		d.ActiveSession = &active[0]
	}

	var err error
	if d.StudentCount, err = c.count(ctx, "students", nil); err != nil {
		return nil, fmt.Errorf("count students: %w", err)
	}
	if d.TotalSessionCount, err = c.count(ctx, "sessions", nil); err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	return d, nil
}

// UpdateScanStatus reviews an attendance log. The rejection reason is only
// sent when rejecting.
func (c *Client) UpdateScanStatus(ctx context.Context, logID int64, status ScanStatus, reason string) (json.RawMessage, error) {
	params := map[string]any{
		"p_log_id":     logID,
		"p_new_status": status,
	}
	if reason != "" && status == StatusRejected {
		params["p_rejection_reason"] = reason
	}
	c.log.Debug("client: updating scan status", "log", logID, "status", string(status))
	var out json.RawMessage
	if err := c.RPC(ctx, "update_scan_status", params, &out); err != nil {
		return nil, fmt.Errorf("update scan status of log %d: %w", logID, err)
	}
	return out, nil
}

// NormalizeTagUID trims and upper-cases a tag UID.
func NormalizeTagUID(uid string) string {
	return strings.ToUpper(strings.TrimSpace(uid))
}

// ScanAttendance records a tag scan from a reader. The result tells whether
// the backend acknowledged the scan (logged or debounced) or rejected it,
// for example because no session is open.
func (c *Client) ScanAttendance(ctx context.Context, tagUID, readerID string) (bool, error) {
	uid := NormalizeTagUID(tagUID)
	if uid == "" {
		return false, errors.New("scan attendance: empty tag uid")
	}
	params := map[string]any{"p_tag_uid": uid}
	if readerID != "" {
		params["p_reader_id"] = readerID
	}
	var out any
	if err := c.RPC(ctx, "scan_attendance", params, &out); err != nil {
		return false, fmt.Errorf("scan attendance for %s: %w", uid, err)
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("scan attendance for %s: %w: %v", uid, ErrUnexpectedResult, out)
	}
	return ok, nil
}

func toParams(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	params := map[string]any{}
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, err
	}
	return params, nil
}

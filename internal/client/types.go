package client

import (
	"bytes"
	"fmt"
	"time"
)

// Timestamp accepts the timestamp formats Postgres emits, with or without
// a zone offset.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	s := string(bytes.Trim(data, `"`))
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.UTC().Format(time.RFC3339Nano) + `"`), nil
}

// Student is a row of the students table.
type Student struct {
	ID            int64     `json:"id"`
	TagUID        string    `json:"tag_uid"`
	FullName      string    `json:"full_name"`
	ClassName     string    `json:"class_name"`
	FaceImagePath *string   `json:"face_image_path"`
	CreatedAt     Timestamp `json:"created_at"`

	// FaceImageURL is the public URL of FaceImagePath, filled in by
	// FetchStudents.
	FaceImageURL string `json:"face_image_url,omitempty"`
}

// StudentInput holds the editable fields of a student.
type StudentInput struct {
	TagUID        string
	FullName      string
	ClassName     string
	FaceImagePath string
}

// StudentSummary is a row of get_students_with_summary_stats.
type StudentSummary struct {
	Student
	TotalSessions    int     `json:"total_sessions"`
	AttendedSessions int     `json:"attended_sessions"`
	AttendanceRate   float64 `json:"attendance_rate"`
}

// Session is a row of the sessions table.
type Session struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	ClassName string     `json:"class_name"`
	StartedAt Timestamp  `json:"started_at"`
	EndedAt   *Timestamp `json:"ended_at"`
}

// Active reports whether the session has not ended.
func (s Session) Active() bool { return s.EndedAt == nil || s.EndedAt.IsZero() }

// SessionOption is a session as offered in filter pickers.
type SessionOption struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	ClassName string `json:"class_name"`
}

// FilterOptions are the choices for the attendance log filters.
type FilterOptions struct {
	Sessions []SessionOption
	Classes  []string
}

// ScanStatus is the review state of an attendance log.
type ScanStatus string

const (
	StatusPending  ScanStatus = "pending"
	StatusApproved ScanStatus = "approved"
	StatusRejected ScanStatus = "rejected"
)

// AttendanceLog is a row of get_attendance_logs_with_details, and the
// record of an attendance_logs insert.
type AttendanceLog struct {
	ID              int64      `json:"id"`
	StudentID       *int64     `json:"student_id"`
	SessionID       *int64     `json:"session_id"`
	TagUID          string     `json:"tag_uid"`
	ReaderID        string     `json:"reader_id"`
	Status          ScanStatus `json:"status"`
	RejectionReason *string    `json:"rejection_reason"`
	ScannedAt       Timestamp  `json:"scanned_at"`
	FullName        string     `json:"full_name,omitempty"`
	ClassName       string     `json:"class_name,omitempty"`
	SessionName     string     `json:"session_name,omitempty"`
}

// LogFilter selects attendance logs. Empty fields are not sent.
type LogFilter struct {
	SessionID int64      `json:"p_session_id,omitempty"`
	ClassName string     `json:"p_class_name,omitempty"`
	Status    ScanStatus `json:"p_status,omitempty"`
	Search    string     `json:"p_search,omitempty"`
}

// SessionReportRow is one student of get_session_attendance_report.
type SessionReportRow struct {
	StudentID int64      `json:"student_id"`
	FullName  string     `json:"full_name"`
	TagUID    string     `json:"tag_uid"`
	ClassName string     `json:"class_name"`
	Status    string     `json:"status"`
	ScannedAt *Timestamp `json:"scanned_at"`
}

// StudentAttendanceRow is one session of get_student_attendance_summary.
type StudentAttendanceRow struct {
	SessionID   int64      `json:"session_id"`
	SessionName string     `json:"session_name"`
	StartedAt   Timestamp  `json:"started_at"`
	Status      string     `json:"status"`
	ScannedAt   *Timestamp `json:"scanned_at"`
}

// Dashboard is the home view summary.
type Dashboard struct {
	ActiveSession     *Session
	StudentCount      int
	TotalSessionCount int
}

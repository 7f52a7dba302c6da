package events

import (
	"time"
)

// Source identifies this service in every published event
const Source = "exam-session-service"

// ===== EVENT TYPES =====

const (
	TypeExamPublished  = "exam.published"
	TypeSessionStarted = "session.started"
	TypeSessionSubmit  = "session.submitted"
	TypeSessionOutcome = "session.outcome_resolved"
	TypeOtpIssued      = "exam.otp_issued"
)

// Event is the envelope every payload travels in
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Source    string      `json:"source"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// ===== EVENT PAYLOADS =====

type ExamPublishedEvent struct {
	ExamID    uint      `json:"exam_id"`
	Title     string    `json:"title"`
	CreatedBy string    `json:"created_by"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type SessionStartedEvent struct {
	SessionID  uint      `json:"session_id"`
	ExamID     uint      `json:"exam_id"`
	StudentID  string    `json:"student_id"`
	StartTime  time.Time `json:"start_time"`
	SubmitTime time.Time `json:"submit_time"`
}

type SessionSubmittedEvent struct {
	SessionID       uint      `json:"session_id"`
	ExamID          uint      `json:"exam_id"`
	StudentID       string    `json:"student_id"`
	SubmittedBy     string    `json:"submitted_by"` // student or watchdog
	Score           *float64  `json:"score"`
	HasPendingEssay bool      `json:"has_pending_essay"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

type SessionOutcomeEvent struct {
	SessionID uint    `json:"session_id"`
	ExamID    uint    `json:"exam_id"`
	StudentID string  `json:"student_id"`
	Status    string  `json:"status"` // Passed or Failed
	Score     float64 `json:"score"`
}

// OtpIssuedEvent never carries the code itself, only that one was issued.
type OtpIssuedEvent struct {
	ExamID    uint      `json:"exam_id"`
	IssuedBy  string    `json:"issued_by"`
	ExpiresAt time.Time `json:"expires_at"`
}

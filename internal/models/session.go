package models

import (
	"time"

	"gorm.io/datatypes"
)

type SessionStatus string

const (
	SessionNotStarted SessionStatus = "NotStarted"
	SessionInProgress SessionStatus = "InProgress"
	SessionSubmitted  SessionStatus = "Submitted"
	SessionFailed     SessionStatus = "Failed"
	SessionPassed     SessionStatus = "Passed"
)

// IsTerminal reports whether the session has left the active phase. A
// student with only terminal sessions for an exam cannot resume; they get
// AlreadySubmitted on re-entry.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionSubmitted, SessionFailed, SessionPassed:
		return true
	}
	return false
}

// StudentExam is one student's sitting of one exam. Rows are never deleted;
// submitted sittings keep their answers as the historical record.
type StudentExam struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	ExamID    uint   `json:"exam_id" gorm:"not null;index:idx_session_exam_student"`
	StudentID string `json:"student_id" gorm:"not null;size:255;index:idx_session_exam_student"`

	Status SessionStatus `json:"status" gorm:"not null;default:NotStarted;index"`

	// StartTime is when the student entered. SubmitTime is the hard deadline,
	// fixed at creation as StartTime + exam Duration, never recomputed.
	StartTime  time.Time  `json:"start_time" gorm:"not null"`
	SubmitTime time.Time  `json:"submit_time" gorm:"not null;index"`
	EndedAt    *time.Time `json:"ended_at"`

	// Score stays null until submission; after grading it is the sum of
	// PointsEarned over the sheet.
	Score *float64 `json:"score"`

	SubmittedBy *string `json:"submitted_by" gorm:"size:32"` // student or watchdog

	// TotalQuestions snapshots the sheet size at entry time.
	TotalQuestions int `json:"total_questions" gorm:"not null;default:0"`

	IPAddress *string `json:"ip_address" gorm:"size:64"`
	UserAgent *string `json:"user_agent" gorm:"size:512"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Exam    Exam            `json:"exam" gorm:"foreignKey:ExamID"`
	Answers []StudentAnswer `json:"answers" gorm:"foreignKey:StudentExamID"`
}

// IsExpired reports whether the deadline has passed.
func (se *StudentExam) IsExpired(now time.Time) bool {
	return !now.Before(se.SubmitTime)
}

// StudentAnswer is one slot of a session's answer sheet, created empty when
// the session starts and updated in place on every save.
type StudentAnswer struct {
	ID            uint `json:"id" gorm:"primaryKey"`
	StudentExamID uint `json:"student_exam_id" gorm:"not null;uniqueIndex:idx_session_answer"`
	QuestionID    uint `json:"question_id" gorm:"not null;uniqueIndex:idx_session_answer"`

	// UserAnswer is null until the student first saves. The serialized shape
	// depends on the question type.
	UserAnswer datatypes.JSON `json:"user_answer" gorm:"type:jsonb"`

	// IsCorrect is null before grading and stays null for essays.
	IsCorrect    *bool   `json:"is_correct"`
	PointsEarned float64 `json:"points_earned" gorm:"not null;default:0"`
	TimeSpent    int     `json:"time_spent" gorm:"not null;default:0"` // Seconds

	GradedBy *string    `json:"graded_by" gorm:"size:255"`
	GradedAt *time.Time `json:"graded_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Question Question `json:"question" gorm:"foreignKey:QuestionID"`
}

func (StudentExam) TableName() string {
	return "student_exams"
}

func (StudentAnswer) TableName() string {
	return "student_answers"
}

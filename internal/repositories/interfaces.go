package repositories

import (
	"time"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

// ===== SHARED FILTER STRUCTS =====

type ExamFilters struct {
	Status    *models.ExamStatus `json:"status"`
	CreatedBy *string            `json:"created_by"`
	DateFrom  *time.Time         `json:"date_from"`
	DateTo    *time.Time         `json:"date_to"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
	SortBy    string             `json:"sort_by"`    // "created_at", "title", "start_time"
	SortOrder string             `json:"sort_order"` // "asc", "desc"
}

type QuestionFilters struct {
	Type      *models.QuestionType `json:"type"`
	CreatedBy *string              `json:"created_by"`
	Limit     int                  `json:"limit"`
	Offset    int                  `json:"offset"`
	SortBy    string               `json:"sort_by"`
	SortOrder string               `json:"sort_order"`
}

type SessionFilters struct {
	Status    *models.SessionStatus `json:"status"`
	StudentID *string               `json:"student_id"`
	ExamID    *uint                 `json:"exam_id"`
	DateFrom  *time.Time            `json:"date_from"`
	DateTo    *time.Time            `json:"date_to"`
	Limit     int                   `json:"limit"`
	Offset    int                   `json:"offset"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type AnswerFilters struct {
	IsGraded *bool      `json:"is_graded"`
	GradedBy *string    `json:"graded_by"`
	DateFrom *time.Time `json:"date_from"`
	DateTo   *time.Time `json:"date_to"`
	Limit    int        `json:"limit"`
	Offset   int        `json:"offset"`
}

// ===== SHARED STATISTICS STRUCTS =====

type ExamStats struct {
	TotalSessions     int     `json:"total_sessions"`
	SubmittedSessions int     `json:"submitted_sessions"`
	AverageScore      float64 `json:"average_score"`
	PassRate          float64 `json:"pass_rate"`
	QuestionCount     int     `json:"question_count"`
	TotalPoints       float64 `json:"total_points"`
}

type SessionStats struct {
	TotalSessions   int                          `json:"total_sessions"`
	StatusBreakdown map[models.SessionStatus]int `json:"status_breakdown"`
	AverageScore    float64                      `json:"average_score"`
	PassRate        float64                      `json:"pass_rate"`
	CompletionRate  float64                      `json:"completion_rate"`
}

type GradingStats struct {
	TotalAnswers   int     `json:"total_answers"`
	GradedAnswers  int     `json:"graded_answers"`
	PendingAnswers int     `json:"pending_answers"`
	AutoGraded     int     `json:"auto_graded"`
	ManualGraded   int     `json:"manual_graded"`
	AverageScore   float64 `json:"average_score"`
}

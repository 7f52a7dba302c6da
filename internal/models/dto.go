package models

import (
	"encoding/json"
	"time"
)

type ExamCreateRequest struct {
	Title               string    `json:"title" validate:"required,min=1,max=200"`
	Description         *string   `json:"description" validate:"omitempty,max=1000"`
	Duration            int       `json:"duration" validate:"required,min=1"`
	ExamType            ExamType  `json:"exam_type" validate:"omitempty,oneof=test midterm final"`
	Guidelines          *string   `json:"guidelines" validate:"omitempty,max=5000"`
	StartTime           time.Time `json:"start_time" validate:"required"`
	EndTime             time.Time `json:"end_time" validate:"required"`
	IsShowResult        bool      `json:"is_show_result"`
	IsShowCorrectAnswer bool      `json:"is_show_correct_answer"`
	RoomID              *uint     `json:"room_id"`
	QuestionIDs         []uint    `json:"question_ids"`
}

type ExamUpdateRequest struct {
	Title               *string    `json:"title" validate:"omitempty,min=1,max=200"`
	Description         *string    `json:"description" validate:"omitempty,max=1000"`
	Duration            *int       `json:"duration" validate:"omitempty,min=1"`
	ExamType            *ExamType  `json:"exam_type" validate:"omitempty,oneof=test midterm final"`
	Guidelines          *string    `json:"guidelines" validate:"omitempty,max=5000"`
	StartTime           *time.Time `json:"start_time"`
	EndTime             *time.Time `json:"end_time"`
	IsShowResult        *bool      `json:"is_show_result"`
	IsShowCorrectAnswer *bool      `json:"is_show_correct_answer"`
	QuestionIDs         []uint     `json:"question_ids"`
}

type QuestionCreateRequest struct {
	Type        QuestionType    `json:"type" validate:"min=0,max=3"`
	Text        string          `json:"text" validate:"required"`
	Point       float64         `json:"point" validate:"required,gt=0"`
	Content     json.RawMessage `json:"content"`
	Difficulty  DifficultyLevel `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	Explanation *string         `json:"explanation" validate:"omitempty,max=1000"`
	Attachment  *string         `json:"attachment" validate:"omitempty,url,max=500"`
}

type QuestionUpdateRequest struct {
	Text        *string          `json:"text" validate:"omitempty,min=1"`
	Point       *float64         `json:"point" validate:"omitempty,gt=0"`
	Content     json.RawMessage  `json:"content"`
	Difficulty  *DifficultyLevel `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	Explanation *string          `json:"explanation" validate:"omitempty,max=1000"`
	Attachment  *string          `json:"attachment" validate:"omitempty,url,max=500"`
}

type StartSessionRequest struct {
	ExamID  uint   `json:"exam_id" validate:"required"`
	OtpCode string `json:"otp_code" validate:"required,len=6"`
}

type SaveAnswerRequest struct {
	QuestionID uint            `json:"question_id" validate:"required"`
	Answer     json.RawMessage `json:"answer" validate:"required"`
	TimeSpent  *int            `json:"time_spent" validate:"omitempty,min=0"`
}

type ManualGradeRequest struct {
	QuestionID uint    `json:"question_id" validate:"required"`
	Points     float64 `json:"points" validate:"min=0"`
	Feedback   *string `json:"feedback" validate:"omitempty,max=1000"`
}

type ValidateOtpRequest struct {
	OtpCode string `json:"otp_code" validate:"required,len=6"`
}

type IssueOtpResponse struct {
	ExamID    uint      `json:"exam_id"`
	Code      string    `json:"code"`
	ExpiredAt time.Time `json:"expired_at"`
}

// ===== PAGINATION & FILTERING =====

type ListExamsParams struct {
	Page      int        `json:"page" validate:"min=0"`
	Size      int        `json:"size" validate:"min=1,max=100"`
	Status    ExamStatus `json:"status"`
	Search    string     `json:"search"`
	CreatedBy *string    `json:"created_by"`
	SortBy    string     `json:"sort_by"`
	SortDir   string     `json:"sort_dir" validate:"omitempty,oneof=asc desc"`
	DateFrom  *time.Time `json:"date_from"`
	DateTo    *time.Time `json:"date_to"`
}

type ListSessionsParams struct {
	Page      int           `json:"page" validate:"min=0"`
	Size      int           `json:"size" validate:"min=1,max=100"`
	ExamID    *uint         `json:"exam_id"`
	StudentID *string       `json:"student_id"`
	Status    SessionStatus `json:"status"`
	DateFrom  *time.Time    `json:"date_from"`
	DateTo    *time.Time    `json:"date_to"`
	SortBy    string        `json:"sort_by"`
	SortDir   string        `json:"sort_dir" validate:"omitempty,oneof=asc desc"`
}

type PaginatedResponse struct {
	Content          interface{} `json:"content"`
	TotalElements    int64       `json:"total_elements"`
	TotalPages       int         `json:"total_pages"`
	Size             int         `json:"size"`
	Page             int         `json:"page"`
	First            bool        `json:"first"`
	Last             bool        `json:"last"`
	NumberOfElements int         `json:"number_of_elements"`
	Empty            bool        `json:"empty"`
}

// ===== STATISTICS DTOs =====

type ExamStats struct {
	TotalSessions     int     `json:"total_sessions"`
	SubmittedSessions int     `json:"submitted_sessions"`
	AverageScore      float64 `json:"average_score"`
	PassRate          float64 `json:"pass_rate"`
	HighestScore      float64 `json:"highest_score"`
	LowestScore       float64 `json:"lowest_score"`
}

type SessionResultRow struct {
	SessionID    uint          `json:"session_id"`
	StudentID    string        `json:"student_id"`
	StudentName  string        `json:"student_name"`
	StudentEmail string        `json:"student_email"`
	Status       SessionStatus `json:"status"`
	Score        *float64      `json:"score"`
	StartTime    time.Time     `json:"start_time"`
	SubmitTime   time.Time     `json:"submit_time"`
	EndedAt      *time.Time    `json:"ended_at"`
}

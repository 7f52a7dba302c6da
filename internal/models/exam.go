package models

import (
	"time"

	"gorm.io/gorm"
)

type ExamStatus string

const (
	ExamDraft     ExamStatus = "Draft"
	ExamPublished ExamStatus = "Published"
	ExamFinished  ExamStatus = "Finished"
)

// DefaultTotalPoints is the fixed points total every published answer sheet
// is normalized to.
const DefaultTotalPoints = 10.0

type ExamType string

const (
	ExamTypeTest    ExamType = "test"
	ExamTypeMidterm ExamType = "midterm"
	ExamTypeFinal   ExamType = "final"
)

func (t ExamType) IsValid() bool {
	switch t {
	case ExamTypeTest, ExamTypeMidterm, ExamTypeFinal:
		return true
	}
	return false
}

type Exam struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	Title       string     `json:"title" gorm:"not null;size:200;index" validate:"required,min=1,max=200"`
	Description *string    `json:"description" gorm:"type:text" validate:"omitempty,max=1000"`
	Duration    int        `json:"duration" gorm:"not null" validate:"required,min=1"` // Minutes
	ExamType    ExamType   `json:"exam_type" gorm:"default:test;index" validate:"omitempty,oneof=test midterm final"`
	Guidelines  *string    `json:"guidelines" gorm:"type:text" validate:"omitempty,max=5000"`
	Status      ExamStatus `json:"status" gorm:"default:Draft;index" validate:"omitempty,oneof=Draft Published Finished"`
	RoomID      *uint      `json:"room_id" gorm:"index"`
	StartTime   time.Time  `json:"start_time" gorm:"not null"`
	EndTime     time.Time  `json:"end_time" gorm:"not null"`

	// TotalPoints is fixed at DefaultTotalPoints; question points are scaled
	// to it when the sheet is built.
	TotalPoints float64 `json:"total_points" gorm:"not null;default:10"`

	IsShowResult        bool `json:"is_show_result" gorm:"not null;default:false"`
	IsShowCorrectAnswer bool `json:"is_show_correct_answer" gorm:"not null;default:false"`

	// Metadata
	CreatedBy string         `json:"created_by" gorm:"not null;index;size:255"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	Questions []ExamQuestion `json:"questions" gorm:"foreignKey:ExamID"`
	Sessions  []StudentExam  `json:"sessions" gorm:"foreignKey:ExamID"`
	Creator   User           `json:"creator" gorm:"foreignKey:CreatedBy"`

	// Computed fields (not stored)
	QuestionsCount int `json:"questions_count" gorm:"-"`
	SessionCount   int `json:"session_count" gorm:"-"`
}

// IsAccessible reports whether students may enter the exam right now.
// The exam must be published and the wall clock inside [StartTime, EndTime).
func (e *Exam) IsAccessible(now time.Time) bool {
	if e.Status != ExamPublished {
		return false
	}
	return !now.Before(e.StartTime) && now.Before(e.EndTime)
}

// ExamQuestion is one row of the frozen answer sheet. Points carries the
// scaled value, not the question's authoring-time point.
type ExamQuestion struct {
	ID         uint    `json:"id" gorm:"primaryKey"`
	ExamID     uint    `json:"exam_id" gorm:"not null;uniqueIndex:idx_exam_question"`
	QuestionID uint    `json:"question_id" gorm:"not null;uniqueIndex:idx_exam_question"`
	Order      int     `json:"order" gorm:"column:question_order;not null"`
	Points     float64 `json:"points" gorm:"not null"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Question Question `json:"question" gorm:"foreignKey:QuestionID"`
}

func (Exam) TableName() string {
	return "exams"
}

func (ExamQuestion) TableName() string {
	return "exam_questions"
}

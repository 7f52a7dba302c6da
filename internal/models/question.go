package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// QuestionType is a closed set of numeric codes. The zero value is Essay.
type QuestionType int

const (
	Essay          QuestionType = 0
	MultipleChoice QuestionType = 1
	TrueFalse      QuestionType = 2
	FillBlank      QuestionType = 3
)

func (t QuestionType) String() string {
	switch t {
	case Essay:
		return "essay"
	case MultipleChoice:
		return "multiple_choice"
	case TrueFalse:
		return "true_false"
	case FillBlank:
		return "fill_blank"
	default:
		return "unknown"
	}
}

// IsValid reports whether t is one of the four known codes.
func (t QuestionType) IsValid() bool {
	return t >= Essay && t <= FillBlank
}

// IsAutoGradable reports whether answers of this type are graded by the
// engine at submission time. Essays wait for a manual grade.
func (t QuestionType) IsAutoGradable() bool {
	return t == MultipleChoice || t == TrueFalse || t == FillBlank
}

type DifficultyLevel string

const (
	DifficultyEasy   DifficultyLevel = "easy"
	DifficultyMedium DifficultyLevel = "medium"
	DifficultyHard   DifficultyLevel = "hard"
)

type Question struct {
	ID      uint           `json:"id" gorm:"primaryKey"`
	Type    QuestionType   `json:"type" gorm:"not null;index"`
	Text    string         `json:"text" gorm:"not null;type:text" validate:"required,min=1,max=2000"`
	Content datatypes.JSON `json:"content" gorm:"type:jsonb"`

	// Point is the author's raw weight. The answer-sheet builder scales it
	// so the sheet sums to the exam's TotalPoints.
	Point float64 `json:"point" gorm:"not null" validate:"required,gt=0"`

	Difficulty  DifficultyLevel `json:"difficulty" gorm:"default:medium;index" validate:"omitempty,oneof=easy medium hard"`
	Explanation *string         `json:"explanation" gorm:"type:text" validate:"omitempty,max=1000"`
	Attachment  *string         `json:"attachment" gorm:"size:500" validate:"omitempty,url,max=500"`

	// Metadata
	CreatedBy string         `json:"created_by" gorm:"not null;index;size:255"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	Creator User `json:"creator" gorm:"foreignKey:CreatedBy"`
}

func (Question) TableName() string {
	return "questions"
}

// ===== QUESTION CONTENT SCHEMAS =====

// MultipleChoiceContent is the JSONB payload for MultipleChoice questions.
// CorrectAnswers holds the selected option labels; comparison against a
// student answer ignores order and case.
type MultipleChoiceContent struct {
	Options        []string `json:"options" validate:"required,min=2"`
	CorrectAnswers []string `json:"correct_answers" validate:"required,min=1"`
	AllowMultiple  bool     `json:"allow_multiple"`
}

// TrueFalseContent is the JSONB payload for TrueFalse questions.
type TrueFalseContent struct {
	CorrectAnswer bool `json:"correct_answer"`
}

// FillBlankContent is the JSONB payload for FillBlank questions. Any of
// AcceptedAnswers matches; comparison trims whitespace and ignores case.
type FillBlankContent struct {
	AcceptedAnswers []string `json:"accepted_answers" validate:"required,min=1"`
}

// EssayContent is the JSONB payload for Essay questions.
type EssayContent struct {
	MinWords *int `json:"min_words,omitempty"`
	MaxWords *int `json:"max_words,omitempty"`
}

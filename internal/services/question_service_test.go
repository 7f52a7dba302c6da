package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
	"gorm.io/gorm"
)

type stubQuestionRepo struct {
	repositories.QuestionRepository
	created *models.Question
}

func (r *stubQuestionRepo) Create(ctx context.Context, tx *gorm.DB, question *models.Question) error {
	question.ID = 1
	r.created = question
	return nil
}

func newQuestionTestService(t *testing.T) (*questionService, *stubQuestionRepo) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	questions := &stubQuestionRepo{}
	repo := &stubSessionRepository{question: questions}

	svc := &questionService{
		repo:      repo,
		logger:    logger,
		validator: validator.New(),
	}
	return svc, questions
}

func TestQuestionService_Create(t *testing.T) {
	content := json.RawMessage(`{"options":["A","B"],"correct_answers":["A"]}`)

	t.Run("difficulty defaults to medium", func(t *testing.T) {
		svc, questions := newQuestionTestService(t)

		resp, err := svc.Create(context.Background(), &CreateQuestionRequest{
			Type:    models.MultipleChoice,
			Text:    "Pick one",
			Point:   2,
			Content: content,
		}, "teacher-1")
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if questions.created.Difficulty != models.DifficultyMedium {
			t.Errorf("difficulty %q, want medium", questions.created.Difficulty)
		}
		if resp.Question.Attachment != nil {
			t.Errorf("attachment %v, want none", resp.Question.Attachment)
		}
	})

	t.Run("difficulty and attachment carry through", func(t *testing.T) {
		svc, questions := newQuestionTestService(t)

		attachment := "https://files.example.com/diagram.png"
		_, err := svc.Create(context.Background(), &CreateQuestionRequest{
			Type:       models.MultipleChoice,
			Text:       "Pick one",
			Point:      2,
			Content:    content,
			Difficulty: models.DifficultyHard,
			Attachment: &attachment,
		}, "teacher-1")
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if questions.created.Difficulty != models.DifficultyHard {
			t.Errorf("difficulty %q, want hard", questions.created.Difficulty)
		}
		if questions.created.Attachment == nil || *questions.created.Attachment != attachment {
			t.Errorf("attachment %v, want %q", questions.created.Attachment, attachment)
		}
	})
}

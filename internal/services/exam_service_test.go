package services

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/SAP-F-2025/exam-session-service/internal/events"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
	"gorm.io/gorm"
)

func (r *stubExamRepo) UpdateStatus(ctx context.Context, tx *gorm.DB, id uint, status models.ExamStatus) error {
	r.exam.Status = status
	return nil
}

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{name: "lowercase passthrough", title: "final exam", want: "finalexam"},
		{name: "case folded", title: "Final Exam", want: "finalexam"},
		{name: "spaces stripped", title: "  Final   Exam  ", want: "finalexam"},
		{name: "mixed", title: "FINAL exam 2026", want: "finalexam2026"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeTitle(tt.title); got != tt.want {
				t.Errorf("normalizeTitle(%q) = %q, want %q", tt.title, got, tt.want)
			}
		})
	}
}

func TestNormalizeTitle_CollisionPairs(t *testing.T) {
	// Titles differing only in case and spacing must collide
	pairs := [][2]string{
		{"Midterm", "midterm"},
		{"Mid term", "MidTerm"},
		{" Algebra I ", "algebrai"},
	}
	for _, pair := range pairs {
		if normalizeTitle(pair[0]) != normalizeTitle(pair[1]) {
			t.Errorf("%q and %q should normalize to the same title", pair[0], pair[1])
		}
	}
}

func TestExamIsAccessible(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	window := func(status models.ExamStatus, start, end time.Time) *models.Exam {
		return &models.Exam{Status: status, StartTime: start, EndTime: end}
	}

	tests := []struct {
		name string
		exam *models.Exam
		want bool
	}{
		{
			name: "published inside window",
			exam: window(models.ExamPublished, now.Add(-time.Hour), now.Add(time.Hour)),
			want: true,
		},
		{
			name: "published at exact start",
			exam: window(models.ExamPublished, now, now.Add(time.Hour)),
			want: true,
		},
		{
			name: "published at exact end",
			exam: window(models.ExamPublished, now.Add(-time.Hour), now),
			want: false,
		},
		{
			name: "published before window",
			exam: window(models.ExamPublished, now.Add(time.Minute), now.Add(time.Hour)),
			want: false,
		},
		{
			name: "draft inside window",
			exam: window(models.ExamDraft, now.Add(-time.Hour), now.Add(time.Hour)),
			want: false,
		},
		{
			name: "finished inside window",
			exam: window(models.ExamFinished, now.Add(-time.Hour), now.Add(time.Hour)),
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.exam.IsAccessible(now); got != tt.want {
				t.Errorf("IsAccessible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExamService_PublishAnnouncesExam(t *testing.T) {
	newPublishFixture := func(status models.ExamStatus, questions int) (*examService, *events.MockEventPublisher) {
		logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
		publisher := events.NewMockEventPublisher(logger)
		rows := make([]*models.ExamQuestion, 0, questions)
		for i := 0; i < questions; i++ {
			rows = append(rows, &models.ExamQuestion{ExamID: 1, QuestionID: uint(i + 1), Order: i + 1})
		}
		repo := &stubSessionRepository{
			exam: &stubExamRepo{exam: &models.Exam{
				ID:        1,
				Title:     "Algebra Midterm",
				CreatedBy: "teacher-1",
				Status:    status,
				StartTime: time.Now().UTC().Add(time.Hour),
				EndTime:   time.Now().UTC().Add(2 * time.Hour),
			}},
			examQuestions: &stubExamQuestionRepo{rows: rows},
			user:          &stubUserRepo{},
		}
		svc := &examService{
			repo:      repo,
			logger:    logger,
			validator: validator.New(),
			publisher: publisher,
		}
		return svc, publisher
	}

	t.Run("publishing emits an announcement", func(t *testing.T) {
		svc, publisher := newPublishFixture(models.ExamDraft, 2)

		if err := svc.Publish(context.Background(), 1, "teacher-1"); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}

		published := publisher.GetPublishedEvents()
		if len(published) != 1 || published[0].Type != events.TypeExamPublished {
			t.Fatalf("published %v, want one exam published event", published)
		}
		payload, ok := published[0].Data.(events.ExamPublishedEvent)
		if !ok {
			t.Fatalf("payload type %T, want ExamPublishedEvent", published[0].Data)
		}
		if payload.ExamID != 1 || payload.Title != "Algebra Midterm" || payload.CreatedBy != "teacher-1" {
			t.Errorf("payload = %+v", payload)
		}
	})

	t.Run("failed transition emits nothing", func(t *testing.T) {
		svc, publisher := newPublishFixture(models.ExamDraft, 0)

		if err := svc.Publish(context.Background(), 1, "teacher-1"); err == nil {
			t.Fatal("Publish() should reject an exam with no questions")
		}
		if len(publisher.GetPublishedEvents()) != 0 {
			t.Error("event published for a rejected transition")
		}
	})

	t.Run("finishing emits nothing", func(t *testing.T) {
		svc, publisher := newPublishFixture(models.ExamPublished, 2)

		if err := svc.Finish(context.Background(), 1, "teacher-1"); err != nil {
			t.Fatalf("Finish() error = %v", err)
		}
		if len(publisher.GetPublishedEvents()) != 0 {
			t.Error("finish should not announce a publication")
		}
	})
}

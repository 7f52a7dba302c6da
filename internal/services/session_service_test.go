package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/SAP-F-2025/exam-session-service/internal/events"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
	"gorm.io/gorm"
)

// Repository stubs covering the paths exercised below. Methods not
// overridden panic through the embedded interface, which is what we want:
// a test reaching them is a test with a hole in its setup.

type stubSessionRepo struct {
	repositories.SessionRepository
	sessions     map[uint]*models.StudentExam
	casWins      bool
	casCalls     int
	scoreWrites  []float64
	statusWrites []models.SessionStatus

	// afterGet mutates the stored record once, after a read returns its
	// snapshot, to model a concurrent writer landing between read and write.
	afterGet func(*models.StudentExam)
}

func (r *stubSessionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.StudentExam, error) {
	session, ok := r.sessions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	snapshot := *session
	if r.afterGet != nil {
		hook := r.afterGet
		r.afterGet = nil
		hook(session)
	}
	return &snapshot, nil
}

func (r *stubSessionRepo) GetActiveSession(ctx context.Context, tx *gorm.DB, examID uint, studentID string) (*models.StudentExam, error) {
	for _, session := range r.sessions {
		if session.ExamID == examID && session.StudentID == studentID && !session.Status.IsTerminal() {
			return session, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubSessionRepo) GetByExamAndStudent(ctx context.Context, tx *gorm.DB, examID uint, studentID string) ([]*models.StudentExam, error) {
	var out []*models.StudentExam
	for _, session := range r.sessions {
		if session.ExamID == examID && session.StudentID == studentID {
			out = append(out, session)
		}
	}
	return out, nil
}

func (r *stubSessionRepo) CompareAndSubmit(ctx context.Context, tx *gorm.DB, id uint, endedAt time.Time, submittedBy string) (bool, error) {
	r.casCalls++
	if !r.casWins {
		return false, nil
	}
	session := r.sessions[id]
	session.Status = models.SessionSubmitted
	session.EndedAt = &endedAt
	session.SubmittedBy = &submittedBy
	return true, nil
}

func (r *stubSessionRepo) UpdateScoreAndStatus(ctx context.Context, tx *gorm.DB, id uint, score float64, status models.SessionStatus) error {
	r.scoreWrites = append(r.scoreWrites, score)
	r.statusWrites = append(r.statusWrites, status)
	if session, ok := r.sessions[id]; ok {
		session.Score = &score
		session.Status = status
	}
	return nil
}

type stubAnswerRepo struct {
	repositories.AnswerRepository
	session    *stubSessionRepo
	saved      []uint
	missing    bool
	lastAnswer []byte
	lastSpent  *int
}

// UpdateUserAnswer enforces the same guard the SQL carries: the write only
// lands while the owning sitting is InProgress and before its deadline.
func (r *stubAnswerRepo) UpdateUserAnswer(ctx context.Context, tx *gorm.DB, sessionID, questionID uint, userAnswer []byte, timeSpent *int) error {
	if r.session != nil {
		owner, ok := r.session.sessions[sessionID]
		if !ok || owner.Status != models.SessionInProgress || !owner.SubmitTime.After(time.Now().UTC()) {
			return gorm.ErrRecordNotFound
		}
	}
	if r.missing {
		return gorm.ErrRecordNotFound
	}
	r.saved = append(r.saved, questionID)
	r.lastAnswer = userAnswer
	r.lastSpent = timeSpent
	return nil
}

type stubExamQuestionRepo struct {
	repositories.ExamQuestionRepository
	rows []*models.ExamQuestion
}

func (r *stubExamQuestionRepo) GetByExam(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.ExamQuestion, error) {
	return r.rows, nil
}

func (r *stubExamQuestionRepo) GetByExamWithQuestions(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.ExamQuestion, error) {
	return r.rows, nil
}

func (r *stubExamQuestionRepo) CountByExam(ctx context.Context, tx *gorm.DB, examID uint) (int64, error) {
	return int64(len(r.rows)), nil
}

type stubSessionRepository struct {
	repositories.Repository
	session       *stubSessionRepo
	answer        *stubAnswerRepo
	exam          *stubExamRepo
	examQuestions *stubExamQuestionRepo
	question      *stubQuestionRepo
	user          *stubUserRepo
}

func (r *stubSessionRepository) Session() repositories.SessionRepository { return r.session }
func (r *stubSessionRepository) Answer() repositories.AnswerRepository   { return r.answer }
func (r *stubSessionRepository) Exam() repositories.ExamRepository       { return r.exam }
func (r *stubSessionRepository) User() repositories.UserRepository       { return r.user }

func (r *stubSessionRepository) ExamQuestion() repositories.ExamQuestionRepository {
	return r.examQuestions
}

func (r *stubSessionRepository) Question() repositories.QuestionRepository { return r.question }

type stubGradingService struct {
	GradingService
	result        *SessionGradingResult
	pendingEssays bool
	gradeCalls    int
	gradeErr      error
}

func (g *stubGradingService) GradeSubmission(ctx context.Context, sessionID uint) (*SessionGradingResult, error) {
	g.gradeCalls++
	if g.gradeErr != nil {
		err := g.gradeErr
		g.gradeErr = nil
		return nil, err
	}
	return g.result, nil
}

func (g *stubGradingService) HasPendingEssays(ctx context.Context, sessionID uint) (bool, error) {
	return g.pendingEssays, nil
}

type sessionFixture struct {
	svc       *sessionService
	repo      *stubSessionRepository
	grading   *stubGradingService
	publisher *events.MockEventPublisher
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	publisher := events.NewMockEventPublisher(logger)
	grading := &stubGradingService{
		result: &SessionGradingResult{Score: 7.5, TotalPoints: 10},
	}
	repo := &stubSessionRepository{
		session:       &stubSessionRepo{sessions: make(map[uint]*models.StudentExam), casWins: true},
		answer:        &stubAnswerRepo{},
		exam:          &stubExamRepo{exam: &models.Exam{ID: 1, CreatedBy: "teacher-1", TotalPoints: 10}},
		examQuestions: &stubExamQuestionRepo{},
		user:          &stubUserRepo{admins: map[string]bool{"admin-1": true}},
	}
	repo.answer.session = repo.session

	svc := &sessionService{
		repo:       repo,
		logger:     logger,
		validator:  validator.New(),
		grading:    grading,
		publisher:  publisher,
		passPolicy: ThresholdPassPolicy(5.0),
	}
	return &sessionFixture{svc: svc, repo: repo, grading: grading, publisher: publisher}
}

func inProgressSession(id uint, studentID string, deadline time.Time) *models.StudentExam {
	return &models.StudentExam{
		ID:         id,
		ExamID:     1,
		StudentID:  studentID,
		Status:     models.SessionInProgress,
		StartTime:  deadline.Add(-30 * time.Minute),
		SubmitTime: deadline,
	}
}

func TestSessionService_StartOrResume(t *testing.T) {
	req := &StartSessionRequest{ExamID: 1, OtpCode: "123456"}

	t.Run("open sitting resumes untouched", func(t *testing.T) {
		f := newSessionFixture(t)
		deadline := time.Now().UTC().Add(25 * time.Minute)
		existing := inProgressSession(7, "student-1", deadline)
		startedAt := existing.StartTime
		f.repo.session.sessions[7] = existing

		// The fixture wires no otp service or database; a resume that
		// reached either would panic instead of short-circuiting.
		resp, err := f.svc.StartOrResume(context.Background(), req, "student-1", SessionMeta{})
		if err != nil {
			t.Fatalf("StartOrResume() error = %v", err)
		}
		if resp.StudentExam.ID != 7 {
			t.Errorf("got session %d, want the existing sitting 7", resp.StudentExam.ID)
		}
		if !resp.StudentExam.StartTime.Equal(startedAt) || !resp.StudentExam.SubmitTime.Equal(deadline) {
			t.Error("resume changed the sitting's window")
		}
		if len(f.repo.session.sessions) != 1 {
			t.Errorf("%d sessions exist, want the original only", len(f.repo.session.sessions))
		}
		if resp.TimeRemaining <= 0 {
			t.Errorf("time remaining %d, want positive", resp.TimeRemaining)
		}
	})

	t.Run("terminal sitting blocks re-entry", func(t *testing.T) {
		f := newSessionFixture(t)
		finished := inProgressSession(7, "student-1", time.Now().UTC().Add(-time.Hour))
		finished.Status = models.SessionSubmitted
		f.repo.session.sessions[7] = finished

		if _, err := f.svc.StartOrResume(context.Background(), req, "student-1", SessionMeta{}); !errors.Is(err, ErrAlreadySubmitted) {
			t.Errorf("got %v, want ErrAlreadySubmitted", err)
		}
	})

	t.Run("unknown exam", func(t *testing.T) {
		f := newSessionFixture(t)
		badReq := &StartSessionRequest{ExamID: 99, OtpCode: "123456"}
		if _, err := f.svc.StartOrResume(context.Background(), badReq, "student-1", SessionMeta{}); !errors.Is(err, ErrExamNotFound) {
			t.Errorf("got %v, want ErrExamNotFound", err)
		}
	})
}

func TestSessionService_SaveAnswer(t *testing.T) {
	future := time.Now().UTC().Add(20 * time.Minute)
	past := time.Now().UTC().Add(-time.Minute)

	req := &SaveAnswerRequest{QuestionID: 3, Answer: json.RawMessage(`["B"]`)}

	t.Run("happy path", func(t *testing.T) {
		f := newSessionFixture(t)
		f.repo.session.sessions[1] = inProgressSession(1, "student-1", future)

		spent := 42
		reqWithTime := &SaveAnswerRequest{QuestionID: 3, Answer: json.RawMessage(`["B"]`), TimeSpent: &spent}
		if err := f.svc.SaveAnswer(context.Background(), 1, reqWithTime, "student-1"); err != nil {
			t.Fatalf("SaveAnswer() error = %v", err)
		}
		if len(f.repo.answer.saved) != 1 || f.repo.answer.saved[0] != 3 {
			t.Errorf("saved questions %v, want [3]", f.repo.answer.saved)
		}
		if f.repo.answer.lastSpent == nil || *f.repo.answer.lastSpent != 42 {
			t.Errorf("time spent not forwarded")
		}
	})

	t.Run("not owner", func(t *testing.T) {
		f := newSessionFixture(t)
		f.repo.session.sessions[1] = inProgressSession(1, "student-1", future)

		err := f.svc.SaveAnswer(context.Background(), 1, req, "student-2")
		var permErr *PermissionError
		if !errors.As(err, &permErr) {
			t.Errorf("got %v, want PermissionError", err)
		}
		if len(f.repo.answer.saved) != 0 {
			t.Error("answer was written despite permission failure")
		}
	})

	t.Run("submitted session is closed", func(t *testing.T) {
		f := newSessionFixture(t)
		session := inProgressSession(1, "student-1", future)
		session.Status = models.SessionSubmitted
		f.repo.session.sessions[1] = session

		if err := f.svc.SaveAnswer(context.Background(), 1, req, "student-1"); !errors.Is(err, ErrSessionClosed) {
			t.Errorf("got %v, want ErrSessionClosed", err)
		}
	})

	t.Run("submission landing between read and write is rejected", func(t *testing.T) {
		f := newSessionFixture(t)
		f.repo.session.sessions[1] = inProgressSession(1, "student-1", future)

		// The status read sees InProgress; the sitting is submitted before
		// the answer write reaches the guarded update.
		f.repo.session.afterGet = func(s *models.StudentExam) {
			s.Status = models.SessionSubmitted
		}

		if err := f.svc.SaveAnswer(context.Background(), 1, req, "student-1"); !errors.Is(err, ErrSessionClosed) {
			t.Errorf("got %v, want ErrSessionClosed", err)
		}
		if len(f.repo.answer.saved) != 0 {
			t.Error("answer was written into a submitted sitting")
		}
	})

	t.Run("past deadline is closed even while InProgress", func(t *testing.T) {
		f := newSessionFixture(t)
		f.repo.session.sessions[1] = inProgressSession(1, "student-1", past)

		if err := f.svc.SaveAnswer(context.Background(), 1, req, "student-1"); !errors.Is(err, ErrSessionClosed) {
			t.Errorf("got %v, want ErrSessionClosed", err)
		}
		if len(f.repo.answer.saved) != 0 {
			t.Error("answer was written past the deadline")
		}
	})

	t.Run("unknown answer slot", func(t *testing.T) {
		f := newSessionFixture(t)
		f.repo.session.sessions[1] = inProgressSession(1, "student-1", future)
		f.repo.answer.missing = true

		if err := f.svc.SaveAnswer(context.Background(), 1, req, "student-1"); !errors.Is(err, ErrAnswerNotFound) {
			t.Errorf("got %v, want ErrAnswerNotFound", err)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		f := newSessionFixture(t)
		if err := f.svc.SaveAnswer(context.Background(), 99, req, "student-1"); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("got %v, want ErrSessionNotFound", err)
		}
	})
}

func TestSessionService_Submit(t *testing.T) {
	deadline := time.Now().UTC().Add(-time.Minute)

	t.Run("winner grades and persists score", func(t *testing.T) {
		f := newSessionFixture(t)
		f.repo.session.sessions[1] = inProgressSession(1, "student-1", deadline)

		resp, err := f.svc.Submit(context.Background(), 1, SubmitByStudent, "student-1")
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		if f.grading.gradeCalls != 1 {
			t.Errorf("grading called %d times, want 1", f.grading.gradeCalls)
		}
		if len(f.repo.session.scoreWrites) != 1 || f.repo.session.scoreWrites[0] != 7.5 {
			t.Errorf("score writes %v, want [7.5]", f.repo.session.scoreWrites)
		}
		if resp.Status != models.SessionSubmitted {
			t.Errorf("got status %s, want Submitted", resp.Status)
		}
		published := f.publisher.GetPublishedEvents()
		if len(published) != 1 || published[0].Type != events.TypeSessionSubmit {
			t.Errorf("published %v, want one session submitted event", published)
		}
	})

	t.Run("terminal session is an idempotent no-op", func(t *testing.T) {
		f := newSessionFixture(t)
		session := inProgressSession(1, "student-1", deadline)
		session.Status = models.SessionSubmitted
		score := 6.0
		session.Score = &score
		f.repo.session.sessions[1] = session

		resp, err := f.svc.Submit(context.Background(), 1, SubmitByStudent, "student-1")
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		if f.repo.session.casCalls != 0 {
			t.Error("conditional update attempted on a terminal session")
		}
		if f.grading.gradeCalls != 0 {
			t.Error("grading ran on a terminal session")
		}
		if resp.Score == nil || *resp.Score != 6.0 {
			t.Errorf("existing score not preserved: %v", resp.Score)
		}
	})

	t.Run("grading failure after winning is recoverable", func(t *testing.T) {
		f := newSessionFixture(t)
		f.repo.session.sessions[1] = inProgressSession(1, "student-1", deadline)
		f.grading.gradeErr = errors.New("grader unavailable")

		if _, err := f.svc.Submit(context.Background(), 1, SubmitByStudent, "student-1"); err == nil {
			t.Fatal("Submit() should surface the grading failure")
		}
		stuck := f.repo.session.sessions[1]
		if stuck.Status != models.SessionSubmitted || stuck.Score != nil {
			t.Fatalf("after failed grading: status %s score %v, want Submitted with no score", stuck.Status, stuck.Score)
		}

		resp, err := f.svc.Submit(context.Background(), 1, SubmitByStudent, "student-1")
		if err != nil {
			t.Fatalf("retry Submit() error = %v", err)
		}
		if f.grading.gradeCalls != 2 {
			t.Errorf("grading called %d times, want 2", f.grading.gradeCalls)
		}
		if f.repo.session.casCalls != 1 {
			t.Errorf("conditional update ran %d times, want 1", f.repo.session.casCalls)
		}
		if len(f.repo.session.scoreWrites) != 1 || f.repo.session.scoreWrites[0] != 7.5 {
			t.Errorf("score writes %v, want [7.5]", f.repo.session.scoreWrites)
		}
		if resp.Score == nil || *resp.Score != 7.5 {
			t.Errorf("score %v, want 7.5", resp.Score)
		}
		published := f.publisher.GetPublishedEvents()
		if len(published) != 1 || published[0].Type != events.TypeSessionSubmit {
			t.Errorf("published %v, want exactly one session submitted event", published)
		}
	})

	t.Run("loser of the race reports the winner's result", func(t *testing.T) {
		f := newSessionFixture(t)
		f.repo.session.sessions[1] = inProgressSession(1, "student-1", deadline)
		f.repo.session.casWins = false

		resp, err := f.svc.Submit(context.Background(), 1, SubmitByWatchdog, "watchdog")
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		if f.grading.gradeCalls != 0 {
			t.Error("losing caller graded the submission")
		}
		if len(f.publisher.GetPublishedEvents()) != 0 {
			t.Error("losing caller published an event")
		}
		if resp == nil {
			t.Error("loser should still get the sitting back")
		}
	})

	t.Run("student cannot submit someone else's sitting", func(t *testing.T) {
		f := newSessionFixture(t)
		f.repo.session.sessions[1] = inProgressSession(1, "student-1", deadline)

		_, err := f.svc.Submit(context.Background(), 1, SubmitByStudent, "student-2")
		var permErr *PermissionError
		if !errors.As(err, &permErr) {
			t.Errorf("got %v, want PermissionError", err)
		}
	})

	t.Run("watchdog bypasses the ownership check", func(t *testing.T) {
		f := newSessionFixture(t)
		f.repo.session.sessions[1] = inProgressSession(1, "student-1", deadline)

		if _, err := f.svc.Submit(context.Background(), 1, SubmitByWatchdog, "watchdog"); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	})
}

func TestSessionService_ResolveOutcome(t *testing.T) {
	submitted := func(score float64) *models.StudentExam {
		session := inProgressSession(1, "student-1", time.Now().UTC().Add(-time.Hour))
		session.Status = models.SessionSubmitted
		session.Score = &score
		return session
	}

	t.Run("score at threshold passes", func(t *testing.T) {
		f := newSessionFixture(t)
		f.repo.session.sessions[1] = submitted(5.0)

		resp, err := f.svc.ResolveOutcome(context.Background(), 1, "teacher-1")
		if err != nil {
			t.Fatalf("ResolveOutcome() error = %v", err)
		}
		if resp.Status != models.SessionPassed {
			t.Errorf("got status %s, want Passed", resp.Status)
		}
	})

	t.Run("score below threshold fails", func(t *testing.T) {
		f := newSessionFixture(t)
		f.repo.session.sessions[1] = submitted(4.99)

		resp, err := f.svc.ResolveOutcome(context.Background(), 1, "teacher-1")
		if err != nil {
			t.Fatalf("ResolveOutcome() error = %v", err)
		}
		if resp.Status != models.SessionFailed {
			t.Errorf("got status %s, want Failed", resp.Status)
		}
	})

	t.Run("pending essays block resolution", func(t *testing.T) {
		f := newSessionFixture(t)
		f.repo.session.sessions[1] = submitted(8.0)
		f.grading.pendingEssays = true

		if _, err := f.svc.ResolveOutcome(context.Background(), 1, "teacher-1"); !errors.Is(err, ErrSessionNotGraded) {
			t.Errorf("got %v, want ErrSessionNotGraded", err)
		}
	})

	t.Run("already resolved is idempotent", func(t *testing.T) {
		f := newSessionFixture(t)
		session := submitted(8.0)
		session.Status = models.SessionPassed
		f.repo.session.sessions[1] = session

		resp, err := f.svc.ResolveOutcome(context.Background(), 1, "teacher-1")
		if err != nil {
			t.Fatalf("ResolveOutcome() error = %v", err)
		}
		if resp.Status != models.SessionPassed {
			t.Errorf("got status %s, want Passed kept", resp.Status)
		}
		if len(f.repo.session.statusWrites) != 0 {
			t.Error("status rewritten for an already resolved sitting")
		}
	})

	t.Run("in progress sitting cannot be resolved", func(t *testing.T) {
		f := newSessionFixture(t)
		f.repo.session.sessions[1] = inProgressSession(1, "student-1", time.Now().UTC().Add(time.Hour))

		if _, err := f.svc.ResolveOutcome(context.Background(), 1, "teacher-1"); !errors.Is(err, ErrSessionNotActive) {
			t.Errorf("got %v, want ErrSessionNotActive", err)
		}
	})

	t.Run("stranger cannot resolve", func(t *testing.T) {
		f := newSessionFixture(t)
		f.repo.session.sessions[1] = submitted(8.0)

		_, err := f.svc.ResolveOutcome(context.Background(), 1, "student-9")
		var permErr *PermissionError
		if !errors.As(err, &permErr) {
			t.Errorf("got %v, want PermissionError", err)
		}
	})
}

func TestThresholdPassPolicy(t *testing.T) {
	policy := ThresholdPassPolicy(5.0)

	tests := []struct {
		name  string
		score float64
		want  bool
	}{
		{name: "above", score: 7.5, want: true},
		{name: "exactly at threshold", score: 5.0, want: true},
		{name: "below", score: 4.99, want: false},
		{name: "zero", score: 0, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy(tt.score, 10); got != tt.want {
				t.Errorf("policy(%v, 10) = %v, want %v", tt.score, got, tt.want)
			}
		})
	}
}

package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SAP-F-2025/exam-session-service/internal/events"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
	"gorm.io/gorm"
)

type sessionService struct {
	repo       repositories.Repository
	db         *gorm.DB
	logger     *slog.Logger
	validator  *validator.Validator
	otp        OtpService
	grading    GradingService
	publisher  events.EventPublisher
	passPolicy PassPolicy
	membership RoomMembershipChecker
}

func NewSessionService(
	db *gorm.DB,
	repo repositories.Repository,
	logger *slog.Logger,
	v *validator.Validator,
	otp OtpService,
	grading GradingService,
	publisher events.EventPublisher,
	passPolicy PassPolicy,
	membership RoomMembershipChecker,
) SessionService {
	return &sessionService{
		repo:       repo,
		db:         db,
		logger:     logger,
		validator:  v,
		otp:        otp,
		grading:    grading,
		publisher:  publisher,
		passPolicy: passPolicy,
		membership: membership,
	}
}

// ===== SESSION STATE MACHINE =====

// StartOrResume enters a student into an exam. A live sitting is returned
// as-is with its original times; entry checks only run when a new sitting
// has to be created.
func (s *sessionService) StartOrResume(ctx context.Context, req *StartSessionRequest, studentID string, meta SessionMeta) (*SessionResponse, error) {
	s.logger.Info("Starting or resuming session", "exam_id", req.ExamID, "student_id", studentID)

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	exam, err := s.repo.Exam().GetByID(ctx, nil, req.ExamID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}

	// Resume path: a non-terminal sitting always wins, untouched
	existing, err := s.repo.Session().GetActiveSession(ctx, nil, req.ExamID, studentID)
	if err == nil {
		s.logger.Info("Resuming existing session", "session_id", existing.ID, "student_id", studentID)
		return s.buildSessionResponse(ctx, existing, true)
	}
	if !repositories.IsNotFoundError(err) {
		return nil, fmt.Errorf("failed to look up active session: %w", err)
	}

	// A terminal sitting blocks re-entry for good
	prior, err := s.repo.Session().GetByExamAndStudent(ctx, nil, req.ExamID, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up prior sessions: %w", err)
	}
	for _, p := range prior {
		if p.Status.IsTerminal() {
			return nil, ErrAlreadySubmitted
		}
	}

	now := time.Now().UTC()
	if !exam.IsAccessible(now) {
		return nil, ErrExamNotAccessible
	}

	if exam.RoomID != nil && s.membership != nil {
		member, err := s.membership.IsActiveMember(ctx, studentID, *exam.RoomID)
		if err != nil {
			return nil, fmt.Errorf("failed to check room membership: %w", err)
		}
		if !member {
			return nil, ErrExamNotAccessible
		}
	}

	if err := s.otp.Validate(ctx, req.ExamID, studentID, req.OtpCode); err != nil {
		return nil, err
	}

	sheet, err := s.repo.ExamQuestion().GetByExam(ctx, nil, req.ExamID)
	if err != nil {
		return nil, fmt.Errorf("failed to load answer sheet: %w", err)
	}
	if len(sheet) == 0 {
		return nil, ErrInvalidComposition
	}

	session := &models.StudentExam{
		ExamID:    req.ExamID,
		StudentID: studentID,
		Status:    models.SessionInProgress,
		StartTime: now,
		// The deadline is fixed here and never recomputed
		SubmitTime:     now.Add(time.Duration(exam.Duration) * time.Minute),
		TotalQuestions: len(sheet),
		IPAddress:      meta.IPAddress,
		UserAgent:      meta.UserAgent,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Session().Create(ctx, tx, session); err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}

		// One empty slot per sheet row, updated in place on every save
		answers := make([]*models.StudentAnswer, 0, len(sheet))
		for _, row := range sheet {
			answers = append(answers, &models.StudentAnswer{
				StudentExamID: session.ID,
				QuestionID:    row.QuestionID,
			})
		}
		if err := s.repo.Answer().CreateBatch(ctx, tx, answers); err != nil {
			return fmt.Errorf("failed to create answer slots: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.TypeSessionStarted, events.SessionStartedEvent{
		SessionID:  session.ID,
		ExamID:     session.ExamID,
		StudentID:  session.StudentID,
		StartTime:  session.StartTime,
		SubmitTime: session.SubmitTime,
	})

	s.logger.Info("Session started", "session_id", session.ID, "exam_id", req.ExamID, "student_id", studentID, "submit_time", session.SubmitTime)
	return s.buildSessionResponse(ctx, session, true)
}

// SaveAnswer overwrites one answer slot. The deadline is checked at write
// time, so a tab left open past SubmitTime gets rejected here no matter
// what the client clock says.
func (s *sessionService) SaveAnswer(ctx context.Context, sessionID uint, req *SaveAnswerRequest, studentID string) error {
	if err := s.validator.Validate(req); err != nil {
		return err
	}

	session, err := s.repo.Session().GetByID(ctx, nil, sessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to get session: %w", err)
	}

	if session.StudentID != studentID {
		return NewPermissionError(studentID, sessionID, "session", "save_answer", "not session owner")
	}

	if session.Status != models.SessionInProgress {
		return ErrSessionClosed
	}
	if session.IsExpired(time.Now().UTC()) {
		return ErrSessionClosed
	}

	err = s.repo.Answer().UpdateUserAnswer(ctx, nil, sessionID, req.QuestionID, req.Answer, req.TimeSpent)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			// Zero rows is ambiguous: the guarded UPDATE also misses when the
			// sitting closed between our status read and the write. Re-read to
			// tell a closed sitting apart from a missing answer slot.
			current, readErr := s.repo.Session().GetByID(ctx, nil, sessionID)
			if readErr == nil && (current.Status != models.SessionInProgress || current.IsExpired(time.Now().UTC())) {
				return ErrSessionClosed
			}
			return ErrAnswerNotFound
		}
		return fmt.Errorf("failed to save answer: %w", err)
	}
	return nil
}

// Submit drives the InProgress -> Submitted transition. The conditional
// update makes exactly one caller the winner; everyone else gets the
// already-submitted sitting back as a success.
func (s *sessionService) Submit(ctx context.Context, sessionID uint, trigger SubmitTrigger, actorID string) (*SessionResponse, error) {
	s.logger.Info("Submitting session", "session_id", sessionID, "trigger", trigger, "actor_id", actorID)

	session, err := s.repo.Session().GetByID(ctx, nil, sessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if trigger == SubmitByStudent && session.StudentID != actorID {
		return nil, NewPermissionError(actorID, sessionID, "session", "submit", "not session owner")
	}

	if session.Status.IsTerminal() {
		// A nil score on a submitted sitting means a previous winner crashed
		// between the status flip and the score write; finish its grading.
		if session.Status == models.SessionSubmitted && session.Score == nil {
			return s.gradeAndFinalize(ctx, sessionID, trigger, time.Now().UTC())
		}
		// Idempotent no-op
		return s.buildSessionResponse(ctx, session, false)
	}

	now := time.Now().UTC()
	won, err := s.repo.Session().CompareAndSubmit(ctx, nil, sessionID, now, string(trigger))
	if err != nil {
		return nil, fmt.Errorf("failed to submit session: %w", err)
	}
	if !won {
		// Another writer transitioned first; report their result
		session, err = s.repo.Session().GetByID(ctx, nil, sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload session: %w", err)
		}
		return s.buildSessionResponse(ctx, session, false)
	}

	return s.gradeAndFinalize(ctx, sessionID, trigger, now)
}

// gradeAndFinalize runs the winner's tail of a submission: grade every
// answer, persist the score last, then announce the submission. It is safe
// to re-enter for a Submitted sitting whose score never landed.
func (s *sessionService) gradeAndFinalize(ctx context.Context, sessionID uint, trigger SubmitTrigger, submittedAt time.Time) (*SessionResponse, error) {
	result, err := s.grading.GradeSubmission(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to grade submission: %w", err)
	}

	if err := s.repo.Session().UpdateScoreAndStatus(ctx, nil, sessionID, result.Score, models.SessionSubmitted); err != nil {
		return nil, fmt.Errorf("failed to persist score: %w", err)
	}

	session, err := s.repo.Session().GetByID(ctx, nil, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload session: %w", err)
	}

	submittedBy := string(trigger)
	if session.SubmittedBy != nil {
		submittedBy = *session.SubmittedBy
	}
	if session.EndedAt != nil {
		submittedAt = *session.EndedAt
	}

	s.publishEvent(ctx, events.TypeSessionSubmit, events.SessionSubmittedEvent{
		SessionID:       session.ID,
		ExamID:          session.ExamID,
		StudentID:       session.StudentID,
		SubmittedBy:     submittedBy,
		Score:           session.Score,
		HasPendingEssay: result.HasPendingEssay,
		SubmittedAt:     submittedAt,
	})

	s.logger.Info("Session submitted", "session_id", sessionID, "trigger", trigger, "score", result.Score)
	return s.buildSessionResponse(ctx, session, false)
}

// ResolveOutcome settles a submitted sitting into Passed or Failed once no
// essay is left ungraded.
func (s *sessionService) ResolveOutcome(ctx context.Context, sessionID uint, graderID string) (*SessionResponse, error) {
	s.logger.Info("Resolving session outcome", "session_id", sessionID, "grader_id", graderID)

	session, err := s.repo.Session().GetByID(ctx, nil, sessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if session.Status == models.SessionPassed || session.Status == models.SessionFailed {
		return s.buildSessionResponse(ctx, session, false)
	}
	if session.Status != models.SessionSubmitted {
		return nil, ErrSessionNotActive
	}

	exam, err := s.repo.Exam().GetByID(ctx, nil, session.ExamID)
	if err != nil {
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}

	allowed, err := s.canManage(ctx, exam, graderID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, NewPermissionError(graderID, sessionID, "session", "resolve_outcome", "not exam creator or admin")
	}

	pending, err := s.grading.HasPendingEssays(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, ErrSessionNotGraded
	}

	var score float64
	if session.Score != nil {
		score = *session.Score
	}

	status := models.SessionFailed
	if s.passPolicy(score, exam.TotalPoints) {
		status = models.SessionPassed
	}

	if err := s.repo.Session().UpdateScoreAndStatus(ctx, nil, sessionID, score, status); err != nil {
		return nil, fmt.Errorf("failed to persist outcome: %w", err)
	}
	session.Status = status

	s.publishEvent(ctx, events.TypeSessionOutcome, events.SessionOutcomeEvent{
		SessionID: session.ID,
		ExamID:    session.ExamID,
		StudentID: session.StudentID,
		Status:    string(status),
		Score:     score,
	})

	s.logger.Info("Session outcome resolved", "session_id", sessionID, "status", status, "score", score)
	return s.buildSessionResponse(ctx, session, false)
}

// ===== GET OPERATIONS =====

func (s *sessionService) GetByID(ctx context.Context, id uint, userID string) (*SessionResponse, error) {
	session, err := s.repo.Session().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if err := s.checkReadAccess(ctx, session, userID); err != nil {
		return nil, err
	}
	return s.buildSessionResponse(ctx, session, false)
}

func (s *sessionService) GetByIDWithAnswers(ctx context.Context, id uint, userID string) (*SessionResponse, error) {
	session, err := s.repo.Session().GetByIDWithAnswers(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if err := s.checkReadAccess(ctx, session, userID); err != nil {
		return nil, err
	}
	return s.buildSessionResponse(ctx, session, true)
}

// ===== LIST OPERATIONS =====

func (s *sessionService) List(ctx context.Context, filters repositories.SessionFilters, userID string) (*SessionListResponse, error) {
	isAdmin, err := s.repo.User().HasRole(ctx, userID, models.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("failed to check user role: %w", err)
	}
	if !isAdmin {
		// Non-admins only list their own sittings
		filters.StudentID = &userID
	}

	sessions, total, err := s.repo.Session().List(ctx, nil, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return s.buildSessionListResponse(ctx, sessions, total, filters)
}

func (s *sessionService) GetByExam(ctx context.Context, examID uint, filters repositories.SessionFilters, userID string) (*SessionListResponse, error) {
	exam, err := s.repo.Exam().GetByID(ctx, nil, examID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}

	allowed, err := s.canManage(ctx, exam, userID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, NewPermissionError(userID, examID, "exam", "list_sessions", "not exam creator or admin")
	}

	sessions, total, err := s.repo.Session().GetByExam(ctx, nil, examID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list exam sessions: %w", err)
	}
	return s.buildSessionListResponse(ctx, sessions, total, filters)
}

func (s *sessionService) GetByStudent(ctx context.Context, studentID string, filters repositories.SessionFilters) (*SessionListResponse, error) {
	sessions, total, err := s.repo.Session().GetByStudent(ctx, nil, studentID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list student sessions: %w", err)
	}
	return s.buildSessionListResponse(ctx, sessions, total, filters)
}

// ===== WATCHDOG SUPPORT =====

func (s *sessionService) GetOverdueSessions(ctx context.Context, now time.Time, limit int) ([]*models.StudentExam, error) {
	sessions, err := s.repo.Session().GetOverdueSessions(ctx, nil, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue sessions: %w", err)
	}
	return sessions, nil
}

// ===== STATISTICS =====

func (s *sessionService) GetStats(ctx context.Context, examID uint, userID string) (*repositories.SessionStats, error) {
	exam, err := s.repo.Exam().GetByID(ctx, nil, examID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}

	allowed, err := s.canManage(ctx, exam, userID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, NewPermissionError(userID, examID, "exam", "session_stats", "not exam creator or admin")
	}

	stats, err := s.repo.Session().GetStats(ctx, nil, examID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session stats: %w", err)
	}
	return stats, nil
}

// ===== HELPER METHODS =====

func (s *sessionService) checkReadAccess(ctx context.Context, session *models.StudentExam, userID string) error {
	if session.StudentID == userID {
		return nil
	}

	exam, err := s.repo.Exam().GetByID(ctx, nil, session.ExamID)
	if err != nil {
		return fmt.Errorf("failed to get exam: %w", err)
	}
	allowed, err := s.canManage(ctx, exam, userID)
	if err != nil {
		return err
	}
	if !allowed {
		return NewPermissionError(userID, session.ID, "session", "read", "not owner, exam creator or admin")
	}
	return nil
}

func (s *sessionService) canManage(ctx context.Context, exam *models.Exam, userID string) (bool, error) {
	if exam.CreatedBy == userID {
		return true, nil
	}
	return s.repo.User().HasRole(ctx, userID, models.RoleAdmin)
}

// publishEvent is fire and forget; a broker outage never fails the request
func (s *sessionService) publishEvent(ctx context.Context, eventType string, data interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, eventType, data); err != nil {
		s.logger.Error("Failed to publish event", "event_type", eventType, "error", err)
	}
}

func (s *sessionService) buildSessionResponse(ctx context.Context, session *models.StudentExam, includeQuestions bool) (*SessionResponse, error) {
	now := time.Now().UTC()

	remaining := 0
	if session.Status == models.SessionInProgress && now.Before(session.SubmitTime) {
		remaining = int(session.SubmitTime.Sub(now).Seconds())
	}

	resp := &SessionResponse{
		StudentExam:   session,
		TimeRemaining: remaining,
		CanSubmit:     session.Status == models.SessionInProgress,
	}

	if includeQuestions {
		questions, err := s.loadSessionQuestions(ctx, session.ExamID)
		if err != nil {
			return nil, err
		}
		resp.Questions = questions
	}
	return resp, nil
}

func (s *sessionService) loadSessionQuestions(ctx context.Context, examID uint) ([]QuestionForSession, error) {
	rows, err := s.repo.ExamQuestion().GetByExamWithQuestions(ctx, nil, examID)
	if err != nil {
		return nil, fmt.Errorf("failed to load answer sheet: %w", err)
	}

	questions := make([]QuestionForSession, 0, len(rows))
	for _, row := range rows {
		content, err := sanitizeQuestionContent(row.Question.Type, row.Question.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to sanitize question %d: %w", row.QuestionID, err)
		}
		questions = append(questions, QuestionForSession{
			QuestionID: row.QuestionID,
			Order:      row.Order,
			Points:     row.Points,
			Type:       row.Question.Type,
			Text:       row.Question.Text,
			Content:    content,
		})
	}
	return questions, nil
}

func (s *sessionService) buildSessionListResponse(ctx context.Context, sessions []*models.StudentExam, total int64, filters repositories.SessionFilters) (*SessionListResponse, error) {
	responses := make([]*SessionResponse, 0, len(sessions))
	for _, session := range sessions {
		resp, err := s.buildSessionResponse(ctx, session, false)
		if err != nil {
			return nil, err
		}
		responses = append(responses, resp)
	}

	size := filters.Limit
	if size <= 0 {
		size = len(responses)
	}
	page := 1
	if size > 0 {
		page = (filters.Offset / size) + 1
	}

	return &SessionListResponse{
		Sessions: responses,
		Total:    total,
		Page:     page,
		Size:     size,
	}, nil
}

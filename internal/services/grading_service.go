package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
	"gorm.io/gorm"
)

type gradingService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
}

func NewGradingService(db *gorm.DB, repo repositories.Repository, logger *slog.Logger, v *validator.Validator) GradingService {
	return &gradingService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: v,
	}
}

// ===== SUBMISSION GRADING =====

// GradeSubmission grades every objective answer of a submitted sitting in
// one transaction. Essays are left ungraded with zero points; the returned
// Score is the sum the caller persists.
func (s *gradingService) GradeSubmission(ctx context.Context, sessionID uint) (*SessionGradingResult, error) {
	s.logger.Info("Grading submission", "session_id", sessionID)

	tx := s.db.Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	session, err := s.repo.Session().GetByID(ctx, tx, sessionID)
	if err != nil {
		tx.Rollback()
		if repositories.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	sheet, err := s.loadSheet(ctx, tx, session.ExamID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	answers, err := s.repo.Answer().GetBySession(ctx, tx, sessionID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to get session answers: %w", err)
	}

	now := time.Now().UTC()
	result := &SessionGradingResult{
		SessionID: sessionID,
		GradedAt:  now,
	}

	graded := make([]*models.StudentAnswer, 0, len(answers))
	for _, answer := range answers {
		row, ok := sheet[answer.QuestionID]
		if !ok {
			s.logger.Warn("Answer without sheet row", "session_id", sessionID, "question_id", answer.QuestionID)
			continue
		}

		result.TotalPoints += row.Points

		if row.Question.Type == models.Essay {
			// Essays wait for a manual grade
			answer.IsCorrect = nil
			answer.PointsEarned = 0
			result.HasPendingEssay = true
			result.Answers = append(result.Answers, GradingResult{
				AnswerID:   answer.ID,
				QuestionID: answer.QuestionID,
				MaxPoints:  row.Points,
				GradedAt:   now,
			})
			continue
		}

		correct := false
		if len(answer.UserAnswer) > 0 {
			correct, err = s.CalculateScore(ctx, row.Question.Type, json.RawMessage(row.Question.Content), json.RawMessage(answer.UserAnswer))
			if err != nil {
				tx.Rollback()
				return nil, fmt.Errorf("failed to grade answer %d: %w", answer.ID, err)
			}
		}

		// Points are all or nothing; the sheet row carries the already
		// rounded value.
		answer.IsCorrect = &correct
		if correct {
			answer.PointsEarned = row.Points
		} else {
			answer.PointsEarned = 0
		}
		answer.GradedAt = &now
		answer.GradedBy = nil // auto-graded

		result.Score += answer.PointsEarned
		result.Answers = append(result.Answers, GradingResult{
			AnswerID:     answer.ID,
			QuestionID:   answer.QuestionID,
			PointsEarned: answer.PointsEarned,
			MaxPoints:    row.Points,
			IsCorrect:    answer.IsCorrect,
			GradedAt:     now,
		})
		graded = append(graded, answer)
	}

	if len(graded) > 0 {
		if err := s.repo.Answer().UpdateBatch(ctx, tx, graded); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("failed to persist graded answers: %w", err)
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit grading: %w", err)
	}

	s.logger.Info("Submission graded", "session_id", sessionID, "score", result.Score, "pending_essay", result.HasPendingEssay)
	return result, nil
}

// ===== MANUAL GRADING =====

func (s *gradingService) ApplyManualGrade(ctx context.Context, sessionID uint, req *ManualGradeRequest, graderID string) (*SessionGradingResult, error) {
	s.logger.Info("Applying manual grade", "session_id", sessionID, "question_id", req.QuestionID, "grader_id", graderID)

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	tx := s.db.Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	session, err := s.repo.Session().GetByID(ctx, tx, sessionID)
	if err != nil {
		tx.Rollback()
		if repositories.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if session.Status != models.SessionSubmitted {
		tx.Rollback()
		return nil, ErrSessionNotActive
	}

	allowed, err := s.canGrade(ctx, tx, session.ExamID, graderID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if !allowed {
		tx.Rollback()
		return nil, NewPermissionError(graderID, sessionID, "session", "grade", "not exam creator or admin")
	}

	sheet, err := s.loadSheet(ctx, tx, session.ExamID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	row, ok := sheet[req.QuestionID]
	if !ok {
		tx.Rollback()
		return nil, ErrQuestionNotFound
	}
	if row.Question.Type != models.Essay {
		tx.Rollback()
		return nil, ErrGradingNotAllowed
	}

	answer, err := s.repo.Answer().GetBySessionAndQuestion(ctx, tx, sessionID, req.QuestionID)
	if err != nil {
		tx.Rollback()
		if repositories.IsNotFoundError(err) {
			return nil, ErrAnswerNotFound
		}
		return nil, fmt.Errorf("failed to get answer: %w", err)
	}

	now := time.Now().UTC()
	answer.PointsEarned = clampPoints(req.Points, row.Points)
	answer.GradedBy = &graderID
	answer.GradedAt = &now

	if err := s.repo.Answer().Update(ctx, tx, answer); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to update answer: %w", err)
	}

	// Recompute the session score from every slot; status stays Submitted
	answers, err := s.repo.Answer().GetBySession(ctx, tx, sessionID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to reload answers: %w", err)
	}

	result := &SessionGradingResult{
		SessionID: sessionID,
		GradedAt:  now,
	}
	for _, a := range answers {
		r, ok := sheet[a.QuestionID]
		if !ok {
			continue
		}
		result.TotalPoints += r.Points
		result.Score += a.PointsEarned
		if r.Question.Type == models.Essay && a.GradedAt == nil {
			result.HasPendingEssay = true
		}
		result.Answers = append(result.Answers, GradingResult{
			AnswerID:     a.ID,
			QuestionID:   a.QuestionID,
			PointsEarned: a.PointsEarned,
			MaxPoints:    r.Points,
			IsCorrect:    a.IsCorrect,
			GradedAt:     now,
			GradedBy:     a.GradedBy,
		})
	}

	if err := s.repo.Session().UpdateScore(ctx, tx, sessionID, result.Score); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to update session score: %w", err)
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit manual grade: %w", err)
	}

	s.logger.Info("Manual grade applied", "session_id", sessionID, "question_id", req.QuestionID, "points", answer.PointsEarned, "score", result.Score)
	return result, nil
}

// ===== PER-ANSWER SCORING =====

// CalculateScore reports correctness only; point allocation lives with the
// answer sheet.
func (s *gradingService) CalculateScore(ctx context.Context, questionType models.QuestionType, questionContent json.RawMessage, studentAnswer json.RawMessage) (bool, error) {
	switch questionType {
	case models.MultipleChoice:
		return s.gradeMultipleChoice(questionContent, studentAnswer)
	case models.TrueFalse:
		return s.gradeTrueFalse(questionContent, studentAnswer)
	case models.FillBlank:
		return s.gradeFillBlank(questionContent, studentAnswer)
	case models.Essay:
		return false, ErrGradingNotAllowed
	default:
		return false, fmt.Errorf("unknown question type: %d", questionType)
	}
}

// ===== PENDING ESSAYS =====

func (s *gradingService) HasPendingEssays(ctx context.Context, sessionID uint) (bool, error) {
	session, err := s.repo.Session().GetByID(ctx, nil, sessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return false, ErrSessionNotFound
		}
		return false, fmt.Errorf("failed to get session: %w", err)
	}

	sheet, err := s.loadSheet(ctx, nil, session.ExamID)
	if err != nil {
		return false, err
	}

	answers, err := s.repo.Answer().GetBySession(ctx, nil, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to get session answers: %w", err)
	}

	for _, a := range answers {
		row, ok := sheet[a.QuestionID]
		if !ok {
			continue
		}
		if row.Question.Type == models.Essay && a.GradedAt == nil {
			return true, nil
		}
	}
	return false, nil
}

// ===== STATISTICS =====

func (s *gradingService) GetGradingOverview(ctx context.Context, examID uint, userID string) (*repositories.GradingStats, error) {
	allowed, err := s.canGrade(ctx, nil, examID, userID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, NewPermissionError(userID, examID, "exam", "grading_overview", "not exam creator or admin")
	}

	sessions, _, err := s.repo.Session().GetByExam(ctx, nil, examID, repositories.SessionFilters{})
	if err != nil {
		return nil, fmt.Errorf("failed to list exam sessions: %w", err)
	}

	overview := &repositories.GradingStats{}
	var scoreSum float64
	var scored int
	for _, session := range sessions {
		stats, err := s.repo.Answer().GetGradingStats(ctx, nil, session.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get grading stats: %w", err)
		}
		overview.TotalAnswers += stats.TotalAnswers
		overview.GradedAnswers += stats.GradedAnswers
		overview.PendingAnswers += stats.PendingAnswers
		overview.AutoGraded += stats.AutoGraded
		overview.ManualGraded += stats.ManualGraded
		if session.Score != nil {
			scoreSum += *session.Score
			scored++
		}
	}
	if scored > 0 {
		overview.AverageScore = scoreSum / float64(scored)
	}
	return overview, nil
}

// ===== HELPER METHODS =====

// loadSheet indexes the frozen answer sheet by question id with question
// details preloaded.
func (s *gradingService) loadSheet(ctx context.Context, tx *gorm.DB, examID uint) (map[uint]*models.ExamQuestion, error) {
	rows, err := s.repo.ExamQuestion().GetByExamWithQuestions(ctx, tx, examID)
	if err != nil {
		return nil, fmt.Errorf("failed to load answer sheet: %w", err)
	}
	sheet := make(map[uint]*models.ExamQuestion, len(rows))
	for _, row := range rows {
		sheet[row.QuestionID] = row
	}
	return sheet, nil
}

func (s *gradingService) canGrade(ctx context.Context, tx *gorm.DB, examID uint, userID string) (bool, error) {
	exam, err := s.repo.Exam().GetByID(ctx, tx, examID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return false, ErrExamNotFound
		}
		return false, fmt.Errorf("failed to get exam: %w", err)
	}
	if exam.CreatedBy == userID {
		return true, nil
	}
	return s.repo.User().HasRole(ctx, userID, models.RoleAdmin)
}

// clampPoints bounds a manual grade to [0, max] without re-rounding
func clampPoints(points, max float64) float64 {
	if points < 0 {
		return 0
	}
	if points > max {
		return max
	}
	return points
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SAP-F-2025/exam-session-service/internal/cache"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type SessionPostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

func NewSessionPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.SessionRepository {
	return &SessionPostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (s *SessionPostgreSQL) Create(ctx context.Context, tx *gorm.DB, session *models.StudentExam) error {
	db := s.getDB(tx)
	return db.WithContext(ctx).Create(session).Error
}

func (s *SessionPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.StudentExam, error) {
	db := s.getDB(tx)
	var session models.StudentExam
	if err := db.WithContext(ctx).First(&session, id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *SessionPostgreSQL) GetByIDWithAnswers(ctx context.Context, tx *gorm.DB, id uint) (*models.StudentExam, error) {
	db := s.getDB(tx)
	var session models.StudentExam
	if err := db.WithContext(ctx).
		Preload("Exam").
		Preload("Answers", func(db *gorm.DB) *gorm.DB {
			return db.Order("question_id ASC")
		}).
		Preload("Answers.Question").
		First(&session, id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *SessionPostgreSQL) Update(ctx context.Context, tx *gorm.DB, session *models.StudentExam) error {
	db := s.getDB(tx)
	if err := db.WithContext(ctx).Save(session).Error; err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	s.cacheManager.Fast.Delete(ctx, fmt.Sprintf("session:id:%d", session.ID))

	return nil
}

func (s *SessionPostgreSQL) GetActiveSession(ctx context.Context, tx *gorm.DB, examID uint, studentID string) (*models.StudentExam, error) {
	db := s.getDB(tx)
	var session models.StudentExam
	if err := db.WithContext(ctx).
		Where("exam_id = ? AND student_id = ? AND status IN ?", examID, studentID,
			[]models.SessionStatus{models.SessionNotStarted, models.SessionInProgress}).
		First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *SessionPostgreSQL) GetByExamAndStudent(ctx context.Context, tx *gorm.DB, examID uint, studentID string) ([]*models.StudentExam, error) {
	db := s.getDB(tx)
	var sessions []*models.StudentExam
	if err := db.WithContext(ctx).
		Where("exam_id = ? AND student_id = ?", examID, studentID).
		Order("created_at DESC").
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to get sessions by exam and student: %w", err)
	}
	return sessions, nil
}

// CompareAndSubmit is the single submission gate. The conditional WHERE makes
// the InProgress -> Submitted transition happen at most once no matter how
// many students, tabs, or watchdog ticks race on the same sitting.
func (s *SessionPostgreSQL) CompareAndSubmit(ctx context.Context, tx *gorm.DB, id uint, endedAt time.Time, submittedBy string) (bool, error) {
	db := s.getDB(tx)
	result := db.WithContext(ctx).
		Model(&models.StudentExam{}).
		Where("id = ? AND status = ?", id, models.SessionInProgress).
		Updates(map[string]interface{}{
			"status":       models.SessionSubmitted,
			"ended_at":     endedAt,
			"submitted_by": submittedBy,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to submit session: %w", result.Error)
	}

	s.cacheManager.Fast.Delete(ctx, fmt.Sprintf("session:id:%d", id))

	return result.RowsAffected == 1, nil
}

func (s *SessionPostgreSQL) UpdateScoreAndStatus(ctx context.Context, tx *gorm.DB, id uint, score float64, status models.SessionStatus) error {
	db := s.getDB(tx)
	if err := db.WithContext(ctx).
		Model(&models.StudentExam{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"score":  score,
			"status": status,
		}).Error; err != nil {
		return fmt.Errorf("failed to update score and status: %w", err)
	}

	s.cacheManager.Fast.Delete(ctx, fmt.Sprintf("session:id:%d", id))

	return nil
}

func (s *SessionPostgreSQL) UpdateScore(ctx context.Context, tx *gorm.DB, id uint, score float64) error {
	db := s.getDB(tx)
	if err := db.WithContext(ctx).
		Model(&models.StudentExam{}).
		Where("id = ?", id).
		Update("score", score).Error; err != nil {
		return fmt.Errorf("failed to update score: %w", err)
	}

	s.cacheManager.Fast.Delete(ctx, fmt.Sprintf("session:id:%d", id))

	return nil
}

func (s *SessionPostgreSQL) GetOverdueSessions(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*models.StudentExam, error) {
	db := s.getDB(tx)
	var sessions []*models.StudentExam
	query := db.WithContext(ctx).
		Where("status = ? AND submit_time <= ?", models.SessionInProgress, now).
		Order("submit_time ASC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to get overdue sessions: %w", err)
	}

	return sessions, nil
}

func (s *SessionPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.SessionFilters) ([]*models.StudentExam, int64, error) {
	db := s.getDB(tx)
	var sessions []*models.StudentExam
	var total int64

	// apply filter first
	query := db.WithContext(ctx).Model(&models.StudentExam{})
	query = s.helpers.ApplySessionFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// then apply pagination and sorting
	query = s.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)

	if err := query.Preload("Exam").Find(&sessions).Error; err != nil {
		return nil, 0, err
	}

	return sessions, total, nil
}

func (s *SessionPostgreSQL) GetByExam(ctx context.Context, tx *gorm.DB, examID uint, filters repositories.SessionFilters) ([]*models.StudentExam, int64, error) {
	filters.ExamID = &examID
	return s.List(ctx, tx, filters)
}

func (s *SessionPostgreSQL) GetByStudent(ctx context.Context, tx *gorm.DB, studentID string, filters repositories.SessionFilters) ([]*models.StudentExam, int64, error) {
	filters.StudentID = &studentID
	return s.List(ctx, tx, filters)
}

func (s *SessionPostgreSQL) GetStats(ctx context.Context, tx *gorm.DB, examID uint) (*repositories.SessionStats, error) {
	var stats repositories.SessionStats

	totalSessions, err := s.helpers.CountSessions(ctx, examID)
	if err != nil {
		return nil, err
	}

	// Status breakdown using helper
	statusBreakdown := make(map[models.SessionStatus]int)
	statuses := []models.SessionStatus{
		models.SessionNotStarted, models.SessionInProgress,
		models.SessionSubmitted, models.SessionFailed, models.SessionPassed,
	}
	for _, status := range statuses {
		count, err := s.helpers.CountSessionsByStatus(ctx, examID, status)
		if err != nil {
			return nil, err
		}
		statusBreakdown[status] = int(count)
	}

	// Aggregate stats in single query
	var avgScore float64
	var gradedCount, passedCount int64

	s.db.WithContext(ctx).
		Model(&models.StudentExam{}).
		Where("exam_id = ? AND score IS NOT NULL", examID).
		Select("COALESCE(AVG(score), 0), COUNT(*), SUM(CASE WHEN status = 'Passed' THEN 1 ELSE 0 END)").
		Row().Scan(&avgScore, &gradedCount, &passedCount)

	passRate := float64(0)
	if gradedCount > 0 {
		passRate = float64(passedCount) / float64(gradedCount)
	}

	completionRate := float64(0)
	if totalSessions > 0 {
		completionRate = float64(gradedCount) / float64(totalSessions)
	}

	stats = repositories.SessionStats{
		TotalSessions:   int(totalSessions),
		StatusBreakdown: statusBreakdown,
		AverageScore:    avgScore,
		PassRate:        passRate,
		CompletionRate:  completionRate,
	}

	return &stats, nil
}

// getDB returns the transaction DB if provided, otherwise returns the default DB
func (s *SessionPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

// ===== ANSWER REPOSITORY IMPLEMENTATION =====

// AnswerPostgreSQL implements the AnswerRepository interface
type AnswerPostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

// NewAnswerPostgreSQL creates a new answer repository instance
func NewAnswerPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.AnswerRepository {
	return &AnswerPostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

// ===== BASIC CRUD OPERATIONS =====

// Create creates a new answer slot
func (ar *AnswerPostgreSQL) Create(ctx context.Context, tx *gorm.DB, answer *models.StudentAnswer) error {
	db := ar.getDB(tx)
	if err := db.WithContext(ctx).Create(answer).Error; err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}

	// Invalidate related caches
	ar.cacheManager.Fast.Delete(ctx,
		fmt.Sprintf("session:%d:answers", answer.StudentExamID),
		fmt.Sprintf("session:%d:question:%d", answer.StudentExamID, answer.QuestionID),
	)

	return nil
}

// GetByID retrieves an answer by ID
func (ar *AnswerPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.StudentAnswer, error) {
	db := ar.getDB(tx)
	var answer models.StudentAnswer
	if err := db.WithContext(ctx).First(&answer, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get answer: %w", err)
	}
	return &answer, nil
}

// Update updates an existing answer
func (ar *AnswerPostgreSQL) Update(ctx context.Context, tx *gorm.DB, answer *models.StudentAnswer) error {
	db := ar.getDB(tx)
	if err := db.WithContext(ctx).Save(answer).Error; err != nil {
		return fmt.Errorf("failed to update answer: %w", err)
	}

	// Invalidate caches
	ar.cacheManager.Fast.Delete(ctx,
		fmt.Sprintf("session:%d:answers", answer.StudentExamID),
		fmt.Sprintf("session:%d:question:%d", answer.StudentExamID, answer.QuestionID),
	)

	return nil
}

// ===== BULK OPERATIONS =====

// CreateBatch creates multiple answers in a batch
func (ar *AnswerPostgreSQL) CreateBatch(ctx context.Context, tx *gorm.DB, answers []*models.StudentAnswer) error {
	if len(answers) == 0 {
		return nil
	}

	db := ar.getDB(tx)
	if err := db.WithContext(ctx).CreateInBatches(answers, 100).Error; err != nil {
		return fmt.Errorf("failed to create answers batch: %w", err)
	}

	// Invalidate caches for all affected sessions
	sessionIDs := make(map[uint]bool)
	for _, answer := range answers {
		sessionIDs[answer.StudentExamID] = true
	}

	for sessionID := range sessionIDs {
		ar.cacheManager.Fast.InvalidatePattern(ctx, fmt.Sprintf("session:%d:*", sessionID))
	}

	return nil
}

// UpdateBatch updates multiple answers in a batch
func (ar *AnswerPostgreSQL) UpdateBatch(ctx context.Context, tx *gorm.DB, answers []*models.StudentAnswer) error {
	if len(answers) == 0 {
		return nil
	}

	db := ar.getDB(tx)
	return db.WithContext(ctx).Transaction(func(txInner *gorm.DB) error {
		for _, answer := range answers {
			if err := txInner.Save(answer).Error; err != nil {
				return fmt.Errorf("failed to update answer ID %d: %w", answer.ID, err)
			}
		}

		// Invalidate caches for all affected sessions
		sessionIDs := make(map[uint]bool)
		for _, answer := range answers {
			sessionIDs[answer.StudentExamID] = true
		}

		for sessionID := range sessionIDs {
			ar.cacheManager.Fast.InvalidatePattern(ctx, fmt.Sprintf("session:%d:*", sessionID))
		}

		return nil
	})
}

// ===== QUERY OPERATIONS =====

// GetBySession retrieves all answers for a sitting
func (ar *AnswerPostgreSQL) GetBySession(ctx context.Context, tx *gorm.DB, sessionID uint) ([]*models.StudentAnswer, error) {
	db := ar.getDB(tx)
	var answers []*models.StudentAnswer
	if err := db.WithContext(ctx).
		Where("student_exam_id = ?", sessionID).
		Order("question_id ASC").
		Find(&answers).Error; err != nil {
		return nil, fmt.Errorf("failed to get answers by session: %w", err)
	}
	return answers, nil
}

// GetBySessionAndQuestion retrieves the single answer slot for a sitting and question
func (ar *AnswerPostgreSQL) GetBySessionAndQuestion(ctx context.Context, tx *gorm.DB, sessionID, questionID uint) (*models.StudentAnswer, error) {
	db := ar.getDB(tx)
	var answer models.StudentAnswer
	if err := db.WithContext(ctx).
		Where("student_exam_id = ? AND question_id = ?", sessionID, questionID).
		First(&answer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get answer: %w", err)
	}
	return &answer, nil
}

// UpdateUserAnswer overwrites the stored answer in place, last write wins.
// The UPDATE itself carries the state guard: it matches only while the
// owning sitting is still InProgress and before its deadline, so a write
// racing a submission cannot mutate an already-graded answer.
func (ar *AnswerPostgreSQL) UpdateUserAnswer(ctx context.Context, tx *gorm.DB, sessionID, questionID uint, userAnswer []byte, timeSpent *int) error {
	db := ar.getDB(tx)
	updates := map[string]interface{}{"user_answer": userAnswer}
	if timeSpent != nil {
		updates["time_spent"] = *timeSpent
	}
	result := db.WithContext(ctx).
		Model(&models.StudentAnswer{}).
		Where("student_exam_id = ? AND question_id = ?", sessionID, questionID).
		Where("EXISTS (SELECT 1 FROM student_exams WHERE student_exams.id = ? AND student_exams.status = ? AND student_exams.submit_time > ?)",
			sessionID, models.SessionInProgress, time.Now().UTC()).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update user answer: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	// Invalidate caches
	ar.cacheManager.Fast.Delete(ctx,
		fmt.Sprintf("session:%d:answers", sessionID),
		fmt.Sprintf("session:%d:question:%d", sessionID, questionID),
	)

	return nil
}

// ===== STATISTICS =====

// GetGradingStats retrieves grading statistics for a sitting
func (ar *AnswerPostgreSQL) GetGradingStats(ctx context.Context, tx *gorm.DB, sessionID uint) (*repositories.GradingStats, error) {
	db := ar.getDB(tx)
	stats := &repositories.GradingStats{}

	var totalAnswers int64
	if err := db.WithContext(ctx).
		Model(&models.StudentAnswer{}).
		Where("student_exam_id = ?", sessionID).
		Count(&totalAnswers).Error; err != nil {
		return nil, fmt.Errorf("failed to count total answers: %w", err)
	}
	stats.TotalAnswers = int(totalAnswers)

	var gradedAnswers int64
	if err := db.WithContext(ctx).
		Model(&models.StudentAnswer{}).
		Where("student_exam_id = ? AND graded_at IS NOT NULL", sessionID).
		Count(&gradedAnswers).Error; err != nil {
		return nil, fmt.Errorf("failed to count graded answers: %w", err)
	}
	stats.GradedAnswers = int(gradedAnswers)
	stats.PendingAnswers = int(totalAnswers - gradedAnswers)

	// Auto-graded answers have no grader identity
	var autoGraded int64
	if err := db.WithContext(ctx).
		Model(&models.StudentAnswer{}).
		Where("student_exam_id = ? AND graded_at IS NOT NULL AND graded_by IS NULL", sessionID).
		Count(&autoGraded).Error; err != nil {
		return nil, fmt.Errorf("failed to count auto-graded answers: %w", err)
	}
	stats.AutoGraded = int(autoGraded)
	stats.ManualGraded = int(gradedAnswers - autoGraded)

	var avgScore float64
	if err := db.WithContext(ctx).
		Model(&models.StudentAnswer{}).
		Where("student_exam_id = ? AND graded_at IS NOT NULL", sessionID).
		Select("COALESCE(AVG(points_earned), 0)").
		Scan(&avgScore).Error; err != nil {
		return nil, fmt.Errorf("failed to get average score: %w", err)
	}
	stats.AverageScore = avgScore

	return stats, nil
}

// ===== HELPER METHODS =====

// getDB returns the transaction DB if provided, otherwise returns the default DB
func (ar *AnswerPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return ar.db
}

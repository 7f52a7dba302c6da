package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/SAP-F-2025/exam-session-service/internal/cache"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type ExamPostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

func NewExamPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.ExamRepository {
	return &ExamPostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (e *ExamPostgreSQL) Create(ctx context.Context, tx *gorm.DB, exam *models.Exam) error {
	db := e.getDB(tx)
	if err := db.WithContext(ctx).Create(exam).Error; err != nil {
		return fmt.Errorf("failed to create exam: %w", err)
	}
	return nil
}

func (e *ExamPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error) {
	db := e.getDB(tx)
	// Cache exam definitions, students hit this on every entry
	cacheKey := fmt.Sprintf("exam:id:%d", id)
	var exam models.Exam

	err := e.cacheManager.Fast.CacheOrExecute(ctx, cacheKey, &exam, cache.FastCacheConfig.TTL, func() (interface{}, error) {
		var dbExam models.Exam
		if err := db.WithContext(ctx).First(&dbExam, id).Error; err != nil {
			return nil, err
		}
		return &dbExam, nil
	})

	if err != nil {
		return nil, err
	}
	return &exam, nil
}

func (e *ExamPostgreSQL) GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error) {
	db := e.getDB(tx)
	var exam models.Exam
	if err := db.WithContext(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("question_order ASC")
		}).
		Preload("Questions.Question").
		First(&exam, id).Error; err != nil {
		return nil, err
	}
	return &exam, nil
}

func (e *ExamPostgreSQL) Update(ctx context.Context, tx *gorm.DB, exam *models.Exam) error {
	db := e.getDB(tx)
	if err := db.WithContext(ctx).Save(exam).Error; err != nil {
		return fmt.Errorf("failed to update exam: %w", err)
	}

	// Invalidate cache
	e.cacheManager.Fast.Delete(ctx, fmt.Sprintf("exam:id:%d", exam.ID))

	return nil
}

func (e *ExamPostgreSQL) UpdateStatus(ctx context.Context, tx *gorm.DB, id uint, status models.ExamStatus) error {
	db := e.getDB(tx)
	if err := db.WithContext(ctx).
		Model(&models.Exam{}).
		Where("id = ?", id).
		Update("status", status).Error; err != nil {
		return fmt.Errorf("failed to update exam status: %w", err)
	}

	e.cacheManager.Fast.Delete(ctx, fmt.Sprintf("exam:id:%d", id))

	return nil
}

func (e *ExamPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.ExamFilters) ([]*models.Exam, int64, error) {
	db := e.getDB(tx)
	var exams []*models.Exam
	var total int64

	// apply filter first
	query := db.WithContext(ctx).Model(&models.Exam{})
	query = e.helpers.ApplyExamFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// then apply pagination and sorting
	query = e.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)

	if err := query.Find(&exams).Error; err != nil {
		return nil, 0, err
	}

	return exams, total, nil
}

func (e *ExamPostgreSQL) GetByCreator(ctx context.Context, tx *gorm.DB, creatorID string, filters repositories.ExamFilters) ([]*models.Exam, int64, error) {
	filters.CreatedBy = &creatorID
	return e.List(ctx, tx, filters)
}

func (e *ExamPostgreSQL) GetPublishedBetween(ctx context.Context, tx *gorm.DB, from, to string) ([]*models.Exam, error) {
	db := e.getDB(tx)
	var exams []*models.Exam
	if err := db.WithContext(ctx).
		Where("status = ? AND start_time >= ? AND start_time <= ?", models.ExamPublished, from, to).
		Order("start_time ASC").
		Find(&exams).Error; err != nil {
		return nil, err
	}
	return exams, nil
}

// ExistsByTitle checks title uniqueness per creator. The caller passes the
// normalized title; comparison lowercases and strips spaces on both sides.
func (e *ExamPostgreSQL) ExistsByTitle(ctx context.Context, tx *gorm.DB, normalizedTitle string, creatorID string, excludeID *uint) (bool, error) {
	db := e.getDB(tx)
	var count int64
	query := db.WithContext(ctx).
		Model(&models.Exam{}).
		Where("REPLACE(LOWER(title), ' ', '') = ? AND created_by = ?", normalizedTitle, creatorID)

	if excludeID != nil {
		query = query.Where("id != ?", *excludeID)
	}

	if err := query.Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check title existence: %w", err)
	}

	return count > 0, nil
}

func (e *ExamPostgreSQL) HasSessions(ctx context.Context, tx *gorm.DB, id uint) (bool, error) {
	count, err := e.helpers.CountSessions(ctx, id)
	return count > 0, err
}

func (e *ExamPostgreSQL) GetStats(ctx context.Context, tx *gorm.DB, id uint, passThreshold float64) (*repositories.ExamStats, error) {
	db := e.getDB(tx)
	stats := &repositories.ExamStats{}

	totalSessions, err := e.helpers.CountSessions(ctx, id)
	if err != nil {
		return nil, err
	}
	stats.TotalSessions = int(totalSessions)

	var submitted int64
	if err := db.WithContext(ctx).
		Model(&models.StudentExam{}).
		Where("exam_id = ? AND score IS NOT NULL", id).
		Count(&submitted).Error; err != nil {
		return nil, err
	}
	stats.SubmittedSessions = int(submitted)

	var avgScore float64
	var passedCount int64
	db.WithContext(ctx).
		Model(&models.StudentExam{}).
		Where("exam_id = ? AND score IS NOT NULL", id).
		Select("COALESCE(AVG(score), 0), SUM(CASE WHEN score >= ? THEN 1 ELSE 0 END)", passThreshold).
		Row().Scan(&avgScore, &passedCount)

	stats.AverageScore = avgScore
	if submitted > 0 {
		stats.PassRate = float64(passedCount) / float64(submitted)
	}

	var questionCount int64
	if err := db.WithContext(ctx).
		Model(&models.ExamQuestion{}).
		Where("exam_id = ?", id).
		Count(&questionCount).Error; err != nil {
		return nil, err
	}
	stats.QuestionCount = int(questionCount)

	var totalPoints float64
	if err := db.WithContext(ctx).
		Model(&models.ExamQuestion{}).
		Where("exam_id = ?", id).
		Select("COALESCE(SUM(points), 0)").
		Scan(&totalPoints).Error; err != nil {
		return nil, err
	}
	stats.TotalPoints = totalPoints

	return stats, nil
}

// getDB returns the transaction DB if provided, otherwise returns the default DB
func (e *ExamPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return e.db
}

// ===== EXAM QUESTION REPOSITORY IMPLEMENTATION =====

// ExamQuestionPostgreSQL implements the ExamQuestionRepository interface
type ExamQuestionPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewExamQuestionPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.ExamQuestionRepository {
	return &ExamQuestionPostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (eq *ExamQuestionPostgreSQL) CreateBatch(ctx context.Context, tx *gorm.DB, rows []*models.ExamQuestion) error {
	if len(rows) == 0 {
		return nil
	}

	db := eq.getDB(tx)
	if err := db.WithContext(ctx).CreateInBatches(rows, 100).Error; err != nil {
		return fmt.Errorf("failed to create exam questions batch: %w", err)
	}

	eq.cacheManager.Fast.Delete(ctx, fmt.Sprintf("exam:%d:sheet", rows[0].ExamID))

	return nil
}

func (eq *ExamQuestionPostgreSQL) GetByExam(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.ExamQuestion, error) {
	db := eq.getDB(tx)
	cacheKey := fmt.Sprintf("exam:%d:sheet", examID)
	var rows []*models.ExamQuestion

	err := eq.cacheManager.Fast.CacheOrExecute(ctx, cacheKey, &rows, cache.FastCacheConfig.TTL, func() (interface{}, error) {
		var dbRows []*models.ExamQuestion
		if err := db.WithContext(ctx).
			Where("exam_id = ?", examID).
			Order("question_order ASC").
			Find(&dbRows).Error; err != nil {
			return nil, fmt.Errorf("failed to get exam questions: %w", err)
		}
		return dbRows, nil
	})

	return rows, err
}

func (eq *ExamQuestionPostgreSQL) GetByExamWithQuestions(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.ExamQuestion, error) {
	db := eq.getDB(tx)
	var rows []*models.ExamQuestion
	if err := db.WithContext(ctx).
		Where("exam_id = ?", examID).
		Order("question_order ASC").
		Preload("Question").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get exam questions with details: %w", err)
	}
	return rows, nil
}

func (eq *ExamQuestionPostgreSQL) DeleteByExam(ctx context.Context, tx *gorm.DB, examID uint) error {
	db := eq.getDB(tx)
	if err := db.WithContext(ctx).
		Where("exam_id = ?", examID).
		Delete(&models.ExamQuestion{}).Error; err != nil {
		return fmt.Errorf("failed to delete exam questions: %w", err)
	}

	eq.cacheManager.Fast.Delete(ctx, fmt.Sprintf("exam:%d:sheet", examID))

	return nil
}

func (eq *ExamQuestionPostgreSQL) CountByExam(ctx context.Context, tx *gorm.DB, examID uint) (int64, error) {
	db := eq.getDB(tx)
	var count int64
	err := db.WithContext(ctx).
		Model(&models.ExamQuestion{}).
		Where("exam_id = ?", examID).
		Count(&count).Error
	return count, err
}

func (eq *ExamQuestionPostgreSQL) SumPointsByExam(ctx context.Context, tx *gorm.DB, examID uint) (float64, error) {
	db := eq.getDB(tx)
	var sum float64
	err := db.WithContext(ctx).
		Model(&models.ExamQuestion{}).
		Where("exam_id = ?", examID).
		Select("COALESCE(SUM(points), 0)").
		Scan(&sum).Error
	if err != nil && errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return sum, err
}

// getDB returns the transaction DB if provided, otherwise returns the default DB
func (eq *ExamQuestionPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return eq.db
}

package repositories

import (
	"context"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"gorm.io/gorm"
)

// ExamRepository interface for exam-specific operations
type ExamRepository interface {
	// Basic CRUD operations
	Create(ctx context.Context, tx *gorm.DB, exam *models.Exam) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error)
	GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error) // Preloads the frozen sheet with question details
	Update(ctx context.Context, tx *gorm.DB, exam *models.Exam) error
	UpdateStatus(ctx context.Context, tx *gorm.DB, id uint, status models.ExamStatus) error

	// Query operations
	List(ctx context.Context, tx *gorm.DB, filters ExamFilters) ([]*models.Exam, int64, error)
	GetByCreator(ctx context.Context, tx *gorm.DB, creatorID string, filters ExamFilters) ([]*models.Exam, int64, error)
	GetPublishedBetween(ctx context.Context, tx *gorm.DB, from, to string) ([]*models.Exam, error)

	// Validation and checks
	ExistsByTitle(ctx context.Context, tx *gorm.DB, normalizedTitle string, creatorID string, excludeID *uint) (bool, error)
	HasSessions(ctx context.Context, tx *gorm.DB, id uint) (bool, error)

	// Statistics
	GetStats(ctx context.Context, tx *gorm.DB, id uint, passThreshold float64) (*ExamStats, error)
}

// ExamQuestionRepository interface for the frozen answer sheet rows
type ExamQuestionRepository interface {
	CreateBatch(ctx context.Context, tx *gorm.DB, rows []*models.ExamQuestion) error
	GetByExam(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.ExamQuestion, error)
	GetByExamWithQuestions(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.ExamQuestion, error)
	DeleteByExam(ctx context.Context, tx *gorm.DB, examID uint) error
	CountByExam(ctx context.Context, tx *gorm.DB, examID uint) (int64, error)
	SumPointsByExam(ctx context.Context, tx *gorm.DB, examID uint) (float64, error)
}

package repositories

import (
	"context"
	"time"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"gorm.io/gorm"
)

// SessionRepository interface for student exam sitting operations.
// Sittings are append-and-update only; there is no Delete.
type SessionRepository interface {
	// Basic CRUD operations
	Create(ctx context.Context, tx *gorm.DB, session *models.StudentExam) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.StudentExam, error)
	GetByIDWithAnswers(ctx context.Context, tx *gorm.DB, id uint) (*models.StudentExam, error)
	Update(ctx context.Context, tx *gorm.DB, session *models.StudentExam) error

	// GetActiveSession finds the single non-terminal sitting for a student on
	// an exam, or a not-found error when every sitting is terminal.
	GetActiveSession(ctx context.Context, tx *gorm.DB, examID uint, studentID string) (*models.StudentExam, error)
	GetByExamAndStudent(ctx context.Context, tx *gorm.DB, examID uint, studentID string) ([]*models.StudentExam, error)

	// CompareAndSubmit flips exactly one InProgress row to Submitted. The
	// returned bool reports whether this caller won the transition; a false
	// with nil error means another writer got there first.
	CompareAndSubmit(ctx context.Context, tx *gorm.DB, id uint, endedAt time.Time, submittedBy string) (bool, error)
	UpdateScoreAndStatus(ctx context.Context, tx *gorm.DB, id uint, score float64, status models.SessionStatus) error
	UpdateScore(ctx context.Context, tx *gorm.DB, id uint, score float64) error

	// GetOverdueSessions lists InProgress sittings whose deadline has passed.
	GetOverdueSessions(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*models.StudentExam, error)

	// Query operations
	List(ctx context.Context, tx *gorm.DB, filters SessionFilters) ([]*models.StudentExam, int64, error)
	GetByExam(ctx context.Context, tx *gorm.DB, examID uint, filters SessionFilters) ([]*models.StudentExam, int64, error)
	GetByStudent(ctx context.Context, tx *gorm.DB, studentID string, filters SessionFilters) ([]*models.StudentExam, int64, error)

	// Statistics
	GetStats(ctx context.Context, tx *gorm.DB, examID uint) (*SessionStats, error)
}

// AnswerRepository interface for answer-sheet slot operations
type AnswerRepository interface {
	// Basic CRUD operations
	Create(ctx context.Context, tx *gorm.DB, answer *models.StudentAnswer) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.StudentAnswer, error)
	Update(ctx context.Context, tx *gorm.DB, answer *models.StudentAnswer) error

	// Bulk operations
	CreateBatch(ctx context.Context, tx *gorm.DB, answers []*models.StudentAnswer) error
	UpdateBatch(ctx context.Context, tx *gorm.DB, answers []*models.StudentAnswer) error

	// Query operations
	GetBySession(ctx context.Context, tx *gorm.DB, sessionID uint) ([]*models.StudentAnswer, error)
	GetBySessionAndQuestion(ctx context.Context, tx *gorm.DB, sessionID, questionID uint) (*models.StudentAnswer, error)

	// UpdateUserAnswer overwrites the stored answer in place, last write wins.
	// The write only applies while the owning sitting is InProgress and before
	// its deadline; otherwise ErrNotFound is returned with zero rows touched.
	UpdateUserAnswer(ctx context.Context, tx *gorm.DB, sessionID, questionID uint, userAnswer []byte, timeSpent *int) error

	// Statistics
	GetGradingStats(ctx context.Context, tx *gorm.DB, sessionID uint) (*GradingStats, error)
}

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
)

// ===== REQUEST/RESPONSE DTOs =====

// Request DTOs live with the models; aliased here so callers only import services
type CreateExamRequest = models.ExamCreateRequest
type UpdateExamRequest = models.ExamUpdateRequest
type CreateQuestionRequest = models.QuestionCreateRequest
type UpdateQuestionRequest = models.QuestionUpdateRequest
type StartSessionRequest = models.StartSessionRequest
type SaveAnswerRequest = models.SaveAnswerRequest
type ManualGradeRequest = models.ManualGradeRequest

type ExamResponse struct {
	*models.Exam
	CanEdit   bool `json:"can_edit"`
	CanDelete bool `json:"can_delete"`
	CanTake   bool `json:"can_take"`
}

type ExamListResponse struct {
	Exams []*ExamResponse `json:"exams"`
	Total int64           `json:"total"`
	Page  int             `json:"page"`
	Size  int             `json:"size"`
}

type QuestionResponse struct {
	*models.Question
	CanEdit   bool `json:"can_edit"`
	CanDelete bool `json:"can_delete"`
}

type QuestionListResponse struct {
	Questions []*QuestionResponse `json:"questions"`
	Total     int64               `json:"total"`
	Page      int                 `json:"page"`
	Size      int                 `json:"size"`
}

// QuestionForSession is one sheet slot as shown to the sitting student.
// Content is stripped of correct answers before it leaves the service.
type QuestionForSession struct {
	QuestionID uint                `json:"question_id"`
	Order      int                 `json:"order"`
	Points     float64             `json:"points"`
	Type       models.QuestionType `json:"type"`
	Text       string              `json:"text"`
	Content    json.RawMessage     `json:"content,omitempty"`
}

type SessionResponse struct {
	*models.StudentExam
	TimeRemaining int                  `json:"time_remaining"` // Seconds, 0 once closed
	CanSubmit     bool                 `json:"can_submit"`
	Questions     []QuestionForSession `json:"questions,omitempty"`
}

type SessionListResponse struct {
	Sessions []*SessionResponse `json:"sessions"`
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	Size     int                `json:"size"`
}

// SessionMeta carries request-level audit fields into session creation
type SessionMeta struct {
	IPAddress *string
	UserAgent *string
}

// ===== GRADING DTOs =====

type GradingResult struct {
	AnswerID     uint      `json:"answer_id"`
	QuestionID   uint      `json:"question_id"`
	PointsEarned float64   `json:"points_earned"`
	MaxPoints    float64   `json:"max_points"`
	IsCorrect    *bool     `json:"is_correct"` // Null for essays
	GradedAt     time.Time `json:"graded_at"`
	GradedBy     *string   `json:"graded_by"`
}

type SessionGradingResult struct {
	SessionID       uint            `json:"session_id"`
	Score           float64         `json:"score"`
	TotalPoints     float64         `json:"total_points"`
	HasPendingEssay bool            `json:"has_pending_essay"`
	Answers         []GradingResult `json:"answers"`
	GradedAt        time.Time       `json:"graded_at"`
}

// ===== SUBMISSION TRIGGER =====

// SubmitTrigger records who forced the InProgress -> Submitted transition
type SubmitTrigger string

const (
	SubmitByStudent  SubmitTrigger = "student"
	SubmitByWatchdog SubmitTrigger = "watchdog"
)

// ===== POLICIES & COLLABORATORS =====

// PassPolicy decides the terminal status of a fully graded sitting.
// Injected so the threshold stays configuration, not code.
type PassPolicy func(score, totalPoints float64) bool

// ThresholdPassPolicy passes any score at or above the given threshold
func ThresholdPassPolicy(threshold float64) PassPolicy {
	return func(score, totalPoints float64) bool {
		return score >= threshold
	}
}

// RoomMembershipChecker is the room administration collaborator. Exams
// without a room skip the check entirely.
type RoomMembershipChecker interface {
	IsActiveMember(ctx context.Context, studentID string, roomID uint) (bool, error)
}

// ===== SERVICE INTERFACES =====

type ExamService interface {
	// Core CRUD operations
	Create(ctx context.Context, req *CreateExamRequest, creatorID string) (*ExamResponse, error)
	GetByID(ctx context.Context, id uint, userID string) (*ExamResponse, error)
	GetByIDWithQuestions(ctx context.Context, id uint, userID string) (*ExamResponse, error)
	Update(ctx context.Context, id uint, req *UpdateExamRequest, userID string) (*ExamResponse, error)
	Delete(ctx context.Context, id uint, userID string) error

	// List operations
	List(ctx context.Context, filters repositories.ExamFilters, userID string) (*ExamListResponse, error)
	GetByCreator(ctx context.Context, creatorID string, filters repositories.ExamFilters) (*ExamListResponse, error)

	// Lifecycle
	Publish(ctx context.Context, id uint, userID string) error
	Finish(ctx context.Context, id uint, userID string) error

	// Statistics
	GetStats(ctx context.Context, id uint, userID string) (*repositories.ExamStats, error)

	// Permission checks
	CanAccess(ctx context.Context, examID uint, userID string) (bool, error)
	CanEdit(ctx context.Context, examID uint, userID string) (bool, error)
}

type QuestionService interface {
	Create(ctx context.Context, req *CreateQuestionRequest, creatorID string) (*QuestionResponse, error)
	GetByID(ctx context.Context, id uint, userID string) (*QuestionResponse, error)
	Update(ctx context.Context, id uint, req *UpdateQuestionRequest, userID string) (*QuestionResponse, error)
	Delete(ctx context.Context, id uint, userID string) error
	List(ctx context.Context, filters repositories.QuestionFilters, userID string) (*QuestionListResponse, error)
	GetByCreator(ctx context.Context, creatorID string, filters repositories.QuestionFilters) (*QuestionListResponse, error)
}

type OtpService interface {
	// Issue generates a fresh code for the exam, overwriting any prior one
	Issue(ctx context.Context, examID uint, issuerID string) (*models.IssueOtpResponse, error)

	// Validate checks the code for the exam; expiry rides on the redis TTL.
	// Failed attempts count toward a per-student lockout.
	Validate(ctx context.Context, examID uint, studentID, code string) error
}

type SessionService interface {
	// Core session state machine
	StartOrResume(ctx context.Context, req *StartSessionRequest, studentID string, meta SessionMeta) (*SessionResponse, error)
	SaveAnswer(ctx context.Context, sessionID uint, req *SaveAnswerRequest, studentID string) error
	Submit(ctx context.Context, sessionID uint, trigger SubmitTrigger, actorID string) (*SessionResponse, error)
	ResolveOutcome(ctx context.Context, sessionID uint, graderID string) (*SessionResponse, error)

	// Get operations
	GetByID(ctx context.Context, id uint, userID string) (*SessionResponse, error)
	GetByIDWithAnswers(ctx context.Context, id uint, userID string) (*SessionResponse, error)

	// List operations
	List(ctx context.Context, filters repositories.SessionFilters, userID string) (*SessionListResponse, error)
	GetByExam(ctx context.Context, examID uint, filters repositories.SessionFilters, userID string) (*SessionListResponse, error)
	GetByStudent(ctx context.Context, studentID string, filters repositories.SessionFilters) (*SessionListResponse, error)

	// Watchdog support
	GetOverdueSessions(ctx context.Context, now time.Time, limit int) ([]*models.StudentExam, error)

	// Statistics
	GetStats(ctx context.Context, examID uint, userID string) (*repositories.SessionStats, error)
}

type GradingService interface {
	// GradeSubmission grades every objective answer of a submitted sitting
	// and returns the aggregate. Called by Submit inside its transaction.
	GradeSubmission(ctx context.Context, sessionID uint) (*SessionGradingResult, error)

	// ApplyManualGrade records an essay grade and recomputes the session score
	ApplyManualGrade(ctx context.Context, sessionID uint, req *ManualGradeRequest, graderID string) (*SessionGradingResult, error)

	// CalculateScore reports correctness of a single answer by question type
	CalculateScore(ctx context.Context, questionType models.QuestionType, questionContent json.RawMessage, studentAnswer json.RawMessage) (bool, error)

	// HasPendingEssays reports whether any essay answer is still ungraded
	HasPendingEssays(ctx context.Context, sessionID uint) (bool, error)

	// Statistics
	GetGradingOverview(ctx context.Context, examID uint, userID string) (*repositories.GradingStats, error)
}

type ExportService interface {
	// ExportExamResults renders the sessions of one exam to an XLSX workbook
	ExportExamResults(ctx context.Context, examID uint, userID string) (*bytes.Buffer, string, error)
}

// ===== SERVICE MANAGER =====

type ServiceManager interface {
	// Core service getters
	Exam() ExamService
	Question() QuestionService
	Otp() OtpService
	Session() SessionService
	Grading() GradingService
	Export() ExportService

	// Health and lifecycle
	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

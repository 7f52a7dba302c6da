package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/SAP-F-2025/exam-session-service/internal/events"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/redis/go-redis/v9"
)

type otpService struct {
	repo        repositories.Repository
	redis       *redis.Client
	logger      *slog.Logger
	publisher   events.EventPublisher
	ttl         time.Duration
	maxAttempts int
}

func NewOtpService(repo repositories.Repository, redisClient *redis.Client, logger *slog.Logger, publisher events.EventPublisher, ttl time.Duration, maxAttempts int) OtpService {
	return &otpService{
		repo:        repo,
		redis:       redisClient,
		logger:      logger,
		publisher:   publisher,
		ttl:         ttl,
		maxAttempts: maxAttempts,
	}
}

func otpKey(examID uint) string {
	return fmt.Sprintf("exam_otp:%d", examID)
}

func otpAttemptsKey(examID uint, studentID string) string {
	return fmt.Sprintf("exam_otp:%d:attempts:%s", examID, studentID)
}

// Issue generates a fresh 6-digit code for the exam. A SET without NX means
// re-issuing always overwrites; only one code is ever live per exam.
func (s *otpService) Issue(ctx context.Context, examID uint, issuerID string) (*models.IssueOtpResponse, error) {
	exam, err := s.repo.Exam().GetByID(ctx, nil, examID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}

	if exam.CreatedBy != issuerID {
		isAdmin, err := s.repo.User().HasRole(ctx, issuerID, models.RoleAdmin)
		if err != nil {
			return nil, fmt.Errorf("failed to check user role: %w", err)
		}
		if !isAdmin {
			return nil, NewPermissionError(issuerID, examID, "exam", "issue_otp", "not creator or admin")
		}
	}

	code, err := generateOtpCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate otp code: %w", err)
	}

	if err := s.redis.Set(ctx, otpKey(examID), code, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("failed to store otp code: %w", err)
	}

	expiredAt := time.Now().UTC().Add(s.ttl)
	s.logger.Info("OTP issued", "exam_id", examID, "issuer_id", issuerID, "expired_at", expiredAt)

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, events.TypeOtpIssued, events.OtpIssuedEvent{
			ExamID:    examID,
			IssuedBy:  issuerID,
			ExpiresAt: expiredAt,
		}); err != nil {
			s.logger.Error("Failed to publish event", "event_type", events.TypeOtpIssued, "error", err)
		}
	}

	return &models.IssueOtpResponse{
		ExamID:    examID,
		Code:      code,
		ExpiredAt: expiredAt,
	}, nil
}

// Validate checks the submitted code against the live one. The expiry check
// rides on the redis TTL; a vanished key means expired. Failed attempts are
// counted per student and the counter outlives the code.
func (s *otpService) Validate(ctx context.Context, examID uint, studentID, code string) error {
	attempts, err := s.redis.Get(ctx, otpAttemptsKey(examID, studentID)).Int()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to read otp attempts: %w", err)
	}
	if attempts >= s.maxAttempts {
		s.logger.Warn("OTP validation locked out", "exam_id", examID, "student_id", studentID, "attempts", attempts)
		return ErrOtpLockedOut
	}

	stored, err := s.redis.Get(ctx, otpKey(examID)).Result()
	if err == redis.Nil {
		return s.recordFailure(ctx, examID, studentID)
	}
	if err != nil {
		return fmt.Errorf("failed to read otp code: %w", err)
	}

	if stored != code {
		return s.recordFailure(ctx, examID, studentID)
	}

	// Successful entry clears the strike counter
	s.redis.Del(ctx, otpAttemptsKey(examID, studentID))
	return nil
}

func (s *otpService) recordFailure(ctx context.Context, examID uint, studentID string) error {
	key := otpAttemptsKey(examID, studentID)
	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to record otp attempt: %w", err)
	}
	if count == 1 {
		// Strikes expire one hour after the first failure in the window
		s.redis.Expire(ctx, key, time.Hour)
	}
	if int(count) >= s.maxAttempts {
		s.logger.Warn("OTP lockout reached", "exam_id", examID, "student_id", studentID, "attempts", count)
		return ErrOtpLockedOut
	}
	return ErrOtpInvalid
}

func generateOtpCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/SAP-F-2025/exam-session-service/internal/events"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Minimal repository stubs, only the methods the otp service touches

type stubExamRepo struct {
	repositories.ExamRepository
	exam *models.Exam
}

func (r *stubExamRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error) {
	if r.exam == nil || r.exam.ID != id {
		return nil, gorm.ErrRecordNotFound
	}
	return r.exam, nil
}

type stubUserRepo struct {
	repositories.UserRepository
	admins map[string]bool
}

func (r *stubUserRepo) HasRole(ctx context.Context, id string, role models.UserRole) (bool, error) {
	if role == models.RoleAdmin {
		return r.admins[id], nil
	}
	return false, nil
}

type stubOtpRepository struct {
	repositories.Repository
	exam *stubExamRepo
	user *stubUserRepo
}

func (r *stubOtpRepository) Exam() repositories.ExamRepository { return r.exam }
func (r *stubOtpRepository) User() repositories.UserRepository { return r.user }

func newOtpTestService(t *testing.T) (OtpService, *miniredis.Miniredis, *events.MockEventPublisher) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	publisher := events.NewMockEventPublisher(logger)

	repo := &stubOtpRepository{
		exam: &stubExamRepo{exam: &models.Exam{ID: 1, CreatedBy: "teacher-1"}},
		user: &stubUserRepo{admins: map[string]bool{"admin-1": true}},
	}

	return NewOtpService(repo, client, logger, publisher, 5*time.Minute, 10), mr, publisher
}

func TestOtpService_Issue(t *testing.T) {
	svc, _, _ := newOtpTestService(t)
	ctx := context.Background()

	t.Run("creator can issue", func(t *testing.T) {
		resp, err := svc.Issue(ctx, 1, "teacher-1")
		if err != nil {
			t.Fatalf("Issue() error = %v", err)
		}
		if len(resp.Code) != 6 {
			t.Errorf("got code %q, want 6 digits", resp.Code)
		}
		if resp.ExamID != 1 {
			t.Errorf("got exam id %d, want 1", resp.ExamID)
		}
	})

	t.Run("admin can issue", func(t *testing.T) {
		if _, err := svc.Issue(ctx, 1, "admin-1"); err != nil {
			t.Fatalf("Issue() error = %v", err)
		}
	})

	t.Run("stranger cannot issue", func(t *testing.T) {
		_, err := svc.Issue(ctx, 1, "student-1")
		var permErr *PermissionError
		if !errors.As(err, &permErr) {
			t.Errorf("got %v, want PermissionError", err)
		}
	})

	t.Run("unknown exam", func(t *testing.T) {
		_, err := svc.Issue(ctx, 99, "teacher-1")
		if !errors.Is(err, ErrExamNotFound) {
			t.Errorf("got %v, want ErrExamNotFound", err)
		}
	})
}

func TestOtpService_IssueEmitsEvent(t *testing.T) {
	svc, _, publisher := newOtpTestService(t)
	ctx := context.Background()

	resp, err := svc.Issue(ctx, 1, "teacher-1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	published := publisher.GetPublishedEvents()
	if len(published) != 1 || published[0].Type != events.TypeOtpIssued {
		t.Fatalf("published %v, want one otp issued event", published)
	}
	payload, ok := published[0].Data.(events.OtpIssuedEvent)
	if !ok {
		t.Fatalf("payload type %T, want OtpIssuedEvent", published[0].Data)
	}
	if payload.ExamID != 1 || payload.IssuedBy != "teacher-1" {
		t.Errorf("payload = %+v, want exam 1 issued by teacher-1", payload)
	}
	// The announcement must never leak the code
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if strings.Contains(string(raw), resp.Code) {
		t.Error("event payload carries the code")
	}
}

func TestOtpService_IssueOverwrites(t *testing.T) {
	svc, mr, _ := newOtpTestService(t)
	ctx := context.Background()

	first, err := svc.Issue(ctx, 1, "teacher-1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	second, err := svc.Issue(ctx, 1, "teacher-1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	// Only the latest code is live
	stored, err := mr.Get("exam_otp:1")
	if err != nil {
		t.Fatalf("read stored code: %v", err)
	}
	if stored != second.Code {
		t.Errorf("stored code %q, want latest %q", stored, second.Code)
	}

	if first.Code != second.Code {
		if err := svc.Validate(ctx, 1, "student-1", first.Code); !errors.Is(err, ErrOtpInvalid) {
			t.Errorf("stale code validation got %v, want ErrOtpInvalid", err)
		}
	}
	if err := svc.Validate(ctx, 1, "student-2", second.Code); err != nil {
		t.Errorf("fresh code validation got %v, want nil", err)
	}
}

func TestOtpService_ValidateExpiry(t *testing.T) {
	svc, mr, _ := newOtpTestService(t)
	ctx := context.Background()

	resp, err := svc.Issue(ctx, 1, "teacher-1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if err := svc.Validate(ctx, 1, "student-1", resp.Code); err != nil {
		t.Fatalf("validation before expiry got %v, want nil", err)
	}

	mr.FastForward(6 * time.Minute)

	if err := svc.Validate(ctx, 1, "student-1", resp.Code); !errors.Is(err, ErrOtpInvalid) {
		t.Errorf("validation after expiry got %v, want ErrOtpInvalid", err)
	}
}

func TestOtpService_Lockout(t *testing.T) {
	svc, _, _ := newOtpTestService(t)
	ctx := context.Background()

	resp, err := svc.Issue(ctx, 1, "teacher-1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	wrong := "000000"
	if wrong == resp.Code {
		wrong = "000001"
	}

	for i := 0; i < 9; i++ {
		if err := svc.Validate(ctx, 1, "student-1", wrong); !errors.Is(err, ErrOtpInvalid) {
			t.Fatalf("attempt %d: got %v, want ErrOtpInvalid", i+1, err)
		}
	}

	// The tenth failure trips the lockout
	if err := svc.Validate(ctx, 1, "student-1", wrong); !errors.Is(err, ErrOtpLockedOut) {
		t.Fatalf("tenth attempt: got %v, want ErrOtpLockedOut", err)
	}

	// Even the right code is refused while locked out
	if err := svc.Validate(ctx, 1, "student-1", resp.Code); !errors.Is(err, ErrOtpLockedOut) {
		t.Errorf("locked out with correct code: got %v, want ErrOtpLockedOut", err)
	}

	// Another student is unaffected
	if err := svc.Validate(ctx, 1, "student-2", resp.Code); err != nil {
		t.Errorf("other student got %v, want nil", err)
	}
}

func TestOtpService_SuccessClearsStrikes(t *testing.T) {
	svc, _, _ := newOtpTestService(t)
	ctx := context.Background()

	resp, err := svc.Issue(ctx, 1, "teacher-1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	wrong := "000000"
	if wrong == resp.Code {
		wrong = "000001"
	}

	for i := 0; i < 5; i++ {
		if err := svc.Validate(ctx, 1, "student-1", wrong); !errors.Is(err, ErrOtpInvalid) {
			t.Fatalf("attempt %d: got %v, want ErrOtpInvalid", i+1, err)
		}
	}
	if err := svc.Validate(ctx, 1, "student-1", resp.Code); err != nil {
		t.Fatalf("correct code got %v, want nil", err)
	}

	// Counter restarted, so 9 more failures still do not lock out
	for i := 0; i < 9; i++ {
		if err := svc.Validate(ctx, 1, "student-1", wrong); !errors.Is(err, ErrOtpInvalid) {
			t.Fatalf("post-reset attempt %d: got %v, want ErrOtpInvalid", i+1, err)
		}
	}
}

func TestOtpService_StrikeWindowStartsAtFirstFailure(t *testing.T) {
	svc, mr, _ := newOtpTestService(t)
	ctx := context.Background()

	if _, err := svc.Issue(ctx, 1, "teacher-1"); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if err := svc.Validate(ctx, 1, "student-1", "999999"); !errors.Is(err, ErrOtpInvalid) {
		t.Fatalf("got %v, want ErrOtpInvalid", err)
	}

	// A failure near the end of the window does not extend it
	mr.FastForward(59 * time.Minute)
	if err := svc.Validate(ctx, 1, "student-1", "999999"); !errors.Is(err, ErrOtpInvalid) {
		t.Fatalf("got %v, want ErrOtpInvalid", err)
	}

	mr.FastForward(2 * time.Minute)
	if mr.Exists("exam_otp:1:attempts:student-1") {
		t.Error("strike counter still live an hour after the first failure")
	}
}

func TestGenerateOtpCode(t *testing.T) {
	for i := 0; i < 100; i++ {
		code, err := generateOtpCode()
		if err != nil {
			t.Fatalf("generateOtpCode() error = %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("got %q, want 6 digits", code)
		}
		for _, c := range code {
			if c < '0' || c > '9' {
				t.Fatalf("got non-digit in %q", code)
			}
		}
	}
}

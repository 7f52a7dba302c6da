package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/services"
)

// stubSessionService implements just enough of the service for the sweep.
// Submit pops the session from the overdue set like the real one does.
type stubSessionService struct {
	services.SessionService
	overdue    []*models.StudentExam
	submitted  []uint
	failIDs    map[uint]bool
	listCalls  int
	listErr    error
	submitByID map[uint]services.SubmitTrigger
}

func (s *stubSessionService) GetOverdueSessions(ctx context.Context, now time.Time, limit int) ([]*models.StudentExam, error) {
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	if len(s.overdue) <= limit {
		return s.overdue, nil
	}
	return s.overdue[:limit], nil
}

func (s *stubSessionService) Submit(ctx context.Context, sessionID uint, trigger services.SubmitTrigger, actorID string) (*services.SessionResponse, error) {
	if s.failIDs[sessionID] {
		return nil, errors.New("submit failed")
	}
	s.submitted = append(s.submitted, sessionID)
	if s.submitByID == nil {
		s.submitByID = make(map[uint]services.SubmitTrigger)
	}
	s.submitByID[sessionID] = trigger

	remaining := s.overdue[:0]
	for _, session := range s.overdue {
		if session.ID != sessionID {
			remaining = append(remaining, session)
		}
	}
	s.overdue = remaining
	return &services.SessionResponse{}, nil
}

func overdueSessions(ids ...uint) []*models.StudentExam {
	sessions := make([]*models.StudentExam, len(ids))
	for i, id := range ids {
		sessions[i] = &models.StudentExam{ID: id, Status: models.SessionInProgress}
	}
	return sessions
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func TestExpiryWatchdog_SweepSubmitsOverdue(t *testing.T) {
	stub := &stubSessionService{overdue: overdueSessions(1, 2, 3)}
	w := NewExpiryWatchdog(stub, testLogger(), 30*time.Second, 100)

	w.sweep(context.Background())

	if len(stub.submitted) != 3 {
		t.Fatalf("submitted %d sessions, want 3", len(stub.submitted))
	}
	for _, id := range stub.submitted {
		if stub.submitByID[id] != services.SubmitByWatchdog {
			t.Errorf("session %d submitted with trigger %q, want watchdog", id, stub.submitByID[id])
		}
	}
}

func TestExpiryWatchdog_SweepDrainsBeyondBatchSize(t *testing.T) {
	stub := &stubSessionService{overdue: overdueSessions(1, 2, 3, 4, 5)}
	w := NewExpiryWatchdog(stub, testLogger(), 30*time.Second, 2)

	w.sweep(context.Background())

	if len(stub.submitted) != 5 {
		t.Fatalf("submitted %d sessions, want all 5", len(stub.submitted))
	}
	if stub.listCalls < 3 {
		t.Errorf("listed %d times, want at least 3 batches", stub.listCalls)
	}
}

func TestExpiryWatchdog_SweepRetriesFailuresNextTick(t *testing.T) {
	stub := &stubSessionService{
		overdue: overdueSessions(1, 2),
		failIDs: map[uint]bool{2: true},
	}
	w := NewExpiryWatchdog(stub, testLogger(), 30*time.Second, 100)

	w.sweep(context.Background())

	if len(stub.submitted) != 1 || stub.submitted[0] != 1 {
		t.Fatalf("submitted %v, want just session 1", stub.submitted)
	}
	// Session 2 stays overdue for the next tick
	if len(stub.overdue) != 1 || stub.overdue[0].ID != 2 {
		t.Fatalf("overdue after sweep = %v, want session 2 kept", stub.overdue)
	}

	stub.failIDs = nil
	w.sweep(context.Background())

	if len(stub.submitted) != 2 {
		t.Fatalf("submitted %v after retry sweep, want both", stub.submitted)
	}
}

func TestExpiryWatchdog_SweepBacksOffWhenNothingSucceeds(t *testing.T) {
	stub := &stubSessionService{
		overdue: overdueSessions(1, 2),
		failIDs: map[uint]bool{1: true, 2: true},
	}
	w := NewExpiryWatchdog(stub, testLogger(), 30*time.Second, 1)

	w.sweep(context.Background())

	// One batch attempted, then back off instead of spinning
	if stub.listCalls != 1 {
		t.Errorf("listed %d times, want 1", stub.listCalls)
	}
}

func TestExpiryWatchdog_SweepToleratesListError(t *testing.T) {
	stub := &stubSessionService{listErr: errors.New("db down")}
	w := NewExpiryWatchdog(stub, testLogger(), 30*time.Second, 100)

	w.sweep(context.Background())

	if len(stub.submitted) != 0 {
		t.Errorf("submitted %v, want none", stub.submitted)
	}
}

func TestExpiryWatchdog_StartStopsOnCancel(t *testing.T) {
	stub := &stubSessionService{}
	w := NewExpiryWatchdog(stub, testLogger(), 30*time.Second, 100)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not stop after cancel")
	}
}

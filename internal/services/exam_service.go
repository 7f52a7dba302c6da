package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/SAP-F-2025/exam-session-service/internal/events"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
	"gorm.io/gorm"
)

type examService struct {
	repo          repositories.Repository
	db            *gorm.DB
	logger        *slog.Logger
	validator     *validator.Validator
	publisher     events.EventPublisher
	passThreshold float64
}

func NewExamService(db *gorm.DB, repo repositories.Repository, logger *slog.Logger, v *validator.Validator, publisher events.EventPublisher, passThreshold float64) ExamService {
	return &examService{
		repo:          repo,
		db:            db,
		logger:        logger,
		validator:     v,
		publisher:     publisher,
		passThreshold: passThreshold,
	}
}

// publishEvent is fire and forget; a broker outage never fails the request
func (s *examService) publishEvent(ctx context.Context, eventType string, data interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, eventType, data); err != nil {
		s.logger.Error("Failed to publish event", "event_type", eventType, "error", err)
	}
}

// ===== CORE CRUD OPERATIONS =====

func (s *examService) Create(ctx context.Context, req *CreateExamRequest, creatorID string) (*ExamResponse, error) {
	s.logger.Info("Creating exam", "creator_id", creatorID, "title", req.Title)

	if errs := s.validator.GetBusinessValidator().ValidateExamCreate(req); len(errs) > 0 {
		return nil, errs
	}

	// Title uniqueness is per creator, ignoring case and internal spaces
	taken, err := s.repo.Exam().ExistsByTitle(ctx, nil, normalizeTitle(req.Title), creatorID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to check title uniqueness: %w", err)
	}
	if taken {
		return nil, ErrExamTitleTaken
	}

	examType := req.ExamType
	if examType == "" {
		examType = models.ExamTypeTest
	}

	exam := &models.Exam{
		Title:               strings.TrimSpace(req.Title),
		Description:         req.Description,
		Duration:            req.Duration,
		ExamType:            examType,
		Guidelines:          req.Guidelines,
		Status:              models.ExamDraft,
		RoomID:              req.RoomID,
		StartTime:           req.StartTime.UTC(),
		EndTime:             req.EndTime.UTC(),
		TotalPoints:         models.DefaultTotalPoints,
		IsShowResult:        req.IsShowResult,
		IsShowCorrectAnswer: req.IsShowCorrectAnswer,
		CreatedBy:           creatorID,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Exam().Create(ctx, tx, exam); err != nil {
			return fmt.Errorf("failed to create exam: %w", err)
		}
		if len(req.QuestionIDs) > 0 {
			if err := s.rebuildSheet(ctx, tx, exam, req.QuestionIDs); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Exam created successfully", "exam_id", exam.ID, "creator_id", creatorID)
	return s.buildExamResponse(ctx, exam, creatorID)
}

func (s *examService) GetByID(ctx context.Context, id uint, userID string) (*ExamResponse, error) {
	exam, err := s.repo.Exam().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}

	canAccess, err := s.canAccessExam(ctx, exam, userID)
	if err != nil {
		return nil, err
	}
	if !canAccess {
		return nil, NewPermissionError(userID, id, "exam", "read", "not creator and exam not published")
	}

	return s.buildExamResponse(ctx, exam, userID)
}

func (s *examService) GetByIDWithQuestions(ctx context.Context, id uint, userID string) (*ExamResponse, error) {
	exam, err := s.repo.Exam().GetByIDWithQuestions(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam with questions: %w", err)
	}

	// The full sheet carries correct answers, so only the creator or an
	// admin may see it through this path.
	canEdit, err := s.canEditExam(ctx, exam, userID)
	if err != nil {
		return nil, err
	}
	if !canEdit {
		return nil, NewPermissionError(userID, id, "exam", "read_questions", "not creator or admin")
	}

	return s.buildExamResponse(ctx, exam, userID)
}

func (s *examService) Update(ctx context.Context, id uint, req *UpdateExamRequest, userID string) (*ExamResponse, error) {
	s.logger.Info("Updating exam", "exam_id", id, "user_id", userID)

	exam, err := s.repo.Exam().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}

	canEdit, err := s.canEditExam(ctx, exam, userID)
	if err != nil {
		return nil, err
	}
	if !canEdit {
		return nil, NewPermissionError(userID, id, "exam", "update", "not creator or admin")
	}

	if exam.Status != models.ExamDraft {
		return nil, ErrExamNotDraft
	}

	if errs := s.validator.GetBusinessValidator().ValidateExamUpdate(req, exam); len(errs) > 0 {
		return nil, errs
	}

	if req.Title != nil && normalizeTitle(*req.Title) != normalizeTitle(exam.Title) {
		taken, err := s.repo.Exam().ExistsByTitle(ctx, nil, normalizeTitle(*req.Title), exam.CreatedBy, &id)
		if err != nil {
			return nil, fmt.Errorf("failed to check title uniqueness: %w", err)
		}
		if taken {
			return nil, ErrExamTitleTaken
		}
	}

	s.applyExamUpdates(exam, req)

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Exam().Update(ctx, tx, exam); err != nil {
			return fmt.Errorf("failed to update exam: %w", err)
		}
		if req.QuestionIDs != nil {
			if err := s.repo.ExamQuestion().DeleteByExam(ctx, tx, exam.ID); err != nil {
				return fmt.Errorf("failed to clear answer sheet: %w", err)
			}
			if len(req.QuestionIDs) > 0 {
				if err := s.rebuildSheet(ctx, tx, exam, req.QuestionIDs); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Exam updated successfully", "exam_id", id)
	return s.buildExamResponse(ctx, exam, userID)
}

func (s *examService) Delete(ctx context.Context, id uint, userID string) error {
	s.logger.Info("Deleting exam", "exam_id", id, "user_id", userID)

	exam, err := s.repo.Exam().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrExamNotFound
		}
		return fmt.Errorf("failed to get exam: %w", err)
	}

	canEdit, err := s.canEditExam(ctx, exam, userID)
	if err != nil {
		return err
	}
	if !canEdit {
		return NewPermissionError(userID, id, "exam", "delete", "not creator or admin")
	}

	if exam.Status != models.ExamDraft {
		return ErrExamNotDraft
	}

	hasSessions, err := s.repo.Exam().HasSessions(ctx, nil, id)
	if err != nil {
		return fmt.Errorf("failed to check exam sessions: %w", err)
	}
	if hasSessions {
		return ErrExamHasSessions
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.repo.ExamQuestion().DeleteByExam(ctx, tx, id); err != nil {
			return fmt.Errorf("failed to delete answer sheet: %w", err)
		}
		if err := tx.WithContext(ctx).Delete(&models.Exam{}, id).Error; err != nil {
			return fmt.Errorf("failed to delete exam: %w", err)
		}
		return nil
	})
}

// ===== LIST OPERATIONS =====

func (s *examService) List(ctx context.Context, filters repositories.ExamFilters, userID string) (*ExamListResponse, error) {
	isAdmin, err := s.repo.User().HasRole(ctx, userID, models.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("failed to check user role: %w", err)
	}

	// Non-admins only see published exams or their own
	if !isAdmin && filters.Status == nil && (filters.CreatedBy == nil || *filters.CreatedBy != userID) {
		published := models.ExamPublished
		filters.Status = &published
	}

	exams, total, err := s.repo.Exam().List(ctx, nil, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list exams: %w", err)
	}

	return s.buildExamListResponse(ctx, exams, total, filters, userID)
}

func (s *examService) GetByCreator(ctx context.Context, creatorID string, filters repositories.ExamFilters) (*ExamListResponse, error) {
	exams, total, err := s.repo.Exam().GetByCreator(ctx, nil, creatorID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to get exams by creator: %w", err)
	}

	return s.buildExamListResponse(ctx, exams, total, filters, creatorID)
}

// ===== LIFECYCLE =====

func (s *examService) Publish(ctx context.Context, id uint, userID string) error {
	s.logger.Info("Publishing exam", "exam_id", id, "user_id", userID)
	return s.transition(ctx, id, userID, models.ExamPublished)
}

func (s *examService) Finish(ctx context.Context, id uint, userID string) error {
	s.logger.Info("Finishing exam", "exam_id", id, "user_id", userID)
	return s.transition(ctx, id, userID, models.ExamFinished)
}

func (s *examService) transition(ctx context.Context, id uint, userID string, target models.ExamStatus) error {
	exam, err := s.repo.Exam().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrExamNotFound
		}
		return fmt.Errorf("failed to get exam: %w", err)
	}

	canEdit, err := s.canEditExam(ctx, exam, userID)
	if err != nil {
		return err
	}
	if !canEdit {
		return NewPermissionError(userID, id, "exam", string(target), "not creator or admin")
	}

	count, err := s.repo.ExamQuestion().CountByExam(ctx, nil, id)
	if err != nil {
		return fmt.Errorf("failed to count exam questions: %w", err)
	}

	if errs := s.validator.GetBusinessValidator().ValidateStatusTransition(exam.Status, target, int(count)); len(errs) > 0 {
		return errs
	}

	if err := s.repo.Exam().UpdateStatus(ctx, nil, id, target); err != nil {
		return fmt.Errorf("failed to update exam status: %w", err)
	}

	if target == models.ExamPublished {
		s.publishEvent(ctx, events.TypeExamPublished, events.ExamPublishedEvent{
			ExamID:    exam.ID,
			Title:     exam.Title,
			CreatedBy: exam.CreatedBy,
			StartTime: exam.StartTime,
			EndTime:   exam.EndTime,
		})
	}

	s.logger.Info("Exam status changed", "exam_id", id, "from", exam.Status, "to", target)
	return nil
}

// ===== STATISTICS =====

func (s *examService) GetStats(ctx context.Context, id uint, userID string) (*repositories.ExamStats, error) {
	exam, err := s.repo.Exam().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}

	canEdit, err := s.canEditExam(ctx, exam, userID)
	if err != nil {
		return nil, err
	}
	if !canEdit {
		return nil, NewPermissionError(userID, id, "exam", "stats", "not creator or admin")
	}

	stats, err := s.repo.Exam().GetStats(ctx, nil, id, s.passThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to get exam stats: %w", err)
	}
	return stats, nil
}

// ===== PERMISSION CHECKS =====

func (s *examService) CanAccess(ctx context.Context, examID uint, userID string) (bool, error) {
	exam, err := s.repo.Exam().GetByID(ctx, nil, examID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return false, ErrExamNotFound
		}
		return false, fmt.Errorf("failed to get exam: %w", err)
	}
	return s.canAccessExam(ctx, exam, userID)
}

func (s *examService) CanEdit(ctx context.Context, examID uint, userID string) (bool, error) {
	exam, err := s.repo.Exam().GetByID(ctx, nil, examID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return false, ErrExamNotFound
		}
		return false, fmt.Errorf("failed to get exam: %w", err)
	}
	return s.canEditExam(ctx, exam, userID)
}

func (s *examService) canAccessExam(ctx context.Context, exam *models.Exam, userID string) (bool, error) {
	if exam.CreatedBy == userID {
		return true, nil
	}
	if exam.Status == models.ExamPublished || exam.Status == models.ExamFinished {
		return true, nil
	}
	return s.repo.User().HasRole(ctx, userID, models.RoleAdmin)
}

func (s *examService) canEditExam(ctx context.Context, exam *models.Exam, userID string) (bool, error) {
	if exam.CreatedBy == userID {
		return true, nil
	}
	return s.repo.User().HasRole(ctx, userID, models.RoleAdmin)
}

// ===== HELPER METHODS =====

// normalizeTitle lowers the title and strips every space so "Mid Term" and
// "midterm" collide.
func normalizeTitle(title string) string {
	return strings.ReplaceAll(strings.ToLower(title), " ", "")
}

// rebuildSheet loads the referenced questions, scales their points to the
// exam total and writes the frozen sheet rows inside the caller's
// transaction.
func (s *examService) rebuildSheet(ctx context.Context, tx *gorm.DB, exam *models.Exam, questionIDs []uint) error {
	questions, err := s.repo.Question().GetByIDs(ctx, tx, questionIDs)
	if err != nil {
		return fmt.Errorf("failed to load questions: %w", err)
	}
	if len(questions) != len(questionIDs) {
		return ErrQuestionNotFound
	}

	// Preserve the caller's ordering
	byID := make(map[uint]*models.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	ordered := make([]*models.Question, 0, len(questionIDs))
	for _, id := range questionIDs {
		q, ok := byID[id]
		if !ok {
			return ErrQuestionNotFound
		}
		ordered = append(ordered, q)
	}

	rows, err := BuildAnswerSheet(exam, ordered, 0, false)
	if err != nil {
		return err
	}
	for _, row := range rows {
		row.ExamID = exam.ID
	}

	if err := s.repo.ExamQuestion().CreateBatch(ctx, tx, rows); err != nil {
		return fmt.Errorf("failed to persist answer sheet: %w", err)
	}
	return nil
}

func (s *examService) applyExamUpdates(exam *models.Exam, req *UpdateExamRequest) {
	if req.Title != nil {
		exam.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		exam.Description = req.Description
	}
	if req.Duration != nil {
		exam.Duration = *req.Duration
	}
	if req.ExamType != nil {
		exam.ExamType = *req.ExamType
	}
	if req.Guidelines != nil {
		exam.Guidelines = req.Guidelines
	}
	if req.StartTime != nil {
		exam.StartTime = req.StartTime.UTC()
	}
	if req.EndTime != nil {
		exam.EndTime = req.EndTime.UTC()
	}
	if req.IsShowResult != nil {
		exam.IsShowResult = *req.IsShowResult
	}
	if req.IsShowCorrectAnswer != nil {
		exam.IsShowCorrectAnswer = *req.IsShowCorrectAnswer
	}
}

func (s *examService) buildExamResponse(ctx context.Context, exam *models.Exam, userID string) (*ExamResponse, error) {
	canEdit, err := s.canEditExam(ctx, exam, userID)
	if err != nil {
		return nil, err
	}

	return &ExamResponse{
		Exam:      exam,
		CanEdit:   canEdit && exam.Status == models.ExamDraft,
		CanDelete: canEdit && exam.Status == models.ExamDraft,
		CanTake:   exam.IsAccessible(time.Now().UTC()) && exam.CreatedBy != userID,
	}, nil
}

func (s *examService) buildExamListResponse(ctx context.Context, exams []*models.Exam, total int64, filters repositories.ExamFilters, userID string) (*ExamListResponse, error) {
	responses := make([]*ExamResponse, 0, len(exams))
	for _, exam := range exams {
		resp, err := s.buildExamResponse(ctx, exam, userID)
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

	return &ExamListResponse{
		Exams: responses,
		Total: total,
		Page:  page,
		Size:  size,
	}, nil
}

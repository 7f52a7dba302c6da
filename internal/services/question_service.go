package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type questionService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
}

func NewQuestionService(db *gorm.DB, repo repositories.Repository, logger *slog.Logger, v *validator.Validator) QuestionService {
	return &questionService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: v,
	}
}

// ===== CORE CRUD OPERATIONS =====

func (s *questionService) Create(ctx context.Context, req *CreateQuestionRequest, creatorID string) (*QuestionResponse, error) {
	s.logger.Info("Creating question", "creator_id", creatorID, "type", req.Type)

	if errs := s.validator.GetBusinessValidator().ValidateQuestionCreate(req); len(errs) > 0 {
		return nil, errs
	}

	difficulty := req.Difficulty
	if difficulty == "" {
		difficulty = models.DifficultyMedium
	}

	question := &models.Question{
		Type:        req.Type,
		Text:        req.Text,
		Point:       req.Point,
		Content:     datatypes.JSON(req.Content),
		Difficulty:  difficulty,
		Explanation: req.Explanation,
		Attachment:  req.Attachment,
		CreatedBy:   creatorID,
	}

	if err := s.repo.Question().Create(ctx, nil, question); err != nil {
		return nil, fmt.Errorf("failed to create question: %w", err)
	}

	s.logger.Info("Question created successfully", "question_id", question.ID)
	return s.buildQuestionResponse(ctx, question, creatorID)
}

func (s *questionService) GetByID(ctx context.Context, id uint, userID string) (*QuestionResponse, error) {
	question, err := s.repo.Question().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("failed to get question: %w", err)
	}

	canEdit, err := s.canEditQuestion(ctx, question, userID)
	if err != nil {
		return nil, err
	}
	if !canEdit {
		// Question content carries the correct answers, owner only
		return nil, NewPermissionError(userID, id, "question", "read", "not creator or admin")
	}

	return s.buildQuestionResponse(ctx, question, userID)
}

func (s *questionService) Update(ctx context.Context, id uint, req *UpdateQuestionRequest, userID string) (*QuestionResponse, error) {
	s.logger.Info("Updating question", "question_id", id, "user_id", userID)

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	question, err := s.repo.Question().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("failed to get question: %w", err)
	}

	canEdit, err := s.canEditQuestion(ctx, question, userID)
	if err != nil {
		return nil, err
	}
	if !canEdit {
		return nil, NewPermissionError(userID, id, "question", "update", "not creator or admin")
	}

	// Editing a question already frozen into an exam sheet would silently
	// change grading, so it is blocked.
	used, err := s.repo.Question().IsUsedInExams(ctx, nil, id)
	if err != nil {
		return nil, fmt.Errorf("failed to check question usage: %w", err)
	}
	if used {
		return nil, NewBusinessRuleError("question_in_use", "question is referenced by an exam and cannot be modified", map[string]interface{}{
			"question_id": id,
		})
	}

	if req.Text != nil {
		question.Text = *req.Text
	}
	if req.Point != nil {
		question.Point = *req.Point
	}
	if req.Content != nil {
		question.Content = datatypes.JSON(req.Content)
	}
	if req.Difficulty != nil {
		question.Difficulty = *req.Difficulty
	}
	if req.Explanation != nil {
		question.Explanation = req.Explanation
	}
	if req.Attachment != nil {
		question.Attachment = req.Attachment
	}

	if err := s.repo.Question().Update(ctx, nil, question); err != nil {
		return nil, fmt.Errorf("failed to update question: %w", err)
	}

	return s.buildQuestionResponse(ctx, question, userID)
}

func (s *questionService) Delete(ctx context.Context, id uint, userID string) error {
	s.logger.Info("Deleting question", "question_id", id, "user_id", userID)

	question, err := s.repo.Question().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrQuestionNotFound
		}
		return fmt.Errorf("failed to get question: %w", err)
	}

	canEdit, err := s.canEditQuestion(ctx, question, userID)
	if err != nil {
		return err
	}
	if !canEdit {
		return NewPermissionError(userID, id, "question", "delete", "not creator or admin")
	}

	used, err := s.repo.Question().IsUsedInExams(ctx, nil, id)
	if err != nil {
		return fmt.Errorf("failed to check question usage: %w", err)
	}
	if used {
		return NewBusinessRuleError("question_in_use", "question is referenced by an exam and cannot be deleted", map[string]interface{}{
			"question_id": id,
		})
	}

	if err := s.repo.Question().Delete(ctx, nil, id); err != nil {
		return fmt.Errorf("failed to delete question: %w", err)
	}
	return nil
}

// ===== LIST OPERATIONS =====

func (s *questionService) List(ctx context.Context, filters repositories.QuestionFilters, userID string) (*QuestionListResponse, error) {
	isAdmin, err := s.repo.User().HasRole(ctx, userID, models.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("failed to check user role: %w", err)
	}
	if !isAdmin {
		filters.CreatedBy = &userID
	}

	questions, total, err := s.repo.Question().List(ctx, nil, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	return s.buildQuestionListResponse(ctx, questions, total, filters, userID)
}

func (s *questionService) GetByCreator(ctx context.Context, creatorID string, filters repositories.QuestionFilters) (*QuestionListResponse, error) {
	questions, total, err := s.repo.Question().GetByCreator(ctx, nil, creatorID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to get questions by creator: %w", err)
	}
	return s.buildQuestionListResponse(ctx, questions, total, filters, creatorID)
}

// ===== HELPER METHODS =====

func (s *questionService) canEditQuestion(ctx context.Context, question *models.Question, userID string) (bool, error) {
	if question.CreatedBy == userID {
		return true, nil
	}
	return s.repo.User().HasRole(ctx, userID, models.RoleAdmin)
}

func (s *questionService) buildQuestionResponse(ctx context.Context, question *models.Question, userID string) (*QuestionResponse, error) {
	canEdit, err := s.canEditQuestion(ctx, question, userID)
	if err != nil {
		return nil, err
	}
	return &QuestionResponse{
		Question:  question,
		CanEdit:   canEdit,
		CanDelete: canEdit,
	}, nil
}

func (s *questionService) buildQuestionListResponse(ctx context.Context, questions []*models.Question, total int64, filters repositories.QuestionFilters, userID string) (*QuestionListResponse, error) {
	responses := make([]*QuestionResponse, 0, len(questions))
	for _, question := range questions {
		resp, err := s.buildQuestionResponse(ctx, question, userID)
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

	return &QuestionListResponse{
		Questions: responses,
		Total:     total,
		Page:      page,
		Size:      size,
	}, nil
}

package validator

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/go-playground/validator/v10"
)

// BusinessValidator handles business rule validation
type BusinessValidator struct {
	validate *validator.Validate
}

// NewBusinessValidator creates a new business validator
func NewBusinessValidator() *BusinessValidator {
	validate := validator.New()

	bv := &BusinessValidator{validate: validate}
	bv.registerBusinessRules()

	return bv
}

// Validate validates business rules for any struct
func (bv *BusinessValidator) Validate(s interface{}) ValidationErrors {
	err := bv.validate.Struct(s)
	if err != nil {
		return ToValidationErrors(err)
	}
	return nil
}

// ValidateExamCreate validates exam creation business rules
func (bv *BusinessValidator) ValidateExamCreate(req *models.ExamCreateRequest) ValidationErrors {
	var errors ValidationErrors

	// Basic struct validation
	errors = append(errors, bv.Validate(req)...)

	// Additional business validations
	errors = append(errors, bv.validateExamWindow(req.StartTime, req.EndTime)...)

	if strings.TrimSpace(req.Title) == "" {
		errors = append(errors, ValidationError{
			Field:   "title",
			Message: "cannot be blank",
			Value:   req.Title,
			Rule:    "exam_title",
		})
	}

	return errors
}

// ValidateExamUpdate validates exam update business rules
func (bv *BusinessValidator) ValidateExamUpdate(req *models.ExamUpdateRequest, existing *models.Exam) ValidationErrors {
	var errors ValidationErrors

	// Basic struct validation
	errors = append(errors, bv.Validate(req)...)

	start := existing.StartTime
	end := existing.EndTime
	if req.StartTime != nil {
		start = *req.StartTime
	}
	if req.EndTime != nil {
		end = *req.EndTime
	}
	errors = append(errors, bv.validateExamWindow(start, end)...)

	// Published exams keep their timing and question set
	if existing.Status != models.ExamDraft {
		if req.Duration != nil && *req.Duration != existing.Duration {
			errors = append(errors, ValidationError{
				Field:   "duration",
				Message: "cannot be changed after publishing",
				Value:   *req.Duration,
				Rule:    "business_logic",
			})
		}
		if len(req.QuestionIDs) > 0 {
			errors = append(errors, ValidationError{
				Field:   "question_ids",
				Message: "cannot be changed after publishing",
				Value:   len(req.QuestionIDs),
				Rule:    "business_logic",
			})
		}
	}

	return errors
}

// ValidateQuestionCreate validates question creation business rules
func (bv *BusinessValidator) ValidateQuestionCreate(req *models.QuestionCreateRequest) ValidationErrors {
	var errors ValidationErrors

	// Basic struct validation
	errors = append(errors, bv.Validate(req)...)

	// Content must match the declared question type
	errors = append(errors, bv.validateQuestionContent(req.Type, req.Content)...)

	return errors
}

// ValidateStatusTransition validates exam status transitions
func (bv *BusinessValidator) ValidateStatusTransition(currentStatus, newStatus models.ExamStatus, questionCount int) ValidationErrors {
	var errors ValidationErrors

	allowedTransitions := map[models.ExamStatus][]models.ExamStatus{
		models.ExamDraft:     {models.ExamPublished},
		models.ExamPublished: {models.ExamFinished},
		models.ExamFinished:  {}, // No transitions from finished
	}

	allowed := false
	for _, allowedStatus := range allowedTransitions[currentStatus] {
		if newStatus == allowedStatus {
			allowed = true
			break
		}
	}

	if !allowed {
		errors = append(errors, ValidationError{
			Field:   "status",
			Message: fmt.Sprintf("cannot transition from %s to %s", currentStatus, newStatus),
			Value:   newStatus,
			Rule:    "status_transition",
		})
	}

	// Publishing requires at least one question on the sheet
	if newStatus == models.ExamPublished && questionCount == 0 {
		errors = append(errors, ValidationError{
			Field:   "questions",
			Message: "exam must have at least one question before publishing",
			Value:   questionCount,
			Rule:    "business_logic",
		})
	}

	return errors
}

// registerBusinessRules registers custom business rule validators
func (bv *BusinessValidator) registerBusinessRules() {
	// Exam title validation (1-200 characters after trimming)
	bv.validate.RegisterValidation("exam_title", func(fl validator.FieldLevel) bool {
		title := strings.TrimSpace(fl.Field().String())
		return len(title) >= 1 && len(title) <= 200
	})

	// Exam duration in minutes, must be positive
	bv.validate.RegisterValidation("exam_duration", func(fl validator.FieldLevel) bool {
		duration := fl.Field().Int()
		return duration >= 1
	})

	// Question type validation
	bv.validate.RegisterValidation("question_type", func(fl validator.FieldLevel) bool {
		return models.QuestionType(fl.Field().Int()).IsValid()
	})

	// OTP code: exactly 6 digits
	bv.validate.RegisterValidation("otp_code", func(fl validator.FieldLevel) bool {
		code := fl.Field().String()
		if len(code) != 6 {
			return false
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	})
}

// validateExamWindow checks the access window ordering
func (bv *BusinessValidator) validateExamWindow(start, end time.Time) ValidationErrors {
	var errors ValidationErrors

	if !start.Before(end) {
		errors = append(errors, ValidationError{
			Field:   "end_time",
			Message: "must be after start_time",
			Value:   end,
			Rule:    "business_logic",
		})
	}

	return errors
}

// validateQuestionContent checks the content payload against the question type schema
func (bv *BusinessValidator) validateQuestionContent(qType models.QuestionType, content json.RawMessage) ValidationErrors {
	var errors ValidationErrors

	if len(content) == 0 {
		if qType == models.Essay {
			return nil // Essay content is optional
		}
		return ValidationErrors{{
			Field:   "content",
			Message: "is required for this question type",
			Rule:    "business_logic",
		}}
	}

	switch qType {
	case models.MultipleChoice:
		var mc models.MultipleChoiceContent
		if err := json.Unmarshal(content, &mc); err != nil {
			errors = append(errors, ValidationError{Field: "content", Message: "invalid multiple choice content", Rule: "content_schema"})
			break
		}
		if len(mc.Options) < 2 {
			errors = append(errors, ValidationError{Field: "content.options", Message: "must have at least 2 options", Value: len(mc.Options), Rule: "business_logic"})
		}
		if len(mc.CorrectAnswers) == 0 {
			errors = append(errors, ValidationError{Field: "content.correct_answers", Message: "must have at least one correct answer", Rule: "business_logic"})
		}
	case models.TrueFalse:
		var tf models.TrueFalseContent
		if err := json.Unmarshal(content, &tf); err != nil {
			errors = append(errors, ValidationError{Field: "content", Message: "invalid true/false content", Rule: "content_schema"})
		}
	case models.FillBlank:
		var fb models.FillBlankContent
		if err := json.Unmarshal(content, &fb); err != nil {
			errors = append(errors, ValidationError{Field: "content", Message: "invalid fill in the blank content", Rule: "content_schema"})
			break
		}
		if len(fb.AcceptedAnswers) == 0 {
			errors = append(errors, ValidationError{Field: "content.accepted_answers", Message: "must have at least one accepted answer", Rule: "business_logic"})
		}
	case models.Essay:
		var es models.EssayContent
		if err := json.Unmarshal(content, &es); err != nil {
			errors = append(errors, ValidationError{Field: "content", Message: "invalid essay content", Rule: "content_schema"})
		}
	}

	return errors
}

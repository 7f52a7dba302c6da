package services

import (
	"errors"
	"fmt"

	"github.com/SAP-F-2025/exam-session-service/internal/validator"
)

// ValidationErrors re-exports the validator error collection so handlers can
// match it with errors.As against service results.
type ValidationErrors = validator.ValidationErrors

// ===== SENTINEL ERRORS =====

var (
	// Not found
	ErrExamNotFound     = errors.New("exam not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrSessionNotFound  = errors.New("session not found")
	ErrAnswerNotFound   = errors.New("answer not found")
	ErrUserNotFound     = errors.New("user not found")

	// Sheet building
	ErrInvalidComposition = errors.New("exam composition is invalid: no questions or zero point sum")

	// Exam lifecycle
	ErrExamNotAccessible = errors.New("exam is not accessible")
	ErrExamNotDraft      = errors.New("exam can only be modified while in draft")
	ErrExamTitleTaken    = errors.New("exam title already used by this creator")
	ErrExamHasSessions   = errors.New("exam has existing sessions")

	// Session lifecycle
	ErrAlreadySubmitted  = errors.New("session already submitted")
	ErrSessionClosed     = errors.New("session is closed for writes")
	ErrSessionNotActive  = errors.New("session is not in progress")
	ErrSessionNotGraded  = errors.New("session has ungraded essay answers")
	ErrGradingNotAllowed = errors.New("question type cannot be auto-graded")

	// OTP gate
	ErrOtpInvalid   = errors.New("otp code is invalid or expired")
	ErrOtpLockedOut = errors.New("too many failed otp attempts")

	// Generic
	ErrValidationFailed        = errors.New("validation failed")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrForbidden               = errors.New("forbidden")
	ErrInsufficientPermissions = errors.New("insufficient permissions")
	ErrBadRequest              = errors.New("bad request")
	ErrConflict                = errors.New("conflict")
)

// ===== TYPED ERRORS =====

// PermissionError carries who tried what on which resource
type PermissionError struct {
	UserID     string
	ResourceID uint
	Resource   string
	Action     string
	Reason     string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %s cannot %s %s %d: %s", e.UserID, e.Action, e.Resource, e.ResourceID, e.Reason)
}

func NewPermissionError(userID string, resourceID uint, resource, action, reason string) *PermissionError {
	return &PermissionError{
		UserID:     userID,
		ResourceID: resourceID,
		Resource:   resource,
		Action:     action,
		Reason:     reason,
	}
}

// BusinessRuleError marks a domain rule violation that is not a permission
// or validation failure
type BusinessRuleError struct {
	Rule    string
	Message string
	Context map[string]interface{}
}

func (e *BusinessRuleError) Error() string {
	return e.Message
}

func NewBusinessRuleError(rule, message string, context map[string]interface{}) *BusinessRuleError {
	return &BusinessRuleError{
		Rule:    rule,
		Message: message,
		Context: context,
	}
}

// NewValidationError builds a single-field validation error
func NewValidationError(field, message string, value interface{}) error {
	return validator.ValidationErrors{{
		Field:   field,
		Message: message,
		Value:   value,
		Rule:    "business_logic",
	}}
}

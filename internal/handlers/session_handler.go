package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/SAP-F-2025/exam-session-service/internal/services"
	"github.com/SAP-F-2025/exam-session-service/internal/utils"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
	"github.com/gin-gonic/gin"
)

type SessionHandler struct {
	BaseHandler
	sessionService services.SessionService
	gradingService services.GradingService
	validator      *validator.Validator
}

func NewSessionHandler(
	sessionService services.SessionService,
	gradingService services.GradingService,
	validator *validator.Validator,
	logger utils.Logger,
) *SessionHandler {
	return &SessionHandler{
		BaseHandler:    NewBaseHandler(logger),
		sessionService: sessionService,
		gradingService: gradingService,
		validator:      validator,
	}
}

// StartSession enters the student into an exam or resumes a live sitting
// @Summary Start or resume exam session
// @Description Validates the entry code and starts a session, or returns the live one untouched
// @Tags sessions
// @Accept json
// @Produce json
// @Param session body services.StartSessionRequest true "Start session data"
// @Success 201 {object} SuccessResponse{data=services.SessionResponse}
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /sessions/start [post]
func (h *SessionHandler) StartSession(c *gin.Context) {
	h.LogRequest(c, "Starting exam session")

	var req services.StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return
	}

	meta := services.SessionMeta{}
	if ip := c.ClientIP(); ip != "" {
		meta.IPAddress = &ip
	}
	if ua := c.Request.UserAgent(); ua != "" {
		meta.UserAgent = &ua
	}

	session, err := h.sessionService.StartOrResume(c.Request.Context(), &req, userID.(string), meta)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, session)
}

// SaveAnswer saves one answer of a live sitting
// @Summary Save answer
// @Description Overwrites the answer slot for one question, last write wins
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path uint true "Session ID"
// @Param answer body services.SaveAnswerRequest true "Answer data"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /sessions/{id}/answers [put]
func (h *SessionHandler) SaveAnswer(c *gin.Context) {
	sessionID := h.parseIDParam(c, "id")
	if sessionID == 0 {
		return
	}

	var req services.SaveAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return
	}

	if err := h.sessionService.SaveAnswer(c.Request.Context(), sessionID, &req, userID.(string)); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Answer saved successfully",
	})
}

// SubmitSession submits a sitting and grades it
// @Summary Submit exam session
// @Description Submits the sitting, grades objective answers and writes the score
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} SuccessResponse{data=services.SessionResponse}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /sessions/{id}/submit [post]
func (h *SessionHandler) SubmitSession(c *gin.Context) {
	sessionID := h.parseIDParam(c, "id")
	if sessionID == 0 {
		return
	}

	h.LogRequest(c, "Submitting session", "session_id", sessionID)

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return
	}

	session, err := h.sessionService.Submit(c.Request.Context(), sessionID, services.SubmitByStudent, userID.(string))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// ApplyManualGrade records an essay grade
// @Summary Apply manual grade
// @Description Records an essay grade and recomputes the session score
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path uint true "Session ID"
// @Param grade body services.ManualGradeRequest true "Grade data"
// @Success 200 {object} SuccessResponse{data=services.SessionGradingResult}
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /sessions/{id}/grades [post]
func (h *SessionHandler) ApplyManualGrade(c *gin.Context) {
	sessionID := h.parseIDParam(c, "id")
	if sessionID == 0 {
		return
	}

	h.LogRequest(c, "Applying manual grade", "session_id", sessionID)

	var req services.ManualGradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return
	}

	result, err := h.gradingService.ApplyManualGrade(c.Request.Context(), sessionID, &req, userID.(string))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Grade applied successfully",
		Data:    result,
	})
}

// ResolveOutcome settles a graded sitting into passed or failed
// @Summary Resolve session outcome
// @Description Applies the pass policy once no essay answer is left ungraded
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} SuccessResponse{data=services.SessionResponse}
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /sessions/{id}/outcome [post]
func (h *SessionHandler) ResolveOutcome(c *gin.Context) {
	sessionID := h.parseIDParam(c, "id")
	if sessionID == 0 {
		return
	}

	h.LogRequest(c, "Resolving session outcome", "session_id", sessionID)

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return
	}

	session, err := h.sessionService.ResolveOutcome(c.Request.Context(), sessionID, userID.(string))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// GetSession retrieves a session by ID
// @Summary Get session
// @Description Retrieves one session
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} SuccessResponse{data=services.SessionResponse}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /sessions/{id} [get]
func (h *SessionHandler) GetSession(c *gin.Context) {
	sessionID := h.parseIDParam(c, "id")
	if sessionID == 0 {
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return
	}

	session, err := h.sessionService.GetByID(c.Request.Context(), sessionID, userID.(string))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// GetSessionWithAnswers retrieves a session with its answer sheet
// @Summary Get session with answers
// @Description Retrieves one session including every answer slot
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} SuccessResponse{data=services.SessionResponse}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /sessions/{id}/answers [get]
func (h *SessionHandler) GetSessionWithAnswers(c *gin.Context) {
	sessionID := h.parseIDParam(c, "id")
	if sessionID == 0 {
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return
	}

	session, err := h.sessionService.GetByIDWithAnswers(c.Request.Context(), sessionID, userID.(string))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// ListSessions lists sessions with filters
// @Summary List sessions
// @Description Lists sessions with pagination, own sessions unless admin
// @Tags sessions
// @Accept json
// @Produce json
// @Param page query int false "Page number"
// @Param size query int false "Page size"
// @Param status query string false "Session status filter"
// @Success 200 {object} SuccessResponse{data=services.SessionListResponse}
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /sessions [get]
func (h *SessionHandler) ListSessions(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return
	}

	filters := h.parseSessionFilters(c)

	sessions, err := h.sessionService.List(c.Request.Context(), filters, userID.(string))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, sessions)
}

// GetSessionsByExam lists the sessions of one exam
// @Summary Get exam sessions
// @Description Lists every session of an exam, creator only
// @Tags sessions
// @Accept json
// @Produce json
// @Param exam_id path uint true "Exam ID"
// @Success 200 {object} SuccessResponse{data=services.SessionListResponse}
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /sessions/exam/{exam_id} [get]
func (h *SessionHandler) GetSessionsByExam(c *gin.Context) {
	examID := h.parseIDParam(c, "exam_id")
	if examID == 0 {
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return
	}

	filters := h.parseSessionFilters(c)

	sessions, err := h.sessionService.GetByExam(c.Request.Context(), examID, filters, userID.(string))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, sessions)
}

// GetMySessions lists the authenticated student's sessions
// @Summary Get my sessions
// @Description Lists every session of the authenticated student
// @Tags sessions
// @Accept json
// @Produce json
// @Success 200 {object} SuccessResponse{data=services.SessionListResponse}
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /sessions/mine [get]
func (h *SessionHandler) GetMySessions(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return
	}

	filters := h.parseSessionFilters(c)

	sessions, err := h.sessionService.GetByStudent(c.Request.Context(), userID.(string), filters)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, sessions)
}

// GetSessionStats retrieves session statistics for an exam
// @Summary Get session statistics
// @Description Retrieves aggregate session statistics of an exam
// @Tags sessions
// @Accept json
// @Produce json
// @Param exam_id path uint true "Exam ID"
// @Success 200 {object} SuccessResponse{data=repositories.SessionStats}
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /sessions/stats/{exam_id} [get]
func (h *SessionHandler) GetSessionStats(c *gin.Context) {
	examID := h.parseIDParam(c, "exam_id")
	if examID == 0 {
		return
	}

	h.LogRequest(c, "Getting session stats", "exam_id", examID)

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return
	}

	stats, err := h.sessionService.GetStats(c.Request.Context(), examID, userID.(string))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Session stats retrieved successfully",
		Data:    stats,
	})
}

// GetGradingOverview retrieves the grading progress of an exam
// @Summary Get grading overview
// @Description Retrieves graded and pending answer counts for an exam
// @Tags sessions
// @Accept json
// @Produce json
// @Param exam_id path uint true "Exam ID"
// @Success 200 {object} SuccessResponse{data=repositories.GradingStats}
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /sessions/grading/{exam_id} [get]
func (h *SessionHandler) GetGradingOverview(c *gin.Context) {
	examID := h.parseIDParam(c, "exam_id")
	if examID == 0 {
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return
	}

	overview, err := h.gradingService.GetGradingOverview(c.Request.Context(), examID, userID.(string))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Grading overview retrieved successfully",
		Data:    overview,
	})
}

// Helper methods

func (h *SessionHandler) parseIDParam(c *gin.Context, param string) uint {
	idStr := c.Param(param)
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid " + param,
			Details: err.Error(),
		})
		return 0
	}
	return uint(id)
}

func (h *SessionHandler) parseIntQuery(c *gin.Context, param string, defaultValue int) int {
	valueStr := c.Query(param)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func (h *SessionHandler) parseSessionFilters(c *gin.Context) repositories.SessionFilters {
	page := h.parseIntQuery(c, "page", 1)
	size := h.parseIntQuery(c, "size", 10)

	filters := repositories.SessionFilters{
		Limit:     size,
		Offset:    (page - 1) * size,
		SortBy:    c.DefaultQuery("sort_by", "created_at"),
		SortOrder: c.DefaultQuery("sort_order", "desc"),
	}

	if status := c.Query("status"); status != "" {
		sessionStatus := models.SessionStatus(status)
		filters.Status = &sessionStatus
	}

	if studentID := strings.TrimSpace(c.Query("student_id")); studentID != "" {
		filters.StudentID = &studentID
	}

	if examIDStr := c.Query("exam_id"); examIDStr != "" {
		if examID, err := strconv.ParseUint(examIDStr, 10, 32); err == nil {
			id := uint(examID)
			filters.ExamID = &id
		}
	}

	if from := c.Query("date_from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filters.DateFrom = &t
		}
	}
	if to := c.Query("date_to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filters.DateTo = &t
		}
	}

	return filters
}

func (h *SessionHandler) handleServiceError(c *gin.Context, err error) {
	// Handle custom error types first
	var validationErrors services.ValidationErrors
	if errors.As(err, &validationErrors) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: validationErrors,
		})
		return
	}

	var businessRuleError *services.BusinessRuleError
	if errors.As(err, &businessRuleError) {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Message: businessRuleError.Message,
			Details: map[string]interface{}{
				"rule":    businessRuleError.Rule,
				"context": businessRuleError.Context,
			},
		})
		return
	}

	var permissionError *services.PermissionError
	if errors.As(err, &permissionError) {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "Access denied",
			Details: map[string]interface{}{
				"resource": permissionError.Resource,
				"action":   permissionError.Action,
				"reason":   permissionError.Reason,
			},
		})
		return
	}

	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Session not found",
		})
	case errors.Is(err, services.ErrExamNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Exam not found",
		})
	case errors.Is(err, services.ErrAnswerNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Answer slot not found",
		})
	case errors.Is(err, services.ErrQuestionNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Question not found",
		})
	case errors.Is(err, services.ErrExamNotAccessible):
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "Exam is not accessible",
		})
	case errors.Is(err, services.ErrAlreadySubmitted):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Exam already submitted",
		})
	case errors.Is(err, services.ErrSessionClosed):
		c.JSON(http.StatusGone, ErrorResponse{
			Message: "Session is closed for writes",
		})
	case errors.Is(err, services.ErrSessionNotActive):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Session is not in the required state",
		})
	case errors.Is(err, services.ErrSessionNotGraded):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Session has ungraded essay answers",
		})
	case errors.Is(err, services.ErrGradingNotAllowed):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Message: "Question type cannot be graded this way",
		})
	case errors.Is(err, services.ErrOtpLockedOut):
		c.JSON(http.StatusTooManyRequests, ErrorResponse{
			Message: "Too many failed entry code attempts",
		})
	case errors.Is(err, services.ErrOtpInvalid):
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "Entry code is invalid or expired",
		})
	case errors.Is(err, services.ErrInvalidComposition):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Message: "Exam has no usable answer sheet",
		})
	default:
		h.LogError(c, err, "Unhandled service error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Internal server error",
		})
	}
}

package handlers

import (
	"strconv"

	"github.com/SAP-F-2025/exam-session-service/internal/utils"
	"github.com/gin-gonic/gin"
)

// ErrorResponse is the envelope for every non-2xx reply
type ErrorResponse struct {
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// SuccessResponse wraps 2xx replies that carry a message next to data
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// BaseHandler carries the cross-cutting pieces every handler embeds
type BaseHandler struct {
	logger utils.Logger
}

func NewBaseHandler(logger utils.Logger) BaseHandler {
	return BaseHandler{logger: logger}
}

// LogRequest logs the handled request with the request-scoped logger when
// the middleware attached one.
func (h *BaseHandler) LogRequest(c *gin.Context, msg string, args ...any) {
	logger := utils.LoggerFromContext(c.Request.Context(), h.logger)
	fields := append([]any{"method", c.Request.Method, "path", c.FullPath()}, args...)
	logger.Info(msg, fields...)
}

func (h *BaseHandler) LogError(c *gin.Context, err error, msg string, args ...any) {
	logger := utils.LoggerFromContext(c.Request.Context(), h.logger)
	fields := append([]any{"error", err, "method", c.Request.Method, "path", c.FullPath()}, args...)
	logger.Error(msg, fields...)
}

// ParseStringIDParam returns the raw path parameter, empty when missing
func (h *BaseHandler) ParseStringIDParam(c *gin.Context, param string) string {
	return c.Param(param)
}

// ParseUintParam parses a numeric path parameter without writing a reply;
// handlers decide how to report a zero.
func (h *BaseHandler) ParseUintParam(c *gin.Context, param string) uint {
	id, err := strconv.ParseUint(c.Param(param), 10, 32)
	if err != nil {
		return 0
	}
	return uint(id)
}

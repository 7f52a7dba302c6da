package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-session-service/internal/config"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/SAP-F-2025/exam-session-service/internal/services"
	"github.com/SAP-F-2025/exam-session-service/internal/utils"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
)

type HandlerManager struct {
	examHandler     *ExamHandler
	questionHandler *QuestionHandler
	sessionHandler  *SessionHandler
	authMiddleware  *CasdoorAuthMiddleware
	serviceManager  services.ServiceManager
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	validator *validator.Validator,
	logger utils.Logger,
	casdoorConfig config.CasdoorConfig,
	userRepo repositories.UserRepository,
) *HandlerManager {
	authMiddleware := NewCasdoorAuthMiddleware(casdoorConfig, userRepo)

	return &HandlerManager{
		examHandler:     NewExamHandler(serviceManager.Exam(), serviceManager.Otp(), serviceManager.Export(), validator, logger),
		questionHandler: NewQuestionHandler(serviceManager.Question(), validator, logger),
		sessionHandler:  NewSessionHandler(serviceManager.Session(), serviceManager.Grading(), validator, logger),
		authMiddleware:  authMiddleware,
		serviceManager:  serviceManager,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	// API v1 routes with authentication
	v1 := router.Group("/api/v1")
	v1.Use(hm.authMiddleware.AuthMiddleware()) // Apply authentication to all API routes
	{
		// Exam routes
		exams := v1.Group("/exams")
		{
			// Create/modify exams - Teachers and Admins only
			exams.POST("", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.examHandler.CreateExam)
			exams.PUT("/:id", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.examHandler.UpdateExam)
			exams.DELETE("/:id", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.examHandler.DeleteExam)
			exams.POST("/:id/publish", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.examHandler.PublishExam)
			exams.POST("/:id/finish", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.examHandler.FinishExam)

			// Entry code issuance - Teachers and Admins only
			exams.POST("/:id/otp", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.examHandler.IssueOtp)

			// Entry code pre-check - any authenticated student
			exams.POST("/:id/otp/validate", hm.examHandler.ValidateOtp)

			// View exams - All authenticated users
			exams.GET("", hm.examHandler.ListExams)
			exams.GET("/mine", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.examHandler.GetMyExams)
			exams.GET("/:id", hm.examHandler.GetExam)
			exams.GET("/:id/questions", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.examHandler.GetExamWithQuestions)

			// Stats and export - Teachers and Admins only
			exams.GET("/:id/stats", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.examHandler.GetExamStats)
			exams.GET("/:id/export", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.examHandler.ExportExamResults)
		}

		// Question routes - Teachers and Admins only
		questions := v1.Group("/questions")
		questions.Use(hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin))
		{
			questions.POST("", hm.questionHandler.CreateQuestion)
			questions.GET("", hm.questionHandler.ListQuestions)
			questions.GET("/mine", hm.questionHandler.GetMyQuestions)
			questions.GET("/:id", hm.questionHandler.GetQuestion)
			questions.PUT("/:id", hm.questionHandler.UpdateQuestion)
			questions.DELETE("/:id", hm.questionHandler.DeleteQuestion)
		}

		// Session routes
		sessions := v1.Group("/sessions")
		{
			// Student-facing flow
			sessions.POST("/start", hm.sessionHandler.StartSession)
			sessions.PUT("/:id/answers", hm.sessionHandler.SaveAnswer)
			sessions.POST("/:id/submit", hm.sessionHandler.SubmitSession)
			sessions.GET("/mine", hm.sessionHandler.GetMySessions)
			sessions.GET("", hm.sessionHandler.ListSessions)
			sessions.GET("/:id", hm.sessionHandler.GetSession)
			sessions.GET("/:id/answers", hm.sessionHandler.GetSessionWithAnswers)

			// Grading and outcome - Teachers, Proctors and Admins only
			sessions.POST("/:id/grades", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleProctor, models.RoleAdmin), hm.sessionHandler.ApplyManualGrade)
			sessions.POST("/:id/outcome", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleProctor, models.RoleAdmin), hm.sessionHandler.ResolveOutcome)

			// Exam-scoped views - Teachers and Admins only
			sessions.GET("/exam/:exam_id", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.sessionHandler.GetSessionsByExam)
			sessions.GET("/stats/:exam_id", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.sessionHandler.GetSessionStats)
			sessions.GET("/grading/:exam_id", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleProctor, models.RoleAdmin), hm.sessionHandler.GetGradingOverview)
		}
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		if err := hm.serviceManager.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(503, gin.H{
				"status":  "unhealthy",
				"service": "exam-session-service",
				"error":   err.Error(),
			})
			return
		}
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "exam-session-service",
		})
	})
}

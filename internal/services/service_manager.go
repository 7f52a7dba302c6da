package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SAP-F-2025/exam-session-service/internal/events"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ServiceManagerConfig holds configuration for the service manager
type ServiceManagerConfig struct {
	// Logging configuration
	EnableDebugLogging bool
	EnableMetrics      bool
	LogLevel           slog.Level

	// Service-specific configurations
	Exam     ServiceConfig
	Question ServiceConfig
	Session  ServiceConfig
	Grading  ServiceConfig

	// Domain settings
	PassThreshold  float64
	OtpTTL         time.Duration
	OtpMaxAttempts int

	// Global settings
	DefaultTimeout    time.Duration
	MaxRetries        int
	RateLimitingRules map[string]RateLimit
}

type ServiceConfig struct {
	Enabled         bool
	CacheEnabled    bool
	CacheTTL        time.Duration
	ValidationLevel ValidationLevel
	AuditingEnabled bool
	MetricsEnabled  bool
}

type ValidationLevel int

const (
	ValidationBasic ValidationLevel = iota
	ValidationStrict
	ValidationFull
)

type RateLimit struct {
	RequestsPerMinute int
	BurstSize         int
}

// ServiceDependencies carries the external collaborators the services need
// beyond the database.
type ServiceDependencies struct {
	Redis      *redis.Client
	Publisher  events.EventPublisher
	Membership RoomMembershipChecker
}

// serviceManager implements ServiceManager interface
type serviceManager struct {
	// Dependencies
	db        *gorm.DB
	repo      repositories.Repository
	logger    *slog.Logger
	validator *validator.Validator
	deps      ServiceDependencies
	config    ServiceManagerConfig

	// Service instances
	examService     ExamService
	questionService QuestionService
	otpService      OtpService
	sessionService  SessionService
	gradingService  GradingService
	exportService   ExportService

	// Lifecycle management
	initialized bool
	shutdown    bool
	mu          sync.RWMutex
}

// NewServiceManager creates a new service manager with all dependencies
func NewServiceManager(db *gorm.DB, repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, deps ServiceDependencies, config ServiceManagerConfig) ServiceManager {
	return &serviceManager{
		db:        db,
		repo:      repo,
		logger:    logger,
		validator: validator,
		deps:      deps,
		config:    config,
	}
}

// NewDefaultServiceManager creates a service manager with default configuration
func NewDefaultServiceManager(db *gorm.DB, repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, deps ServiceDependencies) ServiceManager {
	config := ServiceManagerConfig{
		EnableDebugLogging: false,
		EnableMetrics:      true,
		LogLevel:           slog.LevelInfo,

		Exam: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    true,
			CacheTTL:        5 * time.Minute,
			ValidationLevel: ValidationStrict,
			AuditingEnabled: true,
			MetricsEnabled:  true,
		},
		Question: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    true,
			CacheTTL:        10 * time.Minute,
			ValidationLevel: ValidationFull,
			AuditingEnabled: true,
			MetricsEnabled:  true,
		},
		Session: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    false, // Real-time data
			CacheTTL:        0,
			ValidationLevel: ValidationStrict,
			AuditingEnabled: true,
			MetricsEnabled:  true,
		},
		Grading: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    false,
			CacheTTL:        0,
			ValidationLevel: ValidationBasic,
			AuditingEnabled: true,
			MetricsEnabled:  true,
		},

		PassThreshold:  5.0,
		OtpTTL:         5 * time.Minute,
		OtpMaxAttempts: 10,

		DefaultTimeout:    30 * time.Second,
		MaxRetries:        3,
		RateLimitingRules: make(map[string]RateLimit),
	}

	return NewServiceManager(db, repo, logger, validator, deps, config)
}

// Initialize sets up all services and their dependencies
func (sm *serviceManager) Initialize(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.initialized {
		return nil
	}

	sm.logger.Info("Initializing service manager")

	if err := sm.initializeServices(ctx); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := sm.validateServicesHealth(ctx); err != nil {
		return fmt.Errorf("service health check failed: %w", err)
	}

	sm.initialized = true
	sm.logger.Info("Service manager initialized successfully")

	return nil
}

func (sm *serviceManager) initializeServices(ctx context.Context) error {
	publisher := sm.deps.Publisher
	if publisher == nil {
		publisher = events.NewNoopEventPublisher(sm.logger)
	}

	if sm.config.Exam.Enabled {
		sm.examService = NewExamService(sm.db, sm.repo, sm.logger, sm.validator, publisher, sm.config.PassThreshold)
		sm.logger.Info("Exam service initialized")
	}

	if sm.config.Question.Enabled {
		sm.questionService = NewQuestionService(sm.db, sm.repo, sm.logger, sm.validator)
		sm.logger.Info("Question service initialized")
	}

	// OTP needs redis; without it exam entry cannot be gated
	if sm.deps.Redis == nil {
		return fmt.Errorf("redis client is required for the otp service")
	}
	sm.otpService = NewOtpService(sm.repo, sm.deps.Redis, sm.logger, publisher, sm.config.OtpTTL, sm.config.OtpMaxAttempts)
	sm.logger.Info("OTP service initialized", "ttl", sm.config.OtpTTL, "max_attempts", sm.config.OtpMaxAttempts)

	if sm.config.Grading.Enabled {
		sm.gradingService = NewGradingService(sm.db, sm.repo, sm.logger, sm.validator)
		sm.logger.Info("Grading service initialized")
	}

	if sm.config.Session.Enabled {
		sm.sessionService = NewSessionService(
			sm.db, sm.repo, sm.logger, sm.validator,
			sm.otpService, sm.gradingService, publisher,
			ThresholdPassPolicy(sm.config.PassThreshold),
			sm.deps.Membership,
		)
		sm.logger.Info("Session service initialized", "pass_threshold", sm.config.PassThreshold)
	}

	sm.exportService = NewExportService(sm.db, sm.repo, sm.logger)
	sm.logger.Info("Export service initialized")

	return nil
}

func (sm *serviceManager) validateServicesHealth(ctx context.Context) error {
	if err := sm.repo.Ping(ctx); err != nil {
		return fmt.Errorf("repository ping failed: %w", err)
	}
	if sm.deps.Redis != nil {
		if err := sm.deps.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
	}
	return nil
}

// Service getters
func (sm *serviceManager) Exam() ExamService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}

	if sm.config.Exam.Enabled && sm.examService != nil {
		return sm.examService
	}

	panic("exam service not enabled or not initialized")
}

func (sm *serviceManager) Question() QuestionService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}

	if sm.config.Question.Enabled && sm.questionService != nil {
		return sm.questionService
	}

	panic("question service not enabled or not initialized")
}

func (sm *serviceManager) Otp() OtpService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}

	if sm.otpService != nil {
		return sm.otpService
	}

	panic("otp service not initialized")
}

func (sm *serviceManager) Session() SessionService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}

	if sm.config.Session.Enabled && sm.sessionService != nil {
		return sm.sessionService
	}

	panic("session service not enabled or not initialized")
}

func (sm *serviceManager) Grading() GradingService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}

	if sm.config.Grading.Enabled && sm.gradingService != nil {
		return sm.gradingService
	}

	panic("grading service not enabled or not initialized")
}

func (sm *serviceManager) Export() ExportService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}

	if sm.exportService != nil {
		return sm.exportService
	}

	panic("export service not initialized")
}

// Health and lifecycle
func (sm *serviceManager) HealthCheck(ctx context.Context) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		return fmt.Errorf("service manager not initialized")
	}

	if sm.shutdown {
		return fmt.Errorf("service manager is shut down")
	}

	if err := sm.repo.Ping(ctx); err != nil {
		return fmt.Errorf("repository health check failed: %w", err)
	}

	if sm.deps.Redis != nil {
		if err := sm.deps.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis health check failed: %w", err)
		}
	}

	return nil
}

func (sm *serviceManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.shutdown {
		return nil
	}

	sm.logger.Info("Shutting down service manager")

	if sm.deps.Publisher != nil {
		if err := sm.deps.Publisher.Close(); err != nil {
			sm.logger.Error("Failed to close event publisher", "error", err)
		}
	}

	if repoManager, ok := sm.repo.(repositories.RepositoryManager); ok {
		if err := repoManager.Shutdown(ctx); err != nil {
			sm.logger.Error("Failed to shutdown repository manager", "error", err)
		}
	}

	sm.shutdown = true
	sm.logger.Info("Service manager shut down completed")

	return nil
}

// ===== UTILITY METHODS =====

// GetConfig returns the service manager configuration
func (sm *serviceManager) GetConfig() ServiceManagerConfig {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return sm.config
}

// IsInitialized returns whether the service manager has been initialized
func (sm *serviceManager) IsInitialized() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return sm.initialized
}

// IsShutdown returns whether the service manager has been shut down
func (sm *serviceManager) IsShutdown() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return sm.shutdown
}

// WithTimeout creates a context with the default timeout
func (sm *serviceManager) WithTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, sm.config.DefaultTimeout)
}

// ===== CONFIGURATION VALIDATION =====

// ValidateConfig validates the service manager configuration
func (config *ServiceManagerConfig) Validate() error {
	var errors []string

	if config.DefaultTimeout <= 0 {
		errors = append(errors, "default timeout must be positive")
	}

	if config.MaxRetries < 0 {
		errors = append(errors, "max retries cannot be negative")
	}

	if config.PassThreshold < 0 || config.PassThreshold > 10 {
		errors = append(errors, "pass threshold must be within [0, 10]")
	}

	if config.OtpTTL <= 0 {
		errors = append(errors, "otp ttl must be positive")
	}

	if config.OtpMaxAttempts <= 0 {
		errors = append(errors, "otp max attempts must be positive")
	}

	if err := config.Exam.validate("exam"); err != nil {
		errors = append(errors, err.Error())
	}

	if err := config.Question.validate("question"); err != nil {
		errors = append(errors, err.Error())
	}

	if err := config.Session.validate("session"); err != nil {
		errors = append(errors, err.Error())
	}

	if err := config.Grading.validate("grading"); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func (sc *ServiceConfig) validate(serviceName string) error {
	var errors []string

	if sc.CacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("%s: cache TTL cannot be negative", serviceName))
	}

	if sc.ValidationLevel < ValidationBasic || sc.ValidationLevel > ValidationFull {
		errors = append(errors, fmt.Sprintf("%s: invalid validation level", serviceName))
	}

	if len(errors) > 0 {
		return fmt.Errorf("%s", errors[0])
	}

	return nil
}

// ===== FACTORY FUNCTIONS =====

// CreateProductionServiceManager creates a service manager configured for production
func CreateProductionServiceManager(db *gorm.DB, repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, deps ServiceDependencies, passThreshold float64, otpTTL time.Duration, otpMaxAttempts int) ServiceManager {
	config := ServiceManagerConfig{
		EnableDebugLogging: false,
		EnableMetrics:      true,
		LogLevel:           slog.LevelInfo,

		Exam: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    true,
			CacheTTL:        10 * time.Minute,
			ValidationLevel: ValidationFull,
			AuditingEnabled: true,
			MetricsEnabled:  true,
		},
		Question: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    true,
			CacheTTL:        30 * time.Minute,
			ValidationLevel: ValidationFull,
			AuditingEnabled: true,
			MetricsEnabled:  true,
		},
		Session: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    false, // Real-time data
			CacheTTL:        0,
			ValidationLevel: ValidationStrict,
			AuditingEnabled: true,
			MetricsEnabled:  true,
		},
		Grading: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    false,
			CacheTTL:        0,
			ValidationLevel: ValidationStrict,
			AuditingEnabled: true,
			MetricsEnabled:  true,
		},

		PassThreshold:  passThreshold,
		OtpTTL:         otpTTL,
		OtpMaxAttempts: otpMaxAttempts,

		DefaultTimeout: 60 * time.Second,
		MaxRetries:     3,
		RateLimitingRules: map[string]RateLimit{
			"exam_create":   {RequestsPerMinute: 60, BurstSize: 10},
			"session_start": {RequestsPerMinute: 100, BurstSize: 20},
			"answer_save":   {RequestsPerMinute: 600, BurstSize: 100},
		},
	}

	return NewServiceManager(db, repo, logger, validator, deps, config)
}

// CreateDevelopmentServiceManager creates a service manager configured for development
func CreateDevelopmentServiceManager(db *gorm.DB, repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, deps ServiceDependencies) ServiceManager {
	config := ServiceManagerConfig{
		EnableDebugLogging: true,
		EnableMetrics:      false,
		LogLevel:           slog.LevelDebug,

		Exam: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    false,
			CacheTTL:        0,
			ValidationLevel: ValidationBasic,
			AuditingEnabled: false,
			MetricsEnabled:  false,
		},
		Question: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    false,
			CacheTTL:        0,
			ValidationLevel: ValidationBasic,
			AuditingEnabled: false,
			MetricsEnabled:  false,
		},
		Session: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    false,
			CacheTTL:        0,
			ValidationLevel: ValidationBasic,
			AuditingEnabled: false,
			MetricsEnabled:  false,
		},
		Grading: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    false,
			CacheTTL:        0,
			ValidationLevel: ValidationBasic,
			AuditingEnabled: false,
			MetricsEnabled:  false,
		},

		PassThreshold:  5.0,
		OtpTTL:         5 * time.Minute,
		OtpMaxAttempts: 10,

		DefaultTimeout:    10 * time.Second,
		MaxRetries:        1,
		RateLimitingRules: make(map[string]RateLimit),
	}

	return NewServiceManager(db, repo, logger, validator, deps, config)
}

package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/casdoor/casdoor-go-sdk/casdoorsdk"
	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-session-service/internal/config"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
)

// Context keys set by AuthMiddleware for downstream handlers.
const (
	ctxUserID   = "user_id"
	ctxUser     = "user"
	ctxUserRole = "user_role"
)

// CasdoorAuthMiddleware verifies Casdoor-issued bearer tokens and resolves
// the caller into a local user with a role the route guards can check.
type CasdoorAuthMiddleware struct {
	client   *casdoorsdk.Client
	userRepo repositories.UserRepository
}

func NewCasdoorAuthMiddleware(cfg config.CasdoorConfig, userRepo repositories.UserRepository) *CasdoorAuthMiddleware {
	client := casdoorsdk.NewClient(
		cfg.Endpoint,
		cfg.ClientID,
		cfg.ClientSecret,
		cfg.Cert,
		cfg.Application,
		cfg.Organization,
	)

	return &CasdoorAuthMiddleware{
		client:   client,
		userRepo: userRepo,
	}
}

// AuthMiddleware rejects requests without a valid bearer token and attaches
// the resolved user to the gin context.
func (m *CasdoorAuthMiddleware) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Message: "missing or malformed bearer token"})
			return
		}

		claims, err := m.client.ParseJwtToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Message: "invalid token"})
			return
		}

		user, err := m.resolveUser(c, claims)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Message: "unknown token subject"})
			return
		}

		c.Set(ctxUserID, user.ID)
		c.Set(ctxUser, user)
		c.Set(ctxUserRole, user.Role)
		c.Next()
	}
}

// RequireRoleMiddleware allows the request through when the caller holds any
// of the given roles. Admins pass every guard.
func (m *CasdoorAuthMiddleware) RequireRoleMiddleware(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		stored, exists := c.Get(ctxUserRole)
		role, ok := stored.(models.UserRole)
		if !exists || !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Message: "role not established"})
			return
		}

		if role != models.RoleAdmin {
			allowed := false
			for _, r := range roles {
				if role == r {
					allowed = true
					break
				}
			}
			if !allowed {
				c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{
					Message: fmt.Sprintf("requires one of roles: %v", roles),
				})
				return
			}
		}

		c.Next()
	}
}

// bearerToken pulls the token out of an "Authorization: Bearer <token>"
// header value.
func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// resolveUser prefers the locally stored user; a subject the repository has
// never seen is materialized from the token claims so first-time callers are
// not locked out.
func (m *CasdoorAuthMiddleware) resolveUser(c *gin.Context, claims *casdoorsdk.Claims) (*models.User, error) {
	if claims.Id == "" {
		return nil, fmt.Errorf("token has no subject")
	}

	user, err := m.userRepo.GetByID(c.Request.Context(), claims.Id)
	if err == nil {
		return user, nil
	}

	now := time.Now().UTC()
	avatar := claims.User.Avatar
	return &models.User{
		ID:            claims.Id,
		FullName:      claims.User.DisplayName,
		Email:         claims.User.Email,
		Role:          roleFromCasdoorType(claims.User.Type),
		AvatarURL:     &avatar,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func roleFromCasdoorType(casdoorType string) models.UserRole {
	switch strings.ToLower(casdoorType) {
	case "admin", "administrator":
		return models.RoleAdmin
	case "teacher", "instructor":
		return models.RoleTeacher
	case "proctor", "supervisor":
		return models.RoleProctor
	default:
		return models.RoleStudent
	}
}

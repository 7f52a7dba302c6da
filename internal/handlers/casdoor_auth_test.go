package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
		ok     bool
	}{
		{name: "well formed", header: "Bearer abc.def.ghi", want: "abc.def.ghi", ok: true},
		{name: "lowercase scheme", header: "bearer token123", want: "token123", ok: true},
		{name: "missing header", header: "", ok: false},
		{name: "no token", header: "Bearer ", ok: false},
		{name: "wrong scheme", header: "Basic dXNlcjpwYXNz", ok: false},
		{name: "bare token", header: "token123", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := bearerToken(tt.header)
			if ok != tt.ok || got != tt.want {
				t.Errorf("bearerToken(%q) = %q, %v, want %q, %v", tt.header, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestRoleFromCasdoorType(t *testing.T) {
	tests := []struct {
		casdoorType string
		want        models.UserRole
	}{
		{casdoorType: "admin", want: models.RoleAdmin},
		{casdoorType: "Administrator", want: models.RoleAdmin},
		{casdoorType: "teacher", want: models.RoleTeacher},
		{casdoorType: "instructor", want: models.RoleTeacher},
		{casdoorType: "proctor", want: models.RoleProctor},
		{casdoorType: "supervisor", want: models.RoleProctor},
		{casdoorType: "student", want: models.RoleStudent},
		{casdoorType: "", want: models.RoleStudent},
		{casdoorType: "something-else", want: models.RoleStudent},
	}
	for _, tt := range tests {
		if got := roleFromCasdoorType(tt.casdoorType); got != tt.want {
			t.Errorf("roleFromCasdoorType(%q) = %q, want %q", tt.casdoorType, got, tt.want)
		}
	}
}

func TestRequireRoleMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := &CasdoorAuthMiddleware{}

	run := func(role interface{}, required ...models.UserRole) (*httptest.ResponseRecorder, *gin.Context) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		if role != nil {
			c.Set(ctxUserRole, role)
		}
		m.RequireRoleMiddleware(required...)(c)
		return w, c
	}

	t.Run("matching role passes", func(t *testing.T) {
		_, c := run(models.RoleTeacher, models.RoleTeacher, models.RoleProctor)
		if c.IsAborted() {
			t.Error("teacher was rejected from a teacher route")
		}
	})

	t.Run("admin passes every guard", func(t *testing.T) {
		_, c := run(models.RoleAdmin, models.RoleTeacher)
		if c.IsAborted() {
			t.Error("admin was rejected")
		}
	})

	t.Run("wrong role is forbidden", func(t *testing.T) {
		w, c := run(models.RoleStudent, models.RoleTeacher)
		if !c.IsAborted() || w.Code != http.StatusForbidden {
			t.Errorf("student got through a teacher route, code %d", w.Code)
		}
	})

	t.Run("missing role is forbidden", func(t *testing.T) {
		w, c := run(nil, models.RoleTeacher)
		if !c.IsAborted() || w.Code != http.StatusForbidden {
			t.Errorf("request without a role got through, code %d", w.Code)
		}
	})
}

package middleware

import "github.com/labstack/echo/v4"

// Roles carried in the "role" claim of tokens issued by the identity
// service.  STAFF is the operator capability.
const (
	RoleMember = "CUSTOMER"
	RoleStaff  = "STAFF"
)

// UserID returns the authenticated subject stored by JWTAuth, or "" when
// the request is anonymous.
func UserID(c echo.Context) string {
	if s, ok := c.Get("user_id").(string); ok {
		return s
	}
	return ""
}

// Role returns the role stored by JWTAuth, or "".
func Role(c echo.Context) string {
	if s, ok := c.Get("role").(string); ok {
		return s
	}
	return ""
}

// IsStaff reports whether the caller holds the operator capability.
func IsStaff(c echo.Context) bool { return Role(c) == RoleStaff }

package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"shopcheckout/internal/config"
	"shopcheckout/internal/middleware"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

// =====================
// レスポンス確認用（any禁止）
// =====================

type mwErrorResponse struct {
	Error string `json:"error"`
}

type mwOKResponse struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
}

// =====================
// helper
// =====================

func mustMakeJWT(t *testing.T, secret string, sub any, role string, signingMethod jwt.SigningMethod) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub":  sub,
		"role": role,
		"iat":  1,
		"exp":  9999999999,
	}

	token := jwt.NewWithClaims(signingMethod, claims)

	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}
	return s
}

func runRequest(t *testing.T, e *echo.Echo, method string, path string, authHeader string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeMWError(t *testing.T, rec *httptest.ResponseRecorder) mwErrorResponse {
	t.Helper()
	var r mwErrorResponse
	_ = json.NewDecoder(rec.Body).Decode(&r)
	return r
}

func decodeMWOK(t *testing.T, rec *httptest.ResponseRecorder) mwOKResponse {
	t.Helper()
	var r mwOKResponse
	_ = json.NewDecoder(rec.Body).Decode(&r)
	return r
}

func protected(e *echo.Echo, mws ...echo.MiddlewareFunc) {
	e.GET("/protected", func(c echo.Context) error {
		userID, _ := c.Get(middleware.CtxUserIDKey).(int64)
		role, _ := c.Get(middleware.CtxUserRoleKey).(string)
		return c.JSON(http.StatusOK, mwOKResponse{UserID: userID, Role: role})
	}, mws...)
}

// =====================
// AuthJWT
// =====================

// Authorizationなし => 401
func TestMiddleware_AuthJWT_Unauthorized_NoHeader(t *testing.T) {
	e := echo.New()
	cfg := config.Config{JWTSecret: "test-secret"}
	protected(e, middleware.AuthJWT(cfg))

	rec := runRequest(t, e, http.MethodGet, "/protected", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	body := decodeMWError(t, rec)
	assert.Equal(t, "unauthorized", body.Error)
}

// Bearer形式じゃない => 401
func TestMiddleware_AuthJWT_Unauthorized_BadScheme(t *testing.T) {
	e := echo.New()
	cfg := config.Config{JWTSecret: "test-secret"}
	protected(e, middleware.AuthJWT(cfg))

	rec := runRequest(t, e, http.MethodGet, "/protected", "Token abc.def.ghi")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// 署名違い => 401
func TestMiddleware_AuthJWT_Unauthorized_BadSignature(t *testing.T) {
	e := echo.New()
	cfg := config.Config{JWTSecret: "correct-secret"}
	protected(e, middleware.AuthJWT(cfg))

	raw := mustMakeJWT(t, "wrong-secret", 1, middleware.RoleUser, jwt.SigningMethodHS256)

	rec := runRequest(t, e, http.MethodGet, "/protected", "Bearer "+raw)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// アルゴリズム違い（HS512）=> 401
func TestMiddleware_AuthJWT_Unauthorized_WrongAlg(t *testing.T) {
	e := echo.New()
	cfg := config.Config{JWTSecret: "test-secret"}
	protected(e, middleware.AuthJWT(cfg))

	raw := mustMakeJWT(t, cfg.JWTSecret, 1, middleware.RoleUser, jwt.SigningMethodHS512)

	rec := runRequest(t, e, http.MethodGet, "/protected", "Bearer "+raw)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// 知らないrole => 401
func TestMiddleware_AuthJWT_Unauthorized_UnknownRole(t *testing.T) {
	e := echo.New()
	cfg := config.Config{JWTSecret: "test-secret"}
	protected(e, middleware.AuthJWT(cfg))

	raw := mustMakeJWT(t, cfg.JWTSecret, 1, "ROOT", jwt.SigningMethodHS256)

	rec := runRequest(t, e, http.MethodGet, "/protected", "Bearer "+raw)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// 正常：ctxに値が入る（subは文字列でもよい）
func TestMiddleware_AuthJWT_Success_SetsContext(t *testing.T) {
	for name, sub := range map[string]any{"number": 123, "string": "123"} {
		t.Run(name, func(t *testing.T) {
			e := echo.New()
			cfg := config.Config{JWTSecret: "test-secret"}
			protected(e, middleware.AuthJWT(cfg))

			raw := mustMakeJWT(t, cfg.JWTSecret, sub, middleware.RoleUser, jwt.SigningMethodHS256)

			rec := runRequest(t, e, http.MethodGet, "/protected", "Bearer "+raw)
			assert.Equal(t, http.StatusOK, rec.Code)

			body := decodeMWOK(t, rec)
			assert.Equal(t, int64(123), body.UserID)
			assert.Equal(t, middleware.RoleUser, body.Role)
		})
	}
}

// =====================
// AdminRoleGuard
// =====================

// USER => 403
func TestMiddleware_AdminRoleGuard_Forbidden(t *testing.T) {
	e := echo.New()
	cfg := config.Config{JWTSecret: "test-secret"}
	protected(e, middleware.AuthJWT(cfg), middleware.AdminRoleGuard())

	raw := mustMakeJWT(t, cfg.JWTSecret, 1, middleware.RoleUser, jwt.SigningMethodHS256)

	rec := runRequest(t, e, http.MethodGet, "/protected", "Bearer "+raw)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decodeMWError(t, rec).Error)
}

// AuthJWT無しでGuardだけ => 401
func TestMiddleware_AdminRoleGuard_MissingContext(t *testing.T) {
	e := echo.New()
	protected(e, middleware.AdminRoleGuard())

	rec := runRequest(t, e, http.MethodGet, "/protected", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_AdminRoleGuard_Success(t *testing.T) {
	e := echo.New()
	cfg := config.Config{JWTSecret: "test-secret"}
	protected(e, middleware.AuthJWT(cfg), middleware.AdminRoleGuard())

	raw := mustMakeJWT(t, cfg.JWTSecret, 9, middleware.RoleAdmin, jwt.SigningMethodHS256)

	rec := runRequest(t, e, http.MethodGet, "/protected", "Bearer "+raw)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, middleware.RoleAdmin, decodeMWOK(t, rec).Role)
}

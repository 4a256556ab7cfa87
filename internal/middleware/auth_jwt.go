package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"shopcheckout/internal/config"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
)

const (
	CtxUserIDKey   = "user_id"   // int64
	CtxUserRoleKey = "user_role" // string
)

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

var errBadToken = errors.New("bad token")

// identity はトークンから取り出した利用者
type identity struct {
	UserID int64
	Role   string
}

// bearerAuth用のJWT検証ミドルウェア。
// トークンの発行はこのサービスの外（subとroleだけを信じる）。
func AuthJWT(cfg config.Config) echo.MiddlewareFunc {
	secret := []byte(cfg.JWTSecret)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}

			id, err := verify(raw, secret)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}

			c.Set(CtxUserIDKey, id.UserID)
			c.Set(CtxUserRoleKey, id.Role)

			//ログ用にrequest contextにも
			c.SetRequest(c.Request().WithContext(withUserID(c.Request().Context(), id.UserID)))

			return next(c)
		}
	}
}

// "Bearer <token>" からtokenを抜く
func bearerToken(authz string) (string, bool) {
	scheme, token, found := strings.Cut(authz, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// HS256だけ受け付ける。expはjwt側で検証される。
func verify(raw string, secret []byte) (identity, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return identity{}, errBadToken
	}

	userID, err := subject(claims["sub"])
	if err != nil || userID <= 0 {
		return identity{}, errBadToken
	}

	role, _ := claims["role"].(string)
	if role != RoleUser && role != RoleAdmin {
		return identity{}, errBadToken
	}
	return identity{UserID: userID, Role: role}, nil
}

// subは数値でも文字列でもよい
func subject(v interface{}) (int64, error) {
	switch t := v.(type) {
	case float64:
		return int64(t), nil
	case string:
		return strconv.ParseInt(t, 10, 64)
	default:
		return 0, errBadToken
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func errorJSON(msg string) errorResponse {
	return errorResponse{Error: msg}
}

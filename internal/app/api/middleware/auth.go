package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/pkg/logctx"
	"github.com/handbok-org/handbok/pkg/response"
)

const (
	ginUserEmailKey = "userEmail"
	tokenLeeway     = 30 * time.Second
)

var (
	ErrMissingToken = errors.New("missing access token")
	ErrTokenSubject = errors.New("token subject missing")
)

// Claims is the subset of a Supabase access token the API reads.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// TokenVerifier checks HS256 access tokens signed with the project JWT secret.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) (*TokenVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token verifier requires a jwt secret")
	}
	return &TokenVerifier{secret: []byte(secret)}, nil
}

func (v *TokenVerifier) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(tokenLeeway),
	)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrTokenSubject
	}
	return claims, nil
}

// bearerOrCookie prefers the Authorization header and falls back to the
// session cookie set by the web app.
func bearerOrCookie(c *gin.Context, cookie string) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	if cookie == "" {
		return ""
	}
	tok, err := c.Cookie(cookie)
	if err != nil {
		return ""
	}
	return tok
}

// Auth rejects requests without a valid user token and attaches the user to
// the gin and request contexts.
func Auth(v *TokenVerifier, cookie string, base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := bearerOrCookie(c, cookie)
		if tok == "" {
			response.Abort(c, response.APIResponseCodeUnauthorized, ErrMissingToken.Error())
			return
		}
		claims, err := v.Verify(tok)
		if err != nil {
			logctx.FromGin(c, base).Infow("auth_token_rejected", "err", err)
			response.Abort(c, response.APIResponseCodeUnauthorized, "invalid access token")
			return
		}

		c.Set(logctx.GinUserIDKey, claims.Subject)
		c.Set(ginUserEmailKey, claims.Email)
		c.Request = c.Request.WithContext(logctx.WithUserID(c.Request.Context(), claims.Subject))
		setLogger(c, logctx.FromGin(c, base).With("user_id", claims.Subject))
		c.Next()
	}
}

// CurrentUser returns the authenticated user id and email.
func CurrentUser(c *gin.Context) (id, email string) {
	return c.GetString(logctx.GinUserIDKey), c.GetString(ginUserEmailKey)
}

// ProfileGetter is the store slice Superadmin needs.
type ProfileGetter interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
}

// Superadmin must run after Auth.
func Superadmin(profiles ProfileGetter) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := CurrentUser(c)
		p, err := profiles.GetProfile(c.Request.Context(), userID)
		if err != nil || !p.IsSuperadmin {
			response.Abort(c, response.APIResponseCodeForbidden, "superadmin required")
			return
		}
		c.Next()
	}
}

// ServiceRole admits internal callers presenting the service-role key as a
// bearer token or apikey header.
func ServiceRole(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := c.GetHeader("apikey")
		if tok, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
			presented = strings.TrimSpace(tok)
		}
		if key == "" || presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
			response.Abort(c, response.APIResponseCodeUnauthorized, "service role key required")
			return
		}
		c.Next()
	}
}

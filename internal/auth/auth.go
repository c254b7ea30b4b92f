package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"roomchat/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// CookieName is the session cookie set on login.
const CookieName = "session"

var (
	ErrNoSession      = errors.New("no session")
	ErrInvalidSession = errors.New("invalid session")
)

type Claims struct {
	UserID uint `json:"uid"`
	jwt.RegisteredClaims
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func VerifyPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// GenerateSessionKey returns 32 random bytes, hex encoded.
func GenerateSessionKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// SignSessionToken binds a session key to a user in an HS256 token.
func SignSessionToken(userID uint, sessionKey, secret string, expiresAt time.Time) (string, error) {
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionKey,
			Subject:   strconv.FormatUint(uint64(userID), 10),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func ParseSessionToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.ID != "" {
		return claims, nil
	}
	return nil, ErrInvalidSession
}

// TokenFromRequest looks for a session token in the cookie, a bearer
// Authorization header, or the token query parameter, in that order.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	authz := r.Header.Get("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return r.URL.Query().Get("token")
}

// Sessions issues and resolves login sessions backed by the sessions table.
type Sessions struct {
	db     *gorm.DB
	secret string
	ttl    time.Duration
}

func NewSessions(db *gorm.DB, secret string, ttl time.Duration) *Sessions {
	return &Sessions{db: db, secret: secret, ttl: ttl}
}

func (s *Sessions) TTL() time.Duration { return s.ttl }

// Issue records a new session for user and returns its signed token.
func (s *Sessions) Issue(ctx context.Context, user models.User) (string, time.Time, error) {
	key, err := GenerateSessionKey()
	if err != nil {
		return "", time.Time{}, err
	}
	exp := time.Now().Add(s.ttl)
	rec := models.Session{UserID: user.ID, Token: key, ExpiresAt: exp}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return "", time.Time{}, err
	}
	tok, err := SignSessionToken(user.ID, key, s.secret, exp)
	if err != nil {
		return "", time.Time{}, err
	}
	return tok, exp, nil
}

// Resolve validates token and returns the active user it belongs to.
func (s *Sessions) Resolve(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrNoSession
	}
	claims, err := ParseSessionToken(token, s.secret)
	if err != nil {
		return nil, ErrInvalidSession
	}
	var rec models.Session
	err = s.db.WithContext(ctx).
		Where("token = ? AND user_id = ? AND revoked_at IS NULL AND expires_at > ?", claims.ID, claims.UserID, time.Now()).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, rec.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}
	if !user.Active {
		return nil, ErrInvalidSession
	}
	return &user, nil
}

// Revoke ends the session carried by token. Unknown tokens are ignored.
func (s *Sessions) Revoke(ctx context.Context, token string) error {
	claims, err := ParseSessionToken(token, s.secret)
	if err != nil {
		return nil
	}
	now := time.Now()
	return s.db.WithContext(ctx).Model(&models.Session{}).
		Where("token = ? AND revoked_at IS NULL", claims.ID).
		Update("revoked_at", &now).Error
}

// RevokeUserSessions ends every open session of userID. It runs on the given
// handle so callers can include it in a larger transaction.
func RevokeUserSessions(db *gorm.DB, userID uint) error {
	now := time.Now()
	return db.Model(&models.Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", &now).Error
}

// Middleware rejects requests without a valid session and stores the
// authenticated user in the gin context.
func Middleware(s *Sessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := s.Resolve(c.Request.Context(), TokenFromRequest(c.Request))
		if err != nil {
			if !errors.Is(err, ErrNoSession) && !errors.Is(err, ErrInvalidSession) {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session lookup failed"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "login required"})
			return
		}
		c.Set("userID", user.ID)
		c.Set("user", *user)
		c.Next()
	}
}

func GetUserID(c *gin.Context) uint {
	if v, ok := c.Get("userID"); ok {
		if id, ok2 := v.(uint); ok2 {
			return id
		}
	}
	return 0
}

// CurrentUser returns the user stored by Middleware.
func CurrentUser(c *gin.Context) (models.User, bool) {
	if v, ok := c.Get("user"); ok {
		u, ok2 := v.(models.User)
		return u, ok2
	}
	return models.User{}, false
}

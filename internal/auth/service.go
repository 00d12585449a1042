package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"chat-relay/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrMissingUserID = errors.New("user id is required")
)

// Identity is what a connection token asserts.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type Service struct {
	cfg *config.Config
	now func() time.Time
}

func NewService(cfg *config.Config) *Service {
	return &Service{
		cfg: cfg,
		now: time.Now,
	}
}

// IssueToken signs an HS256 token whose sub claim is userID.
func (s *Service) IssueToken(userID, username string) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, ErrMissingUserID
	}

	now := s.now()
	expiresAt := now.Add(s.cfg.JWT.ExpiresIn)
	claims := jwt.MapClaims{
		"sub":      userID,
		"username": strings.TrimSpace(username),
		"exp":      expiresAt.Unix(),
		"iat":      now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.cfg.JWT.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

func (s *Service) ValidateToken(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.cfg.JWT.Secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	username, _ := (*claims)["username"].(string)

	return &Identity{UserID: sub, Username: username}, nil
}

func (s *Service) AdminEnabled() bool {
	return s.cfg.Admin.PasswordHash != ""
}

// CheckAdmin verifies basic-auth credentials against the configured bcrypt
// hash. It always fails when the admin API is disabled.
func (s *Service) CheckAdmin(user, password string) bool {
	if !s.AdminEnabled() {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.Admin.User)) == 1
	passErr := bcrypt.CompareHashAndPassword([]byte(s.cfg.Admin.PasswordHash), []byte(password))
	return userOK && passErr == nil
}

package service

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
	ErrWeakToken    = errors.New("token does not meet requirements")
)

const (
	minTokenLength = 16
	SessionTTL     = 7 * 24 * time.Hour
)

// TokenAuth checks the control-surface token against a bcrypt hash and
// issues signed session values for browsers. An empty hash disables
// authentication. Session values are signed with a per-process key, so a
// restart signs everyone out.
type TokenAuth struct {
	hash []byte
	key  []byte
	now  func() time.Time
}

func NewTokenAuth(hash string) *TokenAuth {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(fmt.Sprintf("session key: %v", err))
	}
	return &TokenAuth{
		hash: []byte(strings.TrimSpace(hash)),
		key:  key,
		now:  time.Now,
	}
}

func (a *TokenAuth) Enabled() bool {
	return len(a.hash) > 0
}

func (a *TokenAuth) Verify(token string) error {
	if !a.Enabled() {
		return nil
	}
	if token == "" {
		return ErrInvalidToken
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(token)); err != nil {
		return ErrInvalidToken
	}
	return nil
}

// IssueSession returns a "timestamp:signature" value for the auth cookie.
func (a *TokenAuth) IssueSession() string {
	ts := strconv.FormatInt(a.now().Unix(), 10)
	return ts + ":" + a.sign(ts)
}

func (a *TokenAuth) ValidateSession(value string) error {
	if !a.Enabled() {
		return nil
	}
	ts, sig, ok := strings.Cut(value, ":")
	if !ok {
		return ErrInvalidToken
	}
	if !hmac.Equal([]byte(sig), []byte(a.sign(ts))) {
		return ErrInvalidToken
	}
	issued, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidToken
	}
	if a.now().After(time.Unix(issued, 0).Add(SessionTTL)) {
		return ErrExpiredToken
	}
	return nil
}

func (a *TokenAuth) sign(ts string) string {
	mac := hmac.New(sha256.New, a.key)
	mac.Write([]byte(ts))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// HashToken returns the bcrypt hash to put in AUTH_TOKEN_HASH.
func HashToken(token string) (string, error) {
	if err := validateTokenStrength(token); err != nil {
		return "", fmt.Errorf("%w: %w", ErrWeakToken, err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func validateTokenStrength(token string) error {
	if len(token) < minTokenLength {
		return fmt.Errorf("must be at least %d characters", minTokenLength)
	}
	if len(token) > 72 {
		return fmt.Errorf("must be at most 72 bytes")
	}
	if strings.ContainsAny(token, " \t\r\n") {
		return fmt.Errorf("must not contain whitespace")
	}
	return nil
}

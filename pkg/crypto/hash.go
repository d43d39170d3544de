// Package crypto хеширует и проверяет операторские API-токены.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Ошибки хеширования
var (
	ErrEmptyToken    = errors.New("token cannot be empty")
	ErrTokenMismatch = errors.New("token does not match hash")
	ErrInvalidHash   = errors.New("invalid token hash format")
	ErrTokenTooLong  = errors.New("token exceeds maximum length of 72 bytes")
)

// DefaultCost - стоимость bcrypt по умолчанию
const DefaultCost = 12

// MinAcceptedCost - минимальная стоимость хеша в API_TOKEN_HASH
const MinAcceptedCost = 10

// MaxTokenLength - ограничение bcrypt (72 байта)
const MaxTokenLength = 72

// HashToken хеширует токен bcrypt с DefaultCost
func HashToken(token string) (string, error) {
	return HashTokenWithCost(token, DefaultCost)
}

// HashTokenWithCost хеширует токен с указанной стоимостью
//
// cost приводится к [bcrypt.MinCost, bcrypt.MaxCost].
func HashTokenWithCost(token string, cost int) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	if len(token) > MaxTokenLength {
		return "", ErrTokenTooLong
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}

	h, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// VerifyToken сверяет токен с bcrypt-хешем
func VerifyToken(token, hash string) error {
	if token == "" {
		return ErrEmptyToken
	}
	if hash == "" {
		return ErrInvalidHash
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrTokenMismatch
		}
		return ErrInvalidHash
	}
	return nil
}

// GetHashCost извлекает cost из хеша
func GetHashCost(hash string) (int, error) {
	if hash == "" {
		return 0, ErrInvalidHash
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return 0, ErrInvalidHash
	}
	return cost, nil
}

// GenerateToken возвращает случайный hex-токен из n байт энтропии
func GenerateToken(n int) (string, error) {
	if n <= 0 || n*2 > MaxTokenLength {
		n = 32
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// ============================================================
// TokenVerifier
// ============================================================

// TokenVerifier проверяет токены против одного bcrypt-хеша
//
// bcrypt на каждый запрос стоит сотни миллисекунд, поэтому sha256 уже
// подтверждённых токенов кешируется и сравнивается за константное время.
type TokenVerifier struct {
	hash string

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]struct{}
}

// NewTokenVerifier создаёт верификатор; пустой hash запрещает все токены
func NewTokenVerifier(hash string) *TokenVerifier {
	return &TokenVerifier{
		hash:     hash,
		verified: make(map[[sha256.Size]byte]struct{}),
	}
}

// Verify возвращает true если токен соответствует хешу
func (v *TokenVerifier) Verify(token string) bool {
	if token == "" || v.hash == "" {
		return false
	}
	digest := sha256.Sum256([]byte(token))

	v.mu.RLock()
	for known := range v.verified {
		if subtle.ConstantTimeCompare(known[:], digest[:]) == 1 {
			v.mu.RUnlock()
			return true
		}
	}
	v.mu.RUnlock()

	if VerifyToken(token, v.hash) != nil {
		return false
	}

	v.mu.Lock()
	v.verified[digest] = struct{}{}
	v.mu.Unlock()
	return true
}

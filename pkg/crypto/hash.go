package crypto

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Ошибки хеширования
var (
	ErrEmptyPassword    = errors.New("password cannot be empty")
	ErrPasswordMismatch = errors.New("password does not match hash")
	ErrInvalidHash      = errors.New("invalid password hash format")
	ErrPasswordTooLong  = errors.New("password exceeds maximum length of 72 bytes")
)

// DefaultCost - стоимость хеширования по умолчанию
const DefaultCost = 12

// MaxPasswordLength - bcrypt учитывает только первые 72 байта
const MaxPasswordLength = 72

// HashPassword хеширует пароль bcrypt; cost вне [MinCost, MaxCost] обрезается
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if len(password) > MaxPasswordLength {
		return "", ErrPasswordTooLong
	}
	cost = max(bcrypt.MinCost, min(cost, bcrypt.MaxCost))

	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword проверяет соответствие пароля хешу
func VerifyPassword(password, hash string) error {
	if password == "" {
		return ErrEmptyPassword
	}
	if hash == "" {
		return ErrInvalidHash
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return ErrInvalidHash
	}
	return nil
}

// ValidateHash проверяет, что строка - корректный bcrypt хеш
func ValidateHash(hash string) error {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return ErrInvalidHash
	}
	return nil
}

// Credentials - пара пользователь/bcrypt-хеш для basic auth
type Credentials struct {
	user string
	hash string
}

// NewCredentials проверяет хеш и создает Credentials
func NewCredentials(user, hash string) (*Credentials, error) {
	if user == "" {
		return nil, errors.New("user cannot be empty")
	}
	if err := ValidateHash(hash); err != nil {
		return nil, err
	}
	return &Credentials{user: user, hash: hash}, nil
}

// Check сверяет логин и пароль
// Логин сравнивается за постоянное время, пароль - через bcrypt
func (c *Credentials) Check(user, password string) bool {
	userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(c.user)) == 1
	passErr := VerifyPassword(password, c.hash)
	return userMatch && passErr == nil
}

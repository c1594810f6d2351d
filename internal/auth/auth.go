package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Accounts looks staff accounts up by username.
type Accounts interface {
	GetByUsername(ctx context.Context, username string) (*Account, error)
}

type Service struct {
	accounts Accounts
	secret   []byte
	ttl      time.Duration
}

func NewService(accounts Accounts, secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Service{
		accounts: accounts,
		secret:   []byte(secret),
		ttl:      ttl,
	}
}

var ErrInvalidCredentials = errors.New("invalid credentials")

func (s *Service) Authenticate(ctx context.Context, username, password string) (*Account, string, error) {
	acct, err := s.accounts.GetByUsername(ctx, username)
	if err != nil {
		return nil, "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}
	token, err := s.issueToken(acct)
	if err != nil {
		return nil, "", err
	}
	return acct, token, nil
}

type Claims struct {
	AccountID  int64  `json:"aid"`
	Username   string `json:"username"`
	EmployeeID string `json:"employee_id"`
	Name       string `json:"name"`
	Role       Role   `json:"role"`
	jwt.RegisteredClaims
}

func (s *Service) issueToken(acct *Account) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		AccountID:  acct.ID,
		Username:   acct.Username,
		EmployeeID: acct.EmployeeID,
		Name:       acct.DisplayName,
		Role:       acct.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acct.EmployeeID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(s.secret)
}

func (s *Service) ParseToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

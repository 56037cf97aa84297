package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xtrntr/escrow/internal/db"
	"github.com/xtrntr/escrow/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned by Login for an unknown user or a wrong password
var ErrInvalidCredentials = errors.New("invalid credentials")

// Claims identifies the caller of an authenticated request
type Claims struct {
	UserID   int
	Username string
	Address  models.Address
}

type tokenClaims struct {
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
	Address  string `json:"address"`
	jwt.RegisteredClaims
}

// AuthService handles user authentication
type AuthService struct {
	Users  db.UserStore
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthService creates a new auth service signing tokens with secret
func NewAuthService(users db.UserStore, secret string, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthService{Users: users, secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Register creates a new user with hashed password, bound to an account address
func (s *AuthService) Register(ctx context.Context, username, password string, address models.Address) (*models.User, error) {
	// Validate input
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}
	if address.IsZero() {
		return nil, fmt.Errorf("address cannot be empty")
	}
	if len(username) > 50 {
		return nil, fmt.Errorf("username too long (max 50 characters)")
	}
	if len(password) > 72 {
		return nil, fmt.Errorf("password too long (max 72 characters)")
	}
	if len(address) > 128 {
		return nil, fmt.Errorf("address too long (max 128 characters)")
	}

	// Hash the password
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user, err := s.Users.CreateUser(ctx, username, string(hashedPassword), address)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Login verifies credentials and generates a JWT
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.Users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		UserID:   user.ID,
		Username: user.Username,
		Address:  string(user.Address),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	})

	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ParseToken validates a JWT and returns its claims
func (s *AuthService) ParseToken(tokenString string) (*Claims, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if claims.Address == "" {
		return nil, fmt.Errorf("token has no address")
	}
	return &Claims{
		UserID:   claims.UserID,
		Username: claims.Username,
		Address:  models.Address(claims.Address),
	}, nil
}

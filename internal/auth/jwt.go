// Package auth handles dashboard-user authentication: local JWT access and
// refresh tokens with bcrypt passwords, plus optional upstream OIDC sign-in.
package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/truenamepath/truename/internal/config"
	"github.com/truenamepath/truename/internal/db"
)

// TokenType distinguishes access tokens from refresh tokens
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// ErrInvalidCredentials covers bad usernames and bad passwords alike, so a
// login response never reveals which one was wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Claims represents the JWT claims carried by dashboard tokens
type Claims struct {
	jwt.RegisteredClaims
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Roles     []string  `json:"roles"`
	TokenType TokenType `json:"token_type"`
}

// User is the authenticated principal handed to handlers.
type User struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles"`
}

// Result is the outcome of validating a presented token.
type Result struct {
	Authenticated bool       `json:"authenticated"`
	User          *User      `json:"user,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Message       string     `json:"message,omitempty"`
}

// LoginResult contains the tokens issued by a successful login
type LoginResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	User         *User  `json:"user"`
}

// JWTProvider issues and validates local HS256 tokens.
type JWTProvider struct {
	database      *db.DB
	jwtSecret     []byte
	issuer        string
	accessExpiry  time.Duration
	refreshExpiry time.Duration
}

// NewJWTProvider creates a provider from configuration. The JWT secret must
// already have passed config validation (32+ characters).
func NewJWTProvider(database *db.DB, cfg *config.Config) (*JWTProvider, error) {
	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 characters")
	}
	return &JWTProvider{
		database:      database,
		jwtSecret:     []byte(cfg.JWTSecret),
		issuer:        cfg.Issuer,
		accessExpiry:  cfg.JWTAccessExpiry,
		refreshExpiry: cfg.JWTRefreshExpiry,
	}, nil
}

// Authenticate validates an access token and returns the authenticated user.
// A malformed, expired, or non-access token yields an unauthenticated Result,
// not an error; errors are reserved for backend failures.
func (p *JWTProvider) Authenticate(tokenString string) (*Result, error) {
	if tokenString == "" {
		return &Result{Authenticated: false, Message: "No token provided"}, nil
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return &Result{Authenticated: false, Message: "Token expired"}, nil
		}
		return &Result{Authenticated: false, Message: "Invalid token"}, nil
	}
	if !token.Valid {
		return &Result{Authenticated: false, Message: "Invalid token"}, nil
	}
	if claims.TokenType != TokenTypeAccess {
		return &Result{Authenticated: false, Message: "Invalid token type"}, nil
	}

	expiresAt := claims.ExpiresAt.Time
	return &Result{
		Authenticated: true,
		User: &User{
			ID:       claims.UserID,
			Username: claims.Username,
			Roles:    claims.Roles,
		},
		ExpiresAt: &expiresAt,
	}, nil
}

// Login authenticates a user by username and password and issues tokens.
func (p *JWTProvider) Login(username, password string) (*LoginResult, error) {
	user, err := p.database.GetUserByUsername(username)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if user == nil || user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return p.issueTokens(user)
}

// Refresh exchanges a valid refresh token for a new access token. The
// refresh token itself is returned unchanged.
func (p *JWTProvider) Refresh(refreshTokenString string) (*LoginResult, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(refreshTokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New("invalid refresh token")
	}
	if claims.TokenType != TokenTypeRefresh {
		return nil, errors.New("invalid token type")
	}

	// Fresh user data so role changes take effect on refresh.
	user, err := p.database.GetUserByID(claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if user == nil {
		return nil, errors.New("user not found")
	}

	accessToken, err := p.generateToken(user, TokenTypeAccess)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshTokenString,
		ExpiresIn:    int64(p.accessExpiry.Seconds()),
		User:         toAuthUser(user),
	}, nil
}

// HasRole reports whether a user carries a role. Admins implicitly hold
// every role.
func (p *JWTProvider) HasRole(userID, role string) (bool, error) {
	user, err := p.database.GetUserByID(userID)
	if err != nil {
		return false, err
	}
	if user == nil {
		return false, nil
	}
	if slices.Contains(user.Roles, "admin") {
		return true, nil
	}
	return slices.Contains(user.Roles, role), nil
}

// SignClaims signs a resolved claims payload as a compact HS256 JWT so
// clients that want a verifiable token get one alongside the JSON body.
func (p *JWTProvider) SignClaims(claims map[string]any) (string, error) {
	mapClaims := jwt.MapClaims{}
	for k, v := range claims {
		mapClaims[k] = v
	}
	if _, ok := mapClaims["exp"]; !ok {
		mapClaims["exp"] = time.Now().Add(p.accessExpiry).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, mapClaims)
	return token.SignedString(p.jwtSecret)
}

// issueTokens mints an access/refresh pair for the user.
func (p *JWTProvider) issueTokens(user *db.User) (*LoginResult, error) {
	accessToken, err := p.generateToken(user, TokenTypeAccess)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	refreshToken, err := p.generateToken(user, TokenTypeRefresh)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(p.accessExpiry.Seconds()),
		User:         toAuthUser(user),
	}, nil
}

// generateToken creates a new JWT token for the user
func (p *JWTProvider) generateToken(user *db.User, tokenType TokenType) (string, error) {
	var expiry time.Duration
	if tokenType == TokenTypeAccess {
		expiry = p.accessExpiry
	} else {
		expiry = p.refreshExpiry
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    p.issuer,
			Subject:   user.ID,
		},
		UserID:    user.ID,
		Username:  user.Username,
		Roles:     user.Roles,
		TokenType: tokenType,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.jwtSecret)
}

func toAuthUser(user *db.User) *User {
	return &User{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		Roles:    user.Roles,
	}
}

// HashPassword creates a bcrypt hash of the password
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Package auth issues and validates the JWT tokens that front the
// trading API. Tokens are bound to clients: credentials are checked
// against the registered client secrets, and a token is only issued for
// a client that owns at least one trading account.
package auth

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/munal98/fintra-stock-trading-sub001/internal/types"
	"github.com/munal98/fintra-stock-trading-sub001/pkg/response"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials = errors.New("invalid client credentials")
	ErrUnknownClient      = errors.New("client owns no accounts")
	ErrTokenGeneration    = errors.New("failed to generate token")
)

// Scopes granted to every trading client.
const (
	ScopeOrdersWrite   = "orders:write"
	ScopeOrdersRead    = "orders:read"
	ScopePortfolioRead = "portfolio:read"
)

var tradingScopes = []string{ScopeOrdersWrite, ScopeOrdersRead, ScopePortfolioRead}

// Development credentials, registered by the server and the simulation.
var (
	TestClientID  = "test-client"
	TestAPISecret = "test-api-secret"
)

// Credentials identifies a client requesting a token.
type Credentials struct {
	ClientID  string `json:"client_id"`
	APISecret string `json:"api_secret"`
}

// TokenResponse carries the signed JWT and its expiration.
type TokenResponse struct {
	Token      string    `json:"jwt_token"`
	Expiration time.Time `json:"expiration"`
}

// Claims is the token payload. ClientID matches the client_id column on
// the accounts the token may act for.
type Claims struct {
	jwt.RegisteredClaims
	ClientID string   `json:"client_id"`
	Scopes   []string `json:"scopes"`
}

// Service issues and validates tokens.
type Service struct {
	db        *gorm.DB
	jwtSecret []byte
	tokenTTL  time.Duration
	secrets   map[string]string // clientID -> API secret
}

func NewService(db *gorm.DB, jwtSecret []byte) *Service {
	return &Service{
		db:        db,
		jwtSecret: jwtSecret,
		tokenTTL:  24 * time.Hour,
		secrets:   make(map[string]string),
	}
}

// RegisterClient registers a client's API secret for token issuance.
func (s *Service) RegisterClient(clientID, apiSecret string) {
	s.secrets[clientID] = apiSecret
}

// GenerateToken verifies the credentials, confirms the client owns at
// least one account, and returns a signed token carrying the client id
// and the trading scopes.
func (s *Service) GenerateToken(creds Credentials) (*TokenResponse, error) {
	secret, ok := s.secrets[creds.ClientID]
	if !ok || subtle.ConstantTimeCompare([]byte(secret), []byte(creds.APISecret)) != 1 {
		return nil, ErrInvalidCredentials
	}

	var accounts int64
	err := s.db.Model(&types.Account{}).
		Where("client_id = ?", creds.ClientID).
		Count(&accounts).Error
	if err != nil {
		return nil, err
	}
	if accounts == 0 {
		return nil, ErrUnknownClient
	}

	now := time.Now()
	expiration := now.Add(s.tokenTTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   creds.ClientID,
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
		ClientID: creds.ClientID,
		Scopes:   tradingScopes,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, ErrTokenGeneration
	}

	return &TokenResponse{
		Token:      tokenString,
		Expiration: expiration,
	}, nil
}

// ValidateToken verifies the token signature and expiration and returns
// its claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// GinHandlers contains HTTP handlers for authentication endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GenerateTokenHandler handles POST requests for token issuance.
func (h *GinHandlers) GenerateTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds Credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		token, err := h.service.GenerateToken(creds)
		if err == ErrInvalidCredentials || err == ErrUnknownClient {
			response.Unauthorized(c, err.Error())
			return
		}
		response.Handle(c, token, err)
	}
}

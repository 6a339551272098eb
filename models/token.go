package models

import "github.com/golang-jwt/jwt/v5"

// TokenClaims is the payload of an access token. Only UserID is required by the
// gateway; the identity service that issues tokens owns the rest.
type TokenClaims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

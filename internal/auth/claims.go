package auth

import "github.com/golang-jwt/jwt/v5"

// Identity is the profile carried by an internal access token.
// It comes from the upstream provider's userinfo response and never
// includes upstream secrets.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// Claims are the only supported JWT claims shape for this service.
// Internal access tokens are stateless: verification never touches a store.
type Claims struct {
	jwt.RegisteredClaims

	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

func (c Claims) Identity() Identity {
	return Identity{UserID: c.UserID, Email: c.Email, Name: c.Name}
}

package jwttoken

import (
	authmw "evault/internal/platform/middleware"
)

// JWTServiceAdapter bridges JWTService to the middleware's validator
// interface so the HTTP layer never depends on concrete claim types.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*authmw.JWTClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return &authmw.JWTClaims{ParentIdentity: claims.ParentIdentity}, nil
}

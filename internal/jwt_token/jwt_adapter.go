package jwttoken

import (
	"carelink/internal/platform/middleware"
)

// JWTServiceAdapter bridges the token service to the middleware's validator
// interface so the middleware package stays free of jwt library imports.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*middleware.JWTClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return &middleware.JWTClaims{
		Actor: claims.Actor,
		Role:  claims.Role,
	}, nil
}

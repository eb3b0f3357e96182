package authz

import "errors"

var (
	ErrNotFound     = errors.New("authz: not found")
	ErrConflict     = errors.New("authz: resource conflict")
	ErrInvalidInput = errors.New("authz: invalid input")
	ErrImmutable    = errors.New("authz: immutable role")
	ErrUnauthorized = errors.New("authz: unauthorized")

	// ErrIntegrity marks a dangling reference (missing user, role or
	// region). It is fatal: callers must propagate it, never retry or
	// translate it into a Denied decision.
	ErrIntegrity = errors.New("authz: integrity violation")
)

// ErrInvalidToken indicates a bearer token failed validation.
var ErrInvalidToken = errors.New("authz: invalid token")

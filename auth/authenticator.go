// Copyright 2025-2026 The Fixly Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Blessan-Corley/Fixly-sub007/common"
	"github.com/apex/log"
	"github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated principal behind one connection. Derived once
// from the validated credential and immutable for the connection's lifetime.
type Identity struct {
	// UserID is the user's unique ID
	UserID string `json:"userId" validate:"required"`
	// Name is the user's display name
	Name string `json:"name"`
	// Role is the user's role within the marketplace
	Role string `json:"role" validate:"required"`
}

// Known marketplace roles
const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
	RoleProvider  = "provider"
	RoleRequester = "requester"
)

// Credential validation failure reasons
const (
	ReasonExpired     = "Expired"
	ReasonMalformed   = "Malformed"
	ReasonAuthTimeout = "AuthTimeout"
	ReasonInvalid     = "Invalid"
)

// ValidationError credential validation failure with a stable reason code.
// The reason lets a client decide whether retrying with a refreshed
// credential makes sense.
type ValidationError struct {
	Reason string
	Cause  error
}

// Error implement error
func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("credential rejected [%s]: %s", e.Reason, e.Cause)
	}
	return fmt.Sprintf("credential rejected [%s]", e.Reason)
}

// Unwrap expose the underlying cause
func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// FailureReason fetch the stable reason code from a validation failure
func FailureReason(err error) string {
	if validationErr, ok := err.(*ValidationError); ok {
		return validationErr.Reason
	}
	return ReasonInvalid
}

// TokenAuthenticator validates the signed bearer credential presented during
// the connection handshake
type TokenAuthenticator interface {
	Authenticate(ctxt context.Context, token string) (Identity, error)
}

// jwtAuthenticatorImpl implements TokenAuthenticator against HMAC signed JWTs
type jwtAuthenticatorImpl struct {
	common.Component
	secret          []byte
	validateTimeout time.Duration
}

// GetJWTAuthenticator define a new TokenAuthenticator validating HMAC signed
// JWTs against a shared secret. Validation is bounded by validateTimeout so a
// stalled check fails the handshake instead of hanging it.
func GetJWTAuthenticator(secret string, validateTimeout time.Duration) (TokenAuthenticator, error) {
	if secret == "" {
		return nil, fmt.Errorf("credential validation secret is empty")
	}
	logTags := log.Fields{
		"module": "auth", "component": "jwt-authenticator",
	}
	return &jwtAuthenticatorImpl{
		Component:       common.Component{LogTags: logTags},
		secret:          []byte(secret),
		validateTimeout: validateTimeout,
	}, nil
}

type parseOutcome struct {
	identity Identity
	err      error
}

// Authenticate validate one credential. Returns the attached Identity, or a
// ValidationError carrying one of the failure reasons. No retries are
// performed, a failed connection is simply rejected.
func (a *jwtAuthenticatorImpl) Authenticate(ctxt context.Context, token string) (Identity, error) {
	if err := ctxt.Err(); err != nil {
		return Identity{}, &ValidationError{Reason: ReasonAuthTimeout, Cause: err}
	}

	validateCtxt, cancel := context.WithTimeout(ctxt, a.validateTimeout)
	defer cancel()

	resultChan := make(chan parseOutcome, 1)
	go func() {
		identity, err := a.parseToken(token)
		resultChan <- parseOutcome{identity: identity, err: err}
	}()

	select {
	case <-validateCtxt.Done():
		log.WithFields(a.LogTags).Warn("Credential validation timed out")
		return Identity{}, &ValidationError{
			Reason: ReasonAuthTimeout, Cause: validateCtxt.Err(),
		}
	case outcome := <-resultChan:
		if outcome.err != nil {
			log.WithError(outcome.err).WithFields(a.LogTags).Info("Rejected credential")
		}
		return outcome.identity, outcome.err
	}
}

// parseToken verify signature and expiry, then read the identity claims
func (a *jwtAuthenticatorImpl) parseToken(token string) (Identity, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return Identity{}, &ValidationError{Reason: classifyJWTError(err), Cause: err}
	}

	userID, _ := claims["sub"].(string)
	if userID == "" {
		return Identity{}, &ValidationError{
			Reason: ReasonInvalid, Cause: fmt.Errorf("token carries no subject"),
		}
	}
	name, _ := claims["name"].(string)
	role, _ := claims["role"].(string)
	if role == "" {
		role = RoleRequester
	}
	return Identity{UserID: userID, Name: name, Role: role}, nil
}

func classifyJWTError(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ReasonMalformed
	default:
		return ReasonInvalid
	}
}

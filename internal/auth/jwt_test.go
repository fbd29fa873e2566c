/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndParse(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Issue(secret, "ops", []string{ScopeMaintenance}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := Parse(secret, token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "ops" || !claims.HasScope(ScopeMaintenance) {
		t.Fatalf("claims = %+v", claims)
	}
	if claims.HasScope("admin") {
		t.Fatal("unexpected scope admin")
	}
}

func TestIssueRequiresKey(t *testing.T) {
	if _, err := Issue(nil, "ops", nil, time.Hour); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("Issue without key error = %v, want ErrMissingKey", err)
	}
}

func TestParseRejects(t *testing.T) {
	secret := []byte("test-secret")

	expired, err := Issue(secret, "ops", []string{ScopeMaintenance}, -time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	otherKey, err := Issue([]byte("other-secret"), "ops", []string{ScopeMaintenance}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	wrongAlg, err := jwt.NewWithClaims(jwt.SigningMethodHS384, Claims{
		Scopes: []string{ScopeMaintenance},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(secret)
	if err != nil {
		t.Fatalf("sign HS384: %v", err)
	}
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Scopes: []string{ScopeMaintenance},
	}).SignedString(secret)
	if err != nil {
		t.Fatalf("sign without exp: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"expired", expired},
		{"other key", otherKey},
		{"wrong algorithm", wrongAlg},
		{"no expiry", noExpiry},
		{"garbage", "not-a-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(secret, tt.token); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

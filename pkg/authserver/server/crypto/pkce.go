// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"crypto/subtle"
	"errors"
	"regexp"

	"golang.org/x/oauth2"
)

const (
	// PKCEChallengeMethodS256 is the PKCE challenge method using SHA-256 (RFC 7636).
	PKCEChallengeMethodS256 = "S256"

	// PKCEChallengeMethodPlain compares the verifier with the challenge directly.
	PKCEChallengeMethodPlain = "plain"
)

// RFC 7636 Section 4.1: 43-128 characters from the unreserved set.
var pkceValuePattern = regexp.MustCompile(`^[A-Za-z0-9\-._~]{43,128}$`)

var (
	// ErrPKCEMismatch is returned when the verifier does not match the stored challenge.
	ErrPKCEMismatch = errors.New("code_verifier does not match code_challenge")

	// ErrPKCEMalformed is returned when a verifier or challenge has an invalid format.
	ErrPKCEMalformed = errors.New("malformed PKCE value")

	// ErrPKCEUnsupportedMethod is returned for methods other than S256 and plain.
	ErrPKCEUnsupportedMethod = errors.New("unsupported code_challenge_method")
)

// GeneratePKCEVerifier generates a random code_verifier per RFC 7636 Section 4.1.
func GeneratePKCEVerifier() string {
	return oauth2.GenerateVerifier()
}

// ComputePKCEChallenge computes the S256 code_challenge for a code_verifier.
func ComputePKCEChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// NormalizePKCEMethod returns the effective challenge method. An empty method
// means plain per RFC 7636 Section 4.3.
func NormalizePKCEMethod(method string) (string, error) {
	switch method {
	case "", PKCEChallengeMethodPlain:
		return PKCEChallengeMethodPlain, nil
	case PKCEChallengeMethodS256:
		return PKCEChallengeMethodS256, nil
	default:
		return "", ErrPKCEUnsupportedMethod
	}
}

// ValidatePKCEChallenge checks the format of a code_challenge.
func ValidatePKCEChallenge(challenge string) error {
	if !pkceValuePattern.MatchString(challenge) {
		return ErrPKCEMalformed
	}
	return nil
}

// VerifyPKCE checks a code_verifier against a stored challenge.
func VerifyPKCE(method, challenge, verifier string) error {
	method, err := NormalizePKCEMethod(method)
	if err != nil {
		return err
	}
	if !pkceValuePattern.MatchString(verifier) {
		return ErrPKCEMalformed
	}

	expected := verifier
	if method == PKCEChallengeMethodS256 {
		expected = ComputePKCEChallenge(verifier)
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(challenge)) != 1 {
		return ErrPKCEMismatch
	}
	return nil
}

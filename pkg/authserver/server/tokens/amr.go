// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package tokens

import "slices"

// Authentication factors reported by the login layer.
const (
	FactorPassword = "password"
	FactorOTP      = "otp"
	FactorTOTP     = "totp"
	FactorEmail    = "email"
	FactorSMS      = "sms"
	FactorWebAuthn = "webauthn"
)

// AMR values from RFC 8176.
const (
	AMRPassword = "pwd"
	AMROTP      = "otp"
	AMRSMS      = "sms"
	AMRHardware = "hwk"
	AMRMFA      = "mfa"
)

var factorAMR = map[string]string{
	FactorPassword: AMRPassword,
	FactorOTP:      AMROTP,
	FactorTOTP:     AMROTP,
	FactorEmail:    AMROTP,
	FactorSMS:      AMRSMS,
	FactorWebAuthn: AMRHardware,
}

// ComputeAMR maps the factors used to authenticate to AMR values, in order
// and without duplicates, adding "mfa" when more than one distinct factor was
// used. Unknown factors are ignored; nil is returned when none is known.
func ComputeAMR(factors []string) []string {
	var amr []string
	var used []string
	for _, f := range factors {
		value, ok := factorAMR[f]
		if !ok {
			continue
		}
		if !slices.Contains(used, f) {
			used = append(used, f)
		}
		if !slices.Contains(amr, value) {
			amr = append(amr, value)
		}
	}
	if len(used) > 1 {
		amr = append(amr, AMRMFA)
	}
	return amr
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import "errors"

func validateClient(client *Client) error {
	if client == nil {
		return errors.New("client cannot be nil")
	}
	if client.ID == "" {
		return errors.New("client ID cannot be empty")
	}
	return nil
}

func validateToken(token *Token) error {
	if token == nil {
		return errors.New("token cannot be nil")
	}
	if token.ID == "" {
		return errors.New("token ID cannot be empty")
	}
	if token.AccessSignature == "" {
		return errors.New("token access signature cannot be empty")
	}
	return nil
}

func validateConsent(consent *Consent) error {
	if consent == nil {
		return errors.New("consent cannot be nil")
	}
	if consent.Subject == "" || consent.ClientID == "" {
		return errors.New("consent subject and client ID cannot be empty")
	}
	return nil
}

func validateSubject(subject *Subject) error {
	if subject == nil {
		return errors.New("subject cannot be nil")
	}
	if subject.ID == "" {
		return errors.New("subject ID cannot be empty")
	}
	if subject.Username == "" {
		return errors.New("subject username cannot be empty")
	}
	return nil
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import "net/url"

// Redis key types. Every key has the form "<prefix><type>:<id>".
const (
	KeyTypeClient        = "client"
	KeyTypeClientIndex   = "clients"
	KeyTypeCode          = "code"
	KeyTypeCodeConsumed  = "code:consumed"
	KeyTypeToken         = "token"
	KeyTypeTokenRevoked  = "token:revoked"
	KeyTypeAccessIndex   = "token:access"
	KeyTypeRefreshIndex  = "token:refresh"
	KeyTypeConsent       = "consent"
	KeyTypeSubject       = "subject"
	KeyTypeUsername      = "username"
	KeyTypePending       = "pending"
	KeyTypeSession       = "session"
	KeyTypeReplay        = "replay"
	KeyTypeEventsChannel = "events"
)

// Secondary index set types used for cascades.
const (
	SetTypeClientCodes         = "client:codes"
	SetTypeClientTokens        = "client:tokens"
	SetTypeClientConsents      = "client:consents"
	SetTypeSubjectConsents     = "subject:consents"
	SetTypeCodeTokens          = "code:tokens"
	SetTypeSubjectClientTokens = "subject-client:tokens"
)

// redisKey builds a namespaced key for a record.
func redisKey(prefix, keyType, id string) string {
	return prefix + keyType + ":" + id
}

// redisSetKey builds a namespaced key for a secondary index set.
func redisSetKey(prefix, setType, id string) string {
	return prefix + "idx:" + setType + ":" + id
}

// consentID identifies a consent record in Redis. Both parts are escaped so
// that a colon inside a subject cannot collide with another pair.
func consentID(subject, clientID string) string {
	return url.QueryEscape(subject) + ":" + url.QueryEscape(clientID)
}

// RedisEventsChannel returns the pub/sub channel used for events under prefix.
func RedisEventsChannel(prefix string) string {
	return prefix + KeyTypeEventsChannel
}

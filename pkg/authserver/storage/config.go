// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import "time"

// Type defines the type of storage backend.
type Type string

const (
	// TypeMemory uses in-memory storage (default).
	TypeMemory Type = "memory"

	// TypeRedis uses Redis, standalone or behind Sentinel.
	TypeRedis Type = "redis"

	// TypeSQLite uses a local SQLite database file.
	TypeSQLite Type = "sqlite"
)

const (
	// DefaultCleanupInterval is how often the memory backend sweeps expired entries.
	DefaultCleanupInterval = 5 * time.Minute

	// DefaultPendingAuthorizationTTL bounds how long a parked authorization request lives.
	DefaultPendingAuthorizationTTL = 10 * time.Minute

	// DefaultConsumedCodeRetention is how long consumed codes are kept after expiry
	// so that a late replay is still detected and its tokens revoked.
	DefaultConsumedCodeRetention = 30 * time.Minute
)

// RunConfig is the serializable storage configuration.
type RunConfig struct {
	// Type specifies the storage backend type. Defaults to "memory".
	Type string `json:"type,omitempty" yaml:"type,omitempty"`

	// RedisConfig is required when Type is "redis".
	RedisConfig *RedisRunConfig `json:"redis,omitempty" yaml:"redis,omitempty"`

	// SQLiteConfig is required when Type is "sqlite".
	SQLiteConfig *SQLiteRunConfig `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`
}

// RedisRunConfig is the serializable Redis configuration. Credentials are
// referenced by environment variable name and resolved at startup.
type RedisRunConfig struct {
	// Addr is the address of a standalone Redis server. Mutually exclusive with SentinelConfig.
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`

	SentinelConfig *SentinelRunConfig `json:"sentinel,omitempty" yaml:"sentinel,omitempty"`
	ACLUserConfig  *ACLUserRunConfig  `json:"aclUser,omitempty" yaml:"aclUser,omitempty"`

	// KeyPrefix namespaces every key, e.g. "thv:idp:prod:".
	KeyPrefix string `json:"keyPrefix,omitempty" yaml:"keyPrefix,omitempty"`

	DialTimeout  string `json:"dialTimeout,omitempty" yaml:"dialTimeout,omitempty"`
	ReadTimeout  string `json:"readTimeout,omitempty" yaml:"readTimeout,omitempty"`
	WriteTimeout string `json:"writeTimeout,omitempty" yaml:"writeTimeout,omitempty"`
}

// SentinelRunConfig is the serializable Sentinel configuration.
type SentinelRunConfig struct {
	MasterName    string   `json:"masterName" yaml:"masterName"`
	SentinelAddrs []string `json:"sentinelAddrs" yaml:"sentinelAddrs"`
	DB            int      `json:"db,omitempty" yaml:"db,omitempty"`
}

// ACLUserRunConfig names the environment variables holding Redis ACL credentials.
type ACLUserRunConfig struct {
	UsernameEnvVar string `json:"usernameEnvVar" yaml:"usernameEnvVar"`
	PasswordEnvVar string `json:"passwordEnvVar" yaml:"passwordEnvVar"`
}

// SQLiteRunConfig is the serializable SQLite configuration.
type SQLiteRunConfig struct {
	// Path is the database file. It is created when missing.
	Path string `json:"path" yaml:"path"`
}

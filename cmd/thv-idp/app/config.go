// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/toolhive-idp/pkg/authserver"
	"github.com/stacklok/toolhive-idp/pkg/logger"
)

// defaultConfigFile is the configuration looked up in the XDG config
// directories when --config is not given.
const defaultConfigFile = "thv-idp/config.yaml"

// findDefaultConfig locates defaultConfigFile. Tests replace it.
var findDefaultConfig = func() (string, error) {
	return xdg.SearchConfigFile(defaultConfigFile)
}

// loadRunConfig reads the YAML configuration named by --config, falling back
// to defaultConfigFile. The TOOLHIVE_IDP_ISSUER environment variable
// overrides the issuer.
func loadRunConfig() (*authserver.RunConfig, error) {
	path := viper.GetString("config")
	if path == "" {
		found, err := findDefaultConfig()
		if err != nil {
			logger.Debugw("no default configuration found", "error", err)
			return nil, fmt.Errorf("no configuration file specified, use --config or create %s in %s",
				defaultConfigFile, xdg.ConfigHome)
		}
		path = found
	}

	logger.Debugw("loading configuration", "path", path)
	data, err := os.ReadFile(path) // #nosec G304 - path is provided by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}

	cfg, err := parseRunConfig(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if issuer := viper.GetString("issuer"); issuer != "" {
		cfg.Issuer = issuer
	}
	return cfg, nil
}

// parseRunConfig decodes YAML strictly; unknown keys are rejected.
func parseRunConfig(data []byte) (*authserver.RunConfig, error) {
	var cfg authserver.RunConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("configuration is empty")
		}
		return nil, err
	}
	return &cfg, nil
}

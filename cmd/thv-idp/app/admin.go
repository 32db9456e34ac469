// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/stacklok/toolhive-idp/pkg/authserver"
	"github.com/stacklok/toolhive-idp/pkg/authserver/events"
	"github.com/stacklok/toolhive-idp/pkg/authserver/runner"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
	"github.com/stacklok/toolhive-idp/pkg/versions"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Long: `Validate the configuration given by --config without starting the server.

Key files, HMAC secrets and client secrets are loaded and every configured
client is checked. The storage backend is not contacted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadRunConfig()
			if err != nil {
				return err
			}
			srv, err := newOfflineServer(cmd, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = srv.Close() }()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration is valid\n")
			fmt.Fprintf(out, "  Issuer: %s\n", cfg.Issuer)
			fmt.Fprintf(out, "  Storage: %s\n", storageType(cfg.Storage))
			fmt.Fprintf(out, "  Clients: %d\n", len(cfg.Clients))
			fmt.Fprintf(out, "  Subjects: %d\n", len(cfg.Subjects))
			fmt.Fprintf(out, "  Dynamic registration: %t\n", cfg.Registration != nil)
			if len(cfg.Clients) == 0 {
				return nil
			}
			fmt.Fprintln(out)
			return renderClientTable(out, cfg.Clients)
		},
	}
}

func newVersionCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the version of thv-idp",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			fmt.Fprintf(out, "thv-idp %s\n", info.Version)
			fmt.Fprintf(out, "Commit: %s\n", info.Commit)
			fmt.Fprintf(out, "Built: %s\n", info.BuildDate)
			fmt.Fprintf(out, "Go version: %s\n", info.GoVersion)
			fmt.Fprintf(out, "Platform: %s\n", info.Platform)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version information as JSON")
	return cmd
}

func newMintRegistrationTokenCmd() *cobra.Command {
	var (
		clientID string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "mint-registration-token",
		Short: "Mint a token for the dynamic client registration endpoint",
		Long: `Mint a signed registration assertion accepted as the bearer token of the
registration endpoint.

The assertion is signed with the configured signing keys, so the configuration
must name key files shared with the running server. With --client-id the
client registered with the token receives that id.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadRunConfig()
			if err != nil {
				return err
			}
			if cfg.SigningKeyConfig == nil || cfg.SigningKeyConfig.KeyDir == "" {
				return errors.New("minting registration tokens requires signing key files in the configuration")
			}
			if ttl <= 0 {
				return errors.New("--ttl must be positive")
			}
			srv, err := newOfflineServer(cmd, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = srv.Close() }()

			token, err := srv.MintRegistrationToken(cmd.Context(), clientID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&clientID, "client-id", "", "Client id to assign to the registered client")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Lifetime of the token")
	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Print the bcrypt hash of a password read from stdin",
		Long: `Read a password from the first line of standard input and print its bcrypt
hash, for use as the passwordHash of a configured subject.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			scanner := bufio.NewScanner(cmd.InOrStdin())
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}
				return errors.New("no password given on standard input")
			}
			password := strings.TrimRight(scanner.Text(), "\r")
			if password == "" {
				return errors.New("password must not be empty")
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
			if err != nil {
				return fmt.Errorf("failed to hash password: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}

// newOfflineServer builds the server from cfg on in-memory storage with
// event publishing disabled. It exercises the full configuration without
// touching the configured backend.
func newOfflineServer(cmd *cobra.Command, cfg *authserver.RunConfig) (authserver.Server, error) {
	resolved, err := runner.BuildConfig(cfg)
	if err != nil {
		return nil, err
	}
	resolved.Publisher = events.NoopPublisher{}
	stor := storage.NewMemoryStorage()
	srv, err := authserver.New(cmd.Context(), *resolved, stor)
	if err != nil {
		_ = stor.Close()
		return nil, err
	}
	return srv, nil
}

// renderClientTable lists the statically configured clients.
func renderClientTable(w io.Writer, clients []authserver.ClientRunConfig) error {
	headers := []string{"Client ID", "Type", "Grant Types", "Redirect URIs", "Trusted"}
	table := tablewriter.NewWriter(w)
	table.Options(
		tablewriter.WithHeader(headers),
		tablewriter.WithRendition(
			tw.Rendition{
				Borders: tw.Border{
					Left:   tw.State(1),
					Top:    tw.State(1),
					Right:  tw.State(1),
					Bottom: tw.State(1),
				},
			},
		),
		tablewriter.WithAlignment(tw.MakeAlign(len(headers), tw.AlignLeft)),
	)

	for _, c := range clients {
		kind := "confidential"
		if c.Public {
			kind = "public"
		}
		grants := "(default)"
		if len(c.GrantTypes) > 0 {
			grants = strings.Join(c.GrantTypes, ", ")
		}
		if err := table.Append([]string{
			c.ID,
			kind,
			grants,
			strconv.Itoa(len(c.RedirectURIs)),
			strconv.FormatBool(c.Trusted),
		}); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
	}

	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}
	return nil
}

func storageType(cfg *storage.RunConfig) string {
	if cfg == nil || cfg.Type == "" {
		return string(storage.TypeMemory)
	}
	return cfg.Type
}

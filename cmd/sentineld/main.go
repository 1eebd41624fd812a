// Sentineld is a governed MCP tool gateway.
//
// It multiplexes tool calls from an authenticated stdio session onto HTTP
// and stdio MCP backends, enforcing kill switches, rate limits, RBAC,
// schema validation, and per-backend circuit breakers on every call, with
// a durable audit trail and a health/metrics HTTP surface.
//
// Usage:
//
//	# Start the gateway
//	sentineld --config sentineld.toml
//
//	# Mint a session token (requires the configured JWT secret env var)
//	sentineld token --subject alice --role admin
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/sentineld/internal/auth"
	"github.com/fyrsmithlabs/sentineld/internal/config"
)

// Version information (set via ldflags during build).
var (
	version   = "0.1.0"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	cfgPath      string
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:          "sentineld",
	Short:        "Governed MCP tool gateway",
	Long:         "sentineld sits between MCP clients and upstream tool servers,\nenforcing authentication, authorization, rate limits, kill switches,\nand circuit breakers on every tool call.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sentineld by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

// validateCmd parses and validates the config file without starting the
// gateway, for CI and pre-deploy checks.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		fmt.Printf("%s: OK (%d backends, %d roles)\n", cfgPath, len(cfg.Backends), len(cfg.RBAC.Roles))
		return nil
	},
}

var (
	tokenSubject string
	tokenRole    string
	tokenTTL     time.Duration
)

// tokenCmd mints a session token signed with the configured secret, for
// operators wiring up clients.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a session JWT",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		secret, err := cfg.Auth.ResolveJWTSecret()
		if err != nil {
			return err
		}
		if secret == "" {
			return fmt.Errorf("auth.jwt_secret_env is not configured in %s", cfgPath)
		}
		token, err := auth.NewToken(tokenSubject, tokenRole, []byte(secret),
			cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "sentineld.toml", "path to the config file")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "override log level (debug, info, warn, error)")

	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "token subject")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "user", "token role")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("subject")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Package main provides the groundwork CLI.
//
// groundwork answers questions in persistent chat sessions, calling the
// retrieve_knowledge_base tool when an answer depends on reference material.
//
// # Basic Usage
//
// Run one turn of a session:
//
//	groundwork chat --session s-1 --user u-1 "What is the first-line fluid for sepsis?"
//
// Show the recent turns of a session:
//
//	groundwork history --session s-1
//
// Embed a chunk file into the knowledge base:
//
//	groundwork ingest --file chunks.json
//
// # Environment Variables
//
//   - GROUNDWORK_CONFIG: Path to configuration file (default: groundwork.yaml)
//   - OPENAI_API_KEY, ANTHROPIC_API_KEY, GOOGLE_API_KEY, AZURE_OPENAI_API_KEY: backend keys
//   - AWS_REGION: Bedrock and S3 region
//   - LOG_LEVEL: debug, info, warn or error
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigName = "groundwork.yaml"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	var configPath string
	rootCmd := &cobra.Command{
		Use:   "groundwork",
		Short: "groundwork - grounded conversational agent",
		Long: `groundwork runs a reasoning loop over persistent chat sessions and answers
from a retrieval-backed knowledge base.

Supported model backends: OpenAI, Azure OpenAI, Anthropic, Google Gemini, AWS Bedrock
Session stores: memory, SQLite, CockroachDB/PostgreSQL
Vector stores: SQLite, pgvector`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML or JSON5 configuration file (or set GROUNDWORK_CONFIG)")

	rootCmd.AddCommand(
		buildChatCmd(&configPath),
		buildHistoryCmd(&configPath),
		buildIngestCmd(&configPath),
		buildMigrateCmd(&configPath),
		buildConfigCmd(&configPath),
	)
	return rootCmd
}

// resolveConfigPath picks the explicit flag, then GROUNDWORK_CONFIG, then
// the default file name.
func resolveConfigPath(path string) string {
	if p := strings.TrimSpace(path); p != "" {
		return p
	}
	if env := strings.TrimSpace(os.Getenv("GROUNDWORK_CONFIG")); env != "" {
		return env
	}
	return defaultConfigName
}

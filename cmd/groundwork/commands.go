package main

import (
	"github.com/spf13/cobra"
)

// buildChatCmd creates the "chat" command, which runs one turn.
func buildChatCmd(configPath *string) *cobra.Command {
	var flags chatFlags
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send one message to a session and print the reply",
		Example: `  groundwork chat --session s-1 --user u-1 "What fluids for sepsis?"
  groundwork chat --session s-1 --user u-1 --record turn.json "What fluids for sepsis?"
  groundwork chat --session s-2 --user u-1 --replay turn.json --strict "What fluids for sepsis?"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, *configPath, flags, args[0])
		},
	}
	cmd.Flags().StringVar(&flags.sessionID, "session", "", "Session ID")
	cmd.Flags().StringVar(&flags.userID, "user", "", "User ID")
	cmd.Flags().BoolVar(&flags.plain, "plain", false, "Print only the response text")
	cmd.Flags().StringVar(&flags.record, "record", "", "Record reasoner steps and tool runs to this tape file")
	cmd.Flags().StringVar(&flags.replay, "replay", "", "Replay a tape file instead of calling the model and tools")
	cmd.Flags().BoolVar(&flags.strict, "strict", false, "Fail when a replayed request differs from the tape")
	return cmd
}

// buildHistoryCmd creates the "history" command.
func buildHistoryCmd(configPath *string) *cobra.Command {
	var (
		sessionID string
		limit     int
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the recent turns of a session, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, *configPath, sessionID, limit, asJSON)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID")
	cmd.Flags().IntVar(&limit, "limit", 20, "Max number of turns to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print turns as JSON")
	return cmd
}

// buildIngestCmd creates the "ingest" command.
func buildIngestCmd(configPath *string) *cobra.Command {
	var (
		file string
		docs []string
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Embed chunks or documents into the knowledge base",
		Long: `Embed chunks or documents into the knowledge base.

--file takes a JSON array of {"id", "chunk_text", "source_document_name"} objects,
or an object keyed by chunk id. --docs takes Markdown or text files, or directories
of them, and splits them per rag.chunking. Vectors go to the configured vector
store and the chunks are merged into the catalog file at rag.catalog.path.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, *configPath, file, docs)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to a chunk JSON file")
	cmd.Flags().StringSliceVar(&docs, "docs", nil, "Markdown/text files or directories to chunk")
	return cmd
}

// buildMigrateCmd creates the "migrate" command group for the session store.
func buildMigrateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage session store migrations",
	}

	var upSteps, downSteps int
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateUp(cmd, *configPath, upSteps)
		},
	}
	up.Flags().IntVar(&upSteps, "steps", 0, "Number of migrations to apply (0 = all)")

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateDown(cmd, *configPath, downSteps)
		},
	}
	down.Flags().IntVar(&downSteps, "steps", 1, "Number of migrations to roll back")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(cmd, *configPath)
		},
	}

	cmd.AddCommand(up, down, status)
	return cmd
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "schema",
			Short: "Print the configuration JSON Schema",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigSchema(cmd)
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Load and validate the configuration file",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigValidate(cmd, *configPath)
			},
		},
	)
	return cmd
}

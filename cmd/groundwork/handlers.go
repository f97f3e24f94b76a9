package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/haasonsaas/groundwork/internal/agent"
	"github.com/haasonsaas/groundwork/internal/config"
	"github.com/haasonsaas/groundwork/internal/rag/catalog"
	"github.com/haasonsaas/groundwork/internal/rag/chunker"
	"github.com/haasonsaas/groundwork/internal/sessions"
	"github.com/haasonsaas/groundwork/pkg/models"
	"github.com/spf13/cobra"
)

// closeTimeout bounds flushing traces and closing stores on exit.
const closeTimeout = 5 * time.Second

// withApp loads configuration and hands it to runApp.
func withApp(cmd *cobra.Command, configPath string, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	return runApp(cmd, cfg, fn)
}

// runApp builds the app and runs fn under a context cancelled by
// SIGINT/SIGTERM.
func runApp(cmd *cobra.Command, cfg *config.Config, fn func(ctx context.Context, a *app) error) (err error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg, cmd.ErrOrStderr())
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if closeErr := a.Close(closeCtx); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(ctx, a)
}

// chatOutput is the JSON printed by "chat".
type chatOutput struct {
	Response   string     `json:"response"`
	SessionID  string     `json:"session_id"`
	TurnID     string     `json:"turn_id"`
	UserTurnID string     `json:"user_turn_id,omitempty"`
	Durable    bool       `json:"durable"`
	Iterations int        `json:"iterations"`
	ToolCalls  int        `json:"tool_calls"`
	Error      *turnIssue `json:"error,omitempty"`
}

type turnIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// chatFlags are the options of the chat command.
type chatFlags struct {
	sessionID string
	userID    string
	plain     bool
	record    string
	replay    string
	strict    bool
}

func runChat(cmd *cobra.Command, configPath string, flags chatFlags, text string) error {
	sessionID, userID := flags.sessionID, flags.userID
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session is required")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user is required")
	}
	tapes, err := openTapeSession(flags.record, flags.replay, flags.strict)
	if err != nil {
		return err
	}
	return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
		orchestrator, err := a.newOrchestrator(ctx, tapes)
		if err != nil {
			return err
		}

		result, turnErr := orchestrator.HandleTurn(ctx, sessionID, userID, text)
		if err := tapes.finish(cmd.ErrOrStderr()); err != nil {
			return err
		}
		if result == nil {
			return turnErr
		}
		out := cmd.OutOrStdout()
		if flags.plain {
			if result.ResponseText != "" {
				fmt.Fprintln(out, result.ResponseText)
			}
			return turnErr
		}

		payload := chatOutput{
			Response:   result.ResponseText,
			SessionID:  sessionID,
			TurnID:     result.TurnID,
			UserTurnID: result.UserTurnID,
			Durable:    result.Durable,
			Iterations: result.Iterations,
			ToolCalls:  result.ToolCalls,
		}
		if result.Err != nil {
			payload.Error = &turnIssue{Code: string(result.Err.Code), Message: result.Err.Error()}
		}
		if err := writeJSON(out, payload); err != nil {
			return err
		}
		return turnErr
	})
}

func runHistory(cmd *cobra.Command, configPath, sessionID string, limit int, asJSON bool) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session is required")
	}
	return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
		store, err := a.openStore()
		if err != nil {
			return err
		}
		turns, err := agent.NewHistoryLoader(store, a.logger).Load(ctx, sessionID, limit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			if turns == nil {
				turns = []*models.Turn{}
			}
			return writeJSON(out, turns)
		}
		if len(turns) == 0 {
			fmt.Fprintln(out, "No turns found.")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tACTOR\tTOOLS\tTEXT")
		for _, turn := range turns {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
				turn.CreatedAt.Format(time.RFC3339), turn.Actor, len(turn.ToolCalls), oneLine(turn.Text, 100))
		}
		return w.Flush()
	})
}

func runIngest(cmd *cobra.Command, configPath, file string, docs []string) error {
	if strings.TrimSpace(file) == "" && len(docs) == 0 {
		return fmt.Errorf("file or docs is required")
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	var chunks []catalog.Chunk
	if strings.TrimSpace(file) != "" {
		f, err := os.Open(file)
		if err != nil {
			return fmt.Errorf("open chunk file: %w", err)
		}
		fromFile, err := catalog.ReadChunks(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("read chunk file: %w", err)
		}
		chunks = append(chunks, fromFile...)
	}
	if len(docs) > 0 {
		fromDocs, err := chunker.ChunkFiles(docs, chunker.Config{
			ChunkSize:    cfg.RAG.Chunking.ChunkSize,
			ChunkOverlap: cfg.RAG.Chunking.ChunkOverlap,
			MinChunkSize: cfg.RAG.Chunking.MinChunkSize,
		})
		if err != nil {
			return fmt.Errorf("chunk documents: %w", err)
		}
		chunks = append(chunks, fromDocs...)
	}
	if len(chunks) == 0 {
		return fmt.Errorf("no chunks to ingest")
	}

	return runApp(cmd, cfg, func(ctx context.Context, a *app) error {
		svc, err := a.openRetrieval(ctx)
		if err != nil {
			return err
		}
		n, err := svc.Ingest(ctx, chunks)
		if err != nil {
			return fmt.Errorf("ingest: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Ingested %d chunks.\n", n)
		if path := a.cfg.RAG.Catalog.Path; path != "" {
			if err := svc.Catalog().WriteFile(path); err != nil {
				return err
			}
			fmt.Fprintf(out, "Catalog written: %s (%d chunks)\n", path, svc.Catalog().Len())
		} else {
			fmt.Fprintln(out, "No rag.catalog.path configured; upload the chunk file to the catalog location.")
		}
		return nil
	})
}

func runMigrateUp(cmd *cobra.Command, configPath string, steps int) error {
	return withMigrator(cmd, configPath, func(ctx context.Context, m *sessions.Migrator) error {
		applied, err := m.Up(ctx, steps)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No pending migrations.")
			return nil
		}
		for _, id := range applied {
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %s\n", id)
		}
		return nil
	})
}

func runMigrateDown(cmd *cobra.Command, configPath string, steps int) error {
	return withMigrator(cmd, configPath, func(ctx context.Context, m *sessions.Migrator) error {
		rolled, err := m.Down(ctx, steps)
		if err != nil {
			return err
		}
		if len(rolled) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No applied migrations.")
			return nil
		}
		for _, id := range rolled {
			fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %s\n", id)
		}
		return nil
	})
}

func runMigrateStatus(cmd *cobra.Command, configPath string) error {
	return withMigrator(cmd, configPath, func(ctx context.Context, m *sessions.Migrator) error {
		applied, pending, err := m.Status(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tAPPLIED")
		for _, entry := range applied {
			fmt.Fprintf(w, "%s\tapplied\t%s\n", entry.ID, entry.AppliedAt.Format(time.RFC3339))
		}
		for _, migration := range pending {
			fmt.Fprintf(w, "%s\tpending\t-\n", migration.ID)
		}
		return w.Flush()
	})
}

func withMigrator(cmd *cobra.Command, configPath string, fn func(context.Context, *sessions.Migrator) error) error {
	return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
		db, dialect, err := a.openSessionDB()
		if err != nil {
			return err
		}
		migrator, err := sessions.NewMigrator(db, dialect)
		if err != nil {
			return err
		}
		return fn(ctx, migrator)
	})
}

func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return err
}

func runConfigValidate(cmd *cobra.Command, configPath string) error {
	path := resolveConfigPath(configPath)
	if _, err := config.Load(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is valid.\n", path)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func oneLine(text string, width int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= width {
		return text
	}
	return string(runes[:width-3]) + "..."
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"jobgrade/internal/app"
	"jobgrade/internal/report"
	"jobgrade/internal/store"
	"jobgrade/internal/survey"

	"github.com/spf13/cobra"
)

var errMissingSession = errors.New("--user and --session are required")

type sessionFlags struct {
	userID    int64
	sessionID int
}

func (f *sessionFlags) bind(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&f.userID, "user", 0, "respondent user id")
	cmd.Flags().IntVar(&f.sessionID, "session", 0, "session ordinal of the user")
}

func (f *sessionFlags) key() (store.SessionKey, error) {
	if f.userID <= 0 || f.sessionID <= 0 {
		return store.SessionKey{}, errMissingSession
	}
	return store.SessionKey{UserID: f.userID, SessionID: f.sessionID}, nil
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "gradectl",
		Short:         "Operate the jobgrade store: schema, reference tables, grades and reports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.AddCommand(
		newMigrateCmd(),
		newImportCmd(),
		newGradeCmd(),
		newReportCmd(),
		newResetGradingCmd(),
		newHashTokenCmd(),
	)
	return root
}

// loadRuntime builds the full runtime from the environment with logs on stderr.
func loadRuntime(ctx context.Context) (*app.Runtime, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return app.Build(ctx, cfg, log)
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			_, conn, err := app.OpenBackend(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if conn != nil {
				defer conn.Close()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema is up to date (%s)\n", cfg.DBDriver)
			return nil
		},
	}
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <workbook.xlsx>",
		Short: "Replace all reference tables from a workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open workbook: %w", err)
			}
			defer f.Close()
			catalog, rep, err := survey.ImportWorkbook(f)
			if err != nil {
				return err
			}

			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			backend, conn, err := app.OpenBackend(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if conn != nil {
				defer conn.Close()
			}
			if err := backend.SaveCatalog(cmd.Context(), catalog); err != nil {
				return fmt.Errorf("save reference tables: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), rep)
		},
	}
}

func newGradeCmd() *cobra.Command {
	var flags sessionFlags
	cmd := &cobra.Command{
		Use:   "grade",
		Short: "Compute the grade of one session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := flags.key()
			if err != nil {
				return err
			}
			rt, err := loadRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			result, diag, gradeErr := rt.Grades.Grade(cmd.Context(), key)
			out := map[string]any{"diagnostic": diag}
			if gradeErr != nil {
				out["error"] = gradeErr.Error()
				out["notes"] = report.DiagnosticNotes(diag)
			} else {
				out["grade"] = result
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	flags.bind(cmd)
	return cmd
}

func newReportCmd() *cobra.Command {
	var (
		flags sessionFlags
		out   string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render the report of one session as JSON or xlsx",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := flags.key()
			if err != nil {
				return err
			}
			rt, err := loadRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			rep, err := rt.Reports.Build(cmd.Context(), key)
			if err != nil {
				return err
			}
			if out == "" {
				return writeJSON(cmd.OutOrStdout(), rep)
			}
			return writeReportFile(out, rep)
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVar(&out, "out", "", "output file; .xlsx writes a workbook, anything else JSON")
	return cmd
}

func newResetGradingCmd() *cobra.Command {
	var flags sessionFlags
	cmd := &cobra.Command{
		Use:   "reset-grading",
		Short: "Demote answers 8 to 12 and queue them again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := flags.key()
			if err != nil {
				return err
			}
			rt, err := loadRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			st, err := rt.Engine.ResetGrading(cmd.Context(), key)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), st)
		},
	}
	flags.bind(cmd)
	return cmd
}

func newHashTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token <token>",
		Short: "Print the bcrypt hash to put into ADMIN_TOKEN_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := app.HashAdminToken(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func writeReportFile(path string, rep *report.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		err = report.WriteXLSX(f, rep)
	} else {
		err = writeJSON(f, rep)
	}
	if err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

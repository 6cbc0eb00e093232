package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/config"
	repopg "github.com/tendant/simple-asset/pkg/simpleasset/repo/postgres"
)

// NewUsageCommand creates the usage command
func NewUsageCommand() *cobra.Command {
	var ownerFlag string
	var uncapped bool
	var capBytes int64

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show an owner's quota usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseOwner(ownerFlag)
			if err != nil {
				return err
			}
			svc, err := newServiceFromEnv(cmd)
			if err != nil {
				return err
			}

			scope := simpleasset.Scope{OwnerID: owner, Class: simpleasset.AccountCapped, CapBytes: capBytes}
			if uncapped {
				scope.Class = simpleasset.AccountUncapped
			}
			status, err := svc.GetUsage(cmd.Context(), scope)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if wantJSON(cmd) {
				return writeJSON(out, status)
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Owner:\t%s\n", status.OwnerID)
			fmt.Fprintf(w, "Class:\t%s\n", status.Class)
			fmt.Fprintf(w, "Total:\t%s\n", formatBytes(status.TotalBytes))
			if status.Class == simpleasset.AccountCapped {
				fmt.Fprintf(w, "Cap:\t%s\n", formatBytes(status.CapBytes))
				fmt.Fprintf(w, "Remaining:\t%s\n", formatBytes(status.RemainingBytes))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&ownerFlag, "owner", "", "owner ID (required)")
	cmd.Flags().BoolVar(&uncapped, "uncapped", false, "report the owner as uncapped")
	cmd.Flags().Int64Var(&capBytes, "cap", 0, "cap in bytes (default: QUOTA_CAP_BYTES)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

// NewReconcileCommand creates the reconcile command
func NewReconcileCommand() *cobra.Command {
	var ownerFlag string
	var apply bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute an owner's total from stored objects and records",
		Long: `Recompute an owner's byte total from the object index and live record
content and compare it with the ledger. With --apply the ledger total is
overwritten with the computed value.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseOwner(ownerFlag)
			if err != nil {
				return err
			}
			svc, err := newServiceFromEnv(cmd)
			if err != nil {
				return err
			}

			rec, err := svc.ReconcileQuota(cmd.Context(), owner, apply)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if wantJSON(cmd) {
				return writeJSON(out, rec)
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Owner:\t%s\n", rec.OwnerID)
			fmt.Fprintf(w, "Objects:\t%d (%s)\n", rec.Usage.ObjectCount, formatBytes(rec.Usage.ObjectBytes))
			fmt.Fprintf(w, "Records:\t%d (%s)\n", rec.Usage.RecordCount, formatBytes(rec.Usage.RecordContentBytes))
			fmt.Fprintf(w, "Recorded:\t%d\n", rec.Recorded)
			fmt.Fprintf(w, "Computed:\t%d\n", rec.Computed)
			fmt.Fprintf(w, "Drift:\t%d\n", rec.Drift)
			fmt.Fprintf(w, "Applied:\t%t\n", rec.Applied)
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&ownerFlag, "owner", "", "owner ID (required)")
	cmd.Flags().BoolVar(&apply, "apply", false, "overwrite the ledger total when it drifted")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

// NewRecordsCommand creates the records command
func NewRecordsCommand() *cobra.Command {
	var ownerFlag string
	var folderFlag string

	cmd := &cobra.Command{
		Use:   "records",
		Short: "List an owner's live records",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseOwner(ownerFlag)
			if err != nil {
				return err
			}
			var folderID *uuid.UUID
			if folderFlag != "" {
				id, err := uuid.Parse(folderFlag)
				if err != nil {
					return fmt.Errorf("invalid folder ID: %w", err)
				}
				folderID = &id
			}
			svc, err := newServiceFromEnv(cmd)
			if err != nil {
				return err
			}

			recs, err := svc.ListRecords(cmd.Context(), simpleasset.Scope{OwnerID: owner, Class: simpleasset.AccountUncapped}, folderID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if wantJSON(cmd) {
				if recs == nil {
					recs = []*simpleasset.Record{}
				}
				return writeJSON(out, recs)
			}
			if len(recs) == 0 {
				fmt.Fprintln(out, "No records found")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tTITLE\tCONTENT\tOBJECT\tVERSION\tUPDATED")
			for _, r := range recs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					r.ID, r.Kind, truncate(r.Title, 30), formatBytes(r.ContentSize),
					formatBytes(r.ObjectSize), r.Version, r.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&ownerFlag, "owner", "", "owner ID (required)")
	cmd.Flags().StringVar(&folderFlag, "folder", "", "only records in this folder")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

// NewSchemaCommand creates the schema command
func NewSchemaCommand() *cobra.Command {
	var printOnly bool

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Create the Postgres schema and tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			if printOnly {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), repopg.Schema)
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if cfg.DatabaseType != "postgres" {
				return fmt.Errorf("schema requires a postgres DATABASE_URL")
			}

			ctx := cmd.Context()
			pool, err := config.OpenPostgres(ctx, cfg.DatabaseURL, cfg.DBSchema)
			if err != nil {
				return err
			}
			defer pool.Close()

			if cfg.DBSchema != "" {
				if _, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{cfg.DBSchema}.Sanitize()); err != nil {
					return fmt.Errorf("failed to create schema %s: %w", cfg.DBSchema, err)
				}
			}
			if err := repopg.NewWithPool(pool).EnsureSchema(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema %q is up to date\n", cfg.DBSchema)
			return nil
		},
	}

	cmd.Flags().BoolVar(&printOnly, "print", false, "print the DDL instead of applying it")
	return cmd
}

func parseOwner(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("invalid owner ID %q", raw)
	}
	return id, nil
}

func wantJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

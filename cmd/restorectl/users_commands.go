package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"photorestore/internal/supabase"
	"photorestore/internal/userimport"
)

func newImportUsersCommand(ctx *commandContext) *cobra.Command {
	var (
		file      string
		report    string
		batchSize int
		delay     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "import-users",
		Short: "Create users from an auth export through the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			users, err := userimport.LoadExport(file)
			if err != nil {
				return err
			}
			admin, err := supabase.NewAdmin(cfg.Supabase, nil)
			if err != nil {
				return err
			}

			unlock, err := lockReport(report)
			if err != nil {
				return err
			}
			defer unlock()

			importer := userimport.NewImporter(admin, userimport.Options{BatchSize: batchSize, Delay: delay}, ctx.log())
			result, runErr := importer.Run(cmd.Context(), users)
			if err := userimport.WriteJSON(report, result); err != nil {
				return errors.Join(runErr, err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Total", "Created", "Skipped", "Failed"},
				[][]string{{
					strconv.Itoa(result.Total),
					strconv.Itoa(len(result.Successes)),
					strconv.Itoa(len(result.Skipped)),
					strconv.Itoa(len(result.Failures)),
				}},
				[]columnAlignment{alignRight, alignRight, alignRight, alignRight},
			))
			fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", report)
			return runErr
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Auth users export (JSON)")
	cmd.Flags().StringVar(&report, "report", "import-report.json", "Where to write the import report")
	cmd.Flags().IntVar(&batchSize, "batch-size", 50, "Users per batch")
	cmd.Flags().DurationVar(&delay, "delay", time.Second, "Pause between batches")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newValidateUsersCommand(ctx *commandContext) *cobra.Command {
	var (
		file    string
		report  string
		perPage int
	)

	cmd := &cobra.Command{
		Use:   "validate-users",
		Short: "Compare an auth export with the live user list",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			export, err := userimport.LoadExport(file)
			if err != nil {
				return err
			}
			admin, err := supabase.NewAdmin(cfg.Supabase, nil)
			if err != nil {
				return err
			}
			live, err := admin.AllUsers(cmd.Context(), perPage)
			if err != nil {
				return err
			}

			result := userimport.Validate(export, live)
			if err := userimport.WriteJSON(report, result); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderValidation(result))
			if !result.OK() {
				return fmt.Errorf("live users differ from export; see %s", report)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Auth users export (JSON)")
	cmd.Flags().StringVar(&report, "report", "validation-report.json", "Where to write the validation report")
	cmd.Flags().IntVar(&perPage, "per-page", supabase.DefaultPageSize, "Admin API page size")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func renderValidation(r userimport.ValidationReport) string {
	return renderTable(
		[]string{"Export", "Live", "Missing", "Extra", "Mismatched"},
		[][]string{{
			strconv.Itoa(r.ExportCount),
			strconv.Itoa(r.LiveCount),
			strconv.Itoa(len(r.Missing)),
			strconv.Itoa(len(r.Extra)),
			strconv.Itoa(len(r.Mismatched)),
		}},
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight},
	)
}

// lockReport keeps two imports from writing the same report.
func lockReport(path string) (func(), error) {
	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("another import is writing %s", path)
	}
	return func() { _ = lock.Unlock() }, nil
}

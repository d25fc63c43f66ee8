// Package main provides pgxctl, the operator CLI for the pharmacogenomic risk server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/goccy/go-yaml"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pharmgx-risk-server/internal/app"
	"github.com/pharmgx-risk-server/internal/config"
	"github.com/pharmgx-risk-server/internal/database"
	"github.com/pharmgx-risk-server/internal/domain"
	"github.com/pharmgx-risk-server/internal/logging"
	"github.com/pharmgx-risk-server/internal/service"
	"github.com/pharmgx-risk-server/internal/source"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "pgxctl",
		Short:        "Pharmacogenomic risk analysis and maintenance",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Log at info level to stderr")

	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(drugsCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(feedbackCmd())

	return rootCmd
}

// loadConfig reads configuration and builds a logger that never writes to stdout
func loadConfig(cmd *cobra.Command) (*config.Manager, *logrus.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	manager, err := config.NewManagerFromFile(path)
	if err != nil {
		return nil, nil, err
	}

	logCfg := manager.GetConfig().Logging
	logCfg.Output = "stderr"
	logCfg.Level = "warn"
	if verbose {
		logCfg.Level = "info"
	}
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return nil, nil, err
	}
	logger.SetOutput(cmd.ErrOrStderr())

	return manager, logger, nil
}

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze a VCF file against a list of drugs",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			drugs, _ := cmd.Flags().GetString("drugs")
			output, _ := cmd.Flags().GetString("output")
			explain, _ := cmd.Flags().GetBool("explain")

			if output != "json" && output != "yaml" {
				return fmt.Errorf("unsupported output format %q (json or yaml)", output)
			}

			manager, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg := manager.GetConfig()
			ctx := cmd.Context()

			services, err := app.New(ctx, cfg, logger, app.Options{Explain: explain})
			if err != nil {
				return err
			}
			defer services.Close()

			var getter source.ObjectGetter
			if source.IsS3(file) {
				client, err := source.NewS3Client(ctx, cfg.Storage.S3)
				if err != nil {
					return err
				}
				getter = client
			}

			reader, err := source.NewOpener(getter).Open(ctx, file)
			if err != nil {
				return err
			}
			defer reader.Close()

			report := services.Analyzer.AnalyzeStream(ctx, reader, service.ParseDrugRequest(drugs))
			return writeReport(cmd.OutOrStdout(), report, output)
		},
	}
	cmd.Flags().String("file", "", "Local path or s3://bucket/key of the VCF file")
	cmd.Flags().String("drugs", "", "Comma-separated drug names")
	cmd.Flags().String("output", "json", "Output format: json or yaml")
	cmd.Flags().Bool("explain", false, "Request model-written explanations when configured")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("drugs")

	return cmd
}

func writeReport(w io.Writer, report *domain.AnalysisReport, format string) error {
	var (
		data []byte
		err  error
	)
	if format == "yaml" {
		data, err = yaml.Marshal(report)
	} else {
		data, err = json.MarshalIndent(report, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func drugsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drugs",
		Short: "List supported drugs and their genes",
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DRUG\tGENE")
			for _, entry := range domain.DefaultRegistry().Entries() {
				fmt.Fprintf(tw, "%s\t%s\n", entry.Drug, entry.Gene)
			}
			return tw.Flush()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run feedback database migrations",
	}
	cmd.PersistentFlags().String("dir", database.DefaultMigrationsPath, "Path to migrations directory")

	withRunner := func(cmd *cobra.Command, fn func(*database.MigrationRunner) error) error {
		dir, _ := cmd.Flags().GetString("dir")
		manager, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		runner, err := database.NewMigrationRunner(manager.GetDatabaseURL(), dir, logger)
		if err != nil {
			return err
		}
		defer runner.Close()
		return fn(runner)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, func(r *database.MigrationRunner) error {
				if err := r.Up(cmd.Context()); err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				return printVersion(cmd.OutOrStdout(), r)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, func(r *database.MigrationRunner) error {
				if err := r.Down(cmd.Context()); err != nil {
					return fmt.Errorf("rollback failed: %w", err)
				}
				return printVersion(cmd.OutOrStdout(), r)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the applied migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, func(r *database.MigrationRunner) error {
				return printVersion(cmd.OutOrStdout(), r)
			})
		},
	})

	return cmd
}

func printVersion(w io.Writer, r *database.MigrationRunner) error {
	version, dirty, err := r.Version()
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	fmt.Fprintf(w, "version %d (dirty: %t)\n", version, dirty)
	return nil
}

func feedbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Export or import clinician feedback",
	}

	withStore := func(cmd *cobra.Command, fn func(ctx context.Context, services *app.App) error) error {
		manager, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		services, err := app.New(ctx, manager.GetConfig(), logger, app.Options{Feedback: true})
		if err != nil {
			return err
		}
		defer services.Close()
		if services.Feedback == nil {
			return fmt.Errorf("feedback storage is disabled")
		}
		return fn(ctx, services)
	}

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write all feedback as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			return withStore(cmd, func(ctx context.Context, services *app.App) error {
				w := cmd.OutOrStdout()
				if out != "" {
					f, err := os.Create(out)
					if err != nil {
						return fmt.Errorf("failed to create export file: %w", err)
					}
					defer f.Close()
					w = f
				}
				return services.Feedback.ExportJSON(ctx, w)
			})
		},
	}
	exportCmd.Flags().String("out", "", "Output file (default: stdout)")
	cmd.AddCommand(exportCmd)

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Load feedback from a JSON export, skipping entries that already exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			return withStore(cmd, func(ctx context.Context, services *app.App) error {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("failed to open import file: %w", err)
				}
				defer f.Close()

				imported, skipped, err := services.Feedback.ImportJSON(ctx, f)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d entries, skipped %d\n", imported, skipped)
				return nil
			})
		},
	}
	importCmd.Flags().String("file", "", "JSON export to import")
	_ = importCmd.MarkFlagRequired("file")
	cmd.AddCommand(importCmd)

	return cmd
}

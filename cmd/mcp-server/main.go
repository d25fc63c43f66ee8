// Package main provides the MCP entry point for the pharmacogenomic risk server.
// It requires no external databases - uses in-memory caching and SQLite.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pharmgx-risk-server/internal/config"
	"github.com/pharmgx-risk-server/internal/mcp"
	"github.com/pharmgx-risk-server/internal/setup"
)

func main() {
	// stdout is the protocol channel
	log.SetOutput(os.Stderr)

	rootCmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Pharmacogenomic risk MCP server (stdio)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
	rootCmd.AddCommand(setupCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer() error {
	cfg := config.LoadLiteConfig()
	log.Printf("Data directory: %s", cfg.DataDir)

	server, err := mcp.NewLiteServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	if err := server.Start(ctx); err != nil && ctx.Err() == nil {
		return err
	}

	log.Println("Pharmacogenomic risk MCP server stopped")
	return nil
}

func setupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Register this server with a desktop MCP client",
	}

	desktopCmd := &cobra.Command{
		Use:   "claude-desktop",
		Short: "Add or update the server entry in the desktop client config",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			binary, _ := cmd.Flags().GetString("binary")
			dataDir, _ := cmd.Flags().GetString("data-dir")

			if configPath == "" {
				path, err := setup.DefaultConfigPath()
				if err != nil {
					return err
				}
				configPath = path
			}
			if binary == "" {
				if exe, err := os.Executable(); err == nil {
					binary = exe
				}
			}

			opts := setup.Options{
				BinaryPath: binary,
				DataDir:    dataDir,
				APIKey:     os.Getenv("OPENROUTER_API_KEY"),
			}
			if err := setup.Configure(configPath, opts); err != nil {
				return fmt.Errorf("failed to configure client: %w", err)
			}

			fmt.Printf("Configured %q in %s\n", setup.ServerName, configPath)
			fmt.Println("Restart the client to load the new configuration.")
			return nil
		},
	}
	desktopCmd.Flags().String("config", "", "Path to the client config file (default: platform location)")
	desktopCmd.Flags().String("binary", "", "Path to the mcp-server binary (default: this executable)")
	desktopCmd.Flags().String("data-dir", "", "Data directory passed as "+setup.DataDirEnv)
	cmd.AddCommand(desktopCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show current setup status",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			if configPath == "" {
				path, err := setup.DefaultConfigPath()
				if err != nil {
					return err
				}
				configPath = path
			}

			status, err := setup.GetStatus(configPath)
			if err != nil {
				return err
			}

			fmt.Printf("Config file:   %s\n", status.ConfigPath)
			fmt.Printf("Registered:    %t\n", status.ServerConfigured)
			if status.ServerConfigured {
				fmt.Printf("Binary:        %s\n", status.ServerPath)
			}
			fmt.Printf("Data dir:      %s\n", status.DataDir)
			fmt.Printf("Feedback DB:   %t\n", status.FeedbackDB)
			for _, issue := range status.Issues {
				fmt.Printf("  ! %s\n", issue)
			}
			return nil
		},
	}
	statusCmd.Flags().String("config", "", "Path to the client config file (default: platform location)")
	cmd.AddCommand(statusCmd)

	return cmd
}

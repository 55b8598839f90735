package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/Lllllllleong/drawingmigration/internal/bootstrap"
	"github.com/Lllllllleong/drawingmigration/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "drawingctl",
	Short: "Operate the drawing migration engine",
	Long: `drawingctl talks to the same repository, search index and draft store
as the drawing API. Use it to inspect documents and item histories, moderate
committed versions, create folders, move items and serve the API locally.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initLogging)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults to environment and .env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
}

func initLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// withEngine builds the engine for the duration of run.
func withEngine(cmd *cobra.Command, run func(ctx context.Context, engine *bootstrap.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	engine, err := bootstrap.New(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			slog.Warn("Closing engine", "error", err)
		}
	}()
	return run(ctx, engine)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Package commands implements the cloner CLI.
package commands

import (
	"context"
	"fmt"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/cloner/internal/app"
	"github.com/conduit-lang/cloner/internal/cli/config"
)

var (
	// Version information, set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// globals are the persistent flags shared by every command
type globals struct {
	configFile string
	verbose    bool
	noColor    bool
}

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:   "cloner",
		Short: "Deep-copy records and their related records",
		Long: color.CyanString(`cloner duplicates a record together with the relations its resource
declares cloneable, copying attached files and publishing cloning/cloned
events along the way.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if g.noColor {
				color.NoColor = true
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&g.configFile, "config", "c", "", "config file (default: nearest cloner.yml)")
	flags.BoolVarP(&g.verbose, "verbose", "v", false, "log at debug level in development format")
	flags.BoolVar(&g.noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(newDuplicateCommand(g))
	rootCmd.AddCommand(newServeCommand(g))
	rootCmd.AddCommand(newSchemaCommand(g))
	rootCmd.AddCommand(newInitCommand(g))
	rootCmd.AddCommand(newTokenCommand(g))

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			title := color.New(color.FgCyan, color.Bold)
			out := cmd.OutOrStdout()

			title.Fprint(out, "cloner version: ")
			fmt.Fprintln(out, Version)
			title.Fprint(out, "Git commit: ")
			fmt.Fprintln(out, GitCommit)
			title.Fprint(out, "Build date: ")
			fmt.Fprintln(out, BuildDate)
			title.Fprint(out, "Go version: ")
			fmt.Fprintln(out, runtime.Version())
		},
	}
}

func (g *globals) logger() (*zap.Logger, error) {
	if g.verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func (g *globals) loadConfig() (*config.Config, error) {
	return config.Load(g.configFile)
}

// openApp loads the configuration and assembles the application. The
// returned cleanup closes it and flushes the logger.
func (g *globals) openApp(ctx context.Context) (*app.App, func(), error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := g.logger()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Sync()
		return nil, nil, err
	}
	return a, func() {
		if err := a.Close(); err != nil {
			logger.Warn("failed to close backends", zap.Error(err))
		}
		logger.Sync()
	}, nil
}

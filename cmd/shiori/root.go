package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hyperjump/shiori/internal/cli"
	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/pkg/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

// defaultConfigName is looked up in the working directory when --config is not given.
const defaultConfigName = "shiori.yaml"

// app carries the global flags and what PersistentPreRunE builds from them.
type app struct {
	configPath string
	debug      bool
	asJSON     bool

	cfg    *config.Config
	logger *zap.Logger
}

func (a *app) format() cli.OutputFormat { return cli.FormatFor(a.asJSON) }

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "shiori",
		Short: "Shiori - stable chunk ids and incremental sync for a notes vault",
		Long: `Shiori chunks a Markdown vault into records with stable, content-addressed ids
and keeps a vector collection in sync with them: only new or changed chunks are
embedded and written, and chunks of deleted notes can be pruned.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}
			return a.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default is ./"+defaultConfigName+" when present)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&a.asJSON, "json", false, "print results as JSON")
	root.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)

	root.AddCommand(
		newChunkCmd(a),
		newMergeCmd(a),
		newSyncCmd(a),
		newRunCmd(a),
		newWatchCmd(a),
		newInspectCmd(a),
		newServeCmd(a),
		newVersionCmd(),
	)
	return root
}

// load reads the config and builds the logger.
func (a *app) load() error {
	cfg, resolved, err := loadConfig(a.configPath)
	if err != nil {
		return err
	}
	debug := cfg.Debug || a.debug
	logger, err := utils.NewLogger(debug)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debug))
	a.cfg = cfg
	a.logger = logger
	return nil
}

// loadConfig loads path. With no path it uses shiori.yaml from the working
// directory when present, and built-in defaults rooted there otherwise.
// Returns the config and the path that was loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, "", err
		}
		return cfg, path, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get working directory: %w", err)
	}
	fallback := filepath.Join(cwd, defaultConfigName)
	if _, statErr := os.Stat(fallback); statErr == nil {
		cfg, err := config.Load(fallback)
		if err != nil {
			return nil, "", err
		}
		return cfg, fallback, nil
	}
	cfg, err := config.Default(cwd)
	if err != nil {
		return nil, "", err
	}
	return cfg, "", nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "shiori version %s\n", version)
		},
	}
}

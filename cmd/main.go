package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"flowcraft/backend/internal/config"
	"flowcraft/backend/internal/store"
	"flowcraft/backend/pkg/database"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	infoColor = color.New(color.FgCyan)
)

type globalFlags struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		failColor.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "flowcraft",
		Short:         "Record browser workflows and replay them",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", os.Getenv("FLOWCRAFT_CONFIG"), "YAML config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newServeCommand(flags),
		newReplayCommand(flags),
		newExportCommand(flags),
		newImportCommand(flags),
		newLintCommand(),
		newTokenCommand(flags),
	)
	return root
}

// setup loads the configuration and builds the logger it describes.
func (f *globalFlags) setup() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(afero.NewOsFs(), f.configPath, nil)
	if err != nil {
		return nil, nil, err
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	log, err := newLogger(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func newLogger(c config.LogConfig) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(level)
	switch strings.ToLower(c.Format) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", c.Format)
	}
	return log, nil
}

// openStore opens the configured key-value backend. The returned func
// releases it.
func openStore(cfg *config.Config, log logrus.FieldLogger) (*store.Service, func(), error) {
	var kv store.KV
	closer := func() {}
	switch cfg.Storage.Driver {
	case "memory":
		kv = store.NewMemory()
	case "mysql":
		db, err := database.Open(cfg.GetDSN(), cfg.Log.Level == "debug", log)
		if err != nil {
			return nil, nil, err
		}
		kv = store.NewGormKV(db)
		closer = func() {
			if err := database.Close(db); err != nil {
				log.WithError(err).Warn("Failed to close database")
			}
		}
	default:
		fkv, err := store.NewFileKV(afero.NewOsFs(), cfg.Storage.Dir)
		if err != nil {
			return nil, nil, err
		}
		kv = fkv
	}
	log.WithField("driver", cfg.Storage.Driver).Info("💾 Workflow store ready")
	return store.NewService(kv, store.Options{Log: log}), closer, nil
}

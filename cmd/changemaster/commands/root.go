// Package commands implements the changemaster command line
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kode4food/changemaster"
	"github.com/kode4food/changemaster/internal/backend"
)

type (
	// globalFlags are shared by every subcommand
	globalFlags struct {
		config   string
		backend  string
		dsn      string
		path     string
		addr     string
		logLevel string
	}

	// session is an open Manager and the Store beneath it
	session struct {
		*changemaster.Manager
		store  changemaster.Store
		logger *zap.Logger
	}
)

// Version is replaced at link time
var Version = "0.0.0-dev"

// NewRootCmd constructs the changemaster root command
func NewRootCmd() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:           "changemaster",
		Short:         "Number, store and query version-control changes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&g.config, "config", "", "YAML configuration file")
	pf.StringVar(&g.backend, "backend", "",
		fmt.Sprintf("store backend %v", backend.Names),
	)
	pf.StringVar(&g.dsn, "dsn", "", "postgres connection string")
	pf.StringVar(&g.path, "path", "", "bolt or sqlite database file")
	pf.StringVar(&g.addr, "addr", "", "redis server address")
	pf.StringVar(&g.logLevel, "log-level", "info", "log level")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number of changemaster",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "changemaster version %s\n", Version)
		},
	})

	cmd.AddCommand(newIngestCmd(g))
	cmd.AddCommand(newShowCmd(g))
	cmd.AddCommand(newHistoryCmd(g))
	cmd.AddCommand(newLatestCmd(g))
	cmd.AddCommand(newPruneCmd(g))
	return cmd
}

func (g *globalFlags) open(
	cmd *cobra.Command, adjust ...func(*changemaster.Config),
) (*session, error) {
	cfg, err := loadConfig(cmd, g)
	if err != nil {
		return nil, err
	}
	for _, fn := range adjust {
		fn(&cfg)
	}

	logger, err := newLogger(g.logLevel)
	if err != nil {
		return nil, err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := backend.Open(ctx, cfg.Store)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}

	mgr, err := changemaster.New(store, cfg, changemaster.WithLogger(logger))
	if err != nil {
		_ = store.Close()
		_ = logger.Sync()
		return nil, err
	}
	return &session{
		Manager: mgr,
		store:   store,
		logger:  logger,
	}, nil
}

func (s *session) close() error {
	err := s.Close()
	if cerr := s.store.Close(); err == nil {
		err = cerr
	}
	_ = s.logger.Sync()
	return err
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}

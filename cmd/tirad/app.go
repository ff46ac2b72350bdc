package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/viper"

	"github.com/tira-io/tirad/internal/api"
	"github.com/tira-io/tirad/internal/catalog"
	"github.com/tira-io/tirad/internal/config"
	"github.com/tira-io/tirad/internal/engine"
	"github.com/tira-io/tirad/internal/gate"
	"github.com/tira-io/tirad/internal/journal"
	"github.com/tira-io/tirad/internal/shell"
	"github.com/tira-io/tirad/internal/state"
	"github.com/tira-io/tirad/internal/store"
	"github.com/tira-io/tirad/internal/supervisor"
)

// app holds the wired components shared by all commands.
type app struct {
	cfg        config.Config
	logger     *slog.Logger
	exec       shell.Executor
	catalog    *catalog.Catalog
	supervisor *supervisor.Supervisorctl
	runs       *store.RunStore
	collector  *state.Collector
	journal    *journal.SQLiteJournal
}

func newApp(v *viper.Viper, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	logger := config.NewLogger(logOut, cfg.LogLevel)

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	j, err := journal.NewSQLiteJournal(cfg.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	ex := shell.NewOSExecutor(logger)
	sup := supervisor.NewSupervisorctl(supervisor.Config{
		ConfDir: cfg.SupervisorConfDir,
		LogDir:  cfg.SupervisorLogDir,
		RunAs:   cfg.HostUser,
	}, ex, logger)
	runs := store.New(store.Config{
		RunsRoot:           cfg.RunsRoot,
		TextCacheBytes:     cfg.TextCacheBytes,
		RecordCacheEntries: cfg.RecordCacheEntries,
		OutputTailBytes:    cfg.OutputTailBytes,
	}, ex, logger)
	col := state.NewCollector(state.Config{
		VMStateDir: cfg.VMStateDir,
		HostUser:   cfg.HostUser,
	}, ex, sup, runs, cat, logger)

	return &app{
		cfg:        cfg,
		logger:     logger,
		exec:       ex,
		catalog:    cat,
		supervisor: sup,
		runs:       runs,
		collector:  col,
		journal:    j,
	}, nil
}

func (a *app) Close() error {
	return a.journal.Close()
}

func (a *app) server() *api.Server {
	eng := engine.NewEngine(engine.Config{HostUser: a.cfg.HostUser},
		gate.New(a.supervisor, nil), a.supervisor, a.exec, a.runs,
		store.NewSubmissionFiles(a.cfg.SoftwaresStateDir), a.catalog, a.journal, a.logger)
	return api.NewServer(a.cfg.ListenAddr, eng, a.collector, a.runs, a.catalog, a.journal, a.logger)
}

// Package cli implements the recon command line: matching runs, the exception
// queue, policy rules, the audit trail and the HTTP server.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/eshaffer321/commission-recon/internal/application/service"
	"github.com/eshaffer321/commission-recon/internal/infrastructure/config"
	"github.com/eshaffer321/commission-recon/internal/infrastructure/ingest"
	"github.com/eshaffer321/commission-recon/internal/infrastructure/logging"
	"github.com/eshaffer321/commission-recon/internal/infrastructure/storage"
)

// App carries what every subcommand needs. It is populated by the root
// command's PersistentPreRunE.
type App struct {
	configPath string
	dbPath     string
	jsonOutput bool
	verbose    bool

	out    io.Writer
	cfg    *config.Config
	logger *slog.Logger
	store  *storage.Storage
	svc    *service.ReconService
}

// NewRootCommand builds the command tree writing to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	return newRootCommand(&App{out: out})
}

func newRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "recon",
		Short:         "Commission statement to bank feed reconciliation",
		Long:          "Matches carrier commission statement lines against bank cash transactions, keeps an exception queue for analyst review and records an audit trail.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.open()
		},
	}
	root.SetOut(app.out)

	flags := root.PersistentFlags()
	flags.StringVar(&app.configPath, "config", "", "Configuration file path (default: config.yaml if present, else environment)")
	flags.StringVar(&app.dbPath, "db", "", "Override the database path")
	flags.BoolVar(&app.jsonOutput, "json", false, "Print JSON instead of tables")
	flags.BoolVarP(&app.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		app.newMatchCommand(),
		app.newRunsCommand(),
		app.newResultsCommand(),
		app.newExceptionsCommand(),
		app.newRulesCommand(),
		app.newLinesCommand(),
		app.newAuditCommand(),
		app.newServeCommand(),
	)
	return root
}

// Run executes one command line and releases the database afterwards.
func Run(ctx context.Context, args []string, out io.Writer) error {
	app := &App{out: out}
	defer func() { _ = app.close() }()

	root := newRootCommand(app)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// Execute runs the CLI against os.Args and returns the process exit code.
func Execute() int {
	if err := Run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", describe(err))
		return 1
	}
	return 0
}

func (a *App) loadConfig() (*config.Config, error) {
	if a.configPath != "" {
		return config.Load(a.configPath)
	}
	return config.LoadOrEnv(), nil
}

func (a *App) open() error {
	cfg, err := a.loadConfig()
	if err != nil {
		return eris.Wrap(err, "load config")
	}
	if a.dbPath != "" {
		cfg.Storage.DatabasePath = a.dbPath
	}
	a.cfg = cfg

	loggingCfg := cfg.Observability.Logging
	if a.verbose {
		loggingCfg.Level = "debug"
	}
	a.logger = logging.NewLoggerTo(os.Stderr, loggingCfg)

	store, err := storage.NewStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return eris.Wrapf(err, "open database %s", cfg.Storage.DatabasePath)
	}
	a.store = store

	source := ingest.NewCachedSource(ingest.NewCSVSource(cfg.Data.StatementPath, cfg.Data.BankPath))
	a.svc = service.NewReconService(store, source, cfg.Matching.MatcherConfig(), a.logger)

	a.logger.Debug("cli ready",
		"database", cfg.Storage.DatabasePath,
		"statement_csv", cfg.Data.StatementPath,
		"bank_csv", cfg.Data.BankPath,
	)
	return nil
}

func (a *App) close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

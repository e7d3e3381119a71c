// Command fiscalctl is the operator tool: key ring maintenance, users and
// root key rotation.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nkiryanov/fiscalos/internal/db"
	"github.com/nkiryanov/fiscalos/internal/logger"
	"github.com/nkiryanov/fiscalos/internal/repository"
	"github.com/nkiryanov/fiscalos/internal/repository/postgres"
	"github.com/nkiryanov/fiscalos/internal/security/keyring"
)

// Settings and terminal shared by all commands
type cliApp struct {
	keyringConfig string
	databaseDSN   string
	logLevel      string

	stdin io.Reader

	// Reads password without echo; nil when stdin is not a terminal
	readPassword func() ([]byte, error)

	logger logger.Logger
}

func newCLIApp(getenv func(string) string) *cliApp {
	app := &cliApp{
		keyringConfig: "keyring.yaml",
		databaseDSN:   getenv("DATABASE_URI"),
		logLevel:      logger.LevelWarn,
		stdin:         os.Stdin,
		logger:        logger.NewNoOpLogger(),
	}
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		app.readPassword = func() ([]byte, error) { return term.ReadPassword(fd) }
	}
	if path := getenv("KEYRING_CONFIG"); path != "" {
		app.keyringConfig = path
	}
	return app
}

func newRootCmd(app *cliApp) *cobra.Command {
	root := &cobra.Command{
		Use:           "fiscalctl",
		Short:         "FiscalOS operator tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := logger.NewTextLogger(app.logLevel)
			if err != nil {
				return err
			}
			app.logger = l
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&app.keyringConfig, "keyring-config", "k", app.keyringConfig, "Key ring options file (or set KEYRING_CONFIG)")
	root.PersistentFlags().StringVarP(&app.databaseDSN, "database", "d", app.databaseDSN, "Database connection string (or set DATABASE_URI)")
	root.PersistentFlags().StringVarP(&app.logLevel, "log-level", "l", app.logLevel, "Logging level (debug, info, warn, error)")

	root.AddCommand(
		newKeysCmd(app),
		newUsersCmd(app),
		newInstitutionsCmd(app),
		newMigrateCmd(app),
	)

	return root
}

func (a *cliApp) ring(ctx context.Context) (*keyring.Ring, error) {
	opts, err := keyring.LoadOptions(a.keyringConfig)
	if err != nil {
		return nil, err
	}
	return keyring.New(ctx, opts, a.logger)
}

// Storage over fresh pool. Caller closes the pool
func (a *cliApp) storage(ctx context.Context) (repository.Storage, func(), error) {
	if a.databaseDSN == "" {
		return nil, nil, fmt.Errorf("database is not set: use --database or DATABASE_URI")
	}

	pool, err := db.Connect(ctx, a.databaseDSN)
	if err != nil {
		return nil, nil, err
	}
	return postgres.NewStorage(pool), pool.Close, nil
}

func newMigrateCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.databaseDSN == "" {
				return fmt.Errorf("database is not set: use --database or DATABASE_URI")
			}

			version, err := db.Migrate(app.databaseDSN)
			if err != nil {
				return err
			}

			cmd.Printf("Schema version: %d\n", version)
			return nil
		},
	}
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(newCLIApp(os.Getenv)).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fiscalctl: %v\n", err)
		os.Exit(1)
	}
}

// Package cmd contains the admin commands for the attendance service.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ardanlabs/attendance/business/sys/database"
	"github.com/ardanlabs/attendance/foundation/ledger"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	log *zap.SugaredLogger

	ledgerURL    string
	artifactPath string
	dbUser       string
	dbPassword   string
	dbHost       string
	dbName       string
	timeout      time.Duration
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&ledgerURL, "url", "u", "", "Url of the ledger node. (ATTEND_LEDGER_URL)")
	rootCmd.PersistentFlags().StringVarP(&artifactPath, "artifact", "c", "", "Path to the contract artifact. (ATTEND_LEDGER_ARTIFACT_PATH)")
	rootCmd.PersistentFlags().StringVar(&dbUser, "db-user", "", "Database user. (ATTEND_DB_USER)")
	rootCmd.PersistentFlags().StringVar(&dbPassword, "db-password", "", "Database password. (ATTEND_DB_PASSWORD)")
	rootCmd.PersistentFlags().StringVar(&dbHost, "db-host", "", "Database host. (ATTEND_DB_HOST)")
	rootCmd.PersistentFlags().StringVar(&dbName, "db-name", "", "Database name. (ATTEND_DB_NAME)")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", time.Minute, "Time allowed for the command.")
}

var rootCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrative tasks for the attendance service",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ledgerURL = resolve(ledgerURL, "ATTEND_LEDGER_URL", "http://127.0.0.1:7545")
		artifactPath = resolve(artifactPath, "ATTEND_LEDGER_ARTIFACT_PATH", "zblock/contracts/AttendanceSystem.json")
		dbUser = resolve(dbUser, "ATTEND_DB_USER", "postgres")
		dbPassword = resolve(dbPassword, "ATTEND_DB_PASSWORD", "postgres")
		dbHost = resolve(dbHost, "ATTEND_DB_HOST", "localhost:5432")
		dbName = resolve(dbName, "ATTEND_DB_NAME", "attendance_system")
	},
	SilenceUsage: true,
}

// Execute runs the command named on the command line.
func Execute(l *zap.SugaredLogger) error {
	log = l

	// A .env file is optional.
	_ = godotenv.Load()

	return rootCmd.ExecuteContext(context.Background())
}

// resolve picks the flag value, then the environment, then the default.
func resolve(flag string, env string, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

// session connects to the ledger and binds the contract.
func session(ctx context.Context) (*ledger.Manager, *ledger.Session, error) {
	artifact, err := ledger.LoadArtifact(artifactPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading contract artifact: %w", err)
	}

	ev := func(v string, args ...any) {
		log.Infow(fmt.Sprintf(v, args...))
	}

	mgr := ledger.NewManager(ledger.Config{
		URL:       ledgerURL,
		Artifact:  artifact,
		EvHandler: ev,
	})

	s, err := mgr.Initialize(ctx)
	if err != nil {
		return nil, nil, err
	}

	return mgr, s, nil
}

// openDB opens a connection pool to the audit store.
func openDB(ctx context.Context) (*pgxpool.Pool, error) {
	return database.Open(ctx, database.Config{
		User:       dbUser,
		Password:   dbPassword,
		Host:       dbHost,
		Name:       dbName,
		DisableTLS: true,
	})
}

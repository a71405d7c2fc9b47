package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ahwlsqja/csrf-recovery/internal/config"
	"github.com/ahwlsqja/csrf-recovery/internal/session"
	pkgdb "github.com/ahwlsqja/csrf-recovery/pkg/db"
	pkgredis "github.com/ahwlsqja/csrf-recovery/pkg/redis"
	gjson "github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const fixTimeout = 5 * time.Minute

func newFixCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fix",
		Short: "Repair stored sessions",
		Long: `Walk every stored session and repair the ones that would keep
producing 419 responses: expired sessions and undecodable payloads are
deleted, sessions without a valid token get a new one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), fixTimeout)
			defer cancel()

			store, cleanup, err := openStore(ctx, cfg, newLogger())
			if err != nil {
				errorColor.Fprintln(os.Stderr, "✗ "+err.Error())
				return err
			}
			defer cleanup()

			report, err := session.NewRepairer(store, newLogger()).Fix(ctx)
			if err != nil {
				errorColor.Fprintln(os.Stderr, "✗ repair failed: "+err.Error())
				return err
			}
			return printReport(report)
		},
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (session.Store, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var txRunner *pkgdb.TxRunner
	if cfg.Session.Driver == session.DriverMySQL {
		db, err := pkgdb.New(pkgdb.Config{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Name:            cfg.Database.Name,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return nil, cleanup, err
		}
		closers = append(closers, func() { _ = db.Close() })
		if err := pkgdb.Ping(ctx, db); err != nil {
			return nil, cleanup, err
		}
		txRunner = pkgdb.NewTxRunner(db)
	}

	var rdb *goredis.Client
	if cfg.Session.Driver == session.DriverRedis {
		client, err := pkgredis.Connect(ctx, pkgredis.Config{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, cleanup, err
		}
		closers = append(closers, func() { _ = client.Close() })
		rdb = client
	}

	store, err := session.Open(ctx, cfg.Session.Driver, rdb, txRunner, logger)
	if err != nil {
		return nil, cleanup, err
	}
	return store, cleanup, nil
}

func printReport(report session.RepairReport) error {
	if outputJSON {
		out, err := gjson.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	printHeader("Session repair")
	printField("Scanned", report.Scanned)
	printField("Expired", countColor(report.Expired))
	printField("Corrupt", countColor(report.Corrupt))
	printField("Regenerated", countColor(report.Regenerated))
	printField("Vanished", report.Vanished)

	if report.Expired+report.Corrupt+report.Regenerated == 0 {
		successColor.Println("✓ all sessions healthy")
	} else {
		successColor.Printf("✓ repaired %d sessions\n", report.Expired+report.Corrupt+report.Regenerated)
	}
	return nil
}

func countColor(n int) string {
	if n == 0 {
		return infoColor.Sprint(n)
	}
	return warningColor.Sprint(n)
}

package session

import (
	"context"
	"fmt"

	pkgdb "github.com/ahwlsqja/csrf-recovery/pkg/db"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DriverRedis = "redis"
	DriverMySQL = "mysql"
)

// Open returns the store for driver. The MySQL store creates its table on
// first use.
func Open(ctx context.Context, driver string, rdb *redis.Client, txRunner *pkgdb.TxRunner, logger *zap.Logger) (Store, error) {
	switch driver {
	case DriverRedis:
		if rdb == nil {
			return nil, fmt.Errorf("session driver %q requires redis", driver)
		}
		return NewRedisStore(rdb, logger), nil
	case DriverMySQL:
		if txRunner == nil {
			return nil, fmt.Errorf("session driver %q requires a database", driver)
		}
		store := NewMySQLStore(txRunner, logger)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown session driver %q", driver)
	}
}

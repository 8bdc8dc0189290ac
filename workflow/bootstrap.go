package workflow

import (
	"errors"
	"os"
	"strings"

	"github.com/mmdatafocus/kardex_backend/config"
	"github.com/mmdatafocus/kardex_backend/kardex"
	"github.com/mmdatafocus/kardex_backend/models"
	"github.com/sirupsen/logrus"
)

// NewFromConfig wires the engine to the connected database, the Redis group
// lock and the configured event publisher.
func NewFromConfig(logger *logrus.Logger) (*CostingWorkflow, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database not initialized")
	}
	locker := NewRedisGroupLocker(config.GetRedisLock(), config.CostingLockTTL(), logger)
	engine := kardex.NewEngine(models.NewStore(db),
		kardex.WithSettings(config.CostingSettings()),
		kardex.WithLocker(locker),
		kardex.WithLogger(logger),
	)
	wf := NewCostingWorkflow(engine, NewEventPublisher(logger), logger)
	wf.SetMessageLedger(models.NewIdempotencyStore(db))
	return wf, nil
}

// Connect prepares the globals for operator tools. A sqlitePath opens a local
// file (migrated and seeded) instead of MySQL. Redis is only dialed when
// REDIS_ADDRESS is set.
func Connect(sqlitePath string) error {
	if p := strings.TrimSpace(sqlitePath); p != "" {
		if err := config.ConnectSQLite(p); err != nil {
			return err
		}
		if err := models.Migrate(config.GetDB()); err != nil {
			return err
		}
		if _, err := models.SeedMovementTypes(config.GetDB()); err != nil {
			return err
		}
	} else {
		config.ConnectDatabaseWithRetry()
	}
	if os.Getenv("REDIS_ADDRESS") != "" {
		config.ConnectRedisWithRetry()
	}
	return nil
}

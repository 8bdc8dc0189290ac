package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/logger"
)

func TestMySQLDSN(t *testing.T) {
	t.Setenv("DB_USER", "kardex")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_HOST", "10.0.0.5")
	t.Setenv("DB_PORT", "3306")
	t.Setenv("DB_NAME", "custody")
	assert.Equal(t, "kardex:secret@tcp(10.0.0.5:3306)/custody?parseTime=true&loc=UTC", mysqlDSN())

	t.Setenv("DB_HOST", "/cloudsql/proj:region:inst")
	assert.Equal(t, "kardex:secret@unix(/cloudsql/proj:region:inst)/custody?parseTime=true&loc=UTC", mysqlDSN())
}

func TestRetryDelayIsCapped(t *testing.T) {
	assert.Equal(t, 2*time.Second, retryDelay(1))
	assert.Equal(t, 16*time.Second, retryDelay(4))
	assert.Equal(t, maxConnectDelay, retryDelay(5))
	assert.Equal(t, maxConnectDelay, retryDelay(40))
}

func TestPoolAndLogSettingsFromEnv(t *testing.T) {
	t.Setenv("DB_MAX_OPEN_CONNS", "4")
	t.Setenv("DB_MAX_IDLE_CONNS", "bad")
	t.Setenv("DB_CONN_MAX_LIFETIME_SECONDS", "")
	assert.Equal(t, poolSettings{MaxOpen: 4, MaxIdle: 5, MaxLifetime: 300 * time.Second}, poolSettingsFromEnv())

	t.Setenv("DB_LOG_LEVEL", "INFO")
	assert.Equal(t, logger.Info, gormLogLevel())
	t.Setenv("DB_LOG_LEVEL", "")
	assert.Equal(t, logger.Error, gormLogLevel())
}

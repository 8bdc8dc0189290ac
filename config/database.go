package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	db *gorm.DB
)

const maxConnectDelay = 30 * time.Second

func GetDB() *gorm.DB {
	return db
}

func init() {
	godotenv.Load()
}

// poolSettings come from DB_MAX_OPEN_CONNS, DB_MAX_IDLE_CONNS and
// DB_CONN_MAX_LIFETIME_SECONDS. Costing holds one connection per group pass,
// so the defaults are small.
type poolSettings struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
}

func poolSettingsFromEnv() poolSettings {
	return poolSettings{
		MaxOpen:     intFromEnv("DB_MAX_OPEN_CONNS", 10),
		MaxIdle:     intFromEnv("DB_MAX_IDLE_CONNS", 5),
		MaxLifetime: time.Duration(intFromEnv("DB_CONN_MAX_LIFETIME_SECONDS", 300)) * time.Second,
	}
}

// mysqlDSN builds the kardex database DSN. DB_HOST=/cloudsql/<CONNECTION_NAME>
// dials the Cloud SQL proxy socket.
func mysqlDSN() string {
	host := os.Getenv("DB_HOST")
	network, address := "tcp", host+":"+os.Getenv("DB_PORT")
	if strings.HasPrefix(host, "/cloudsql/") {
		network, address = "unix", host
	}
	return fmt.Sprintf("%s:%s@%s(%s)/%s?parseTime=true&loc=UTC",
		os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD"), network, address, os.Getenv("DB_NAME"))
}

// retryDelay doubles from 2s and caps at maxConnectDelay.
func retryDelay(attempt int) time.Duration {
	d := time.Second << min(attempt, 5)
	if d > maxConnectDelay {
		return maxConnectDelay
	}
	return d
}

// ConnectDatabaseWithRetry blocks until MySQL answers and sets the global DB.
// The server calls it after it is already listening.
func ConnectDatabaseWithRetry() {
	log := GetLogger()
	for attempt := 1; ; attempt++ {
		conn, err := gorm.Open(mysql.Open(mysqlDSN()), gormConfig())
		if err == nil {
			applyPool(conn, poolSettingsFromEnv())
			instrument(conn)
			db = conn
			log.WithFields(logrus.Fields{"attempt": attempt}).Info("kardex.db.connected")
			return
		}
		delay := retryDelay(attempt)
		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"retry":   delay.String(),
		}).Error("kardex.db.connect_failed: " + err.Error())
		time.Sleep(delay)
	}
}

// ConnectSQLite opens a local database file and sets the global DB. Operator tools
// use it to run against an exported copy instead of the MySQL instance.
func ConnectSQLite(path string) error {
	conn, err := gorm.Open(sqlite.Open(path+"?_journal_mode=WAL&_busy_timeout=5000"), gormConfig())
	if err != nil {
		return fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db = conn
	return nil
}

func applyPool(conn *gorm.DB, p poolSettings) {
	sqlDB, err := conn.DB()
	if err != nil {
		return
	}
	if p.MaxOpen > 0 {
		sqlDB.SetMaxOpenConns(p.MaxOpen)
	}
	if p.MaxIdle >= 0 {
		sqlDB.SetMaxIdleConns(p.MaxIdle)
	}
	if p.MaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(p.MaxLifetime)
	}
}

func instrument(conn *gorm.DB) {
	if err := conn.Use(otelgorm.NewPlugin()); err != nil {
		LogError(GetLogger(), "database.go", "instrument", "otelgorm", nil, err)
	}
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// gormLogLevel reads DB_LOG_LEVEL (silent, error, warn, info).
func gormLogLevel() logger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DB_LOG_LEVEL"))) {
	case "silent":
		return logger.Silent
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return logger.Error
	}
}

// gormConfig routes SQL logs through the logrus logger.
func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.New(GetLogger(), logger.Config{
			LogLevel:                  gormLogLevel(),
			SlowThreshold:             time.Second,
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
}

package mysql

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lkzdsb-lab/community-feed/internal/config"
	"github.com/lkzdsb-lab/community-feed/internal/model"
	"github.com/lkzdsb-lab/community-feed/internal/pkg"
)

var DB *gorm.DB

// InitDB 连接 MySQL 并做一次 Ping
func InitDB(cfg config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN()), GormConfig(cfg.LogLevel))
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql.DB")
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)
	if err := sqlDB.Ping(); err != nil {
		return nil, errors.Wrap(err, "ping mysql")
	}
	DB = db
	return db, nil
}

// GormConfig 统一使用 UTC 时间戳，SQL 日志走 zap
func GormConfig(level string) *gorm.Config {
	return &gorm.Config{
		Logger: logger.New(zap.NewStdLog(pkg.Logger), logger.Config{
			SlowThreshold:             2 * time.Second,
			LogLevel:                  toGormLogLevel(level),
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc:                                  func() time.Time { return time.Now().UTC() },
		DisableForeignKeyConstraintWhenMigrating: true,
	}
}

// Migrate 自动建表
func Migrate(db *gorm.DB) error {
	return errors.Wrap(db.AutoMigrate(model.All()...), "auto migrate")
}

func toGormLogLevel(level string) logger.LogLevel {
	switch level {
	case "debug":
		return logger.Info
	case "error":
		return logger.Error
	case "silent":
		return logger.Silent
	default:
		return logger.Warn
	}
}

// Package database 负责初始化各类数据库连接。
package database

import (
	"fmt"
	"time"

	"chatwithcode/pkg/log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// DB 是问答镜像表使用的 MySQL 连接，未启用镜像时为 nil。
var DB *gorm.DB

// InitMySQL 初始化 MySQL 数据库连接，并迁移给定的模型。
func InitMySQL(dsn string, models ...interface{}) error {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect mysql: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			return fmt.Errorf("failed to migrate mysql tables: %w", err)
		}
	}
	DB = db
	log.Info("MySQL database connected successfully")
	return nil
}

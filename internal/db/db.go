package db

import (
	"strings"
	"time"

	"roomchat/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the database named by dsn. "sqlite:" DSNs open a local file
// (or ":memory:"); anything else is handed to the Postgres driver, with a short
// retry loop so the service can start before its database container is ready.
func Connect(dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if path, ok := strings.CutPrefix(dsn, "sqlite:"); ok {
		// Cascades on messages depend on foreign keys being enforced on every
		// pooled connection, so the pragma goes in the DSN.
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return gorm.Open(sqlite.Open(path+sep+"_foreign_keys=on"), cfg)
	}

	var gdb *gorm.DB
	var err error
	for i := 0; i < 10; i++ {
		gdb, err = gorm.Open(postgres.Open(dsn), cfg)
		if err == nil {
			sqlDB, err2 := gdb.DB()
			if err2 == nil {
				sqlDB.SetMaxIdleConns(5)
				sqlDB.SetMaxOpenConns(20)
				sqlDB.SetConnMaxLifetime(time.Hour)
				return gdb, nil
			}
			err = err2
		}
		time.Sleep(time.Duration(500+i*200) * time.Millisecond)
	}
	return nil, err
}

// Migrate creates or updates the users, rooms, messages and sessions tables.
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&models.User{}, &models.Room{}, &models.Message{}, &models.Session{})
}

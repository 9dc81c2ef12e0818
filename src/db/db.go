package db

import (
	"daypass/src/config"
	"fmt"
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var db *gorm.DB

func GetDb() *gorm.DB {
	if db != nil {
		return db
	}
	var dialector gorm.Dialector
	if config.DatabaseDriver() == "sqlite" {
		dialector = sqlite.Open(config.SQLitePath())
	} else {
		dialector = postgres.Open(config.GetDSN())
	}
	_db, err := gorm.Open(dialector)
	if err != nil {
		log.Printf("Error connecting to database: %s\n", err.Error())
		panic(err)
	}
	sqlDB, err := _db.DB()
	if err != nil {
		log.Fatalf("Error establishing connection to database: %s\n", err.Error())
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	if config.DatabaseDriver() == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	}

	db = _db
	return _db
}

func NewDB(newdb *gorm.DB) {
	db = newdb
}

// NewMemoryDB opens a private in-memory SQLite database migrated with models.
// The pool is capped at one connection so every query sees the same memory.
func NewMemoryDB(name string, models ...any) (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	_db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := _db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	if err := _db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	return _db, nil
}

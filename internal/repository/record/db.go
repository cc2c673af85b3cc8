package record

import (
	"fmt"

	"github.com/wb-go/wbf/dbpg"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open wraps the master connection of db in a GORM handle.
// Connection pooling stays with dbpg.
func Open(db *dbpg.DB) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db.Master}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm: %w", err)
	}

	return gdb, nil
}

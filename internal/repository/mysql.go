package repository

import (
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/opensource-finance/churnguard/internal/domain"
)

// openMySQL opens a MySQL database connection.
func openMySQL(cfg domain.RepositoryConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", mysqlDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping mysql database: %w", err)
	}

	return db, nil
}

// mysqlDSN builds the DSN with parseTime so DATETIME columns scan into time.Time.
func mysqlDSN(cfg domain.RepositoryConfig) string {
	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = cfg.MySQLAddr
	if mc.Addr == "" {
		mc.Addr = "localhost:3306"
	}
	mc.User = cfg.MySQLUser
	mc.Passwd = cfg.MySQLPassword
	mc.DBName = cfg.MySQLDB
	if mc.DBName == "" {
		mc.DBName = "churnguard"
	}
	mc.ParseTime = true
	return mc.FormatDSN()
}

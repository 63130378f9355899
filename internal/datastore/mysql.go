package datastore

import (
	"net"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tphakala/birdnet-walker/internal/conf"
	"github.com/tphakala/birdnet-walker/internal/logger"
)

// MySQLStore implements Interface for a shared MySQL database
type MySQLStore struct {
	DataStore
	Settings *conf.Settings
}

// mysqlDSN builds the connection string for the configured server.
func mysqlDSN(cfg *conf.MySQLConfig) string {
	dc := mysqldriver.NewConfig()
	dc.User = cfg.Username
	dc.Passwd = cfg.Password
	dc.Net = "tcp"
	dc.Addr = net.JoinHostPort(cfg.Host, cfg.Port)
	dc.DBName = cfg.Database
	dc.ParseTime = true
	dc.Loc = time.Local
	dc.Params = map[string]string{"charset": "utf8mb4"}
	return dc.FormatDSN()
}

// Open sets up the MySQL database connection and schema
func (store *MySQLStore) Open() error {
	cfg := &store.Settings.Output.MySQL
	if cfg.Host == "" || cfg.Database == "" {
		return validationError("mysql host and database must be set", "output.mysql", cfg.Host)
	}

	db, err := gorm.Open(mysql.Open(mysqlDSN(cfg)), &gorm.Config{Logger: createGormLogger(store.Logger)})
	if err != nil {
		store.Logger.Error("Failed to open MySQL database",
			logger.String("host", cfg.Host),
			logger.String("port", cfg.Port),
			logger.String("database", cfg.Database),
			logger.Error(err))
		return dbError(err, "open", "host", cfg.Host, "database", cfg.Database)
	}

	store.DB = db
	store.dialect = DialectMySQL
	return performAutoMigration(db, store.Logger, "MySQL", net.JoinHostPort(cfg.Host, cfg.Port)+"/"+cfg.Database)
}

// Close MySQL database connections
func (store *MySQLStore) Close() error {
	return store.closeDB()
}

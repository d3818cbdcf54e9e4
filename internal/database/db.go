package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Settings carries what Open needs to reach the booking database.
type Settings struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

// DSN renders the driver connection string.  Times are parsed into UTC and
// UPDATE reports matched rows so compare-and-swap statements can tell a
// lost race from a no-op write.
func (s Settings) DSN() string {
	c := mysql.NewConfig()
	c.User = s.User
	c.Passwd = s.Pass
	c.Net = "tcp"
	c.Addr = fmt.Sprintf("%s:%s", s.Host, s.Port)
	c.DBName = s.Name
	c.ParseTime = true
	c.Loc = time.UTC
	c.ClientFoundRows = true
	c.MultiStatements = false
	c.Params = map[string]string{"charset": "utf8mb4"}
	return c.FormatDSN()
}

// Open connects to MySQL and verifies the connection.
func Open(ctx context.Context, s Settings) (*sql.DB, error) {
	db, err := sql.Open("mysql", s.DSN())
	if err != nil {
		return nil, err
	}

	// Pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}

// Package drivers maps a config.DriverConfig to a Creator and Detector from
// one of the bundled driver integrations.
package drivers

import (
	"sort"

	"github.com/ajitpratap0/dbpool/pkg/config"
	"github.com/ajitpratap0/dbpool/pkg/drivers/gomysql"
	"github.com/ajitpratap0/dbpool/pkg/drivers/pgxconn"
	"github.com/ajitpratap0/dbpool/pkg/drivers/sqlconn"
	"github.com/ajitpratap0/dbpool/pkg/errors"
	"github.com/ajitpratap0/dbpool/pkg/pool"
)

// Driver names.
const (
	PGX       = "pgx"
	GoMySQL   = "gomysql"
	MySQL     = sqlconn.DriverMySQL
	SQLite    = sqlconn.DriverSQLite
	Snowflake = sqlconn.DriverSnowflake
)

// Backend is an opened driver integration.
type Backend struct {
	Creator  pool.Creator
	Detector pool.Detector
}

// Open resolves cfg to a Backend.
func Open(cfg config.DriverConfig) (Backend, error) {
	if cfg.DSN == "" {
		return Backend{}, errors.New(errors.ErrorTypeConfig, "driver.dsn is required").
			WithDetail("driver", cfg.Name)
	}
	switch cfg.Name {
	case PGX:
		c, err := pgxconn.NewCreator(cfg.DSN)
		if err != nil {
			return Backend{}, err
		}
		return Backend{Creator: c, Detector: pgxconn.Detector{}}, nil

	case GoMySQL:
		c, err := gomysql.NewCreator(cfg.DSN)
		if err != nil {
			return Backend{}, err
		}
		return Backend{Creator: c, Detector: gomysql.Detector{}}, nil

	case MySQL, SQLite, Snowflake:
		connector, err := sqlconn.Open(cfg.Name, cfg.DSN)
		if err != nil {
			return Backend{}, err
		}
		return Backend{Creator: sqlconn.Creator(connector), Detector: sqlconn.Detector{}}, nil

	default:
		return Backend{}, errors.Newf(errors.ErrorTypeConfig, "unknown driver %q, expected one of %v", cfg.Name, Names())
	}
}

// Names lists the supported driver names.
func Names() []string {
	names := []string{PGX, GoMySQL, MySQL, SQLite, Snowflake}
	sort.Strings(names)
	return names
}

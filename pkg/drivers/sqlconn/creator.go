package sqlconn

import (
	"context"
	"database/sql/driver"

	"github.com/go-sql-driver/mysql"
	"github.com/snowflakedb/gosnowflake"
	"modernc.org/sqlite"

	"github.com/ajitpratap0/dbpool/pkg/errors"
	"github.com/ajitpratap0/dbpool/pkg/pool"
)

// Driver names accepted by Open.
const (
	DriverMySQL     = "mysql"
	DriverSQLite    = "sqlite"
	DriverSnowflake = "snowflake"
)

// Creator returns a pool.Creator that opens connections from connector.
func Creator(connector driver.Connector) pool.Creator {
	return func(ctx context.Context) (pool.Conn, error) {
		raw, err := connector.Connect(ctx)
		if err != nil {
			return nil, err
		}
		return &Conn{raw: raw}, nil
	}
}

// Open builds a connector for one of the bundled drivers.
func Open(name, dsn string) (driver.Connector, error) {
	switch name {
	case DriverMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid mysql dsn")
		}
		connector, err := mysql.NewConnector(cfg)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create mysql connector")
		}
		return connector, nil

	case DriverSQLite:
		return FromDriver(&sqlite.Driver{}, dsn), nil

	case DriverSnowflake:
		cfg, err := gosnowflake.ParseDSN(dsn)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid snowflake dsn")
		}
		return gosnowflake.NewConnector(gosnowflake.SnowflakeDriver{}, *cfg), nil

	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported driver %q", name)
	}
}

// FromDriver adapts a driver.Driver with a fixed DSN to a driver.Connector.
func FromDriver(d driver.Driver, dsn string) driver.Connector {
	if dc, ok := d.(driver.DriverContext); ok {
		if c, err := dc.OpenConnector(dsn); err == nil {
			return c
		}
	}
	return dsnConnector{dsn: dsn, driver: d}
}

type dsnConnector struct {
	dsn    string
	driver driver.Driver
}

func (c dsnConnector) Connect(ctx context.Context) (driver.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.driver.Open(c.dsn)
}

func (c dsnConnector) Driver() driver.Driver { return c.driver }

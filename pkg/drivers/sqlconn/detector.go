package sqlconn

import (
	"github.com/go-sql-driver/mysql"
	"github.com/snowflakedb/gosnowflake"

	"github.com/ajitpratap0/dbpool/pkg/errors"
	"github.com/ajitpratap0/dbpool/pkg/pool"
)

// MySQL server errors that end the session.
var mysqlDisconnectCodes = map[uint16]bool{
	1053: true, // ER_SERVER_SHUTDOWN
	1077: true, // ER_NORMAL_SHUTDOWN
	1080: true, // ER_FORCING_CLOSE
	1152: true, // ER_ABORTING_CONNECTION
	1927: true, // ER_CONNECTION_KILLED
	4031: true, // ER_CLIENT_INTERACTION_TIMEOUT
}

// Snowflake errors after which the session cannot be reused.
var snowflakeDisconnectCodes = map[int]bool{
	gosnowflake.ErrCodeServiceUnavailable: true,
	gosnowflake.ErrCodeFailedToConnect:    true,
	gosnowflake.ErrSessionGone:            true,
}

// Detector extends pool.DefaultDetector with MySQL and Snowflake error codes.
type Detector struct {
	pool.DefaultDetector
}

var _ pool.Detector = Detector{}

// IsDisconnect implements pool.Detector.
func (d Detector) IsDisconnect(err error) bool {
	if d.DefaultDetector.IsDisconnect(err) {
		return true
	}
	if errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return mysqlDisconnectCodes[myErr.Number]
	}
	var sfErr *gosnowflake.SnowflakeError
	if errors.As(err, &sfErr) {
		return snowflakeDisconnectCodes[sfErr.Number]
	}
	return false
}

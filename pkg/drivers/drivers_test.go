package drivers

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/dbpool/pkg/config"
	"github.com/ajitpratap0/dbpool/pkg/drivers/gomysql"
	"github.com/ajitpratap0/dbpool/pkg/drivers/pgxconn"
	"github.com/ajitpratap0/dbpool/pkg/drivers/sqlconn"
	"github.com/ajitpratap0/dbpool/pkg/errors"
)

func TestOpen(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.DriverConfig
		detector interface{}
	}{
		{"pgx", config.DriverConfig{Name: PGX, DSN: "postgres://app@localhost/app"}, pgxconn.Detector{}},
		{"gomysql", config.DriverConfig{Name: GoMySQL, DSN: "mysql://app@localhost/app"}, gomysql.Detector{}},
		{"mysql", config.DriverConfig{Name: MySQL, DSN: "app@tcp(localhost:3306)/app"}, sqlconn.Detector{}},
		{"sqlite", config.DriverConfig{Name: SQLite, DSN: "file:test.db"}, sqlconn.Detector{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Open(tt.cfg)
			require.NoError(t, err)
			assert.NotNil(t, b.Creator)
			assert.IsType(t, tt.detector, b.Detector)
		})
	}
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(config.DriverConfig{Name: PGX})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = Open(config.DriverConfig{Name: "oracle", DSN: "x"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Contains(t, err.Error(), "sqlite")
}

func TestSQLiteConnects(t *testing.T) {
	b, err := Open(config.DriverConfig{Name: SQLite, DSN: filepath.Join(t.TempDir(), "open.db")})
	require.NoError(t, err)

	conn, err := b.Creator(context.Background())
	require.NoError(t, err)
	assert.True(t, b.Detector.Ping(context.Background(), conn))
	require.NoError(t, conn.Close())
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"gomysql", "mysql", "pgx", "snowflake", "sqlite"}, Names())
}

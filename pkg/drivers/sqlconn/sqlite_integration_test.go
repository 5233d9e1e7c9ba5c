package sqlconn

import (
	"context"
	"database/sql/driver"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/ajitpratap0/dbpool/pkg/config"
	"github.com/ajitpratap0/dbpool/pkg/pool"
	"github.com/ajitpratap0/dbpool/pkg/testutil"
)

type SQLiteSuite struct {
	testutil.IntegrationTestSuite
	creator pool.Creator
}

func TestSQLiteSuite(t *testing.T) {
	testutil.IntegrationTest(t)
	suite.Run(t, new(SQLiteSuite))
}

func (s *SQLiteSuite) SetupTest() {
	connector, err := Open(DriverSQLite, s.TempPath(strings.ReplaceAll(s.T().Name(), "/", "_")+".db"))
	s.Require().NoError(err)
	s.creator = Creator(connector)
}

func (s *SQLiteSuite) newPool(reset string) *pool.Pool {
	cfg := config.NewPoolConfig("sqlite")
	cfg.Size = 1
	cfg.PrePing = true
	cfg.ResetOnReturn = reset
	return s.NewPool(cfg, s.creator, pool.WithDetector(Detector{}))
}

func (s *SQLiteSuite) withConn(p *pool.Pool, fn func(*Conn)) {
	f, err := p.Acquire(s.Context())
	s.Require().NoError(err)
	c, err := f.Conn()
	s.Require().NoError(err)
	conn, ok := c.(*Conn)
	s.Require().True(ok)
	fn(conn)
	s.Require().NoError(f.Close())
}

func (s *SQLiteSuite) count(ctx context.Context, c *Conn) int64 {
	row, err := c.QueryRow(ctx, "SELECT COUNT(*) FROM items")
	s.Require().NoError(err)
	s.Require().Len(row, 1)
	return row[0].(int64)
}

func (s *SQLiteSuite) TestRollbackOnReturn() {
	p := s.newPool(config.ResetRollback)
	ctx := s.Context()

	s.withConn(p, func(c *Conn) {
		_, err := c.Exec(ctx, "CREATE TABLE items (name TEXT)")
		s.Require().NoError(err)
		s.Require().NoError(c.Begin(ctx, driver.TxOptions{}))
		n, err := c.Exec(ctx, "INSERT INTO items (name) VALUES (?)", Args("left open")...)
		s.Require().NoError(err)
		s.Equal(int64(1), n)
	})

	s.withConn(p, func(c *Conn) {
		s.Equal(int64(0), s.count(ctx, c))
	})
	s.Equal(int64(1), p.Stats().Created)
}

func (s *SQLiteSuite) TestCommitOnReturn() {
	p := s.newPool(config.ResetCommit)
	ctx := s.Context()

	s.withConn(p, func(c *Conn) {
		_, err := c.Exec(ctx, "CREATE TABLE items (name TEXT)")
		s.Require().NoError(err)
		s.Require().NoError(c.Begin(ctx, driver.TxOptions{}))
		_, err = c.Exec(ctx, "INSERT INTO items (name) VALUES (?)", Args("kept")...)
		s.Require().NoError(err)
	})

	s.withConn(p, func(c *Conn) {
		s.Equal(int64(1), s.count(ctx, c))
	})
}

func (s *SQLiteSuite) TestRecreatePoolReplacesConnection() {
	p := s.newPool(config.ResetRollback)
	recorder := testutil.NewRecorder(p.Events())

	s.withConn(p, func(*Conn) {})
	p.RecreatePool()
	s.withConn(p, func(*Conn) {})

	s.Equal(int64(2), p.Stats().Created)
	s.Equal(2, recorder.Count(pool.EventConnect))
	s.Equal(1, recorder.Count(pool.EventClose))
}

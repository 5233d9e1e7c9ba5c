package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/ajitpratap0/dbpool/pkg/config"
	"github.com/ajitpratap0/dbpool/pkg/pool"
)

// IntegrationTestSuite runs pool tests against a real driver. Embedding
// suites set Creator in SetupSuite before calling NewPool.
type IntegrationTestSuite struct {
	suite.Suite
	ctx       context.Context
	cancel    context.CancelFunc
	tempDir   string
	startTime time.Time
	logger    *zap.Logger
	pools     []*pool.Pool
}

// SetupSuite runs before all tests in the suite
func (s *IntegrationTestSuite) SetupSuite() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)
	s.startTime = time.Now()
	s.logger = zap.NewNop()

	tempDir, err := os.MkdirTemp("", "dbpool-test-*")
	require.NoError(s.T(), err)
	s.tempDir = tempDir

	s.T().Logf("Integration test suite started in %s", s.tempDir)
}

// TearDownTest disposes every pool created by the test.
func (s *IntegrationTestSuite) TearDownTest() {
	for _, p := range s.pools {
		s.NoError(p.Dispose())
	}
	s.pools = nil
}

// TearDownSuite runs after all tests in the suite
func (s *IntegrationTestSuite) TearDownSuite() {
	s.cancel()

	if s.tempDir != "" {
		os.RemoveAll(s.tempDir)
	}

	s.T().Logf("Integration test suite completed in %v", time.Since(s.startTime))
}

// Context returns the suite context
func (s *IntegrationTestSuite) Context() context.Context {
	return s.ctx
}

// TempDir returns the temporary directory path
func (s *IntegrationTestSuite) TempDir() string {
	return s.tempDir
}

// TempPath returns a path inside the suite's temporary directory.
func (s *IntegrationTestSuite) TempPath(name string) string {
	return filepath.Join(s.tempDir, name)
}

// NewPool creates a pool that is disposed after the current test.
func (s *IntegrationTestSuite) NewPool(cfg *config.PoolConfig, creator pool.Creator, opts ...pool.Option) *pool.Pool {
	opts = append([]pool.Option{pool.WithLogger(s.logger)}, opts...)
	p, err := pool.New(cfg, creator, opts...)
	s.Require().NoError(err)
	s.pools = append(s.pools, p)
	return p
}

// IntegrationTest marks a test as an integration test
func IntegrationTest(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

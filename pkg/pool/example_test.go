package pool_test

import (
	"context"
	"fmt"
	"time"

	"github.com/ajitpratap0/dbpool/pkg/config"
	"github.com/ajitpratap0/dbpool/pkg/errors"
	"github.com/ajitpratap0/dbpool/pkg/pool"
	"github.com/ajitpratap0/dbpool/pkg/testutil"
)

func ExamplePool_Acquire() {
	cfg := config.NewPoolConfig("example")
	cfg.Size = 1
	cfg.MaxOverflow = 0
	cfg.Timeout = 0

	creator := testutil.NewFakeCreator()
	p, err := pool.New(cfg, creator.Creator())
	if err != nil {
		panic(err)
	}
	defer p.Dispose()

	f, err := p.Acquire(context.Background())
	if err != nil {
		panic(err)
	}

	_, err = p.Acquire(context.Background())
	fmt.Println("exhausted:", errors.IsExhausted(err))

	_ = f.Close()
	fmt.Println(p.Status())
	// Output:
	// exhausted: true
	// Pool size: 1  Connections in pool: 1 Current Overflow: 0 Current Checked out connections: 0
}

func ExamplePool_RecreatePool() {
	cfg := config.NewPoolConfig("example")
	cfg.Timeout = time.Second

	p, _ := pool.New(cfg, testutil.NewFakeCreator().Creator())
	defer p.Dispose()

	f, _ := p.Acquire(context.Background())
	before := f.Record()
	_ = f.Close()

	p.RecreatePool()

	f, _ = p.Acquire(context.Background())
	fmt.Println("same record:", f.Record() == before)
	fmt.Println("generation:", f.Record().Generation())
	_ = f.Close()
	// Output:
	// same record: false
	// generation: 1
}

func ExampleListeners_On() {
	p, _ := pool.New(config.NewPoolConfig("example"), testutil.NewFakeCreator().Creator())
	defer p.Dispose()

	err := p.Events().On(pool.EventCheckout, func(conn pool.Conn, rec *pool.Record, f *pool.Fairy) error {
		fmt.Println("checkout, use count", rec.UseCount())
		return nil
	})
	if err != nil {
		panic(err)
	}

	f, _ := p.Acquire(context.Background())
	_ = f.Close()
	// Output:
	// checkout, use count 1
}

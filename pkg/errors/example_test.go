// Package errors provides examples of structured error handling for the pool.
package errors_test

import (
	"context"
	"fmt"
	"io"

	"github.com/ajitpratap0/dbpool/pkg/errors"
)

// Example demonstrates basic error creation with details.
func Example() {
	err := errors.New(errors.ErrorTypePoolExhausted, "pool limit of 5 reached, timed out after 30s")

	err = err.WithDetail("size", 5).
		WithDetail("max_overflow", 0)

	fmt.Println(err.Error())

	// Output:
	// pool_exhausted: pool limit of 5 reached, timed out after 30s
}

// ExampleWrap shows how a driver error is wrapped and still reachable.
func ExampleWrap() {
	err := errors.Wrap(io.EOF, errors.ErrorTypeConnection, "failed to open connection")

	if errors.IsType(err, errors.ErrorTypeConnection) {
		fmt.Println("connection error")
	}
	if errors.Is(err, io.EOF) {
		fmt.Println("caused by EOF")
	}

	// Output:
	// connection error
	// caused by EOF
}

// ExampleDisconnection demonstrates a disconnection that invalidates the pool.
func ExampleDisconnection() {
	err := errors.Disconnection(context.DeadlineExceeded, "ping failed", true)

	fmt.Println(errors.IsDisconnection(err))
	fmt.Println(errors.InvalidatesPool(err))
	fmt.Println(errors.IsRetryable(err))

	// Output:
	// true
	// true
	// true
}

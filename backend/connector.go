// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package backend

import (
	"context"
	"sync/atomic"

	"github.com/luxfi/fhevm"
)

var _ fhevm.Connector = (*CountingConnector)(nil)

// CountingConnector wraps a Connector and counts binding attempts. When a
// gate is set, Connect blocks until the gate is closed or ctx is done.
type CountingConnector struct {
	connector fhevm.Connector
	gate      <-chan struct{}
	attempts  atomic.Int64
}

func NewCountingConnector(connector fhevm.Connector) *CountingConnector {
	return &CountingConnector{connector: connector}
}

// WithGate holds every Connect until gate is closed.
func (c *CountingConnector) WithGate(gate <-chan struct{}) *CountingConnector {
	c.gate = gate
	return c
}

func (c *CountingConnector) Connect(ctx context.Context, network fhevm.Network) (fhevm.Backend, error) {
	c.attempts.Add(1)
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return c.connector.Connect(ctx, network)
}

// Attempts returns the number of Connect calls so far.
func (c *CountingConnector) Attempts() int64 {
	return c.attempts.Load()
}

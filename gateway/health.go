// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/alexliesenfeld/health"
)

const healthCheckTimeout = 5 * time.Second

// NewHealthHandler serves the result of checkFunc in the health library's
// JSON format.
func NewHealthHandler(checkFunc func(context.Context) error) http.Handler {
	healthChecker := health.NewChecker(
		health.WithCheck(health.Check{
			Name:    "fhevm-gateway-health",
			Timeout: healthCheckTimeout,
			Check:   checkFunc,
		}),
	)

	return health.NewHandler(healthChecker)
}

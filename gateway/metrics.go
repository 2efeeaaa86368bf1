// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gateway

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type GatewayMetrics struct {
	requestCount     *prometheus.CounterVec
	requestLatencyMS *prometheus.HistogramVec
	rateLimitedCount prometheus.Counter
	keyRotationCount prometheus.Counter
}

func NewGatewayMetrics(registerer prometheus.Registerer) *GatewayMetrics {
	m := GatewayMetrics{
		requestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fhevm_gateway_request_count",
				Help: "Number of gateway requests by route and status",
			},
			[]string{"route", "status"},
		),
		requestLatencyMS: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fhevm_gateway_request_latency_ms",
				Help:    "Latency of gateway requests in milliseconds",
				Buckets: prometheus.ExponentialBucketsRange(1, 10000, 10),
			},
			[]string{"route"},
		),
		rateLimitedCount: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fhevm_gateway_rate_limited_count",
				Help: "Number of decryption requests rejected by the rate limiter",
			},
		),
		keyRotationCount: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fhevm_gateway_key_rotation_count",
				Help: "Number of public key rotations",
			},
		),
	}

	registerer.MustRegister(m.requestCount)
	registerer.MustRegister(m.requestLatencyMS)
	registerer.MustRegister(m.rateLimitedCount)
	registerer.MustRegister(m.keyRotationCount)

	return &m
}

func (m *GatewayMetrics) observe(route string, status int, start time.Time) {
	if m == nil {
		return
	}
	m.requestCount.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.requestLatencyMS.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
}

func (m *GatewayMetrics) rateLimited() {
	if m == nil {
		return
	}
	m.rateLimitedCount.Inc()
}

func (m *GatewayMetrics) keyRotated() {
	if m == nil {
		return
	}
	m.keyRotationCount.Inc()
}

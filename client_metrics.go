// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhevm

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type ClientMetrics struct {
	operationCount     *prometheus.CounterVec
	operationLatencyMS *prometheus.HistogramVec
	initAttemptCount   prometheus.Counter
	initFailureCount   prometheus.Counter
}

func NewClientMetrics(registerer prometheus.Registerer) *ClientMetrics {
	m := ClientMetrics{
		operationCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fhevm_client_operation_count",
				Help: "Number of client operations by outcome",
			},
			[]string{"operation", "result"},
		),
		operationLatencyMS: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fhevm_client_operation_latency_ms",
				Help:    "Latency of client operations in milliseconds",
				Buckets: prometheus.ExponentialBucketsRange(1, 10000, 10),
			},
			[]string{"operation"},
		),
		initAttemptCount: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fhevm_client_init_attempt_count",
				Help: "Number of backend binding attempts",
			},
		),
		initFailureCount: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fhevm_client_init_failure_count",
				Help: "Number of failed backend binding attempts",
			},
		),
	}

	registerer.MustRegister(m.operationCount)
	registerer.MustRegister(m.operationLatencyMS)
	registerer.MustRegister(m.initAttemptCount)
	registerer.MustRegister(m.initFailureCount)

	return &m
}

// observe records one operation. The result label is the error kind, or
// "ok".
func (m *ClientMetrics) observe(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = CodeOf(err).String()
	}
	m.operationCount.WithLabelValues(operation, result).Inc()
	m.operationLatencyMS.WithLabelValues(operation).Observe(float64(time.Since(start).Milliseconds()))
}

func (m *ClientMetrics) initAttempt(err error) {
	if m == nil {
		return
	}
	m.initAttemptCount.Inc()
	if err != nil {
		m.initFailureCount.Inc()
	}
}

// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendly_http_requests_total",
		Help: "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "code"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "attendly_http_request_duration_seconds",
		Help:    "HTTP request latency by method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	RecordsUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendly_attendance_records_upserted_total",
		Help: "Attendance records written, by action (created or updated).",
	}, []string{"action"})

	Reports = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendly_reports_total",
		Help: "Attendance reports served, by cache outcome (hit, miss, warm).",
	}, []string{"cache"})

	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendly_events_processed_total",
		Help: "Queue events handled by the cache warmer, by result.",
	}, []string{"result"})
)

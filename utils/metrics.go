package utils

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "minblog",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "minblog",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method and route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	PostViews = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "minblog",
		Name:      "post_views_total",
		Help:      "View increments applied to posts.",
	})

	PostLikes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "minblog",
		Name:      "post_likes_total",
		Help:      "Like increments applied to posts.",
	})

	IndexRebuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "minblog",
		Name:      "index_rebuilds_total",
		Help:      "KV secondary index rebuilds by result.",
	}, []string{"result"})

	BackgroundFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "minblog",
		Name:      "background_task_failures_total",
		Help:      "Fire-and-forget tasks that failed, by task.",
	}, []string{"task"})
)

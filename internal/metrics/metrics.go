// Package metrics holds the Prometheus collectors shared across agora.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SnapshotsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agora_feed_snapshots_ingested_total",
		Help: "Number of full post snapshots applied to the feed",
	})

	PostsInView = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agora_feed_posts_in_view",
		Help: "Number of posts in the derived feed view",
	})

	Likes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agora_feed_likes_total",
		Help: "Number of likes applied on this device",
	})

	Comments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agora_feed_comments_total",
		Help: "Number of comments written from this device",
	})

	PostsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agora_posts_created_total",
		Help: "Number of posts created from this device",
	})

	OptimisticReverts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agora_feed_optimistic_reverts_total",
		Help: "Optimistic updates rolled back after a failed write",
	}, []string{"operation"})

	SubscriptionReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agora_subscription_reconnects_total",
		Help: "Number of times a realtime subscription stream was re-established",
	})
)

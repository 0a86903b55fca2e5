package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pollere/syncps/metrics"
)

const subsystem = "engine"

var (
	pubsActive = metrics.NewGauge(
		"pubs_active",
		subsystem,
		"number of active publications held by the collection",
		[]string{"collection"},
	)
	pubsPublished = metrics.NewCounter(
		"pubs_published_total",
		subsystem,
		"locally originated publications accepted by Publish",
		[]string{"collection"},
	)
	pubsReceived = metrics.NewCounter(
		"pubs_received_total",
		subsystem,
		"remote publications accepted from an inbound cAdd",
		[]string{"collection"},
	)
	cAddsSent = metrics.NewCounter(
		"cadds_sent_total",
		subsystem,
		"cAdd packets sent in response to a peer cState",
		[]string{"collection"},
	)
	cStatesSent = metrics.NewCounter(
		"cstates_sent_total",
		subsystem,
		"cState interests expressed",
		[]string{"collection"},
	)
	peelResidue = metrics.NewCounter(
		"iblt_peel_residue_total",
		subsystem,
		"IBLT diffs that left residue after peeling (diff too large)",
		[]string{"collection"},
	)
)

// metricsVec bundles the label-bound collectors for one engine instance.
type metricsVec struct {
	pubsActive    prometheus.Gauge
	pubsPublished prometheus.Counter
	pubsReceived  prometheus.Counter
	cAddsSent     prometheus.Counter
	cStatesSent   prometheus.Counter
	peelResidue   prometheus.Counter
}

func newMetricsVec(collection string) metricsVec {
	return metricsVec{
		pubsActive:    pubsActive.WithLabelValues(collection),
		pubsPublished: pubsPublished.WithLabelValues(collection),
		pubsReceived:  pubsReceived.WithLabelValues(collection),
		cAddsSent:     cAddsSent.WithLabelValues(collection),
		cStatesSent:   cStatesSent.WithLabelValues(collection),
		peelResidue:   peelResidue.WithLabelValues(collection),
	}
}

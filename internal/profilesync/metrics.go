package profilesync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	writeThroughsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profile_write_throughs_total",
			Help: "Total number of profile write-throughs to the document store",
		},
		[]string{"trigger", "result"},
	)

	snapshotsAppliedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "profile_snapshots_applied_total",
			Help: "Total number of remote snapshots merged into the draft",
		},
	)

	snapshotFieldsSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "profile_snapshot_fields_skipped_total",
			Help: "Total number of snapshot fields skipped because of local dirty edits",
		},
	)

	validationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profile_validation_failures_total",
			Help: "Total number of field validation failures",
		},
		[]string{"field"},
	)

	lateCallbacksDiscardedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "profile_late_callbacks_discarded_total",
			Help: "Total number of snapshots and write results discarded after draft close or switch",
		},
	)
)

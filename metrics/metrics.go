package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const metricNamespace = "percona_dbclone_mongodb"

// Counters.
var (
	//nolint:gochecknoglobals
	documentsCopiedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "documents_copied_total",
		Help:      "Total number of documents copied into the local node.",
		Namespace: metricNamespace,
	})

	//nolint:gochecknoglobals
	documentsSkippedCorruptTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "documents_skipped_corrupt_total",
		Help:      "Total number of corrupt documents skipped during copy.",
		Namespace: metricNamespace,
	})

	//nolint:gochecknoglobals
	duplicateKeysIgnoredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "duplicate_keys_ignored_total",
		Help:      "Total number of inserts tolerated as duplicate keys.",
		Namespace: metricNamespace,
	})

	//nolint:gochecknoglobals
	writeConflictRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "write_conflict_retries_total",
		Help:      "Total number of write-conflict retries.",
		Namespace: metricNamespace,
	})

	//nolint:gochecknoglobals
	lockYieldsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "lock_yields_total",
		Help:      "Total number of exclusive lock yields during document copy.",
		Namespace: metricNamespace,
	})

	//nolint:gochecknoglobals
	collectionsProvisionedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "collections_provisioned_total",
		Help:      "Total number of collections created or reconciled locally.",
		Namespace: metricNamespace,
	})

	//nolint:gochecknoglobals
	collectionsClonedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "collections_cloned_total",
		Help:      "Total number of collections whose documents were copied.",
		Namespace: metricNamespace,
	})

	//nolint:gochecknoglobals
	indexBuildsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "index_builds_total",
		Help:      "Total number of secondary index builds by outcome.",
		Namespace: metricNamespace,
	}, []string{"outcome"})
)

// Gauges.
var (
	//nolint:gochecknoglobals
	cloneDurationSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:      "clone_duration_seconds",
		Help:      "Duration of the last clone operation in seconds.",
		Namespace: metricNamespace,
	})

	//nolint:gochecknoglobals
	cloneInProgress = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:      "clone_in_progress",
		Help:      "Whether a clone operation is currently running.",
		Namespace: metricNamespace,
	})
)

// Init initializes and registers the metrics.
func Init(reg prometheus.Registerer) {
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{
		Namespace: metricNamespace,
	}))

	reg.MustRegister(
		documentsCopiedTotal,
		documentsSkippedCorruptTotal,
		duplicateKeysIgnoredTotal,
		writeConflictRetriesTotal,
		lockYieldsTotal,
		collectionsProvisionedTotal,
		collectionsClonedTotal,
		indexBuildsTotal,

		cloneDurationSeconds,
		cloneInProgress,
	)
}

// AddDocumentsCopied increments the copied documents counter.
func AddDocumentsCopied(v int) {
	documentsCopiedTotal.Add(float64(v))
}

// IncDocumentsSkippedCorrupt increments the skipped corrupt documents counter.
func IncDocumentsSkippedCorrupt() {
	documentsSkippedCorruptTotal.Inc()
}

// IncDuplicateKeysIgnored increments the tolerated duplicate-key counter.
func IncDuplicateKeysIgnored() {
	duplicateKeysIgnoredTotal.Inc()
}

// IncWriteConflictRetries increments the write-conflict retry counter.
func IncWriteConflictRetries() {
	writeConflictRetriesTotal.Inc()
}

// IncLockYields increments the lock yield counter.
func IncLockYields() {
	lockYieldsTotal.Inc()
}

// IncCollectionsProvisioned increments the provisioned collections counter.
func IncCollectionsProvisioned() {
	collectionsProvisionedTotal.Inc()
}

// IncCollectionsCloned increments the cloned collections counter.
func IncCollectionsCloned() {
	collectionsClonedTotal.Inc()
}

// IncIndexBuildsCommitted increments the committed index build counter.
func IncIndexBuildsCommitted() {
	indexBuildsTotal.WithLabelValues("committed").Inc()
}

// IncIndexBuildsAborted increments the aborted index build counter.
func IncIndexBuildsAborted() {
	indexBuildsTotal.WithLabelValues("aborted").Inc()
}

// SetCloneDuration sets the duration of the last clone operation.
func SetCloneDuration(dur time.Duration) {
	cloneDurationSeconds.Set(dur.Seconds())
}

// SetCloneInProgress flags whether a clone operation is running.
func SetCloneInProgress(running bool) {
	if running {
		cloneInProgress.Set(1)
	} else {
		cloneInProgress.Set(0)
	}
}

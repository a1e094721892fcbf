package config

import (
	"time"
)

const (
	// CloneMetaDatabase is the internal database for clone bookkeeping
	// (two-phase index build records). It is never cloned.
	CloneMetaDatabase = "pdbc"

	// IndexBuildsCollection holds the durable two-phase build records.
	IndexBuildsCollection = "indexBuilds"
)

const (
	// YieldEvery is the document interval at which the copier releases and
	// reacquires the exclusive database lock.
	YieldEvery = 128

	// ProgressLogInterval bounds how often copy progress is reported.
	ProgressLogInterval = 60 * time.Second
)

const (
	// DialTimeout bounds establishing the source connection.
	DialTimeout = 30 * time.Second

	// DisconnectTimeout bounds client disconnects on shutdown.
	DisconnectTimeout = 10 * time.Second
)

const (
	// DefaultMetricsPort serves the prometheus endpoint.
	DefaultMetricsPort = 2121
)

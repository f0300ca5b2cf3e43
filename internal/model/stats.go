package model

import "iter"

const (
	StatsHostsTotal      = "_hosts_total"
	StatsBoxesSent       = "_boxes_sent"
	StatsBatchesTotal    = "_batches_total"
	StatsBatchesErr      = "_batches_errors"
	StatsAttemptsTotal   = "_attempts_total"
	StatsAttemptsRetries = "_attempts_retries"
)

type Stats interface {
	AddHosts(n int)
	AddBoxesSent(n int)
	IncBatches()
	IncErrBatches()
	IncAttempts()
	IncRetries()
	Stats() iter.Seq2[string, string]
}

package stats

import (
	"expvar"
	"iter"
	"maps"
	"slices"
)

// Stats holds expvar-backed counters of the upload process and publishes
// them under a common key prefix. All counters are expvar.Map and are safe for
// concurrent updates. When the standard expvar HTTP handler is registered,
// these values are available at /debug/vars.
//
// - recon_relay_hosts_total: boxes produced by all the parsers
// - recon_relay_boxes_sent: boxes accepted by the collector
// - recon_relay_batches_total: batches handed over to the collector
// - recon_relay_batches_errors: batches which failed after all the attempts
// - recon_relay_attempts_total: POST requests made, including retries
// - recon_relay_attempts_retries: attempts after the first one
type Stats struct {
	prefix   string
	root     *expvar.Map
	hosts    *expvar.Map
	boxes    *expvar.Map
	batches  *expvar.Map
	attempts *expvar.Map
}

// New publishes new set of metrics. Registering the same metrics twice causes panic, so for tests, the prefix should be unique.
func New(prefix string) *Stats {
	root := expvar.NewMap(prefix)
	hosts := new(expvar.Map).Init()
	boxes := new(expvar.Map).Init()
	batches := new(expvar.Map).Init()
	attempts := new(expvar.Map).Init()

	hosts.Add("total", 0)
	boxes.Add("sent", 0)
	batches.Add("total", 0)
	batches.Add("errors", 0)
	attempts.Add("total", 0)
	attempts.Add("retries", 0)

	root.Set("hosts", hosts)
	root.Set("boxes", boxes)
	root.Set("batches", batches)
	root.Set("attempts", attempts)

	return &Stats{
		prefix:   prefix,
		root:     root,
		hosts:    hosts,
		boxes:    boxes,
		batches:  batches,
		attempts: attempts,
	}
}

func (s *Stats) AddHosts(n int) {
	s.hosts.Add("total", int64(n))
}
func (s *Stats) AddBoxesSent(n int) {
	s.boxes.Add("sent", int64(n))
}
func (s *Stats) IncBatches() {
	s.batches.Add("total", 1)
}
func (s *Stats) IncErrBatches() {
	s.batches.Add("errors", 1)
}
func (s *Stats) IncAttempts() {
	s.attempts.Add("total", 1)
}
func (s *Stats) IncRetries() {
	s.attempts.Add("retries", 1)
}

// Stats returns a name, value iterator across registered metrics. This uses expvar.Do under the hood, so is safe to be called concurrently.
// Stats are returned in an alphabetic order.
func (s Stats) Stats() iter.Seq2[string, string] {
	stats := make(map[string]string, 6)
	for name, m := range map[string]*expvar.Map{
		"hosts":    s.hosts,
		"boxes":    s.boxes,
		"batches":  s.batches,
		"attempts": s.attempts,
	} {
		m.Do(func(kv expvar.KeyValue) {
			stats[name+"_"+kv.Key] = kv.Value.String()
		})
	}

	keys := slices.Sorted(maps.Keys(stats))
	return func(yield func(string, string) bool) {
		for _, key := range keys {
			if !yield(s.prefix+"_"+key, stats[key]) {
				return
			}
		}
	}
}

package stats_test

import (
	"maps"
	"strings"
	"sync"
	"testing"

	"github.com/CZERTAINLY/recon-relay/internal/model"
	"github.com/CZERTAINLY/recon-relay/internal/stats"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	s := stats.New(t.Name())
	require.NotNil(t, s)

	collected := maps.Collect(s.Stats())
	require.Len(t, collected, 6)
	for _, v := range collected {
		require.Equal(t, "0", v)
	}
}

func TestAddHosts(t *testing.T) {
	s := stats.New(t.Name())

	s.AddHosts(3)
	s.AddHosts(0)
	s.AddHosts(4)

	collected := maps.Collect(s.Stats())
	require.Equal(t, "7", collected[t.Name()+model.StatsHostsTotal])
}

func TestAddBoxesSent(t *testing.T) {
	s := stats.New(t.Name())

	s.AddBoxesSent(25)
	s.AddBoxesSent(5)

	collected := maps.Collect(s.Stats())
	require.Equal(t, "30", collected[t.Name()+model.StatsBoxesSent])
}

func TestIncBatches(t *testing.T) {
	s := stats.New(t.Name())

	s.IncBatches()
	s.IncBatches()
	s.IncErrBatches()

	collected := maps.Collect(s.Stats())
	require.Equal(t, "2", collected[t.Name()+model.StatsBatchesTotal])
	require.Equal(t, "1", collected[t.Name()+model.StatsBatchesErr])
}

func TestIncAttempts(t *testing.T) {
	s := stats.New(t.Name())

	for range 3 {
		s.IncAttempts()
	}
	s.IncRetries()
	s.IncRetries()

	collected := maps.Collect(s.Stats())
	require.Equal(t, "3", collected[t.Name()+model.StatsAttemptsTotal])
	require.Equal(t, "2", collected[t.Name()+model.StatsAttemptsRetries])
}

func TestStatsIteratorSorted(t *testing.T) {
	s := stats.New(t.Name())

	var keys []string
	for k := range s.Stats() {
		keys = append(keys, strings.TrimPrefix(k, t.Name()))
	}
	require.Equal(t, []string{
		model.StatsAttemptsRetries,
		model.StatsAttemptsTotal,
		model.StatsBatchesErr,
		model.StatsBatchesTotal,
		model.StatsBoxesSent,
		model.StatsHostsTotal,
	}, keys)
}

func TestStatsIteratorFiltersPrefix(t *testing.T) {
	s1 := stats.New("prefix-1")
	s2 := stats.New("prefix-2")

	s1.AddHosts(1)
	s2.AddHosts(2)

	collected := maps.Collect(s1.Stats())

	require.Len(t, collected, 6)
	for k := range collected {
		require.True(t, strings.HasPrefix(k, "prefix-1"), "key %s should start with prefix-1", k)
	}
	require.Equal(t, "1", collected["prefix-1"+model.StatsHostsTotal])
}

func TestStatsInterfaceImplementation(t *testing.T) {
	var _ model.Stats = (*stats.Stats)(nil)
}

func TestConcurrentIncrements(t *testing.T) {
	s := stats.New(t.Name())

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			for range 100 {
				s.IncAttempts()
				s.IncBatches()
				s.AddBoxesSent(2)
			}
		})
	}
	wg.Wait()

	collected := maps.Collect(s.Stats())
	require.Equal(t, "1000", collected[t.Name()+model.StatsAttemptsTotal])
	require.Equal(t, "1000", collected[t.Name()+model.StatsBatchesTotal])
	require.Equal(t, "2000", collected[t.Name()+model.StatsBoxesSent])
}

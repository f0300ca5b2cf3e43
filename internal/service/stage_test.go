package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"testing"

	"github.com/CZERTAINLY/recon-relay/internal/log"
	"github.com/CZERTAINLY/recon-relay/internal/model"
	"github.com/CZERTAINLY/recon-relay/internal/nmap"
	"github.com/CZERTAINLY/recon-relay/internal/service"
	"github.com/CZERTAINLY/recon-relay/internal/stats"

	"github.com/stretchr/testify/require"
)

const (
	fscanJSON = `{"type":"msg","text":"10.129.244.72:88 open"},
{"type":"msg","text":"10.129.244.72:445 open"},
{"type":"NetInfo","text":"[*]10.129.244.72\n   [->]DC01"},
{"type":"msg","text":"10.129.244.80:80 open"},
`
	fscanText = `10.129.244.90:22 open
[+] 10.129.244.91:3389 open
`
	nmapXML = `<?xml version="1.0" encoding="UTF-8"?>
<nmaprun scanner="nmap" args="nmap -sV -oX scan.xml 10.129.244.72" start="1763800000" version="7.94">
<host><status state="up" reason="echo-reply"/>
<address addr="10.129.244.72" addrtype="ipv4"/>
<hostnames><hostname name="dc01.fries.htb" type="PTR"/></hostnames>
<ports><port protocol="tcp" portid="88"><state state="open" reason="syn-ack"/><service name="kerberos-sec"/></port></ports>
</host>
</nmaprun>
`
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestSortStages(t *testing.T) {
	t.Parallel()
	given := []service.Stage{
		{Scanner: model.ScannerNmap, Path: "nmap1.xml"},
		{Scanner: model.ScannerText, Path: "fscan.txt"},
		{Scanner: model.ScannerFscan, Path: "fscan1.json"},
		{Scanner: model.ScannerNmap, Path: "nmap2.xml"},
		{Scanner: model.ScannerFscan, Path: "fscan2.json"},
	}
	got := service.SortStages(given)

	var paths []string
	for _, s := range got {
		paths = append(paths, s.Path)
	}
	require.Equal(t, []string{"fscan1.json", "fscan2.json", "fscan.txt", "nmap1.xml", "nmap2.xml"}, paths)
	// input is not modified
	require.Equal(t, "nmap1.xml", given[0].Path)
}

func TestNewParser(t *testing.T) {
	t.Parallel()
	for _, kind := range model.Scanners() {
		p, err := service.NewParser(kind, "lab")
		require.NoError(t, err)
		require.NotNil(t, p)
	}

	_, err := service.NewParser(model.Scanner("masscan"), "lab")
	require.Error(t, err)
	require.ErrorIs(t, err, model.ErrUnknownScanner)
}

func TestStageRunner_Run(t *testing.T) {
	t.Parallel()
	stages := service.SortStages([]service.Stage{
		{Scanner: model.ScannerNmap, Path: writeFile(t, "scan.xml", nmapXML), Subnet: "htb"},
		{Scanner: model.ScannerFscan, Path: writeFile(t, "fscan.json", fscanJSON), Subnet: "htb"},
		{Scanner: model.ScannerText, Path: writeFile(t, "fscan.txt", fscanText), Subnet: "htb"},
	})
	rec := &recorder{}
	s := stats.New(t.Name())

	results, err := service.NewStageRunner(rec, delivery(), s).
		WithSleep((&sleeper{}).sleep).
		Run(t.Context(), stages)
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.Equal(t, model.ScannerFscan, results[0].Stage.Scanner)
	require.Equal(t, 2, results[0].Hosts)
	require.Equal(t, service.Report{Boxes: 2, Batches: 1, Attempts: 1}, results[0].Report)
	require.Equal(t, model.ScannerText, results[1].Stage.Scanner)
	require.Equal(t, 2, results[1].Hosts)
	require.Equal(t, model.ScannerNmap, results[2].Stage.Scanner)
	require.Equal(t, 1, results[2].Hosts)

	runIDs := map[string]struct{}{}
	for _, r := range results {
		require.NoError(t, r.Err)
		require.NotEmpty(t, r.RunID)
		runIDs[r.RunID] = struct{}{}
	}
	require.Len(t, runIDs, 3)

	// one batch per stage
	require.Equal(t, []int{2, 2, 1}, rec.sizes())
	dc := rec.batches[0][0]
	require.Equal(t, "10.129.244.72", dc.IP)
	require.Equal(t, "DC01", dc.Hostname)
	require.Equal(t, "htb", dc.Subnet)
	require.Len(t, dc.DomainAssets, 1)
	require.Equal(t, "dc01.fries.htb", rec.batches[2][0].Hostname)

	collected := maps.Collect(s.Stats())
	require.Equal(t, "5", collected[t.Name()+model.StatsHostsTotal])
	require.Equal(t, "5", collected[t.Name()+model.StatsBoxesSent])
	require.Equal(t, "3", collected[t.Name()+model.StatsBatchesTotal])
}

func TestStageRunner_FailedStage(t *testing.T) {
	t.Parallel()
	stages := func(t *testing.T) []service.Stage {
		return []service.Stage{
			{Scanner: model.ScannerNmap, Path: writeFile(t, "broken.xml", "<nmaprun><host>")},
			{Scanner: model.ScannerNmap, Path: writeFile(t, "scan.xml", nmapXML)},
		}
	}

	t.Run("continue", func(t *testing.T) {
		t.Parallel()
		rec := &recorder{}
		results, err := service.NewStageRunner(rec, delivery(), nil).
			WithSleep((&sleeper{}).sleep).
			Run(t.Context(), stages(t))
		require.Error(t, err)
		require.ErrorIs(t, err, nmap.ErrMalformed)
		require.Len(t, results, 2)
		require.ErrorIs(t, results[0].Err, nmap.ErrMalformed)
		require.NoError(t, results[1].Err)
		require.Equal(t, []int{1}, rec.sizes())
	})

	t.Run("fail fast", func(t *testing.T) {
		t.Parallel()
		rec := &recorder{}
		results, err := service.NewStageRunner(rec, delivery(), nil).
			WithFailFast(true).
			WithSleep((&sleeper{}).sleep).
			Run(t.Context(), stages(t))
		require.Error(t, err)
		require.ErrorIs(t, err, nmap.ErrMalformed)
		require.Len(t, results, 1)
		require.Empty(t, rec.sizes())
	})
}

func TestStageRunner_DeliveryFailure(t *testing.T) {
	t.Parallel()
	rec := &recorder{fail: func(int) error { return errCollector }}
	cfg := delivery()
	cfg.MaxAttempts = 2

	results, err := service.NewStageRunner(rec, cfg, nil).
		WithFailFast(true).
		WithSleep((&sleeper{}).sleep).
		Run(t.Context(), []service.Stage{
			{Scanner: model.ScannerText, Path: writeFile(t, "fscan.txt", fscanText)},
			{Scanner: model.ScannerText, Path: writeFile(t, "fscan.txt", fscanText)},
		})
	require.Error(t, err)
	var derr *service.DeliveryError
	require.ErrorAs(t, err, &derr)
	require.Len(t, results, 1)
	require.Equal(t, service.Report{Batches: 1, Attempts: 2}, results[0].Report)
	require.Equal(t, 2, rec.calls)
}

func TestStageRunner_EmptyArtifacts(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	results, err := service.NewStageRunner(rec, delivery(), nil).
		Run(t.Context(), []service.Stage{
			{Scanner: model.ScannerFscan, Path: writeFile(t, "empty.json", "")},
			{Scanner: model.ScannerFscan, Path: filepath.Join(t.TempDir(), "missing.json")},
			{Scanner: model.ScannerText, Path: filepath.Join(t.TempDir(), "missing.txt")},
		})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		require.Zero(t, r.Hosts)
		require.Equal(t, service.Report{}, r.Report)
	}
	require.Zero(t, rec.calls)
}

func TestStageRunner_Canceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	results, err := service.NewStageRunner(&recorder{}, delivery(), nil).
		Run(ctx, []service.Stage{
			{Scanner: model.ScannerText, Path: writeFile(t, "fscan.txt", fscanText)},
		})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, results)
}

// not parallel: replaces the default logger
func TestStageRunner_LogAttrs(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(log.NewWithWriter(&buf, true))
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := writeFile(t, "fscan.json", fscanJSON)
	results, err := service.NewStageRunner(&recorder{}, delivery(), nil).
		WithSleep((&sleeper{}).sleep).
		Run(t.Context(), []service.Stage{{Scanner: model.ScannerFscan, Path: path, Subnet: "htb"}})
	require.NoError(t, err)
	require.Len(t, results, 1)

	type record struct {
		Msg   string `json:"msg"`
		RunID string `json:"run_id"`
		Stage struct {
			Scanner string `json:"scanner"`
			Path    string `json:"path"`
		} `json:"stage"`
	}
	var msgs []string
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var r record
		require.NoError(t, dec.Decode(&r))
		// every record logged while the stage runs carries its identity
		require.Equal(t, results[0].RunID, r.RunID, r.Msg)
		require.Equal(t, "fscan", r.Stage.Scanner, r.Msg)
		require.Equal(t, path, r.Stage.Path, r.Msg)
		msgs = append(msgs, r.Msg)
	}
	require.Contains(t, msgs, "stage started")
	require.Contains(t, msgs, "fscan output parsed")
	require.Contains(t, msgs, "delivery finished")
}

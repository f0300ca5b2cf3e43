package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/CZERTAINLY/recon-relay/internal/log"
	"github.com/CZERTAINLY/recon-relay/internal/model"
	"github.com/CZERTAINLY/recon-relay/internal/service"
	"github.com/CZERTAINLY/recon-relay/internal/stats"
	"github.com/CZERTAINLY/recon-relay/internal/walk"

	"github.com/spf13/cobra"
)

const statsPrefix = "recon_relay"

var (
	flagNmap      []string
	flagFscan     []string
	flagText      []string
	flagDir       []string
	flagSubnet    string
	flagServer    string
	flagVerifyTLS bool
	flagBatchSize int
	flagFailFast  bool
	flagDryRun    bool
)

func initUploadFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringArrayVar(&flagNmap, "nmap", nil, "nmap XML output (nmap -oX), can be repeated")
	flags.StringArrayVar(&flagFscan, "fscan", nil, "fscan JSON output (fscan -json), can be repeated")
	flags.StringArrayVar(&flagText, "text", nil, "fscan plain text output, can be repeated")
	flags.StringArrayVar(&flagDir, "dir", nil, "directory with scanner artifacts detected by extension (.json, .txt, .log, .xml), can be repeated")
	flags.StringVar(&flagSubnet, "subnet", "", "subnet label attached to every host, default is the target")
	flags.StringVar(&flagServer, "server", "", "collector base URL, overrides collector.base_url")
	flags.BoolVar(&flagVerifyTLS, "verify-tls", false, "verify the collector TLS certificate")
	flags.IntVar(&flagBatchSize, "batch-size", 0, "boxes per request, overrides delivery.batch_size")
	flags.BoolVar(&flagFailFast, "fail-fast", false, "stop on the first failed stage")
	flags.BoolVar(&flagDryRun, "dry-run", false, "print the batches to stdout instead of sending them")
}

func doUpload(cmd *cobra.Command, args []string) error {
	var target string
	if len(args) == 1 {
		target = args[0]
	}

	config, closeLog, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer closeLog()

	if err := applyUploadFlags(cmd, &config); err != nil {
		return err
	}

	ctx := cmd.Context()
	subnet := subnetLabel(flagSubnet, config.Subnet, target)
	stages, err := stagesFromFlags(ctx, subnet)
	if err != nil {
		return err
	}
	if len(stages) == 0 {
		return errors.New("nothing to upload: use --fscan, --text, --nmap or --dir")
	}

	attrs := slog.Group("recon-relay",
		slog.String("cmd", "upload"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)
	slog.DebugContext(ctx, "", "config", config)

	var uploader model.Uploader
	if flagDryRun {
		uploader = service.NewWriteUploader(cmd.OutOrStdout())
	} else {
		uploader, err = service.NewUploader(ctx, config)
		if err != nil {
			return err
		}
	}
	defer service.CloseUploader(ctx, uploader)

	counters := stats.New(statsPrefix)
	results, err := service.NewStageRunner(uploader, config.Delivery, counters).
		WithFailFast(flagFailFast).
		Run(ctx, service.SortStages(stages))

	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	statAttrs := make([]any, 0, 12)
	for k, v := range counters.Stats() {
		statAttrs = append(statAttrs, k, v)
	}
	slog.InfoContext(ctx, "upload finished",
		"subnet", subnet,
		"stages", len(results),
		"failed", failed,
		slog.Group("stats", statAttrs...),
	)
	return err
}

// applyUploadFlags overrides the configuration by explicitly set flags
func applyUploadFlags(cmd *cobra.Command, config *model.Config) error {
	flags := cmd.Flags()
	if flags.Changed("server") {
		var u model.URL
		if err := u.UnmarshalText([]byte(flagServer)); err != nil {
			return fmt.Errorf("--server: %w", err)
		}
		if u.IsZero() || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("--server: expected http(s) URL, got %q", flagServer)
		}
		config.Collector.BaseURL = u
	}
	if flags.Changed("verify-tls") {
		config.Collector.VerifyTLS = flagVerifyTLS
	}
	if flags.Changed("batch-size") {
		if flagBatchSize < 1 {
			return fmt.Errorf("--batch-size: must be at least 1, got %d", flagBatchSize)
		}
		config.Delivery.BatchSize = flagBatchSize
	}
	return nil
}

// subnetLabel returns the first non-empty value of flag, config and target
func subnetLabel(flag, config, target string) string {
	for _, s := range []string{flag, config, target} {
		if s != "" {
			return s
		}
	}
	return ""
}

// stagesFromFlags returns a stage for each artifact given explicitly or found
// in --dir directories
func stagesFromFlags(ctx context.Context, subnet string) ([]service.Stage, error) {
	var stages []service.Stage
	add := func(scanner model.Scanner, paths []string) {
		for _, path := range paths {
			stages = append(stages, service.Stage{
				Scanner: scanner,
				Path:    path,
				Subnet:  subnet,
			})
		}
	}
	add(model.ScannerFscan, flagFscan)
	add(model.ScannerText, flagText)
	add(model.ScannerNmap, flagNmap)
	for a, err := range walk.Dirs(ctx, flagDir...) {
		if err != nil {
			return nil, fmt.Errorf("--dir: %w", err)
		}
		add(a.Scanner, []string{a.Path})
	}
	return stages, nil
}

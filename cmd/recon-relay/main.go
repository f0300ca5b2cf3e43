package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/CZERTAINLY/recon-relay/internal/log"
	"github.com/CZERTAINLY/recon-relay/internal/model"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const configName = "recon-relay.yaml"

var (
	userConfigPath string // /default/config/path/recon-relay on given OS
	configPath     string // actual config file used (if loaded)

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
	flagSave           bool   // value of config --save flag
)

var rootCmd = &cobra.Command{
	Use:          "recon-relay",
	Short:        "Tool uploading nmap and fscan results to a collector",
	SilenceUsage: true,
}

var uploadCmd = &cobra.Command{
	Use:   "upload [target]",
	Short: "upload parses scanner artifacts and sends the hosts to the collector",
	Long: `upload parses scanner artifacts and sends the hosts to the collector.

Artifacts are processed in stages: fscan JSON first, then fscan text output,
nmap XML last. The optional target (for example 10.129.0.0/16) is used as the
subnet label unless --subnet or the configuration provides one.`,
	Args: cobra.MaximumNArgs(1),
	RunE: doUpload,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "config prints the default configuration",
	Args:  cobra.NoArgs,
	RunE:  doConfig,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides a version of recon-relay",
	RunE:  doVersion,
}

func init() {
	// user configuration
	d, err := os.UserConfigDir()
	if err != nil {
		d = "."
	}
	userConfigPath = filepath.Join(d, "recon-relay")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is "+configName+" in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	initUploadFlags(uploadCmd)
	configCmd.Flags().BoolVar(&flagSave, "save", false, "store the default configuration into "+filepath.Join(userConfigPath, configName))

	// never print messages and usage
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cmd, err := rootCmd.ExecuteContextC(ctx)
	stop()
	if err != nil {
		slog.Error("recon-relay failed", "err", err)
		if strings.HasPrefix(err.Error(), "unknown command") {
			_ = rootCmd.Help() // ./cmd bflmp
		} else if strings.Contains(err.Error(), "arg(s)") {
			_ = cmd.Help() // ./cmd upload a b (extra arg)
		}
		os.Exit(1)
	}
}

func doVersion(cmd *cobra.Command, args []string) error {
	info, ok := debug.ReadBuildInfo()
	if !ok || info == nil {
		return fmt.Errorf("recon-relay: version info not available")
	}

	out := cmd.OutOrStdout()
	if configPath != "" {
		_, _ = fmt.Fprintf(out, "config: %s\n", configPath)
	}
	_, _ = fmt.Fprintf(out, "recon-relay: %s\n", info.Main.Version)
	_, _ = fmt.Fprintf(out, "go:     %s\n", info.GoVersion)
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			_, _ = fmt.Fprintf(out, "commit: %s\n", s.Value)
		case "vcs.time":
			_, _ = fmt.Fprintf(out, "date:   %s\n", s.Value)
		case "vcs.modified":
			_, _ = fmt.Fprintf(out, "dirty:  %s\n", s.Value)
		}
	}
	_, _ = fmt.Fprintln(out)

	return nil
}

func doConfig(cmd *cobra.Command, _ []string) error {
	config := model.DefaultConfig()
	if !flagSave {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer func() {
			_ = enc.Close()
		}()
		return enc.Encode(config)
	}

	path := filepath.Join(userConfigPath, configName)
	if exists(path) {
		return fmt.Errorf("configuration %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(config); err != nil {
		return fmt.Errorf("storing configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("storing configuration: %w", err)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

// loadConfig finds and loads the configuration and initializes the logging.
// The returned function closes the log destination.
func loadConfig(_ *cobra.Command) (model.Config, func(), error) {
	nop := func() {}
	if envConfig, ok := os.LookupEnv("RECONRELAYCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{".", userConfigPath} {
			path := filepath.Join(d, configName)
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	var config model.Config
	if configPath == "" {
		config = model.DefaultConfig()
	} else {
		var err error
		config, err = model.LoadConfigFromPath(configPath)
		if err != nil {
			return config, nop, err
		}
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		config.Service.Verbose = true
	}

	// initialize logging
	w, closeLog, err := log.Writer(config.Service.Log)
	if err != nil {
		return config, nop, err
	}
	slog.SetDefault(log.NewWithWriter(w, config.Service.Verbose))

	slog.Debug("recon-relay", "configPath", configPath)
	slog.Debug("recon-relay", "config", config)
	return config, func() { _ = closeLog() }, nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

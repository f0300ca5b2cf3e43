package model

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"
	"github.com/creasty/defaults"

	_ "embed"
)

// Config is the recon-relay configuration
type Config struct {
	Version   int       `json:"version" yaml:"version"` // fixed 0 for now
	Collector Collector `json:"collector" yaml:"collector"`
	Delivery  Delivery  `json:"delivery" yaml:"delivery"`
	Subnet    string    `json:"subnet,omitempty" yaml:"subnet,omitempty"` // empty => scan target
	Service   Service   `json:"service" yaml:"service"`
}

// Collector is the remote service receiving boxes.
type Collector struct {
	BaseURL URL `json:"base_url" yaml:"base_url" default:"http://localhost:7777"`
	// disabled by default, lab setups use self-signed certificates
	VerifyTLS bool `json:"verify_tls" yaml:"verify_tls"`
	// seconds per request
	Timeout float64 `json:"timeout" yaml:"timeout" default:"20"`
}

// Delivery configures batching, throttling and retries.
type Delivery struct {
	BatchSize   int `json:"batch_size" yaml:"batch_size" default:"25"`
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" default:"3"`
	// seconds, multiplied by the attempt index
	Backoff float64 `json:"backoff" yaml:"backoff" default:"2"`
	// seconds between two successful batches
	RateLimitDelay float64 `json:"rate_limit_delay" yaml:"rate_limit_delay" default:"0.5"`
}

type Service struct {
	Verbose bool   `json:"verbose" yaml:"verbose"`
	Log     string `json:"log" yaml:"log" default:"stderr"` // "stderr"|"stdout"|"discard"|path
	// when set, batches are stored as JSON files instead of being sent
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

func (c Collector) RequestTimeout() time.Duration {
	return seconds(c.Timeout)
}

func (d Delivery) BackoffBase() time.Duration {
	return seconds(d.Backoff)
}

func (d Delivery) Pause() time.Duration {
	return seconds(d.RateLimitDelay)
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() Config {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		// struct tags are constant, a failure is a programmer's error
		panic(err)
	}
	return cfg
}

//go:embed config.cue
var cueSource []byte

var (
	cueCtx    *cue.Context
	cueConfig cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}
	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	cueConfig = compiled.LookupPath(cue.ParsePath("#Config"))
	if cueConfig.Err() != nil {
		panic(cueConfig.Err())
	}
	if err := cueConfig.Validate(); err != nil {
		panic(err)
	}
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
// NOT SAFE for multiple goroutines
// Return CueError in a case validation phase fails
func LoadConfig(r io.Reader) (Config, error) {
	var ret Config
	if err := loadConfig(r, &ret); err != nil {
		return ret, err
	}
	return ret, nil
}

// LoadConfigFromPath is LoadConfig for a file, "-" means stdin.
func LoadConfigFromPath(path string) (Config, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("error opening config file: %w", err)
		}
		r = f
		defer func() {
			err := f.Close()
			if err != nil {
				slog.Error("can't close config file", "path", path, "error", err)
			}
		}()
	}

	cfg, err := LoadConfig(r)
	if err != nil {
		var cuerr CueError
		if errors.As(err, &cuerr) {
			for _, d := range cuerr.Details() {
				slog.Error("validation error", d.Attr("detail"))
			}
		}
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

func loadConfig(r io.Reader, cfg *Config) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	yamlFile, err := yaml.Extract("config.yaml", bytes.NewReader(b))
	if err != nil {
		return err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := cueConfig.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return CueError{cuerr: err}
	}

	if err := unified.Decode(cfg); err != nil {
		return err
	}

	expandEnvValue(reflect.ValueOf(cfg).Elem())
	return nil
}

// expandEnvValue expands ${VAR} in all exported string fields
func expandEnvValue(v reflect.Value) {
	switch v.Kind() {
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if f := v.Field(i); f.CanSet() {
				expandEnvValue(f)
			}
		}
	case reflect.Pointer:
		if !v.IsNil() {
			expandEnvValue(v.Elem())
		}
	}
}

// Package config loads tgtbs configuration. A TOML file provides the lower
// priority values; every option can be overridden by the environment
// variable named in its tag.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/ehrlich-b/go-tgtbs/internal/constants"
)

// DefaultPath is read when no path is given. It does not need to exist.
const DefaultPath = "/etc/tgtbs/config.toml"

// Config is the full program configuration.
type Config struct {
	Log struct {
		Level  string `toml:"level" env:"TGTBS_LOG_LEVEL" env-default:"info" env-description:"Log level (debug, info, warn, error)."`
		Format string `toml:"format" env:"TGTBS_LOG_FORMAT" env-default:"text" env-description:"Log format, text or json."`
	} `toml:"log"`

	Device struct {
		Name     string `toml:"name" env:"TGTBS_DEVICE_NAME" env-default:"lun0" env-description:"Device name used in logs."`
		Template string `toml:"template" env:"TGTBS_DEVICE_TEMPLATE" env-default:"mem" env-description:"Backing-store template (null, mem, rdwr, aio, s3)."`
		Path     string `toml:"path" env:"TGTBS_DEVICE_PATH" env-default:"" env-description:"Backing path. File for rdwr/aio, key prefix for s3."`
		SizeMB   int64  `toml:"size_mb" env:"TGTBS_DEVICE_SIZE_MB" env-default:"64" env-description:"Device size in MB. 0 derives it from the backing file."`
		Workers  int    `toml:"workers" env:"TGTBS_DEVICE_WORKERS" env-default:"4" env-description:"Number of backing-store worker threads."`
		ReadOnly bool   `toml:"read_only" env:"TGTBS_DEVICE_READONLY" env-default:"false" env-description:"Reject writes and unmaps."`
	} `toml:"device"`

	Bench struct {
		Commands    int     `toml:"commands" env:"TGTBS_BENCH_COMMANDS" env-default:"10000" env-description:"Number of commands to submit."`
		BlockSize   int     `toml:"block_size" env:"TGTBS_BENCH_BLOCKSIZE" env-default:"4096" env-description:"Bytes per read or write."`
		ReadPercent int     `toml:"read_percent" env:"TGTBS_BENCH_READPERCENT" env-default:"70" env-description:"Share of reads in the workload."`
		Rate        float64 `toml:"rate" env:"TGTBS_BENCH_RATE" env-default:"0" env-description:"Submissions per second, 0 for unlimited."`
		Burst       int     `toml:"burst" env:"TGTBS_BENCH_BURST" env-default:"64" env-description:"Submission burst size when rate limited."`
		Submitters  int     `toml:"submitters" env:"TGTBS_BENCH_SUBMITTERS" env-default:"4" env-description:"Goroutines generating commands."`
	} `toml:"bench"`

	S3 struct {
		Bucket      string `toml:"bucket" env:"TGTBS_S3_BUCKET" env-default:"tgtbs" env-description:"S3 Bucket name."`
		Remote      string `toml:"remote" env:"TGTBS_S3_REMOTE" env-default:"" env-description:"S3 Remote address. Empty string for AWS S3 endpoint."`
		Region      string `toml:"region" env:"TGTBS_S3_REGION" env-default:"us-east-1" env-description:"S3 Region."`
		AccessKey   string `toml:"access_key" env:"TGTBS_S3_ACCESSKEY" env-default:"" env-description:"S3 Access Key."`
		SecretKey   string `toml:"secret_key" env:"TGTBS_S3_SECRETKEY" env-default:"" env-description:"S3 Secret Key."`
		ChunkSizeKB int    `toml:"chunk_size_kb" env:"TGTBS_S3_CHUNKSIZE_KB" env-default:"1024" env-description:"Object size in KB."`
		Retries     int    `toml:"retries" env:"TGTBS_S3_RETRIES" env-default:"3" env-description:"Retries per S3 request."`
	} `toml:"s3"`

	AIO struct {
		RingEntries uint32 `toml:"ring_entries" env:"TGTBS_AIO_RING_ENTRIES" env-default:"64" env-description:"io_uring submission queue size per worker."`
		Fallback    bool   `toml:"fallback" env:"TGTBS_AIO_FALLBACK" env-default:"true" env-description:"Use pread/pwrite when io_uring is unavailable."`
	} `toml:"aio"`
}

// Load reads the file at path, or DefaultPath when path is empty, and
// applies environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	cfg := &Config{}
	err := cleanenv.ReadConfig(path, cfg)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("read environment: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Device.Template == "" {
		return fmt.Errorf("device.template must be set")
	}
	if c.Device.Workers <= 0 {
		return fmt.Errorf("device.workers must be positive, got %d", c.Device.Workers)
	}
	if c.Device.SizeMB < 0 {
		return fmt.Errorf("device.size_mb must not be negative, got %d", c.Device.SizeMB)
	}
	if c.Bench.BlockSize <= 0 || c.Bench.BlockSize%constants.DefaultBlockSize != 0 {
		return fmt.Errorf("bench.block_size must be a positive multiple of %d, got %d", constants.DefaultBlockSize, c.Bench.BlockSize)
	}
	if c.Bench.ReadPercent < 0 || c.Bench.ReadPercent > 100 {
		return fmt.Errorf("bench.read_percent must be within 0-100, got %d", c.Bench.ReadPercent)
	}
	if c.S3.ChunkSizeKB <= 0 {
		return fmt.Errorf("s3.chunk_size_kb must be positive, got %d", c.S3.ChunkSizeKB)
	}
	return nil
}

// DeviceSize returns the configured device size in bytes.
func (c *Config) DeviceSize() int64 {
	return c.Device.SizeMB << 20
}

// S3ChunkSize returns the object size in bytes.
func (c *Config) S3ChunkSize() int {
	return c.S3.ChunkSizeKB << 10
}

// Usage extends f's usage text with the list of environment variables.
func Usage(f *flag.FlagSet) {
	f.Usage = cleanenv.FUsage(f.Output(), &Config{}, nil, f.Usage)
}

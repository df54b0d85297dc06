// Package config loads the backend configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zeus2/zeus2be/internal/serialport"
	"github.com/zeus2/zeus2be/internal/stream"
)

// ExamplePath is the annotated example configuration in the repository.
const ExamplePath = "config/zeus2be.example.yaml"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the root of the configuration file. Durations are strings such
// as "500ms" and are read through the Get* accessors, which fall back to
// the defaults when a value is empty.
type Config struct {
	APECS    APECSConfig    `json:"apecs" yaml:"apecs"`
	Hardware HardwareConfig `json:"hardware" yaml:"hardware"`
	Stream   StreamConfig   `json:"stream" yaml:"stream"`
	Admin    AdminConfig    `json:"admin" yaml:"admin"`
	Log      LogConfig      `json:"log" yaml:"log"`
	DB       DBConfig       `json:"db" yaml:"db"`
}

// APECSConfig covers the observatory control protocol.
type APECSConfig struct {
	Listen      string   `json:"listen" yaml:"listen"`
	Backend     string   `json:"backend" yaml:"backend"`
	Prefixes    []string `json:"prefixes" yaml:"prefixes"`
	ObsEngine   string   `json:"obs_engine" yaml:"obs_engine"`
	ScanTimeout string   `json:"scan_timeout" yaml:"scan_timeout"`
}

// CommandsConfig names the external programs.
type CommandsConfig struct {
	Run        string `json:"run" yaml:"run"`
	FrameTimes string `json:"frame_times" yaml:"frame_times"`
	ChopFile   string `json:"chop_file" yaml:"chop_file"`
	CrashReset string `json:"crash_reset" yaml:"crash_reset"`
	AutoSetup  string `json:"auto_setup" yaml:"auto_setup"`
	Readout    string `json:"readout" yaml:"readout"`
}

// HardwareConfig covers the instrument devices.
type HardwareConfig struct {
	MotorBox      string                 `json:"motor_box" yaml:"motor_box"`
	GratingMotor  int                    `json:"grating_motor" yaml:"grating_motor"`
	ChopperMotor  int                    `json:"chopper_motor" yaml:"chopper_motor"`
	SwitchBox     string                 `json:"switch_box" yaml:"switch_box"`
	SyncBoxPort   string                 `json:"sync_box_port" yaml:"sync_box_port"`
	SyncBoxSerial serialport.PortOptions `json:"sync_box_serial" yaml:"sync_box_serial"`
	TimingPort    string                 `json:"timing_port" yaml:"timing_port"`
	TimingSerial  serialport.PortOptions `json:"timing_serial" yaml:"timing_serial"`
	DataDir       string                 `json:"data_dir" yaml:"data_dir"`
	Commands      CommandsConfig         `json:"commands" yaml:"commands"`
	SyncMode      bool                   `json:"sync_mode" yaml:"sync_mode"`
	// DeviceRetries is how often a failed checked device command is
	// repeated.
	DeviceRetries  int    `json:"device_retries" yaml:"device_retries"`
	PollInterval   string `json:"poll_interval" yaml:"poll_interval"`
	CommandTimeout string `json:"command_timeout" yaml:"command_timeout"`
	ReadoutTimeout string `json:"readout_timeout" yaml:"readout_timeout"`
}

// StreamConfig covers the realtime data stream.
type StreamConfig struct {
	Listen string `json:"listen" yaml:"listen"`
	// Dispatcher is where the streamer asks for the integration time.
	Dispatcher       string         `json:"dispatcher" yaml:"dispatcher"`
	Pixels           []stream.Pixel `json:"pixels" yaml:"pixels"`
	Reducer          string         `json:"reducer" yaml:"reducer"`
	ReducerTimeout   string         `json:"reducer_timeout" yaml:"reducer_timeout"`
	QueryTimeout     string         `json:"query_timeout" yaml:"query_timeout"`
	CycleInterval    string         `json:"cycle_interval" yaml:"cycle_interval"`
	DiscoverInterval string         `json:"discover_interval" yaml:"discover_interval"`
	RecentWindow     string         `json:"recent_window" yaml:"recent_window"`
	DeadlinePad      string         `json:"deadline_pad" yaml:"deadline_pad"`
	FallbackDuration string         `json:"fallback_duration" yaml:"fallback_duration"`
}

// AdminConfig covers the HTTP admin server.
type AdminConfig struct {
	Listen string `json:"listen" yaml:"listen"`
}

// LogConfig covers the rotating log file. An empty File logs to stderr
// only.
type LogConfig struct {
	File       string `json:"file" yaml:"file"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
}

// DBConfig covers the run ledger.
type DBConfig struct {
	Path string `json:"path" yaml:"path"`
}

// Defaults returns the configuration of the instrument at the telescope.
func Defaults() *Config {
	return &Config{
		APECS: APECSConfig{
			Listen:      ":16255",
			Backend:     "ZEUS2BE",
			Prefixes:    []string{"APEX", "ZSCR"},
			ObsEngine:   "10.0.2.171:33133",
			ScanTimeout: "2s",
		},
		Hardware: HardwareConfig{
			MotorBox:     "10.0.6.165:4000",
			GratingMotor: 1,
			ChopperMotor: 5,
			SwitchBox:    "10.0.6.166:4000",
			SyncBoxPort:  "/dev/ttyS5",
			TimingPort:   "/dev/ttyACM0",
			DataDir:      "/data/cryo/current_data",
			Commands: CommandsConfig{
				Run:        "/usr/mce/mce_script/script/mce_run",
				FrameTimes: "/usr/bin/zframetimes",
				ChopFile:   "/usr/local/bin/mcechopfile",
				CrashReset: "mce_auto_crash_reset",
				AutoSetup:  "auto_setup",
				Readout:    "mce_cmd",
			},
			SyncMode:       true,
			DeviceRetries:  2,
			PollInterval:   "30s",
			CommandTimeout: "5m",
			ReadoutTimeout: "10s",
		},
		Stream: StreamConfig{
			Listen:           ":25144",
			Dispatcher:       "127.0.0.1:16255",
			Pixels:           []stream.Pixel{{Row: 5, Col: 7}},
			Reducer:          "zeus2_reduce",
			ReducerTimeout:   "10s",
			QueryTimeout:     "1s",
			CycleInterval:    "500ms",
			DiscoverInterval: "1s",
			RecentWindow:     "9s",
			DeadlinePad:      "1s",
			FallbackDuration: "5m",
		},
		Admin: AdminConfig{Listen: "127.0.0.1:8080"},
		Log: LogConfig{
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		DB: DBConfig{Path: "zeus2be.db"},
	}
}

// Load reads a JSON or YAML configuration file over the defaults. Fields
// omitted from the file keep their default values, so partial files are
// safe.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Defaults()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", cleanPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	for name, addr := range map[string]string{
		"apecs.listen":        c.APECS.Listen,
		"apecs.obs_engine":    c.APECS.ObsEngine,
		"hardware.motor_box":  c.Hardware.MotorBox,
		"hardware.switch_box": c.Hardware.SwitchBox,
		"stream.listen":       c.Stream.Listen,
		"stream.dispatcher":   c.Stream.Dispatcher,
		"admin.listen":        c.Admin.Listen,
	} {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("%s %q: %w", name, addr, err)
		}
	}

	if c.APECS.Backend == "" {
		return fmt.Errorf("apecs.backend must not be empty")
	}
	if len(c.APECS.Prefixes) == 0 {
		return fmt.Errorf("apecs.prefixes must list at least one prefix")
	}
	if c.Hardware.GratingMotor <= 0 || c.Hardware.ChopperMotor <= 0 {
		return fmt.Errorf("motor numbers must be positive, got grating %d chopper %d",
			c.Hardware.GratingMotor, c.Hardware.ChopperMotor)
	}
	if c.Hardware.GratingMotor == c.Hardware.ChopperMotor {
		return fmt.Errorf("grating and chopper share motor number %d", c.Hardware.GratingMotor)
	}
	if c.Hardware.DeviceRetries < 0 {
		return fmt.Errorf("hardware.device_retries must be non-negative, got %d", c.Hardware.DeviceRetries)
	}
	if c.Hardware.DataDir == "" {
		return fmt.Errorf("hardware.data_dir must not be empty")
	}
	if _, err := c.Hardware.SyncBoxSerial.Normalize(); err != nil {
		return fmt.Errorf("hardware.sync_box_serial: %w", err)
	}
	if _, err := c.Hardware.TimingSerial.Normalize(); err != nil {
		return fmt.Errorf("hardware.timing_serial: %w", err)
	}
	if len(c.Stream.Pixels) == 0 {
		return fmt.Errorf("stream.pixels must list at least one pixel")
	}
	for _, p := range c.Stream.Pixels {
		if p.Row < 0 || p.Col < 0 {
			return fmt.Errorf("stream.pixels: negative pixel %s", p)
		}
	}

	for name, d := range map[string]string{
		"apecs.scan_timeout":       c.APECS.ScanTimeout,
		"hardware.poll_interval":   c.Hardware.PollInterval,
		"hardware.command_timeout": c.Hardware.CommandTimeout,
		"hardware.readout_timeout": c.Hardware.ReadoutTimeout,
		"stream.reducer_timeout":   c.Stream.ReducerTimeout,
		"stream.query_timeout":     c.Stream.QueryTimeout,
		"stream.cycle_interval":    c.Stream.CycleInterval,
		"stream.discover_interval": c.Stream.DiscoverInterval,
		"stream.recent_window":     c.Stream.RecentWindow,
		"stream.deadline_pad":      c.Stream.DeadlinePad,
		"stream.fallback_duration": c.Stream.FallbackDuration,
	} {
		if d == "" {
			continue
		}
		v, err := time.ParseDuration(d)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, d, err)
		}
		if v < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, d)
		}
	}
	return nil
}

// duration parses s, returning def when s is empty or malformed.
func duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// GetScanTimeout returns how long to wait for the observing engine.
func (c APECSConfig) GetScanTimeout() time.Duration {
	return duration(c.ScanTimeout, 2*time.Second)
}

// GetPollInterval returns the orchestrator's idle poll interval.
func (c HardwareConfig) GetPollInterval() time.Duration {
	return duration(c.PollInterval, 30*time.Second)
}

// GetCommandTimeout returns the bound on short external commands.
func (c HardwareConfig) GetCommandTimeout() time.Duration {
	return duration(c.CommandTimeout, 5*time.Minute)
}

// GetReadoutTimeout returns the bound on one readout register command.
func (c HardwareConfig) GetReadoutTimeout() time.Duration {
	return duration(c.ReadoutTimeout, 10*time.Second)
}

// GetReducerTimeout returns the bound on one reducer run.
func (c StreamConfig) GetReducerTimeout() time.Duration {
	return duration(c.ReducerTimeout, 10*time.Second)
}

// GetQueryTimeout returns the bound on the integration time query.
func (c StreamConfig) GetQueryTimeout() time.Duration {
	return duration(c.QueryTimeout, time.Second)
}

// Options converts the stream section to streamer options.
func (c StreamConfig) Options(dataDir string) stream.Options {
	return stream.Options{
		Dir:              dataDir,
		Pixels:           append([]stream.Pixel(nil), c.Pixels...),
		CycleInterval:    duration(c.CycleInterval, 500*time.Millisecond),
		DiscoverInterval: duration(c.DiscoverInterval, time.Second),
		RecentWindow:     duration(c.RecentWindow, 9*time.Second),
		DeadlinePad:      duration(c.DeadlinePad, time.Second),
		FallbackDuration: duration(c.FallbackDuration, 5*time.Minute),
	}
}

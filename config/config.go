package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Showmax/go-fqdn"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v2"
)

type ServerConfig struct {
	Addr string `toml:"addr" yaml:"addr"`
	// base url used to build the urls handed to clients, defaults to http://<fqdn>:<port>
	PublicURL       string        `toml:"public-url" yaml:"publicURL"`
	ShutdownTimeout time.Duration `toml:"shutdown-timeout" yaml:"shutdownTimeout"`
	MaxFrameSize    int64         `toml:"max-frame-size" yaml:"maxFrameSize"`
	// accept sessions that pull an rtmp or srt url instead of a websocket
	AllowPull bool `toml:"allow-pull" yaml:"allowPull"`
}

type OutputConfig struct {
	Root string `toml:"root" yaml:"root"`
	// how long a finished session's playlist directory is kept around
	Retention time.Duration `toml:"retention" yaml:"retention"`
	// optional outbound relay, {id} is replaced by the stream id
	RelayURL string `toml:"relay-url" yaml:"relayURL"`
}

type TranscodeConfig struct {
	Binary          string        `toml:"binary" yaml:"binary"`
	AudioCodec      string        `toml:"audio-codec" yaml:"audioCodec"`
	AudioBitrate    string        `toml:"audio-bitrate" yaml:"audioBitrate"`
	SampleRate      int           `toml:"sample-rate" yaml:"sampleRate"`
	Channels        int           `toml:"channels" yaml:"channels"`
	SegmentDuration int           `toml:"segment-duration" yaml:"segmentDuration"`
	PlaylistSize    int           `toml:"playlist-size" yaml:"playlistSize"`
	RecordingCodec  string        `toml:"recording-codec" yaml:"recordingCodec"`
	RecordingFormat string        `toml:"recording-format" yaml:"recordingFormat"`
	FatalPatterns   []string      `toml:"fatal-patterns" yaml:"fatalPatterns"`
	KillTimeout     time.Duration `toml:"kill-timeout" yaml:"killTimeout"`
	HighWaterMark   int           `toml:"high-water-mark" yaml:"highWaterMark"`
}

type LogConfig struct {
	JSON bool   `toml:"json" yaml:"json"`
	File string `toml:"file" yaml:"file"`
}

type Config struct {
	Server    ServerConfig    `toml:"server" yaml:"server"`
	Output    OutputConfig    `toml:"output" yaml:"output"`
	Transcode TranscodeConfig `toml:"transcode" yaml:"transcode"`
	Log       LogConfig       `toml:"log" yaml:"log"`
}

var DefaultFatalPatterns = []string{
	"Connection refused",
	"Failed to connect",
	"Invalid data found when processing input",
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8083",
			ShutdownTimeout: 10 * time.Second,
			MaxFrameSize:    4 * 1024 * 1024,
			AllowPull:       true,
		},
		Output: OutputConfig{
			Root:      "./media",
			Retention: 30 * time.Second,
		},
		Transcode: TranscodeConfig{
			Binary:          "ffmpeg",
			AudioCodec:      "aac",
			AudioBitrate:    "128k",
			SampleRate:      48000,
			Channels:        1,
			SegmentDuration: 1,
			PlaylistSize:    2,
			RecordingCodec:  "libopus",
			RecordingFormat: "webm",
			FatalPatterns:   DefaultFatalPatterns,
			KillTimeout:     5 * time.Second,
			HighWaterMark:   64 * 1024,
		},
	}
}

// Parse reads the config file at path into a copy of the defaults.
// The format is picked by extension, .toml or .yml/.yaml. A missing file is not an error.
func Parse(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	default:
		return cfg, fmt.Errorf("unknown config format %q", filepath.Ext(path))
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadEnv loads a .env file (if present) and applies environment overrides.
func LoadEnv(cfg *Config, paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		// missing .env files are fine, the process env is used as is
		_ = godotenv.Load(p)
	}

	if port := os.Getenv("PORT"); port != "" {
		if _, err := strconv.Atoi(port); err == nil {
			host, _, _ := net.SplitHostPort(cfg.Server.Addr)
			cfg.Server.Addr = net.JoinHostPort(host, port)
		}
	}
	if v := os.Getenv("FFMPEG_PATH"); v != "" {
		cfg.Transcode.Binary = v
	}
	if v := os.Getenv("OUTPUT_ROOT"); v != "" {
		cfg.Output.Root = v
	}
	if v := os.Getenv("PUBLIC_URL"); v != "" {
		cfg.Server.PublicURL = v
	}
	if v := os.Getenv("RELAY_URL"); v != "" {
		cfg.Output.RelayURL = v
	}
}

// Validate checks the config for values the service can't run with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server address is required")
	}
	if c.Output.Root == "" {
		return fmt.Errorf("output root is required")
	}
	if c.Transcode.Binary == "" {
		return fmt.Errorf("transcoder binary is required")
	}
	if c.Transcode.SampleRate <= 0 || c.Transcode.Channels <= 0 {
		return fmt.Errorf("invalid sample rate %d / channels %d", c.Transcode.SampleRate, c.Transcode.Channels)
	}
	if c.Transcode.SegmentDuration <= 0 || c.Transcode.PlaylistSize <= 0 {
		return fmt.Errorf("invalid playlist retention %ds x %d", c.Transcode.SegmentDuration, c.Transcode.PlaylistSize)
	}
	return nil
}

// ResolvePublicURL fills in the public url from the host name if it wasn't configured.
func (c *Config) ResolvePublicURL() {
	if c.Server.PublicURL != "" {
		c.Server.PublicURL = strings.TrimRight(c.Server.PublicURL, "/")
		return
	}
	host, port, err := net.SplitHostPort(c.Server.Addr)
	if err != nil {
		port = "80"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = hostname()
	}
	c.Server.PublicURL = "http://" + net.JoinHostPort(host, port)
}

func hostname() string {
	name, err := fqdn.FqdnHostname()
	if err == nil {
		return name
	}
	name, err = os.Hostname()
	if err != nil {
		return "localhost"
	}
	return name
}

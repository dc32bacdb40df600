package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"l2sim/internal/link"
	"l2sim/internal/mac"
	"l2sim/internal/pdcp"
	"l2sim/internal/rlc"
)

// Config holds all configuration for the L2 simulator.
type Config struct {
	PDCP    PDCPConfig    `yaml:"pdcp"    mapstructure:"pdcp"`
	RLC     RLCConfig     `yaml:"rlc"     mapstructure:"rlc"`
	HARQ    HARQConfig    `yaml:"harq"    mapstructure:"harq"`
	MAC     MACConfig     `yaml:"mac"     mapstructure:"mac"`
	PHY     PHYConfig     `yaml:"phy"     mapstructure:"phy"`
	Source  SourceConfig  `yaml:"source"  mapstructure:"source"`
	Timing  TimingConfig  `yaml:"timing"  mapstructure:"timing"`
	Buffer  BufferConfig  `yaml:"buffer"  mapstructure:"buffer"`
	Capture CaptureConfig `yaml:"capture" mapstructure:"capture"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Stats   StatsConfig   `yaml:"stats"   mapstructure:"stats"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

type PDCPConfig struct {
	Compression bool `yaml:"compression" mapstructure:"compression"`
	Ciphering   bool `yaml:"ciphering"   mapstructure:"ciphering"`
	CipherKey   int  `yaml:"cipher_key"  mapstructure:"cipher_key"`
}

type RLCConfig struct {
	Mode        string `yaml:"mode"         mapstructure:"mode"`
	SegmentSize int    `yaml:"segment_size" mapstructure:"segment_size"`
}

type HARQConfig struct {
	Processes          int `yaml:"processes"           mapstructure:"processes"`
	MaxRetransmissions int `yaml:"max_retransmissions" mapstructure:"max_retransmissions"`
	RetxTimeoutMs      int `yaml:"retx_timeout_ms"     mapstructure:"retx_timeout_ms"`
}

type MACConfig struct {
	LogicalChannelID int `yaml:"logical_channel_id" mapstructure:"logical_channel_id"`
	SRThreshold      int `yaml:"sr_threshold"       mapstructure:"sr_threshold"`
}

type PHYConfig struct {
	NackFirst   int `yaml:"nack_first"   mapstructure:"nack_first"`
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
}

type SourceConfig struct {
	Kind     string `yaml:"kind"       mapstructure:"kind"`
	PcapFile string `yaml:"pcap_file"  mapstructure:"pcap_file"`
	UEIPPool string `yaml:"ue_ip_pool" mapstructure:"ue_ip_pool"`
	Payload  string `yaml:"payload"    mapstructure:"payload"`
}

type TimingConfig struct {
	CycleIntervalMs int `yaml:"cycle_interval_ms" mapstructure:"cycle_interval_ms"`
	Cycles          int `yaml:"cycles"            mapstructure:"cycles"`
}

type BufferConfig struct {
	MaxSize int `yaml:"max_size" mapstructure:"max_size"`
}

type CaptureConfig struct {
	File string `yaml:"file" mapstructure:"file"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"   mapstructure:"level"`
	File    string `yaml:"file"    mapstructure:"file"`
	Console bool   `yaml:"console" mapstructure:"console"`
}

type StatsConfig struct {
	Enabled           bool   `yaml:"enabled"             mapstructure:"enabled"`
	ReportIntervalSec int    `yaml:"report_interval_sec" mapstructure:"report_interval_sec"`
	ExportFile        string `yaml:"export_file"         mapstructure:"export_file"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen"  mapstructure:"listen"`
	Path    string `yaml:"path"    mapstructure:"path"`
}

// SetDefaults configures default values for the configuration.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("pdcp.compression", true)
	v.SetDefault("pdcp.ciphering", true)
	v.SetDefault("pdcp.cipher_key", 0x5A)
	v.SetDefault("rlc.mode", "um")
	v.SetDefault("rlc.segment_size", rlc.DefaultSegmentSize)
	v.SetDefault("harq.processes", 8)
	v.SetDefault("harq.max_retransmissions", 0)
	v.SetDefault("harq.retx_timeout_ms", 0)
	v.SetDefault("mac.logical_channel_id", 4)
	v.SetDefault("mac.sr_threshold", mac.DefaultSRThreshold)
	v.SetDefault("phy.nack_first", 0)
	v.SetDefault("phy.max_attempts", 4)
	v.SetDefault("source.kind", "dummy")
	v.SetDefault("source.ue_ip_pool", "192.168.1.96/28")
	v.SetDefault("timing.cycle_interval_ms", 1000)
	v.SetDefault("timing.cycles", 0)
	v.SetDefault("buffer.max_size", 65536)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("stats.enabled", true)
	v.SetDefault("stats.report_interval_sec", 10)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9108")
	v.SetDefault("metrics.path", "/metrics")
}

// Load reads configuration from a YAML file and returns a Config.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithViper reads configuration using an existing viper instance (for CLI flag binding).
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// LinkConfig converts the layer settings into a link.Config.
func (c *Config) LinkConfig() (link.Config, error) {
	mode, err := rlc.ParseMode(c.RLC.Mode)
	if err != nil {
		return link.Config{}, err
	}
	return link.Config{
		PDCP: pdcp.Config{
			Compression: c.PDCP.Compression,
			Ciphering:   c.PDCP.Ciphering,
			Key:         byte(c.PDCP.CipherKey),
		},
		RLC: rlc.Config{Mode: mode, SegmentSize: c.RLC.SegmentSize},
		MAC: mac.Config{
			Processes:          c.HARQ.Processes,
			MaxRetransmissions: c.HARQ.MaxRetransmissions,
		},
		LCID:        uint8(c.MAC.LogicalChannelID),
		NackFirst:   c.PHY.NackFirst,
		MaxAttempts: c.PHY.MaxAttempts,
	}, nil
}

// Summary returns a human-readable summary of the configuration.
func (c *Config) Summary() string {
	var sb strings.Builder
	sb.WriteString("Configuration:\n")
	sb.WriteString(fmt.Sprintf("  PDCP:          compression=%v ciphering=%v key=0x%02X\n", c.PDCP.Compression, c.PDCP.Ciphering, c.PDCP.CipherKey))
	sb.WriteString(fmt.Sprintf("  RLC:           mode=%s segment=%d\n", strings.ToUpper(c.RLC.Mode), c.RLC.SegmentSize))
	sb.WriteString(fmt.Sprintf("  HARQ:          processes=%d max_retx=%d retx_timeout=%dms\n", c.HARQ.Processes, c.HARQ.MaxRetransmissions, c.HARQ.RetxTimeoutMs))
	sb.WriteString(fmt.Sprintf("  MAC:           lcid=%d sr_threshold=%d\n", c.MAC.LogicalChannelID, c.MAC.SRThreshold))
	sb.WriteString(fmt.Sprintf("  PHY:           nack_first=%d max_attempts=%d\n", c.PHY.NackFirst, c.PHY.MaxAttempts))
	if c.Source.Kind == "pcap" {
		sb.WriteString(fmt.Sprintf("  Source:        pcap %s\n", c.Source.PcapFile))
	} else {
		sb.WriteString(fmt.Sprintf("  Source:        dummy (pool %s)\n", c.Source.UEIPPool))
	}
	sb.WriteString(fmt.Sprintf("  Cycle:         %dms (cycles: %d)\n", c.Timing.CycleIntervalMs, c.Timing.Cycles))
	sb.WriteString(fmt.Sprintf("  Buffer limit:  %d bytes\n", c.Buffer.MaxSize))
	if c.Capture.File != "" {
		sb.WriteString(fmt.Sprintf("  Capture:       %s\n", c.Capture.File))
	}
	if c.Metrics.Enabled {
		sb.WriteString(fmt.Sprintf("  Metrics:       http://%s%s\n", c.Metrics.Listen, c.Metrics.Path))
	}
	return sb.String()
}

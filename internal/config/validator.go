package config

import (
	"fmt"
	"net"
	"os"
	"strings"

	"l2sim/internal/harq"
	"l2sim/internal/rlc"
)

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	if c.PDCP.CipherKey < 0 || c.PDCP.CipherKey > 0xFF {
		errs = append(errs, fmt.Sprintf("pdcp.cipher_key must be between 0 and 255, got %d", c.PDCP.CipherKey))
	}

	// Acknowledged mode parses but is not implemented.
	if mode, err := rlc.ParseMode(c.RLC.Mode); err != nil {
		errs = append(errs, fmt.Sprintf("rlc.mode must be 'tm' or 'um', got %q", c.RLC.Mode))
	} else if mode == rlc.AcknowledgedMode {
		errs = append(errs, "rlc.mode 'am' is not supported")
	}

	if c.RLC.SegmentSize <= 0 || c.RLC.SegmentSize > rlc.MaxSDUSize {
		errs = append(errs, fmt.Sprintf("rlc.segment_size must be between 1 and %d, got %d", rlc.MaxSDUSize, c.RLC.SegmentSize))
	}

	if c.HARQ.Processes <= 0 || c.HARQ.Processes > harq.MaxProcesses {
		errs = append(errs, fmt.Sprintf("harq.processes must be between 1 and %d, got %d", harq.MaxProcesses, c.HARQ.Processes))
	}
	if c.HARQ.MaxRetransmissions < 0 {
		errs = append(errs, "harq.max_retransmissions must be >= 0")
	}
	if c.HARQ.RetxTimeoutMs < 0 {
		errs = append(errs, "harq.retx_timeout_ms must be >= 0")
	}
	// The loopback never NACKs the uplink; only feedback timeouts retransmit it.
	if c.HARQ.MaxRetransmissions > 0 && c.HARQ.RetxTimeoutMs == 0 {
		errs = append(errs, "harq.max_retransmissions requires harq.retx_timeout_ms > 0")
	}

	if c.MAC.LogicalChannelID < 0 || c.MAC.LogicalChannelID > 0xFF {
		errs = append(errs, fmt.Sprintf("mac.logical_channel_id must be between 0 and 255, got %d", c.MAC.LogicalChannelID))
	}
	if c.MAC.SRThreshold < 0 {
		errs = append(errs, "mac.sr_threshold must be >= 0")
	}

	if c.PHY.NackFirst < 0 {
		errs = append(errs, "phy.nack_first must be >= 0")
	}
	if c.PHY.MaxAttempts <= 0 {
		errs = append(errs, "phy.max_attempts must be > 0")
	}

	switch c.Source.Kind {
	case "dummy":
		if c.Source.UEIPPool == "" {
			errs = append(errs, "source.ue_ip_pool must be specified")
		} else if _, _, err := net.ParseCIDR(c.Source.UEIPPool); err != nil {
			errs = append(errs, fmt.Sprintf("invalid UE IP pool CIDR %q: %v", c.Source.UEIPPool, err))
		}
	case "pcap":
		if c.Source.PcapFile == "" {
			errs = append(errs, "source.pcap_file must be specified")
		} else if _, err := os.Stat(c.Source.PcapFile); os.IsNotExist(err) {
			errs = append(errs, fmt.Sprintf("pcap file not found: %s", c.Source.PcapFile))
		}
	default:
		errs = append(errs, fmt.Sprintf("source.kind must be 'dummy' or 'pcap', got %q", c.Source.Kind))
	}

	if c.Timing.CycleIntervalMs < 0 {
		errs = append(errs, "timing.cycle_interval_ms must be >= 0")
	}
	if c.Timing.Cycles < 0 {
		errs = append(errs, "timing.cycles must be >= 0")
	}

	if c.Buffer.MaxSize <= 0 {
		errs = append(errs, "buffer.max_size must be > 0")
	}

	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			errs = append(errs, fmt.Sprintf("metrics.listen must be host:port, got %q", c.Metrics.Listen))
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			errs = append(errs, fmt.Sprintf("metrics.path must start with '/', got %q", c.Metrics.Path))
		}
	}

	// Log level must be valid
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, fmt.Sprintf("logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"l2sim/internal/buffer"
	"l2sim/internal/config"
	"l2sim/internal/event"
	"l2sim/internal/harq"
	"l2sim/internal/link"
	"l2sim/internal/metrics"
	"l2sim/internal/pcap"
	"l2sim/internal/session"
	"l2sim/internal/source"
	"l2sim/internal/stats"
	"l2sim/pkg/types"
)

// defaultTimeoutRetries bounds feedback timeouts when HARQ retransmissions are unlimited.
const defaultTimeoutRetries = 4

var (
	version   = "1.0.0"
	cfgFile   string
	statsOnly bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "l2sim",
		Short: "L2 Simulator - run payloads through PDCP, RLC and HARQ over a loopback PHY",
		Long: `A Go-based cellular Layer-2 data-plane simulator. Each cycle a payload is
compressed, ciphered and sequenced by PDCP, segmented by RLC, multiplexed by MAC,
carried by HARQ over a simulated PHY that can NACK, and reassembled on the way up.`,
		Version: version,
		RunE:    run,
	}

	// Configuration file
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "Configuration file path (default: config.yaml)")

	// CLI overrides
	rootCmd.Flags().String("mode", "", "RLC mode (tm|um)")
	rootCmd.Flags().Int("segment-size", 0, "RLC UM segmentation threshold in bytes")
	rootCmd.Flags().Bool("compression", true, "Enable PDCP header compression")
	rootCmd.Flags().Bool("ciphering", true, "Enable PDCP ciphering")
	rootCmd.Flags().Int("processes", 0, "HARQ processes per direction (1-16)")
	rootCmd.Flags().Int("max-retx", -1, "Max uplink HARQ retransmissions (0 = unlimited, needs --retx-timeout)")
	rootCmd.Flags().Int("retx-timeout", -1, "HARQ feedback timeout in ms (0 = disabled)")
	rootCmd.Flags().Int("nack-first", -1, "NACK the first N downlink attempts of every transport block")
	rootCmd.Flags().Int("max-attempts", 0, "Downlink attempts before a transport block is dropped")
	rootCmd.Flags().Int("cycles", -1, "Number of cycles to run (0 = until interrupted)")
	rootCmd.Flags().Int("interval", -1, "Delay between cycles in ms")
	rootCmd.Flags().String("source", "", "Payload source (dummy|pcap)")
	rootCmd.Flags().String("pcap", "", "Input PCAP file for the pcap source")
	rootCmd.Flags().String("ue-pool", "", "UE IPv4 address pool (CIDR) for the dummy source")
	rootCmd.Flags().String("capture", "", "Write transport blocks to this pcap file")
	rootCmd.Flags().String("log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.Flags().String("metrics-listen", "", "Serve Prometheus metrics on this address")
	rootCmd.Flags().BoolVar(&statsOnly, "stats-only", false, "Show pcap statistics only, do not simulate")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	// Load configuration
	v := viper.New()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		log.Debug("No config file found, using defaults and CLI flags")
	}

	// CLI flags override config file values
	bindViperFlags(v, cmd)

	cfg, err := config.LoadWithViper(v)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	setupLogging(cfg)

	fmt.Printf("L2 Simulator v%s\n", version)
	fmt.Println("==============================")
	fmt.Print(cfg.Summary())
	fmt.Println()

	if statsOnly {
		return showStats(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	// Setup context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	collector := stats.NewCollector()
	sink := event.Multi{collector, event.NewLogSink(nil)}

	linkCfg, err := cfg.LinkConfig()
	if err != nil {
		return err
	}
	opts := []link.Option{link.WithAllocator(buffer.NewLimited(cfg.Buffer.MaxSize))}

	if cfg.Capture.File != "" {
		w, err := pcap.NewWriter(cfg.Capture.File)
		if err != nil {
			return fmt.Errorf("failed to open capture: %w", err)
		}
		defer func() {
			if err := w.Close(); err != nil {
				log.WithError(err).Warn("Failed to close capture file")
			}
			log.WithFields(log.Fields{"file": cfg.Capture.File, "blocks": w.Count()}).Info("Capture written")
		}()
		opts = append(opts, link.WithTap(func(dir types.Direction, pid int, tb []byte) {
			if err := w.WriteBlock(dir, pid, tb); err != nil {
				log.WithError(err).Warn("Failed to capture transport block")
			}
		}))
	}

	if cfg.HARQ.RetxTimeoutMs > 0 {
		timeout := time.Duration(cfg.HARQ.RetxTimeoutMs) * time.Millisecond
		retries := cfg.HARQ.MaxRetransmissions
		if retries == 0 {
			retries = defaultTimeoutRetries
		}
		timer := harq.NewRetxTimer(timeout, retries, sink)
		timer.StartMonitor(ctx, timeout/2)
		opts = append(opts, link.WithTracker(timer))
	}

	l, err := link.New(linkCfg, sink, opts...)
	if err != nil {
		return fmt.Errorf("failed to build link: %w", err)
	}
	defer func() {
		if err := l.Release(); err != nil {
			log.WithError(err).Warn("Failed to release link")
		}
	}()

	src, err := newSource(cfg)
	if err != nil {
		return err
	}

	mgr, err := session.NewManager(session.Config{
		Interval:    time.Duration(cfg.Timing.CycleIntervalMs) * time.Millisecond,
		Cycles:      cfg.Timing.Cycles,
		LCID:        uint8(cfg.MAC.LogicalChannelID),
		SRThreshold: cfg.MAC.SRThreshold,
	}, l, src, collector, sink)
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}

	reporter := stats.NewReporter(collector, cfg.Stats.ReportIntervalSec, cfg.Stats.ExportFile)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The loop ending for any reason stops the reporter and metrics server.
		defer cancel()
		return mgr.Run(gctx)
	})
	if cfg.Stats.Enabled {
		g.Go(func() error { return reporter.Run(gctx) })
	}
	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		pools := map[string]metrics.PoolStats{
			"uplink":   l.MAC().Uplink(),
			"downlink": l.MAC().Downlink(),
		}
		if err := srv.Register(metrics.NewStatsCollector(collector, pools)); err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		g.Go(func() error { return srv.Run(gctx) })
	}

	fmt.Println("Running cycles...")
	runErr := g.Wait()
	if runErr != nil {
		log.WithError(runErr).Error("Simulation failed")
	}

	if cfg.Stats.Enabled {
		reporter.PrintFinalReport()
		if err := reporter.Export(); err != nil {
			log.WithError(err).Warn("Failed to export statistics")
		}
	}

	return runErr
}

func newSource(cfg *config.Config) (source.Source, error) {
	if cfg.Source.Kind == "pcap" {
		r, err := source.NewReplay(cfg.Source.PcapFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open pcap source: %w", err)
		}
		log.WithFields(log.Fields{"file": cfg.Source.PcapFile, "packets": r.Len()}).Info("Replaying capture")
		return r, nil
	}

	pool, err := source.NewAddressPool(cfg.Source.UEIPPool)
	if err != nil {
		return nil, fmt.Errorf("failed to create UE IP pool: %w", err)
	}
	return source.NewDummyIP(pool, cfg.Source.Payload), nil
}

func showStats(cfg *config.Config) error {
	if cfg.Source.PcapFile == "" {
		return fmt.Errorf("source.pcap_file must be specified")
	}
	counts, err := pcap.NewReader().CountPackets(cfg.Source.PcapFile)
	if err != nil {
		return fmt.Errorf("failed to count packets: %w", err)
	}

	kinds := make([]string, 0, len(counts))
	for kind := range counts {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	fmt.Println("PCAP Packet Statistics:")
	total := 0
	for _, kind := range kinds {
		fmt.Printf("  %-40s %d\n", kind, counts[kind])
		total += counts[kind]
	}
	fmt.Printf("  %-40s %d\n", "Total:", total)
	return nil
}

func setupLogging(cfg *config.Config) {
	level, err := log.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.WithError(err).Warn("Failed to open log file, using console only")
		} else {
			log.SetOutput(f)
		}
	}
}

func bindViperFlags(v *viper.Viper, cmd *cobra.Command) {
	if cmd.Flags().Changed("mode") {
		val, _ := cmd.Flags().GetString("mode")
		v.Set("rlc.mode", val)
	}
	if cmd.Flags().Changed("segment-size") {
		val, _ := cmd.Flags().GetInt("segment-size")
		v.Set("rlc.segment_size", val)
	}
	if cmd.Flags().Changed("compression") {
		val, _ := cmd.Flags().GetBool("compression")
		v.Set("pdcp.compression", val)
	}
	if cmd.Flags().Changed("ciphering") {
		val, _ := cmd.Flags().GetBool("ciphering")
		v.Set("pdcp.ciphering", val)
	}
	if cmd.Flags().Changed("processes") {
		val, _ := cmd.Flags().GetInt("processes")
		v.Set("harq.processes", val)
	}
	if cmd.Flags().Changed("max-retx") {
		val, _ := cmd.Flags().GetInt("max-retx")
		v.Set("harq.max_retransmissions", val)
	}
	if cmd.Flags().Changed("retx-timeout") {
		val, _ := cmd.Flags().GetInt("retx-timeout")
		v.Set("harq.retx_timeout_ms", val)
	}
	if cmd.Flags().Changed("nack-first") {
		val, _ := cmd.Flags().GetInt("nack-first")
		v.Set("phy.nack_first", val)
	}
	if cmd.Flags().Changed("max-attempts") {
		val, _ := cmd.Flags().GetInt("max-attempts")
		v.Set("phy.max_attempts", val)
	}
	if cmd.Flags().Changed("cycles") {
		val, _ := cmd.Flags().GetInt("cycles")
		v.Set("timing.cycles", val)
	}
	if cmd.Flags().Changed("interval") {
		val, _ := cmd.Flags().GetInt("interval")
		v.Set("timing.cycle_interval_ms", val)
	}
	if cmd.Flags().Changed("source") {
		val, _ := cmd.Flags().GetString("source")
		v.Set("source.kind", val)
	}
	if cmd.Flags().Changed("pcap") {
		val, _ := cmd.Flags().GetString("pcap")
		v.Set("source.pcap_file", val)
	}
	if cmd.Flags().Changed("ue-pool") {
		val, _ := cmd.Flags().GetString("ue-pool")
		v.Set("source.ue_ip_pool", val)
	}
	if cmd.Flags().Changed("capture") {
		val, _ := cmd.Flags().GetString("capture")
		v.Set("capture.file", val)
	}
	if cmd.Flags().Changed("log-level") {
		val, _ := cmd.Flags().GetString("log-level")
		v.Set("logging.level", val)
	}
	if cmd.Flags().Changed("metrics-listen") {
		val, _ := cmd.Flags().GetString("metrics-listen")
		v.Set("metrics.listen", val)
		v.Set("metrics.enabled", true)
	}
}

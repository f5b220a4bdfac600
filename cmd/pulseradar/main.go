// Command pulseradar is the supervisor (C7): it loads configuration,
// constructs the radio and GPIO gate, promotes time_offset to an
// absolute radio time, launches the TX scheduler and RX accumulator,
// runs the GPS collector on its own goroutine, and on termination
// reports error_count / last_pulse_num_written / pulses_received.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rjboer/pulseradar/internal/accumulate"
	"github.com/rjboer/pulseradar/internal/config"
	"github.com/rjboer/pulseradar/internal/discovery"
	"github.com/rjboer/pulseradar/internal/gps"
	"github.com/rjboer/pulseradar/internal/logging"
	"github.com/rjboer/pulseradar/internal/params"
	"github.com/rjboer/pulseradar/internal/phase"
	"github.com/rjboer/pulseradar/internal/radio"
	"github.com/rjboer/pulseradar/internal/runstate"
	"github.com/rjboer/pulseradar/internal/scheduler"
	"github.com/rjboer/pulseradar/internal/telemetry"
	"github.com/rjboer/pulseradar/internal/waveform"
	"github.com/rjboer/pulseradar/internal/writer"
)

const defaultConfigPath = "config/default.yaml"

// version is the run-log version stamp spec.md §6 requires as the
// first line of output; downstream tooling parses it verbatim.
const version = "0.0.1"

func main() {
	// [VERSION] must be the first line of run-log output, ahead of any
	// structured logging the rest of startup produces.
	fmt.Println("[VERSION] " + version)

	configPath := defaultConfigPath
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	log := logging.New(logging.Info, logging.Text, os.Stdout)
	logging.SetDefault(log)

	if err := run(configPath, log); err != nil {
		log.Error("fatal", logging.Field{Key: "err", Value: err.Error()})
		os.Exit(1)
	}
}

func run(configPath string, log logging.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	for _, w := range cfg.Warnings {
		log.Warn("config warning", logging.Field{Key: "detail", Value: w})
	}

	addr := cfg.Device.DeviceArgs
	if addr == "" {
		log.Info("device_args empty, browsing for an iiod device")
		found, err := discovery.FindIIODAddress(5, "")
		if err != nil {
			return fmt.Errorf("discover iiod device: %w", err)
		}
		addr = found
		log.Info("discovered iiod device", logging.Field{Key: "addr", Value: addr})
	}

	amp, err := radio.NewGPIOAmp(cfg.GPIO)
	if err != nil {
		return fmt.Errorf("configure gpio amp gate: %w", err)
	}
	defer amp.Disable()

	numTxSamps := params.NumTxSamps(cfg.Device, cfg.Chirp)
	numRxSamps := params.NumRxSamps(cfg.Device, cfg.Chirp)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dev, err := radio.DialIIOD(ctx, addr, "cf-ad9361-dds-core-lpc", "cf-ad9361-lpc", numTxSamps, numRxSamps, channelMask(cfg.Device.RxChannels))
	if err != nil {
		return fmt.Errorf("dial radio: %w", err)
	}
	defer dev.Close()

	chirp, err := promoteTimeOffset(ctx, dev, cfg.Chirp)
	if err != nil {
		return fmt.Errorf("promote time_offset: %w", err)
	}

	wave, err := waveform.Load(cfg.Files.ChirpLoc, numTxSamps)
	if err != nil {
		return fmt.Errorf("load waveform: %w", err)
	}

	if err := os.MkdirAll(cfg.Files.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	out, err := writer.New(cfg.Files.SaveLoc, chirp.MaxChirpsPerFile, os.Stdout)
	if err != nil {
		return fmt.Errorf("open output writer: %w", err)
	}

	state := runstate.New()
	gen := phase.New(1)

	hub := telemetry.NewHub(256, log)
	hub.AddReporter(telemetry.NewStdoutReporter(log))

	if cfg.TelemetryAddr != "" {
		ws := telemetry.NewWebServer(cfg.TelemetryAddr, hub, log)
		go ws.Start(ctx)
		log.Info("telemetry http server starting", logging.Field{Key: "addr", Value: cfg.TelemetryAddr})
	}

	stopSignals := make(chan os.Signal, 1)
	signal.Notify(stopSignals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stopSignals
		log.Info("interrupt received, requesting stop")
		state.RequestStop()
	}()

	startGPSCollector(ctx, cfg.Files.GPSLoc, log)

	schedErr := make(chan error, 1)
	go func() {
		schedErr <- scheduler.Run(ctx, dev, gen, wave, chirp, cfg.Device, numTxSamps, numRxSamps, state, log)
	}()

	fmt.Println("[START] Beginning main loop")
	summary := accumulate.Run(ctx, dev, gen, chirp, numRxSamps, out, state, hub, log)

	if err := <-schedErr; err != nil {
		log.Warn("scheduler exited with error", logging.Field{Key: "err", Value: err.Error()})
	}

	log.Info("run complete",
		logging.Field{Key: "error_count", Value: summary.ErrorCount},
		logging.Field{Key: "last_pulse_num_written", Value: summary.LastPulseNumWritten},
		logging.Field{Key: "pulses_received", Value: summary.PulsesReceived},
	)
	fmt.Printf("error_count=%d last_pulse_num_written=%d pulses_received=%d\n",
		summary.ErrorCount, summary.LastPulseNumWritten, summary.PulsesReceived)

	return nil
}

// promoteTimeOffset adds the radio's current epoch time to the
// config-relative time_offset, turning it into the absolute radio
// time the scheduler and accumulator schedule pulses against.
func promoteTimeOffset(ctx context.Context, dev radio.Device, chirp params.ChirpParams) (params.ChirpParams, error) {
	now, err := dev.Now(ctx)
	if err != nil {
		return chirp, err
	}
	chirp.TimeOffset += radio.EpochSeconds(now)
	return chirp, nil
}

// startGPSCollector opens the GPS serial device at the fixed path
// portPath and baud rate baud (neither comes from the config) and
// runs it on its own goroutine until ctx is canceled. A missing or
// unreachable GPS receiver is logged, never fatal.
func startGPSCollector(ctx context.Context, gpsLoc string, log logging.Logger) {
	const portPath = "/dev/ttyACM0"
	const baud = 115200

	collector, err := gps.Open(portPath, baud)
	if err != nil {
		log.Warn("gps collector disabled", logging.Field{Key: "err", Value: err.Error()})
		return
	}

	if err := collector.Configure(3); err != nil {
		log.Warn("gps configure failed, continuing with receiver defaults", logging.Field{Key: "err", Value: err.Error()})
	}

	f, err := os.OpenFile(gpsLoc, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Warn("gps log file unavailable", logging.Field{Key: "err", Value: err.Error()})
		_ = collector.Close()
		return
	}

	go func() {
		defer f.Close()
		defer collector.Close()
		if err := collector.RunUntilCancel(ctx, f); err != nil {
			log.Warn("gps collector stopped", logging.Field{Key: "err", Value: err.Error()})
		}
	}()
}

func channelMask(channels []int) uint8 {
	var mask uint8
	for _, c := range channels {
		if c >= 0 && c < 8 {
			mask |= 1 << uint(c)
		}
	}
	if mask == 0 {
		mask = 1
	}
	return mask
}

// Package config decodes the hierarchical YAML configuration file into
// the wire structs below, then reduces them to the immutable
// params.ChirpParams / params.DeviceParams / params.GPIOParams /
// params.FileParams the rest of the module runs on. It also carries
// the waveform-generation hints (GENERATE) used only to produce the
// warnings spec.md §6 requires; chirp generation itself is out of
// scope (the waveform is loaded from chirp_loc, not synthesized here).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rjboer/pulseradar/internal/params"
)

type chirpSection struct {
	TimeOffset       float64 `yaml:"time_offset"`
	TxDuration       float64 `yaml:"tx_duration"`
	RxDuration       float64 `yaml:"rx_duration"`
	TrOnLead         float64 `yaml:"tr_on_lead"`
	TrOffTrail       float64 `yaml:"tr_off_trail"`
	PulseRepInt      float64 `yaml:"pulse_rep_int"`
	TxLead           float64 `yaml:"tx_lead"`
	NumPulses        int64   `yaml:"num_pulses"`
	NumPresums       *int    `yaml:"num_presums"`
	PhaseDithering   *bool   `yaml:"phase_dithering"`
	MaxChirpsPerFile int     `yaml:"max_chirps_per_file"`
}

type generateSection struct {
	ChirpLength    float64 `yaml:"chirp_length"`
	SampleRate     float64 `yaml:"sample_rate"`
	ChirpBandwidth float64 `yaml:"chirp_bandwidth"`
}

type deviceSection struct {
	SubDev     string `yaml:"subdev"`
	ClkRef     string `yaml:"clk_ref"`
	DeviceArgs string `yaml:"device_args"`
	ClkRate    float64 `yaml:"clk_rate"`
	TxChannels string `yaml:"tx_channels"`
	RxChannels string `yaml:"rx_channels"`
	CPUFormat  string `yaml:"cpu_format"`
	OTWFormat  string `yaml:"otw_format"`
}

type gpioSection struct {
	GPIOBank  string `yaml:"gpio_bank"`
	PwrAmpPin int    `yaml:"pwr_amp_pin"`
	RefOut    int    `yaml:"ref_out"`
}

type rfSection struct {
	RxRate   float64 `yaml:"rx_rate"`
	TxRate   float64 `yaml:"tx_rate"`
	Freq     float64 `yaml:"freq"`
	RxGain   float64 `yaml:"rx_gain"`
	TxGain   float64 `yaml:"tx_gain"`
	BW       float64 `yaml:"bw"`
	TxAnt    string  `yaml:"tx_ant"`
	RxAnt    string  `yaml:"rx_ant"`
	Transmit *bool   `yaml:"transmit"`
}

type filesSection struct {
	ChirpLoc         string `yaml:"chirp_loc"`
	OutputDir        string `yaml:"output_dir"`
	SaveLoc          string `yaml:"save_loc"`
	GPSLoc           string `yaml:"gps_loc"`
	MaxChirpsPerFile int    `yaml:"max_chirps_per_file"`
}

// telemetrySection is C12's optional HTTP reporter. An empty Addr
// leaves it disabled, matching webserver.go's "entirely optional"
// contract.
type telemetrySection struct {
	Addr string `yaml:"addr"`
}

// Document mirrors the top-level YAML keys spec.md §6 names.
type Document struct {
	Chirp     chirpSection     `yaml:"CHIRP"`
	Generate  generateSection  `yaml:"GENERATE"`
	Device    deviceSection    `yaml:"DEVICE"`
	GPIO      gpioSection      `yaml:"GPIO"`
	RF0       rfSection        `yaml:"RF0"`
	RF1       rfSection        `yaml:"RF1"`
	Files     filesSection     `yaml:"FILES"`
	Telemetry telemetrySection `yaml:"TELEMETRY"`
}

// Config is the fully-reduced, validated bundle C7 builds the run from.
type Config struct {
	Chirp  params.ChirpParams
	Device params.DeviceParams
	GPIO   params.GPIOParams
	Files  params.FileParams

	// TelemetryAddr is the optional C12 HTTP reporter's listen address.
	// Empty disables it.
	TelemetryAddr string

	// Warnings are non-fatal config issues spec.md §6 requires surfacing.
	Warnings []string
}

// Load reads and decodes path, applies CHIRP defaults (num_presums=1,
// phase_dithering=false), and reduces the document into a Config.
// Returns a fatal error only for missing keys/bad values; suspicious
// but legal combinations are reported as Warnings on the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return reduce(doc)
}

func reduce(doc Document) (*Config, error) {
	numPresums := 1
	if doc.Chirp.NumPresums != nil {
		numPresums = *doc.Chirp.NumPresums
	}
	phaseDither := false
	if doc.Chirp.PhaseDithering != nil {
		phaseDither = *doc.Chirp.PhaseDithering
	}

	cpuFormat := doc.Device.CPUFormat
	if cpuFormat == "" {
		cpuFormat = "fc32"
	}

	chirp := params.ChirpParams{
		TimeOffset:       doc.Chirp.TimeOffset,
		TxDuration:       doc.Chirp.TxDuration,
		RxDuration:       doc.Chirp.RxDuration,
		TrOnLead:         doc.Chirp.TrOnLead,
		TrOffTrail:       doc.Chirp.TrOffTrail,
		PulseRepInt:      doc.Chirp.PulseRepInt,
		TxLead:           doc.Chirp.TxLead,
		NumPulses:        doc.Chirp.NumPulses,
		NumPresums:       numPresums,
		PhaseDither:      phaseDither,
		MaxChirpsPerFile: doc.Files.MaxChirpsPerFile,
	}
	if chirp.MaxChirpsPerFile == 0 {
		chirp.MaxChirpsPerFile = -1
	}
	if err := chirp.Validate(); err != nil {
		return nil, err
	}

	// RF1 supplies the active channel's settings; RF0 contributes only
	// Transmit, matching the original's channel-0-is-RF1 convention.
	transmit := true
	if doc.RF0.Transmit != nil {
		transmit = *doc.RF0.Transmit
	}

	device := params.DeviceParams{
		SubDev:     doc.Device.SubDev,
		ClkRef:     doc.Device.ClkRef,
		DeviceArgs: doc.Device.DeviceArgs,
		ClkRate:    doc.Device.ClkRate,
		TxChannels: parseChannelList(doc.Device.TxChannels),
		RxChannels: parseChannelList(doc.Device.RxChannels),
		CPUFormat:  cpuFormat,
		OTWFormat:  doc.Device.OTWFormat,
		RxRate:     doc.RF1.RxRate,
		TxRate:     doc.RF1.TxRate,
		Freq:       doc.RF1.Freq,
		RxGain:     doc.RF1.RxGain,
		TxGain:     doc.RF1.TxGain,
		BW:         doc.RF1.BW,
		TxAnt:      doc.RF1.TxAnt,
		RxAnt:      doc.RF1.RxAnt,
		Transmit:   transmit,
	}

	if device.CPUFormat != "fc32" {
		return nil, fmt.Errorf("config: cpu_format %q unsupported, only \"fc32\" is accepted", device.CPUFormat)
	}

	gpio := params.GPIOParams{
		Bank:      doc.GPIO.GPIOBank,
		PwrAmpPin: doc.GPIO.PwrAmpPin,
		RefOut:    doc.GPIO.RefOut,
	}

	files := params.FileParams{
		ChirpLoc:         doc.Files.ChirpLoc,
		OutputDir:        doc.Files.OutputDir,
		SaveLoc:          doc.Files.SaveLoc,
		GPSLoc:           doc.Files.GPSLoc,
		MaxChirpsPerFile: chirp.MaxChirpsPerFile,
	}

	cfg := &Config{Chirp: chirp, Device: device, GPIO: gpio, Files: files, TelemetryAddr: doc.Telemetry.Addr}
	cfg.Warnings = warningsFor(doc, chirp, device)
	return cfg, nil
}

func warningsFor(doc Document, chirp params.ChirpParams, device params.DeviceParams) []string {
	var warnings []string
	if doc.Generate.ChirpLength > chirp.TxDuration {
		warnings = append(warnings, fmt.Sprintf("chirp_length (%v) exceeds tx_duration (%v)", doc.Generate.ChirpLength, chirp.TxDuration))
	}
	if chirp.RxDuration < chirp.TxDuration {
		warnings = append(warnings, fmt.Sprintf("rx_duration (%v) is shorter than tx_duration (%v)", chirp.RxDuration, chirp.TxDuration))
	}
	if device.TxRate != device.RxRate {
		warnings = append(warnings, fmt.Sprintf("tx_rate (%v) does not match rx_rate (%v)", device.TxRate, device.RxRate))
	}
	if doc.Generate.SampleRate != 0 && doc.Generate.SampleRate != device.TxRate {
		warnings = append(warnings, fmt.Sprintf("sample_rate (%v) does not match tx_rate (%v)", doc.Generate.SampleRate, device.TxRate))
	}
	if device.BW > 0 && device.BW < doc.Generate.ChirpBandwidth {
		warnings = append(warnings, fmt.Sprintf("bw (%v) is narrower than chirp_bandwidth (%v)", device.BW, doc.Generate.ChirpBandwidth))
	}
	return warnings
}

func parseChannelList(raw string) []int {
	if raw == "" {
		return []int{0}
	}
	var out []int
	cur := 0
	has := false
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			cur = cur*10 + int(r-'0')
			has = true
			continue
		}
		if has {
			out = append(out, cur)
			cur, has = 0, false
		}
	}
	if has {
		out = append(out, cur)
	}
	if len(out) == 0 {
		return []int{0}
	}
	return out
}

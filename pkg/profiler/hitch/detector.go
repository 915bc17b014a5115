// Package hitch flags frames that take abnormally long.
package hitch

// Defaults for Config.
const (
	DefaultNumSamples        = 10
	DefaultFrameMSLimit      = 100.0
	DefaultOverAverageFactor = 1.5
)

// Config tunes the detector.
type Config struct {
	NumSamples        int
	FrameMSLimit      float64
	OverAverageFactor float64
	// SpikeDetection also flags frames longer than OverAverageFactor times
	// the rolling average.
	SpikeDetection bool
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		NumSamples:        DefaultNumSamples,
		FrameMSLimit:      DefaultFrameMSLimit,
		OverAverageFactor: DefaultOverAverageFactor,
	}
}

// Detector keeps a rolling average of frame durations. It is used only by
// the frame driver and is not safe for concurrent use.
type Detector struct {
	cfg         Config
	accumulated float64
	average     float64
	last        float64
}

// New creates a detector. Zero config fields take their defaults.
func New(cfg Config) *Detector {
	if cfg.NumSamples <= 0 {
		cfg.NumSamples = DefaultNumSamples
	}
	if cfg.FrameMSLimit <= 0 {
		cfg.FrameMSLimit = DefaultFrameMSLimit
	}
	if cfg.OverAverageFactor <= 0 {
		cfg.OverAverageFactor = DefaultOverAverageFactor
	}
	return &Detector{cfg: cfg}
}

// Observe records the duration of one frame in milliseconds and reports
// whether it was a hitch. A hitch resets the average to that frame so a
// single slow frame does not trigger again on the next one.
func (d *Detector) Observe(frameMS float64) bool {
	n := float64(d.cfg.NumSamples)
	if d.accumulated == 0 {
		d.accumulated = frameMS * n
		d.average = frameMS
	}
	previous := d.average
	d.accumulated -= d.average
	d.accumulated += frameMS
	d.average = d.accumulated / n
	d.last = frameMS

	hitch := d.last > d.cfg.FrameMSLimit
	if d.cfg.SpikeDetection && previous > 0 && d.last > previous*d.cfg.OverAverageFactor {
		hitch = true
	}
	if hitch {
		d.accumulated = d.last * n
		d.average = d.last
	}
	return hitch
}

// Average returns the rolling average in milliseconds.
func (d *Detector) Average() float64 { return d.average }

// Last returns the most recent frame duration in milliseconds.
func (d *Detector) Last() float64 { return d.last }

// Config returns the effective thresholds.
func (d *Detector) Config() Config { return d.cfg }

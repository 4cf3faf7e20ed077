// Package vad implements the local voice activity detector.
//
// A [Detector] consumes fixed-size mono PCM16 frames at the rate the platform
// delivers them and reduces per-frame speech probabilities to discrete
// boundary events: one [EventSpeechStart] when speech is confirmed and one
// [EventSpeechStop] when it ends. Probabilities come from a pluggable
// [Classifier]; the detector adds hysteresis (N consecutive like frames
// before a reported transition) and a force-stop timeout that bounds turn
// length even when the classifier never reports silence.
//
// The detector is advisory: malformed input fails soft (no event, zero
// probability) and never interrupts audio relay. A Detector is owned by one
// conversation's processing loop and is not safe for concurrent use.
package vad

import "time"

// State is the detector's position in the speech/silence cycle.
type State int

const (
	// StateIdle — no speech observed.
	StateIdle State = iota

	// StateStarted — speech confirmed this frame (transition edge).
	StateStarted

	// StateActive — speech ongoing.
	StateActive

	// StateStopped — speech ended this frame (transition edge).
	StateStopped
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarted:
		return "started"
	case StateActive:
		return "active"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// EventType classifies the boundary event produced by one Process call.
type EventType int

const (
	// EventNone — no boundary crossed.
	EventNone EventType = iota

	// EventSpeechStart — hysteresis confirmed the start of an utterance.
	EventSpeechStart

	// EventSpeechStop — silence or the force-stop timeout ended the utterance.
	EventSpeechStop
)

// Result is the outcome of processing one frame.
type Result struct {
	// Event is the boundary event, if any.
	Event EventType

	// Probability is the aggregated speech probability for the frame.
	Probability float64

	// IsSpeech reports whether the detector currently considers speech active.
	IsSpeech bool

	// State is the detector state after this frame.
	State State

	// ForceStopped is set when EventSpeechStop was caused by the timeout
	// rather than observed silence.
	ForceStopped bool
}

// Classifier scores one native-size PCM16 frame with a speech probability
// in [0, 1]. Implementations may keep internal state (noise-floor tracking)
// and are owned by a single Detector.
type Classifier interface {
	Probability(pcm []byte) float64
}

// Config holds detector parameters. Zero fields take the defaults below.
type Config struct {
	// SampleRate of the incoming frames in Hz.
	SampleRate int

	// FrameMs is the classifier's native frame duration. Longer input frames
	// are split into FrameMs sub-chunks and aggregated by max probability.
	FrameMs int

	// SpeechThreshold: frames at or above it count toward speech start.
	SpeechThreshold float64

	// SilenceThreshold: frames at or below it count toward speech stop.
	// Frames between the two thresholds reset both runs.
	SilenceThreshold float64

	// StartFrames is the consecutive speech-frame count required to report
	// EventSpeechStart.
	StartFrames int

	// StopFrames is the consecutive silence-frame count required to report
	// EventSpeechStop.
	StopFrames int

	// ForceStopTimeout bounds the active duration of a single utterance,
	// measured in audio time. Exceeding it reports EventSpeechStop even with
	// zero silence frames.
	ForceStopTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.FrameMs <= 0 {
		c.FrameMs = 20
	}
	if c.SpeechThreshold <= 0 {
		c.SpeechThreshold = 0.6
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = 0.4
	}
	if c.StartFrames <= 0 {
		c.StartFrames = 2
	}
	if c.StopFrames <= 0 {
		c.StopFrames = 3
	}
	if c.ForceStopTimeout <= 0 {
		c.ForceStopTimeout = 10 * time.Second
	}
	return c
}

// Detector runs the hysteresis state machine over classifier output.
type Detector struct {
	cfg Config
	cls Classifier

	state      State
	speechRun  int
	silenceRun int

	// activeDur is the audio time elapsed since speech start, used for the
	// force-stop decision. Audio time keeps the detector deterministic and
	// independent of processing jitter.
	activeDur time.Duration

	speechStartTime time.Time
	lastSpeechTime  time.Time

	now func() time.Time
}

// New creates a Detector with the given config and classifier. A nil
// classifier gets a default [EnergyClassifier].
func New(cfg Config, cls Classifier) *Detector {
	if cls == nil {
		cls = NewEnergyClassifier()
	}
	return &Detector{
		cfg: cfg.withDefaults(),
		cls: cls,
		now: time.Now,
	}
}

// Process classifies one frame and advances the state machine. The frame must
// be little-endian mono PCM16 at the configured sample rate; anything else
// (empty, odd length) fails soft with a no-event result.
func (d *Detector) Process(pcm []byte) Result {
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		return Result{State: d.externalState(), IsSpeech: d.isSpeech()}
	}

	// Transition edges collapse back to steady states before the next frame.
	switch d.state {
	case StateStarted:
		d.state = StateActive
	case StateStopped:
		d.state = StateIdle
	}

	p := d.classify(pcm)
	frameDur := time.Duration(len(pcm)/2) * time.Second / time.Duration(d.cfg.SampleRate)

	switch {
	case p >= d.cfg.SpeechThreshold:
		d.speechRun++
		d.silenceRun = 0
	case p <= d.cfg.SilenceThreshold:
		d.silenceRun++
		d.speechRun = 0
	default:
		// Ambiguous band: suppress progress in either direction.
		d.speechRun = 0
		d.silenceRun = 0
	}

	res := Result{Probability: p}

	switch d.state {
	case StateIdle:
		if d.speechRun >= d.cfg.StartFrames {
			d.state = StateStarted
			d.activeDur = 0
			d.speechStartTime = d.now()
			d.lastSpeechTime = d.speechStartTime
			res.Event = EventSpeechStart
		}

	case StateActive:
		d.activeDur += frameDur
		if p >= d.cfg.SpeechThreshold {
			d.lastSpeechTime = d.now()
		}
		switch {
		case d.activeDur >= d.cfg.ForceStopTimeout:
			d.state = StateStopped
			res.Event = EventSpeechStop
			res.ForceStopped = true
			d.speechRun = 0
			d.silenceRun = 0
		case d.silenceRun >= d.cfg.StopFrames:
			d.state = StateStopped
			res.Event = EventSpeechStop
			d.speechRun = 0
		}
	}

	res.State = d.state
	res.IsSpeech = d.isSpeech()
	return res
}

// classify splits pcm into native-size sub-chunks and returns the maximum
// probability across them. A trailing partial sub-chunk is included.
func (d *Detector) classify(pcm []byte) float64 {
	chunkBytes := d.cfg.SampleRate * d.cfg.FrameMs / 1000 * 2
	if chunkBytes <= 0 || len(pcm) <= chunkBytes {
		return clamp01(d.cls.Probability(pcm))
	}

	var maxP float64
	for off := 0; off < len(pcm); off += chunkBytes {
		end := off + chunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		if p := clamp01(d.cls.Probability(pcm[off:end])); p > maxP {
			maxP = p
		}
	}
	return maxP
}

// Reset clears all counters, timestamps, and state. Called on conversation
// end and on backend-reported turn resets.
func (d *Detector) Reset() {
	d.state = StateIdle
	d.speechRun = 0
	d.silenceRun = 0
	d.activeDur = 0
	d.speechStartTime = time.Time{}
	d.lastSpeechTime = time.Time{}
}

// State returns the detector state as of the last Process call.
func (d *Detector) State() State { return d.externalState() }

func (d *Detector) externalState() State { return d.state }

func (d *Detector) isSpeech() bool {
	return d.state == StateStarted || d.state == StateActive
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

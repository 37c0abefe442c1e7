package prompt

import (
	"strings"
	"time"
)

// State is the Prompt Detector's state-machine state (spec §4.3). Paused
// is deliberately not a detector state: it's a flag the orchestrator gates
// actions on, checked before the detector is ever consulted.
type State string

const (
	StateWorking   State = "working"
	StateQuestion  State = "question"
	StateAnswering State = "answering"
)

// DetectedPrompt pairs the matched pattern's Kind with the line that
// triggered it.
type DetectedPrompt struct {
	Kind Kind
	Line string
}

// DetectorConfig holds the Prompt Detector's tunable timing and fallback
// parameters.
type DetectorConfig struct {
	SilenceTimeout         time.Duration
	AnswerCooldown         time.Duration
	UnknownRequestFallback bool
	IdleInputFallback      bool
}

// DefaultDetectorConfig mirrors the documented defaults.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		SilenceTimeout:         3 * time.Second,
		AnswerCooldown:         1 * time.Second,
		UnknownRequestFallback: true,
		IdleInputFallback:      true,
	}
}

// EventType classifies what a Detector call produced.
type EventType string

const (
	EventWorking          EventType = "working"
	EventSilence          EventType = "silence"
	EventUnknownRequest   EventType = "unknown_request"
	EventPromptDetected   EventType = "prompt_detected"
	EventWaitingForResume EventType = "waiting_for_resume"
	EventResumed          EventType = "resumed"
)

// Event is what the Detector emits for the orchestrator to act on.
type Event struct {
	Type   EventType
	Prompt DetectedPrompt
	Line   string
}

// Detector implements the Prompt Detector state machine (§4.3): Working,
// Question, and Answering, with an answer_cooldown window that absorbs
// bytes arriving right after an injected reply so they are never
// mistaken for a fresh, unrelated prompt.
type Detector struct {
	state    State
	cfg      DetectorConfig
	patterns PatternSet
	question DetectedPrompt

	haveOutput   bool
	lastOutputAt time.Time
	lastLine     string

	unknownEmitted bool
	answeringUntil time.Time
}

// NewDetector builds a Detector for the given agent pattern set and config.
func NewDetector(patterns PatternSet, cfg DetectorConfig) *Detector {
	return &Detector{state: StateWorking, cfg: cfg, patterns: patterns}
}

// State reports the detector's current state.
func (d *Detector) State() State { return d.state }

// Question reports the prompt pending in Question or Answering state. Its
// value is meaningless in Working state.
func (d *Detector) Question() DetectedPrompt { return d.question }

// OnOutput is called for each new non-empty line extracted from the
// capture stream, in order. It returns a non-nil Event when the new
// output causes an immediate transition (a known pattern matched inline,
// or output arrived that resolves a pending Question/Answering), and nil
// when it's just ordinary working output.
func (d *Detector) OnOutput(line string) *Event {
	trimmed := strings.TrimSpace(StripANSI(line))
	if trimmed == "" {
		return nil
	}

	d.lastOutputAt = time.Now()
	d.haveOutput = true
	d.lastLine = trimmed

	switch d.state {
	case StateWorking:
		d.unknownEmitted = false
		if p, ok := d.patterns.Match(trimmed); ok {
			d.question = DetectedPrompt{Kind: p.Kind, Line: trimmed}
			d.state = StateQuestion
			return &Event{Type: EventPromptDetected, Prompt: d.question}
		}
		return nil

	case StateAnswering:
		// New output during the cooldown window means the executor has
		// already moved on; treat it as ordinary working output.
		d.state = StateWorking
		d.unknownEmitted = false
		return &Event{Type: EventResumed}

	case StateQuestion:
		// New output arrived before the orchestrator scheduled a reply:
		// either a human answered directly, or the executor moved past
		// the prompt on its own.
		d.state = StateWorking
		d.unknownEmitted = false
		return &Event{Type: EventResumed}

	default:
		return nil
	}
}

// Tick evaluates silence-based transitions. It is called once per poll
// interval regardless of whether OnOutput produced new events this tick.
func (d *Detector) Tick() Event {
	now := time.Now()

	switch d.state {
	case StateWorking:
		if !d.haveOutput {
			return Event{Type: EventWorking}
		}
		silence := now.Sub(d.lastOutputAt)
		if silence < d.cfg.SilenceTimeout || d.lastLine == "" {
			return Event{Type: EventWorking}
		}

		if p, ok := d.patterns.Match(d.lastLine); ok {
			d.question = DetectedPrompt{Kind: p.Kind, Line: d.lastLine}
			d.state = StateQuestion
			return Event{Type: EventPromptDetected, Prompt: d.question}
		}

		if d.cfg.IdleInputFallback && idleCursorRegex.MatchString(d.lastLine) {
			d.question = DetectedPrompt{Kind: KindIdleUnknown, Line: d.lastLine}
			d.state = StateQuestion
			return Event{Type: EventPromptDetected, Prompt: d.question}
		}

		if d.cfg.UnknownRequestFallback && !d.unknownEmitted {
			d.unknownEmitted = true
			return Event{Type: EventUnknownRequest, Line: d.lastLine}
		}
		return Event{Type: EventSilence, Line: d.lastLine}

	case StateQuestion:
		// Keep reporting the pending question every tick until the
		// orchestrator injects an answer or a human overrides it.
		return Event{Type: EventPromptDetected, Prompt: d.question}

	case StateAnswering:
		if !now.Before(d.answeringUntil) {
			d.state = StateWorking
			d.unknownEmitted = false
			return Event{Type: EventResumed}
		}
		return Event{Type: EventWaitingForResume}

	default:
		return Event{Type: EventWorking}
	}
}

// AnswerInjected transitions Question → Answering, starting the
// answer_cooldown window that absorbs the executor's immediate reaction
// to an injected reply.
func (d *Detector) AnswerInjected() {
	d.state = StateAnswering
	d.answeringUntil = time.Now().Add(d.cfg.AnswerCooldown)
}

// HumanOverride cancels any pending question or cooldown and resets to
// Working with a fresh silence timer, used when a human operator presses
// the pause hotkey or the answer-delay check finds the human already
// answered.
func (d *Detector) HumanOverride() {
	d.state = StateWorking
	d.lastOutputAt = time.Now()
	d.haveOutput = true
	d.unknownEmitted = false
}

// Package policy implements the Policy Engine: it decides, for a detected
// prompt, whether to observe, suggest a response, act autonomously, or
// escalate to the Tier-2 supervisor.
package policy

import (
	"sort"
	"strings"

	"github.com/battysh/batty/internal/prompt"
)

// Decision is the Policy Engine's verdict for a single detected prompt.
type Decision string

const (
	// DecisionObserve takes no action; the prompt is only logged.
	DecisionObserve Decision = "observe"
	// DecisionSuggest surfaces a candidate answer to a human without
	// injecting it.
	DecisionSuggest Decision = "suggest"
	// DecisionAct injects the matched auto-answer directly.
	DecisionAct Decision = "act"
	// DecisionInjectEmptyLine sends a bare Enter, for prompts that only
	// need acknowledgment rather than a specific answer.
	DecisionInjectEmptyLine Decision = "inject_empty_line"
	// DecisionEscalate hands the prompt to the Tier-2 supervisor.
	DecisionEscalate Decision = "escalate"
)

// Tier is the configured autonomy level, mapping 1:1 onto config.toml's
// defaults.policy / task-level override values.
type Tier string

const (
	TierObserve   Tier = "observe"
	TierSuggest   Tier = "suggest"
	TierAct       Tier = "act"
	TierFullyAuto Tier = "fully_auto"
)

// Verdict is the Policy Engine's full output for one evaluation.
type Verdict struct {
	Decision Decision
	Answer   string // the text to inject or suggest, if any
	Matched  string // the auto_answer key that matched, if any
}

// Engine evaluates detected prompts against a configured auto-answer table
// and autonomy tier.
type Engine struct {
	tier       Tier
	autoAnswer map[string]string
}

// New builds an Engine for the given tier and substring-keyed auto-answer
// table (config.toml's [policy.auto_answer] section).
func New(tier Tier, autoAnswer map[string]string) *Engine {
	return &Engine{tier: tier, autoAnswer: autoAnswer}
}

// ActiveTier returns the engine's configured autonomy tier.
func (e *Engine) ActiveTier() Tier { return e.tier }

// AutoAnswerKeys returns the configured auto-answer table's keys, sorted,
// for inclusion in a policy summary without exposing the literal answers.
func (e *Engine) AutoAnswerKeys() []string {
	keys := make([]string, 0, len(e.autoAnswer))
	for k := range e.autoAnswer {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Evaluate decides what to do about a prompt line of the given kind.
//
// At TierObserve, every prompt is merely logged. At TierSuggest, a match
// against the auto-answer table is surfaced but never injected. At TierAct,
// matches on y/n, choice, and permission prompts are injected automatically;
// a matched free-text prompt is only suggested, since free text carries the
// most risk of a wrong automated answer, and an unmatched prompt escalates.
// At TierFullyAuto every matched prompt is acted on,
// and an unmatched prompt escalates only if it isn't a yes/no defaulted to
// "yes".
func (e *Engine) Evaluate(line string, kind prompt.Kind) Verdict {
	// An enter-to-continue prompt needs nothing but acknowledgment, so it
	// bypasses the auto-answer table entirely: there's no "answer" to
	// look up, just a decision of whether to press Enter.
	if kind == prompt.KindEnterToContinue {
		switch e.tier {
		case TierObserve:
			return Verdict{Decision: DecisionObserve}
		case TierSuggest:
			return Verdict{Decision: DecisionSuggest, Answer: ""}
		case TierAct, TierFullyAuto:
			return Verdict{Decision: DecisionInjectEmptyLine}
		default:
			return Verdict{Decision: DecisionEscalate}
		}
	}

	key, answer, matched := e.lookup(line)

	switch e.tier {
	case TierObserve:
		return Verdict{Decision: DecisionObserve, Matched: key}

	case TierSuggest:
		if matched {
			return Verdict{Decision: DecisionSuggest, Answer: answer, Matched: key}
		}
		return Verdict{Decision: DecisionEscalate}

	case TierAct:
		if matched && kind != prompt.KindFreeText {
			return Verdict{Decision: DecisionAct, Answer: answer, Matched: key}
		}
		if matched {
			return Verdict{Decision: DecisionSuggest, Answer: answer, Matched: key}
		}
		return Verdict{Decision: DecisionEscalate}

	case TierFullyAuto:
		if matched {
			return Verdict{Decision: DecisionAct, Answer: answer, Matched: key}
		}
		if kind == prompt.KindYesNo {
			return Verdict{Decision: DecisionAct, Answer: "y"}
		}
		return Verdict{Decision: DecisionEscalate}

	default:
		return Verdict{Decision: DecisionEscalate}
	}
}

// lookup finds the auto-answer table key that appears as a substring of
// line, mirroring the reference implementation's substring-match policy.
// When multiple keys match, the longest key wins, since a longer match is
// necessarily more specific; ties break alphabetically for determinism.
func (e *Engine) lookup(line string) (key, answer string, matched bool) {
	lower := strings.ToLower(line)

	keys := make([]string, 0, len(e.autoAnswer))
	for k := range e.autoAnswer {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	for _, k := range keys {
		if strings.Contains(lower, strings.ToLower(k)) {
			return k, e.autoAnswer[k], true
		}
	}
	return "", "", false
}

// Package reviewgate implements the Review Gate: after a phase passes the
// Completion Contract, a human (or an env-configured override) decides
// whether to merge, rework, or escalate the phase's branch.
package reviewgate

import (
	"fmt"
	"os"
	"strings"

	"github.com/battysh/batty/internal/errors"
	"github.com/charmbracelet/huh"
)

// Decision is the Review Gate's outcome for one phase.
type Decision string

const (
	DecisionMerge    Decision = "merge"
	DecisionRework   Decision = "rework"
	DecisionEscalate Decision = "escalate"
)

// overrideEnvVar lets CI or scripted runs bypass the interactive prompt.
const overrideEnvVar = "BATTY_REVIEW_DECISION"

// Packet is the review packet presented to the reviewer: a summary of what
// changed and why it's ready for review.
type Packet struct {
	Phase       string
	Branch      string
	Summary     string
	DiffStat    string
	FailedGates []string
}

// GeneratePacket builds a review packet from a phase's completion state.
func GeneratePacket(phase, branch, summary, diffStat string, failedGates []string) Packet {
	return Packet{
		Phase:       phase,
		Branch:      branch,
		Summary:     summary,
		DiffStat:    diffStat,
		FailedGates: failedGates,
	}
}

// CaptureDecision resolves a review decision, preferring an environment
// override (for scripted/non-interactive runs) and otherwise presenting an
// interactive huh.Select form.
func CaptureDecision(packet Packet) (Decision, string, error) {
	if raw := os.Getenv(overrideEnvVar); raw != "" {
		d, err := parseDecision(raw)
		if err != nil {
			return "", "", errors.NewReviewError("CaptureDecision", "invalid "+overrideEnvVar, err)
		}
		return d, "", nil
	}

	return captureInteractive(packet)
}

func captureInteractive(packet Packet) (Decision, string, error) {
	var choice string
	var rationale string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title(fmt.Sprintf("Review: %s (%s)", packet.Phase, packet.Branch)).
				Description(packet.Summary),
			huh.NewSelect[string]().
				Title("Decision").
				Options(
					huh.NewOption("Merge", string(DecisionMerge)),
					huh.NewOption("Send back for rework", string(DecisionRework)),
					huh.NewOption("Escalate to a human maintainer", string(DecisionEscalate)),
				).
				Value(&choice),
			huh.NewText().
				Title("Rationale (optional)").
				Value(&rationale),
		),
	)

	if err := form.Run(); err != nil {
		return "", "", errors.NewReviewError("CaptureDecision", "interactive form failed", err)
	}

	decision, err := parseDecision(choice)
	if err != nil {
		return "", "", errors.NewReviewError("CaptureDecision", "unrecognized decision", err)
	}
	return decision, rationale, nil
}

func parseDecision(raw string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "merge":
		return DecisionMerge, nil
	case "rework":
		return DecisionRework, nil
	case "escalate":
		return DecisionEscalate, nil
	default:
		return "", fmt.Errorf("reviewgate: unknown decision %q", raw)
	}
}

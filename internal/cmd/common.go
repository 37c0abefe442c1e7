package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/battysh/batty/internal/adapter"
	gobatconfig "github.com/battysh/batty/internal/config"
	batterrors "github.com/battysh/batty/internal/errors"
	"github.com/battysh/batty/internal/logging"
	"github.com/battysh/batty/internal/namer"
	"github.com/battysh/batty/internal/policy"
	"github.com/battysh/batty/internal/sequencer"
	"github.com/battysh/batty/internal/tier2"
	"github.com/battysh/batty/internal/tmux"
)

// exitError pairs an error with the process exit code it should produce,
// per the documented code table: 1 generic run failure, 2 user error, 3
// environment error, 4 escalation, 5 deadlock.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

// ExitCode classifies err into one of batty's documented exit codes, for
// main to pass to os.Exit after Execute returns an error.
func ExitCode(err error) int {
	return exitCodeFor(err)
}

// exitCodeFor classifies err into one of batty's documented exit codes.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}

	var multiplexerErr *batterrors.MultiplexerError
	if errors.As(err, &multiplexerErr) {
		return 3
	}
	var boardErr *batterrors.BoardError
	if errors.As(err, &boardErr) {
		return 2
	}
	var completionErr *batterrors.CompletionError
	if errors.As(err, &completionErr) {
		return 1
	}
	var reviewErr *batterrors.ReviewError
	if errors.As(err, &reviewErr) {
		return 1
	}
	var mergeErr *batterrors.MergeError
	if errors.As(err, &mergeErr) {
		return 1
	}
	return 1
}

func projectRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", withExitCode(2, fmt.Errorf("resolve working directory: %w", err))
	}
	return wd, nil
}

// newRunLogger builds a session logger rooted at .batty/logs/<runID>,
// matching the persisted state layout's logs/<run>/ directory.
func newRunLogger(projectRoot, runID string) (*logging.Logger, error) {
	dir := filepath.Join(projectRoot, ".batty", "logs", runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, withExitCode(2, fmt.Errorf("create log dir: %w", err))
	}
	logger, err := logging.NewLogger(dir, logging.ParseLevel("info"))
	if err != nil {
		return nil, withExitCode(2, fmt.Errorf("open logger: %w", err))
	}
	return logger.WithRun(runID), nil
}

func adapterFromName(name string) (adapter.Adapter, error) {
	a, err := adapter.FromName(name)
	if err != nil {
		return nil, withExitCode(2, err)
	}
	return a, nil
}

func policyEngineFromConfig(cfg *gobatconfig.Config, tierOverride string) (*policy.Engine, error) {
	tier := cfg.Defaults.Policy
	if tierOverride != "" {
		tier = tierOverride
	}
	if !gobatconfig.IsValidPolicy(tier) {
		return nil, withExitCode(2, fmt.Errorf("unknown policy tier %q, want one of %v", tier, gobatconfig.ValidPolicies()))
	}
	return policy.New(policy.Tier(tier), cfg.Policy.AutoAnswer), nil
}

func tier2DelegatorFromConfig(cfg *gobatconfig.Config) *tier2.Delegator {
	if cfg.Supervisor.Command == "" {
		return nil
	}
	return tier2.New(tier2.Config{
		Command:     cfg.Supervisor.Command,
		Timeout:     cfg.Supervisor.SupervisorTimeout(),
		MaxRetries:  cfg.Supervisor.MaxRetries,
		ProjectDocs: cfg.Supervisor.ProjectDocs,
	})
}

// newRunID derives a short, sortable run identifier from the current time,
// matching the reference layout's logs/<run>/ naming.
func newRunID(now time.Time) string {
	return now.UTC().Format("20060102-150405")
}

// liveSession is one tmux session found on a run socket whose name matches
// a discovered phase, for `batty attach`/`batty resume`.
type liveSession struct {
	socket, session, runID, phase, phaseDir string
}

// resolveSession finds the most recent live session for arg, which the
// operator may have given either as a bare phase name or as a literal
// session name copied from `batty list`. Session names embed the run ID
// ("batty-<runID>-<phase>[-<slot>]"), so the match works backwards from
// every discovered phase's sanitized name rather than trying to split the
// run ID out of the session name directly (the run ID itself can contain
// hyphens).
func resolveSession(root, arg string) (liveSession, error) {
	disc, err := sequencer.DiscoverPhases(root)
	if err != nil {
		return liveSession{}, withExitCode(2, err)
	}
	phaseDirBySanitized := make(map[string]sequencer.Candidate, len(disc.Selected))
	for _, c := range disc.Selected {
		phaseDirBySanitized[namer.Sanitize(c.Name)] = c
	}

	sockets, err := tmux.ListBattySockets()
	if err != nil {
		return liveSession{}, withExitCode(3, err)
	}

	var matches []liveSession
	for _, sock := range sockets {
		if !tmux.IsRunSocket(sock) {
			continue
		}
		runID := tmux.ExtractRunID(sock)
		sessions, err := tmux.ListSessions(sock)
		if err != nil {
			continue
		}
		for _, s := range sessions {
			remainder := strings.TrimPrefix(s, "batty-"+runID+"-")
			if remainder == s {
				continue
			}
			cand, ok := phaseDirBySanitized[remainder]
			if !ok {
				if i := strings.LastIndex(remainder, "-"); i > 0 {
					cand, ok = phaseDirBySanitized[remainder[:i]]
				}
			}
			if !ok {
				continue
			}
			if s != arg && cand.Name != arg && namer.Sanitize(arg) != namer.Sanitize(cand.Name) {
				continue
			}
			matches = append(matches, liveSession{socket: sock, session: s, runID: runID, phase: cand.Name, phaseDir: cand.Directory})
		}
	}
	if len(matches) == 0 {
		return liveSession{}, withExitCode(2, fmt.Errorf("no live session found for %q", arg))
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].runID > matches[j].runID })
	return matches[0], nil
}

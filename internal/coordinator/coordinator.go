// Package coordinator implements the Run Coordinator: the pipeline that
// takes one phase board, spawns its agent inside a supervised tmux pane,
// auto-answers or escalates prompts per policy, and runs to completion or
// a detected stall.
package coordinator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/battysh/batty/internal/adapter"
	"github.com/battysh/batty/internal/board"
	"github.com/battysh/batty/internal/completion"
	"github.com/battysh/batty/internal/dag"
	"github.com/battysh/batty/internal/errors"
	"github.com/battysh/batty/internal/eventbuf"
	"github.com/battysh/batty/internal/execlog"
	"github.com/battysh/batty/internal/lease"
	"github.com/battysh/batty/internal/logging"
	"github.com/battysh/batty/internal/policy"
	"github.com/battysh/batty/internal/prompt"
	"github.com/battysh/batty/internal/tier2"
	"github.com/battysh/batty/internal/tmux"
	"github.com/battysh/batty/internal/util"
	"golang.org/x/term"
)

// statusTextMaxWidth bounds status-left text to a width that fits inside
// tmux's default status-bar column budget alongside the session name the
// teacher's status bar reserves on the right.
const statusTextMaxWidth = 48

// Config describes one phase run.
type Config struct {
	RunID       string
	Phase       string
	PhaseDir    string
	ProjectRoot string
	Socket      string
	Session     string

	Adapter       adapter.Adapter
	DangerousMode bool

	Policy *policy.Engine
	Tier2  *tier2.Delegator // nil disables Tier-2 escalation

	IdleWindow   time.Duration
	PollInterval time.Duration
	StallTimeout time.Duration // session is declared stalled after this much total idle time

	// AnswerCooldown is the Prompt Detector's answer_cooldown window (spec
	// §4.3). Zero uses prompt.DefaultDetectorConfig's 1s default.
	AnswerCooldown time.Duration
	// AnswerDelay is how long an injection waits, after being decided,
	// before actually being sent, so a human typing directly into the pane
	// gets a last chance to pre-empt it (spec §4.6's answer-delay check).
	// Zero defaults to 1s.
	AnswerDelay time.Duration
	// DisableUnknownRequestFallback and DisableIdleInputFallback opt out of
	// the Prompt Detector's two silence-triggered fallbacks, both enabled
	// by default.
	DisableUnknownRequestFallback bool
	DisableIdleInputFallback      bool

	// Tier2MinConfidence gates Tier-2 answer injection under the
	// fully_auto policy tier: an answer with no reported confidence is
	// always escalated instead of injected, and one with a reported
	// confidence below this threshold is escalated too. Nil accepts any
	// reported confidence. Ignored outside fully_auto.
	Tier2MinConfidence *float64
	// Tier2MaxAnswerLength caps how long a Tier-2 answer can be before it's
	// rejected into an escalation rather than injected. Zero uses
	// defaultTier2MaxAnswerLength.
	Tier2MaxAnswerLength int

	// StuckAfter is how long the session can go without a progress event
	// (task-started, task-completed, test-ran, command-ran, commit-made)
	// before the stuck/nudge ladder sends a nudge. Zero disables it.
	StuckAfter time.Duration
	// MaxNudges bounds how many nudges the ladder sends before escalating.
	// Zero defaults to 3.
	MaxNudges int
	// NudgeText is typed into the pane on each nudge. Empty defaults to
	// "please continue".
	NudgeText string

	// ClaimIdentity is the string this run's agent should use when claiming
	// board tasks. ClaimSource labels it "single-agent" or "parallel-slot"
	// (spec §9's authoritative-source rule: exactly one of these is ever
	// injected into the launch context).
	ClaimIdentity string
	ClaimSource   string

	// Attempt is the 1-based rework attempt counter; ReworkFeedback is the
	// previous reviewer's feedback, included as a "Rework" section whenever
	// Attempt > 1.
	Attempt        int
	ReworkFeedback string

	// DoDCommand is the configured Definition of Done command, or "" if
	// defaults.dod is unset, per the Completion Contract's required
	// completion artifacts list.
	DoDCommand string

	// LogDir is the run's log directory; the composed launch context is
	// persisted here before the agent is spawned.
	LogDir string

	// WorkDir is the working directory the agent process is spawned in,
	// typically a worktree provisioned for this phase so the agent edits
	// an isolated checkout rather than the project's primary working
	// tree. Defaults to PhaseDir when empty.
	WorkDir string

	// DryRun composes and returns the launch context without creating a
	// tmux session.
	DryRun bool

	Log     *logging.Logger
	ExecLog *execlog.Writer
}

// Outcome is how a supervised session ended.
type Outcome string

const (
	OutcomeExited    Outcome = "exited"
	OutcomeStalled   Outcome = "stalled"
	OutcomeEscalated Outcome = "escalated_unresolved"
	OutcomeDryRun    Outcome = "dry_run"
)

// Result summarizes a completed Run.
type Result struct {
	Outcome     Outcome
	PromptsSeen int
	AutoAnswers int
	Escalations int
}

// Coordinator runs one phase's supervised agent session.
type Coordinator struct {
	cfg Config
}

// New builds a Coordinator from cfg.
func New(cfg Config) *Coordinator {
	return &Coordinator{cfg: cfg}
}

// phaseDescriptionCandidates lists the phase-description document names
// checked, in priority order, inside a phase directory.
func phaseDescriptionCandidates(phaseDir string) []string {
	return []string{
		filepath.Join(phaseDir, "PHASE.md"),
		filepath.Join(phaseDir, "README.md"),
	}
}

// LaunchContext is the persisted result of composing one run's launch
// context: the exact text handed to the agent, plus the metadata record
// (source files and their hashes) written alongside it.
type LaunchContext struct {
	Text    string
	Sources []string
	Hashes  map[string]string
}

// firstExistingFile returns the first candidate path that exists on disk,
// or "" if none do.
func firstExistingFile(candidates []string) string {
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func hashFile(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:]), nil
}

// renderBoardSnapshot produces the compact textual board summary (task
// ids, titles, statuses, dependencies) required by spec §4.7.
func renderBoardSnapshot(tasks []*board.Task) string {
	var b strings.Builder
	var backlog, inProgress, done []*board.Task
	for _, t := range tasks {
		switch t.Status {
		case dag.StatusBacklog, dag.StatusTodo:
			backlog = append(backlog, t)
		case dag.StatusInProgress:
			inProgress = append(inProgress, t)
		case dag.StatusCompleted:
			done = append(done, t)
		}
	}

	fmt.Fprintf(&b, "%d backlog, %d in-progress, %d done (of %d total)\n\n",
		len(backlog), len(inProgress), len(done), len(tasks))

	render := func(label string, ts []*board.Task) {
		if len(ts) == 0 {
			return
		}
		fmt.Fprintf(&b, "%s:\n", label)
		for _, t := range ts {
			deps := ""
			if len(t.DependsOn) > 0 {
				ids := make([]string, len(t.DependsOn))
				for i, d := range t.DependsOn {
					ids[i] = "#" + d
				}
				deps = fmt.Sprintf(" (depends on: %s)", strings.Join(ids, ", "))
			}
			fmt.Fprintf(&b, "  #%s [%s]: %s%s\n", t.ID, t.Status, t.Title, deps)
		}
		b.WriteString("\n")
	}
	render("Backlog", backlog)
	render("In-progress", inProgress)
	render("Done", done)

	return strings.TrimRight(b.String(), "\n") + "\n"
}

// renderRequiredArtifacts lists the artifacts the Completion Contract will
// look for once the agent believes the phase is done.
func renderRequiredArtifacts(cfg Config) string {
	var b strings.Builder
	summaryPath := completion.PhaseSummaryCandidates(cfg.PhaseDir)[0]
	fmt.Fprintf(&b, "- phase summary file: %s\n", filepath.Base(summaryPath))
	fmt.Fprintf(&b, "- at least one task tagged %q, moved to done\n", board.MilestoneTag)
	if cfg.DoDCommand != "" {
		fmt.Fprintf(&b, "- definition of done command passes: %s\n", cfg.DoDCommand)
	} else {
		b.WriteString("- no definition of done command configured\n")
	}
	return b.String()
}

// composeLaunchContext builds the deterministic launch context for one
// phase run (spec §4.7): the adapter's instruction file, the phase
// description document, a board snapshot, a policy summary, the required
// completion artifacts, the run's claim identity (injected exactly once),
// and — on a rework attempt — the previous reviewer's feedback.
//
// Composition is a pure function of cfg and tasks, aside from the
// timestamp recorded separately in the persisted metadata.
func composeLaunchContext(cfg Config, tasks []*board.Task) (*LaunchContext, error) {
	instructionCandidates := make([]string, 0, len(cfg.Adapter.InstructionCandidates()))
	for _, name := range cfg.Adapter.InstructionCandidates() {
		instructionCandidates = append(instructionCandidates, filepath.Join(cfg.ProjectRoot, name))
	}
	instructionPath := firstExistingFile(instructionCandidates)
	if instructionPath == "" {
		return nil, errors.NewOrchestratorError("composeLaunchContext",
			fmt.Sprintf("no instruction file found for adapter %q, checked: %s", cfg.Adapter.Name(), strings.Join(instructionCandidates, ", ")), nil)
	}

	phaseDocPath := firstExistingFile(phaseDescriptionCandidates(cfg.PhaseDir))
	if phaseDocPath == "" {
		return nil, errors.NewOrchestratorError("composeLaunchContext",
			fmt.Sprintf("no phase description document found, checked: %s", strings.Join(phaseDescriptionCandidates(cfg.PhaseDir), ", ")), nil)
	}

	instructionBody, err := os.ReadFile(instructionPath)
	if err != nil {
		return nil, errors.NewOrchestratorError("composeLaunchContext", "read instruction file "+instructionPath, err)
	}
	phaseDocBody, err := os.ReadFile(phaseDocPath)
	if err != nil {
		return nil, errors.NewOrchestratorError("composeLaunchContext", "read phase document "+phaseDocPath, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are working on the %s board for the project at %s.\n\n", cfg.Phase, cfg.ProjectRoot)

	fmt.Fprintf(&b, "## Project instructions (%s)\n\n%s\n\n", filepath.Base(instructionPath), strings.TrimSpace(string(instructionBody)))
	fmt.Fprintf(&b, "## Phase description (%s)\n\n%s\n\n", filepath.Base(phaseDocPath), strings.TrimSpace(string(phaseDocBody)))
	fmt.Fprintf(&b, "## Board snapshot\n\n%s\n", renderBoardSnapshot(tasks))

	if cfg.Policy != nil {
		fmt.Fprintf(&b, "## Policy\n\nActive tier: %s\nAuto-answer keys: %s\n\n",
			cfg.Policy.ActiveTier(), strings.Join(cfg.Policy.AutoAnswerKeys(), ", "))
	}

	fmt.Fprintf(&b, "## Required completion artifacts\n\n%s\n", renderRequiredArtifacts(cfg))

	if cfg.ClaimIdentity != "" {
		fmt.Fprintf(&b, "## Claim identity\n\nUse %q (source: %s) as your claim identity when claiming board tasks.\n\n", cfg.ClaimIdentity, cfg.ClaimSource)
	}

	if cfg.Attempt > 1 && cfg.ReworkFeedback != "" {
		fmt.Fprintf(&b, "## Rework\n\nThis is attempt %d. The previous attempt was sent back for rework with this feedback:\n\n%s\n\n",
			cfg.Attempt, cfg.ReworkFeedback)
	}

	b.WriteString("Follow the project's own workflow docs to pick tasks, implement, test, and close them.\n")
	b.WriteString("Work through the backlog in dependency order.\n")

	sources := []string{instructionPath, phaseDocPath}
	hashes := make(map[string]string, len(sources))
	for _, s := range sources {
		h, err := hashFile(s)
		if err != nil {
			return nil, errors.NewOrchestratorError("composeLaunchContext", "hash source "+s, err)
		}
		hashes[s] = h
	}

	return &LaunchContext{Text: b.String(), Sources: sources, Hashes: hashes}, nil
}

// persistLaunchContext writes the composed launch context to the run log
// directory and records its source/hash metadata in the structured log,
// both before any process is spawned, per spec §4.7.
func (c *Coordinator) persistLaunchContext(lc *LaunchContext) error {
	c.logExec(execlog.EventLaunchContextSnapshot, map[string]any{
		"sources": lc.Sources,
		"hashes":  lc.Hashes,
	})

	if c.cfg.LogDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.cfg.LogDir, 0o755); err != nil {
		return errors.NewOrchestratorError("persistLaunchContext", "mkdir "+c.cfg.LogDir, err)
	}
	path := filepath.Join(c.cfg.LogDir, "launch-context-"+c.cfg.Phase+".md")
	if err := os.WriteFile(path, []byte(lc.Text), 0o644); err != nil {
		return errors.NewOrchestratorError("persistLaunchContext", "write "+path, err)
	}
	return nil
}

// paneSizeFallback reports the controlling terminal's dimensions, falling
// back to a conservative default when none is attached (e.g. under CI or
// when batty itself is run headless inside another tmux pane that hasn't
// been created yet).
func paneSizeFallback() (width, height int) {
	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 && h > 0 {
		return w, h
	}
	return 80, 24
}

// Run loads the phase board, spawns the agent, and supervises its session
// until the pane exits or goes stall-idle for longer than StallTimeout.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	tasks, _, err := board.LoadTasksFromDir(c.cfg.PhaseDir)
	if err != nil {
		return nil, errors.NewOrchestratorError("Run", "load tasks from "+c.cfg.PhaseDir, err)
	}
	sort.Slice(tasks, func(i, j int) bool { return dag.LessID(tasks[i].ID, tasks[j].ID) })

	c.logExec(execlog.EventPhaseStarted, map[string]any{"task_count": len(tasks)})
	c.cfg.Log.Info("loaded phase board", "phase", c.cfg.Phase, "task_count", len(tasks))

	lc, err := composeLaunchContext(c.cfg, tasks)
	if err != nil {
		return nil, err
	}
	if err := c.persistLaunchContext(lc); err != nil {
		return nil, err
	}

	if c.cfg.DryRun {
		fmt.Println(lc.Text)
		return &Result{Outcome: OutcomeDryRun}, nil
	}

	spawn := c.cfg.Adapter.SpawnConfig(lc.Text, adapter.ModeInteractive, c.cfg.DangerousMode)
	if spawn.Env == nil {
		spawn.Env = make(map[string]string)
	}
	if _, ok := spawn.Env["COLUMNS"]; !ok {
		width, height := paneSizeFallback()
		spawn.Env["COLUMNS"] = strconv.Itoa(width)
		spawn.Env["LINES"] = strconv.Itoa(height)
	}

	workDir := c.cfg.WorkDir
	if workDir == "" {
		workDir = c.cfg.PhaseDir
	}

	sessionLease, err := c.acquireLease()
	if err != nil {
		return nil, err
	}
	defer c.releaseLease(sessionLease)

	command := append([]string{spawn.Command}, spawn.Args...)
	if err := tmux.StartSession(c.cfg.Socket, c.cfg.Session, workDir, command, spawn.Env); err != nil {
		return nil, errors.NewOrchestratorError("Run", "start tmux session", err)
	}
	c.logExec(execlog.EventAgentSpawned, map[string]any{"agent": c.cfg.Adapter.Name(), "command": spawn.Command})

	return c.supervise(ctx)
}

// Attach resumes supervision of a session this Coordinator's config already
// points at, without composing a launch context or spawning a new agent
// process. It's how `batty resume` reconnects after the batty process
// itself (but not the underlying tmux session) was killed or crashed.
func (c *Coordinator) Attach(ctx context.Context) (*Result, error) {
	if !tmux.SessionExists(c.cfg.Socket, c.cfg.Session) {
		return nil, errors.NewMultiplexerError("Attach", "no live session "+c.cfg.Session+" on socket "+c.cfg.Socket, nil)
	}
	sessionLease, err := c.acquireLease()
	if err != nil {
		return nil, err
	}
	defer c.releaseLease(sessionLease)
	return c.supervise(ctx)
}

// leasePath is the PID lock file guarding this run's session against a
// second supervisor attaching concurrently (spec §5's shared-resource
// policy: the session name is a process-wide resource protected by a
// PID-locked lease file).
func (c *Coordinator) leasePath() string {
	if c.cfg.LogDir == "" {
		return ""
	}
	return filepath.Join(c.cfg.LogDir, "session.lease")
}

// acquireLease takes the session's PID lease, refusing a duplicate live
// attachment rather than reconciling it (spec §7: security-adjacent
// failures are refused, not recovered). A run with no configured LogDir
// (e.g. a dry-run invocation composing a launch context only) skips the
// lease entirely since it never starts a session.
func (c *Coordinator) acquireLease() (*lease.Lease, error) {
	path := c.leasePath()
	if path == "" || c.cfg.DryRun {
		return nil, nil
	}
	l, err := lease.Acquire(path)
	if err != nil {
		return nil, errors.NewRunError("acquireLease", "session "+c.cfg.Session+" is already supervised by a live process", err)
	}
	return l, nil
}

func (c *Coordinator) releaseLease(l *lease.Lease) {
	if l == nil {
		return
	}
	if err := l.Release(); err != nil {
		c.cfg.Log.Warn("release session lease failed", "path", l.Path(), "err", err)
	}
}

// pipePanePath is where the session's pane output is teed for the Event
// Buffer to tail, or "" when there's no log directory to put it in.
func (c *Coordinator) pipePanePath() string {
	if c.cfg.LogDir == "" {
		return ""
	}
	return filepath.Join(c.cfg.LogDir, "pty-output.log")
}

// configurePipePane binds the session's pane to its capture file via
// `tmux pipe-pane`, returning the file's path, or "" if piping could not be
// configured (a degraded mode: prompts are never detected, but the session
// still runs and can still be manually driven).
func (c *Coordinator) configurePipePane() string {
	path := c.pipePanePath()
	if path == "" {
		return ""
	}
	if err := tmux.PipePane(c.cfg.Socket, c.cfg.Session, path); err != nil {
		c.cfg.Log.Warn("configure pipe-pane failed", "err", err)
		return ""
	}
	return path
}

// detectorConfig resolves the Prompt Detector's tunables from cfg, falling
// back to prompt.DefaultDetectorConfig's documented defaults.
func (c *Coordinator) detectorConfig() prompt.DetectorConfig {
	cfg := prompt.DefaultDetectorConfig()
	if c.cfg.IdleWindow > 0 {
		cfg.SilenceTimeout = c.cfg.IdleWindow
	}
	if c.cfg.AnswerCooldown > 0 {
		cfg.AnswerCooldown = c.cfg.AnswerCooldown
	}
	cfg.UnknownRequestFallback = !c.cfg.DisableUnknownRequestFallback
	cfg.IdleInputFallback = !c.cfg.DisableIdleInputFallback
	return cfg
}

// answerDelay resolves the configured answer-delay wait, defaulting to 1s.
func (c *Coordinator) answerDelay() time.Duration {
	if c.cfg.AnswerDelay > 0 {
		return c.cfg.AnswerDelay
	}
	return time.Second
}

const (
	supervisionModeWorking = "working"
	supervisionModePaused  = "paused"
)

// SupervisionState is the durable record of one run's detector state, read
// offset, and nudge count, letting `batty resume` reattach to a session
// without re-processing already-seen pane output or losing the nudge
// ladder's position.
type SupervisionState struct {
	DetectorState prompt.State `json:"detector_state"`
	Offset        int64        `json:"offset"`
	NudgeCount    int          `json:"nudge_count"`
	Mode          string       `json:"mode"`
}

// supervisionStatePath is where SupervisionState is persisted, or "" when
// there's no log directory to put it in.
func (c *Coordinator) supervisionStatePath() string {
	if c.cfg.LogDir == "" {
		return ""
	}
	return filepath.Join(c.cfg.LogDir, "supervision-state.json")
}

// loadSupervisionState reads a prior run's persisted state, or returns a
// fresh zero-value state if none exists yet.
func (c *Coordinator) loadSupervisionState() (*SupervisionState, error) {
	path := c.supervisionStatePath()
	if path == "" {
		return &SupervisionState{}, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &SupervisionState{}, nil
		}
		return nil, errors.NewOrchestratorError("loadSupervisionState", "read "+path, err)
	}
	var s SupervisionState
	if err := json.Unmarshal(content, &s); err != nil {
		return nil, errors.NewOrchestratorError("loadSupervisionState", "parse "+path, err)
	}
	return &s, nil
}

func (c *Coordinator) persistSupervisionState(s *SupervisionState) {
	path := c.supervisionStatePath()
	if path == "" {
		return
	}
	content, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		c.cfg.Log.Warn("marshal supervision state failed", "err", err)
		return
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		c.cfg.Log.Warn("persist supervision state failed", "err", err)
	}
}

// ladderAction classifies what the stuck/nudge ladder wants the
// orchestrator to do this tick.
type ladderAction string

const (
	ladderNone     ladderAction = "none"
	ladderNudge    ladderAction = "nudge"
	ladderEscalate ladderAction = "escalate"
)

// stuckLadder tracks the supervised session's last sign of progress and
// decides, each tick, whether to nudge the executor or escalate once
// maxNudges have gone by without any progress event (spec §4.6 step 6).
type stuckLadder struct {
	lastProgressAt time.Time
	nudgeCount     int
	maxNudges      int
}

func newStuckLadder(maxNudges int) *stuckLadder {
	if maxNudges <= 0 {
		maxNudges = 3
	}
	return &stuckLadder{lastProgressAt: time.Now(), maxNudges: maxNudges}
}

// markProgress resets the stall clock and nudge count on any progress
// event (task-started, task-completed, test-ran, command-ran, commit-made).
func (s *stuckLadder) markProgress() {
	s.lastProgressAt = time.Now()
	s.nudgeCount = 0
}

func (s *stuckLadder) check(now time.Time, stuckAfter time.Duration) ladderAction {
	if stuckAfter <= 0 || now.Sub(s.lastProgressAt) < stuckAfter {
		return ladderNone
	}
	s.lastProgressAt = now
	if s.nudgeCount >= s.maxNudges {
		return ladderEscalate
	}
	s.nudgeCount++
	return ladderNudge
}

// supervise tails the session's pane output, detects prompts, and answers
// or escalates them until the session exits or stalls. It assumes the
// agent process is already running in c.cfg.Session.
func (c *Coordinator) supervise(ctx context.Context) (*Result, error) {
	result := &Result{}
	status := tmux.NewStatusWriter(c.cfg.Socket, c.cfg.Session, 5)
	c.setStatus(status, "supervising: "+c.cfg.Phase)

	state, err := c.loadSupervisionState()
	if err != nil {
		c.cfg.Log.Warn("load supervision state failed", "err", err)
		state = &SupervisionState{}
	}

	pipePath := c.configurePipePane()
	buf := eventbuf.NewFrom(pipePath, state.Offset)

	detector := prompt.NewDetector(c.cfg.Adapter.PromptPatterns(), c.detectorConfig())
	ladder := newStuckLadder(c.cfg.MaxNudges)
	ladder.nudgeCount = state.NudgeCount

	sentinelPath := c.configureHotkeys()
	paused := state.Mode == supervisionModePaused

	deadline := time.Now().Add(c.cfg.StallTimeout)
	for {
		if !tmux.SessionExists(c.cfg.Socket, c.cfg.Session) {
			result.Outcome = OutcomeExited
			break
		}
		if c.cfg.StallTimeout > 0 && time.Now().After(deadline) {
			result.Outcome = OutcomeStalled
			break
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}

		if sentinelPath != "" {
			if action, err := tmux.PollHotkeyAction(readAndClearSentinel(sentinelPath)); err == nil && action != "" {
				paused = c.applyHotkeyAction(status, action, paused)
				if !paused {
					detector.HumanOverride()
					deadline = time.Now().Add(c.cfg.StallTimeout)
				}
			}
		}

		events, err := buf.Poll()
		if err != nil {
			return result, errors.NewOrchestratorError("supervise", "poll event buffer", err)
		}

		if paused {
			// Paused is a flag gate checked before the detector is ever
			// consulted: no injections, Tier-2 calls, or nudges while a
			// human is driving the pane directly.
			state.Offset = buf.Checkpoint()
			c.persistSupervisionState(state)
			continue
		}

		prevState := detector.State()
		for _, e := range events {
			if e.Kind.IsProgress() {
				ladder.markProgress()
			}
			detector.OnOutput(e.Text)
		}
		detector.Tick()

		if len(events) > 0 {
			deadline = time.Now().Add(c.cfg.StallTimeout)
		}

		if detector.State() == prompt.StateQuestion && prevState != prompt.StateQuestion {
			q := detector.Question()
			result.PromptsSeen++
			c.logExec(execlog.EventPromptDetected, map[string]any{"kind": string(q.Kind), "line": q.Line})
			if err := c.handlePrompt(ctx, status, result, detector, q.Line, q.Kind, buf.Summary(eventbuf.DefaultSummarySize)); err != nil {
				return result, err
			}
			deadline = time.Now().Add(c.cfg.StallTimeout)
		}

		switch ladder.check(time.Now(), c.cfg.StuckAfter) {
		case ladderNudge:
			c.sendNudge(status, ladder.nudgeCount)
		case ladderEscalate:
			c.escalateStuck(ctx, status, result, detector, buf, ladder.nudgeCount)
			ladder.markProgress()
		}

		state.Offset = buf.Checkpoint()
		state.DetectorState = detector.State()
		state.NudgeCount = ladder.nudgeCount
		state.Mode = supervisionModeWorking
		c.persistSupervisionState(state)
	}

	c.setStatus(status, "phase "+c.cfg.Phase+" "+string(result.Outcome))
	c.logExec(execlog.EventPhaseFinished, map[string]any{"outcome": string(result.Outcome), "prompts_seen": result.PromptsSeen})
	return result, nil
}

const (
	hotkeyActionPause  = "pause"
	hotkeyActionResume = "resume"
)

// configureHotkeys binds the pause/resume hotkeys (spec §4.6 step 4) to a
// sentinel file under the run's log directory and returns that file's
// path, or "" if there's no log directory to put it in (dry-run).
func (c *Coordinator) configureHotkeys() string {
	if c.cfg.LogDir == "" || c.cfg.DryRun {
		return ""
	}
	path := filepath.Join(c.cfg.LogDir, "hotkey.sentinel")
	if err := tmux.ConfigureHotkey(c.cfg.Socket, c.cfg.Session, "C-p", path, hotkeyActionPause); err != nil {
		c.cfg.Log.Warn("configure pause hotkey failed", "err", err)
	}
	if err := tmux.ConfigureHotkey(c.cfg.Socket, c.cfg.Session, "C-r", path, hotkeyActionResume); err != nil {
		c.cfg.Log.Warn("configure resume hotkey failed", "err", err)
	}
	return path
}

// applyHotkeyAction transitions supervision mode on an operator hotkey
// press. Repeated pause/resume while already in that mode is a logged
// no-op, per spec §4.6 step 7.
func (c *Coordinator) applyHotkeyAction(status *tmux.StatusWriter, action string, paused bool) bool {
	switch action {
	case hotkeyActionPause:
		if paused {
			return paused
		}
		c.logExec(execlog.EventSupervisorModeChanged, map[string]any{"mode": "paused"})
		c.setStatus(status, "PAUSED — manual input only")
		return true
	case hotkeyActionResume:
		if !paused {
			return paused
		}
		c.logExec(execlog.EventHumanOverride, map[string]any{"reason": "resume hotkey"})
		c.logExec(execlog.EventSupervisorModeChanged, map[string]any{"mode": "working"})
		c.setStatus(status, "supervising: "+c.cfg.Phase)
		return false
	default:
		return paused
	}
}

// readAndClearSentinel returns a closure reading path's contents and
// truncating it to empty, so PollHotkeyAction never replays an already
// handled keypress on the next tick.
func readAndClearSentinel(path string) func() (string, error) {
	return func() (string, error) {
		content, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return "", nil
			}
			return "", err
		}
		if len(content) > 0 {
			if err := os.WriteFile(path, nil, 0o644); err != nil {
				return "", err
			}
		}
		return string(content), nil
	}
}

// setStatus writes a width-bounded status-left line, swallowing errors the
// same way the teacher's own status-bar writer does: a status update that
// fails to reach tmux must never interrupt supervision.
func (c *Coordinator) setStatus(w *tmux.StatusWriter, text string) {
	if err := w.SetStatus(util.TruncateANSI(text, statusTextMaxWidth)); err != nil {
		c.cfg.Log.Warn("set status failed", "err", err)
	}
}

// injectAnswer waits out the configured answer-delay, then re-captures the
// pane's trailing line and compares it against precapturedLine (the line
// the decision to inject was made against). A changed trailing line means a
// human already answered directly, so the injection is cancelled rather
// than risking a conflicting or duplicate keystroke (spec §4.6's
// answer-delay human-override check).
func (c *Coordinator) injectAnswer(ctx context.Context, precapturedLine, text string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(c.answerDelay()):
	}

	content, err := tmux.CapturePane(c.cfg.Socket, c.cfg.Session, false)
	if err != nil {
		return false, errors.NewOrchestratorError("injectAnswer", "capture pane", err)
	}
	if eventbuf.LastLine(prompt.StripANSI(content)) != precapturedLine {
		c.logExec(execlog.EventHumanOverride, map[string]any{"reason": "trailing line changed during answer delay"})
		return false, nil
	}

	if err := tmux.SendText(c.cfg.Socket, c.cfg.Session, c.cfg.Adapter.FormatInput(text)); err != nil {
		return false, errors.NewOrchestratorError("injectAnswer", "send answer", err)
	}
	return true, nil
}

// tier2Injectable applies the fully_auto min_confidence gate: outside
// fully_auto any Tier-2 answer is injectable, but at fully_auto an answer
// with no reported confidence always escalates, and one below the
// configured threshold escalates too.
func (c *Coordinator) tier2Injectable(r tier2.Result) bool {
	if c.cfg.Policy == nil || c.cfg.Policy.ActiveTier() != policy.TierFullyAuto {
		return true
	}
	if r.Confidence == nil {
		return false
	}
	if c.cfg.Tier2MinConfidence == nil {
		return true
	}
	return *r.Confidence >= *c.cfg.Tier2MinConfidence
}

// defaultTier2MaxAnswerLength is the injectability length cap when
// Tier2MaxAnswerLength is unset, matching the reference implementation's
// "supervisor response too long to inject safely" threshold.
const defaultTier2MaxAnswerLength = 120

// tier2AnswerTooLong reports whether a Tier-2 answer exceeds the
// configured length cap and must be escalated instead of injected (spec
// §4.5 / §2: Answer.text is rejected if it exceeds a configured length
// cap).
func (c *Coordinator) tier2AnswerTooLong(answer string) bool {
	max := c.cfg.Tier2MaxAnswerLength
	if max <= 0 {
		max = defaultTier2MaxAnswerLength
	}
	return len(answer) > max
}

func (c *Coordinator) handlePrompt(ctx context.Context, status *tmux.StatusWriter, result *Result, detector *prompt.Detector, line string, kind prompt.Kind, eventsSummary string) error {
	verdict := c.cfg.Policy.Evaluate(line, kind)
	c.logExec(execlog.EventPolicyDecision, map[string]any{"decision": string(verdict.Decision), "matched": verdict.Matched})

	switch verdict.Decision {
	case policy.DecisionObserve, policy.DecisionSuggest:
		return nil

	case policy.DecisionAct:
		injected, err := c.injectAnswer(ctx, line, verdict.Answer)
		if err != nil {
			return err
		}
		if injected {
			result.AutoAnswers++
			c.logExec(execlog.EventAutoAnswered, map[string]any{"answer": verdict.Answer})
			detector.AnswerInjected()
			c.setStatus(status, "supervising: "+c.cfg.Phase)
		}
		return nil

	case policy.DecisionInjectEmptyLine:
		injected, err := c.injectAnswer(ctx, line, "")
		if err != nil {
			return err
		}
		if injected {
			result.AutoAnswers++
			c.logExec(execlog.EventAutoAnswered, map[string]any{"answer": "<enter>"})
			detector.AnswerInjected()
			c.setStatus(status, "supervising: "+c.cfg.Phase)
		}
		return nil

	case policy.DecisionEscalate:
		result.Escalations++
		c.logExec(execlog.EventEscalated, map[string]any{"line": line})
		if c.cfg.Tier2 == nil {
			c.setStatus(status, "NEEDS INPUT: "+line)
			return nil
		}

		paneTranscript, err := tmux.CapturePane(c.cfg.Socket, c.cfg.Session, false)
		if err != nil {
			c.cfg.Log.Warn("capture pane for tier2 context failed", "err", err)
		}

		c.logExec(execlog.EventTier2Invoked, map[string]any{"line": line})
		tier2Result := c.cfg.Tier2.Resolve(ctx, line, string(kind), eventsSummary, paneTranscript)
		if path, err := tier2.Snapshot(tier2Result.Context, result.Escalations, c.cfg.LogDir); err != nil {
			c.cfg.Log.Warn("snapshot tier2 context failed", "err", err)
		} else if path != "" {
			c.logExec(execlog.EventTier2ContextSnapshot, map[string]any{"path": path})
		}

		switch tier2Result.Outcome {
		case tier2.OutcomeAnswer:
			if !c.tier2Injectable(tier2Result) {
				c.logExec(execlog.EventTier2Escalated, map[string]any{"reason": "confidence below min_confidence"})
				c.setStatus(status, "NEEDS INPUT: "+line)
				return nil
			}
			if c.tier2AnswerTooLong(tier2Result.Answer) {
				c.logExec(execlog.EventTier2Escalated, map[string]any{"reason": "answer too long to inject safely"})
				c.setStatus(status, "NEEDS INPUT: "+line)
				return nil
			}
			injected, err := c.injectAnswer(ctx, line, tier2Result.Answer)
			if err != nil {
				return err
			}
			if injected {
				c.logExec(execlog.EventTier2Answered, map[string]any{"answer": tier2Result.Answer})
				detector.AnswerInjected()
				c.setStatus(status, "supervising: "+c.cfg.Phase)
			}
			return nil

		case tier2.OutcomeEscalate:
			c.logExec(execlog.EventTier2Escalated, map[string]any{"reason": tier2Result.Reason})
			c.setStatus(status, "NEEDS INPUT: "+line)
			return nil

		default: // tier2.OutcomeFailed
			c.logExec(execlog.EventTier2Escalated, map[string]any{"reason": fmt.Sprint(tier2Result.Err)})
			c.setStatus(status, "NEEDS INPUT: "+line)
			return nil
		}

	default:
		return nil
	}
}

// sendNudge types a configured nudge phrase into the pane when the stuck
// ladder decides the executor has gone quiet but hasn't yet exhausted its
// allotted nudges.
func (c *Coordinator) sendNudge(status *tmux.StatusWriter, nudgeCount int) {
	text := c.cfg.NudgeText
	if text == "" {
		text = "please continue"
	}
	if err := tmux.SendText(c.cfg.Socket, c.cfg.Session, c.cfg.Adapter.FormatInput(text)); err != nil {
		c.cfg.Log.Warn("send nudge failed", "err", err)
		return
	}
	c.logExec(execlog.EventNudgeSent, map[string]any{"text": text, "nudge_count": nudgeCount})
	c.setStatus(status, fmt.Sprintf("nudged (%d): %s", nudgeCount, c.cfg.Phase))
}

// escalateStuck runs once the stuck ladder's nudges are exhausted: it hands
// the stall to Tier-2 (if configured) for a possible unsticking answer,
// falling back to a human-visible "needs input" status either way.
func (c *Coordinator) escalateStuck(ctx context.Context, status *tmux.StatusWriter, result *Result, detector *prompt.Detector, buf *eventbuf.Buffer, nudgeCount int) {
	c.logExec(execlog.EventStuckDetected, map[string]any{"nudge_count": nudgeCount})
	result.Escalations++
	stuckStatus := fmt.Sprintf("STUCK: no progress after %d nudges", nudgeCount)

	if c.cfg.Tier2 == nil {
		c.setStatus(status, stuckStatus)
		return
	}

	baseline, err := tmux.CapturePane(c.cfg.Socket, c.cfg.Session, false)
	if err != nil {
		c.cfg.Log.Warn("capture pane for stuck escalation failed", "err", err)
	}
	baselineLine := eventbuf.LastLine(prompt.StripANSI(baseline))

	question := fmt.Sprintf("the executor has made no progress for %s despite %d nudges; diagnose and either provide the next input to type or escalate", c.cfg.StuckAfter, nudgeCount)
	tier2Result := c.cfg.Tier2.Resolve(ctx, question, "stuck", buf.Summary(eventbuf.DefaultSummarySize), baseline)
	if path, err := tier2.Snapshot(tier2Result.Context, result.Escalations, c.cfg.LogDir); err != nil {
		c.cfg.Log.Warn("snapshot tier2 context failed", "err", err)
	} else if path != "" {
		c.logExec(execlog.EventTier2ContextSnapshot, map[string]any{"path": path})
	}

	if tier2Result.Outcome == tier2.OutcomeAnswer && c.tier2Injectable(tier2Result) && !c.tier2AnswerTooLong(tier2Result.Answer) {
		injected, err := c.injectAnswer(ctx, baselineLine, tier2Result.Answer)
		if err != nil {
			c.cfg.Log.Warn("inject tier2 stuck answer failed", "err", err)
		} else if injected {
			c.logExec(execlog.EventTier2Answered, map[string]any{"answer": tier2Result.Answer})
			detector.AnswerInjected()
			c.setStatus(status, "supervising: "+c.cfg.Phase)
			return
		}
	}

	c.logExec(execlog.EventTier2Escalated, map[string]any{"reason": tier2Result.Reason})
	c.setStatus(status, stuckStatus)
}

func (c *Coordinator) logExec(kind execlog.EventKind, fields map[string]any) {
	if c.cfg.ExecLog == nil {
		return
	}
	_ = c.cfg.ExecLog.Write(execlog.Event{
		Kind:   kind,
		RunID:  c.cfg.RunID,
		Phase:  c.cfg.Phase,
		Agent:  c.cfg.Adapter.Name(),
		Fields: fields,
	})
}

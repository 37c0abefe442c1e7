// Package scheduler drives DAG-based parallel agent dispatch over a board:
// it polls task state, computes the dependency-ready frontier, claims
// ready tasks for idle agents, verifies claim ownership, and detects
// completions, deadlocks, and stuck agents.
package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/battysh/batty/internal/board"
	"github.com/battysh/batty/internal/dag"
	"github.com/battysh/batty/internal/errors"
	"golang.org/x/sync/errgroup"
)

// Config tunes scheduler polling and stuck-agent detection.
type Config struct {
	PollInterval time.Duration
	StuckTimeout time.Duration
}

// DefaultConfig mirrors the reference implementation's defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
		StuckTimeout: 5 * time.Minute,
	}
}

// AgentState is an agent's current dispatch state.
type AgentState struct {
	Busy              bool
	TaskID            string
	LastProgressEpoch int64
}

// Dispatch records one task claimed for one agent during a tick.
type Dispatch struct {
	Agent     string
	TaskID    string
	TaskTitle string
}

// StuckAgent is an agent whose busy task hasn't progressed within the
// configured stuck timeout.
type StuckAgent struct {
	Agent       string
	TaskID      string
	StalledSecs int64
}

// Tick is one scheduling pass's outcome.
type Tick struct {
	Ready      []string
	Completed  []string
	Dispatched []Dispatch
	AllDone    bool
	TotalTasks int
	DoneTasks  int
	Deadlocked bool
	Stuck      []StuckAgent
}

// Scheduler dispatches ready tasks from a phase's task directory to a
// fixed set of named agents.
type Scheduler struct {
	phaseRoot   string
	config      Config
	agentStates map[string]*AgentState
	knownDone   map[string]bool
}

// New constructs a Scheduler over the tasks under phaseRoot, tracking the
// given agent names as initially idle.
func New(phaseRoot string, agentNames []string, config Config) *Scheduler {
	states := make(map[string]*AgentState, len(agentNames))
	for _, name := range agentNames {
		states[name] = &AgentState{}
	}
	return &Scheduler{
		phaseRoot:   phaseRoot,
		config:      config,
		agentStates: states,
		knownDone:   make(map[string]bool),
	}
}

// AgentStates returns the scheduler's current view of every tracked
// agent's state.
func (s *Scheduler) AgentStates() map[string]AgentState {
	out := make(map[string]AgentState, len(s.agentStates))
	for name, st := range s.agentStates {
		out[name] = *st
	}
	return out
}

func (s *Scheduler) pollBoard() ([]*board.Task, error) {
	tasks, _, err := board.LoadTasksFromDir(s.phaseRoot)
	if err != nil {
		return nil, errors.NewOrchestratorError("pollBoard", "load tasks from "+s.phaseRoot, err)
	}
	return tasks, nil
}

// ReadyFrontier returns the IDs of tasks whose dependencies are satisfied
// and which are not yet completed, per the task DAG.
func (s *Scheduler) ReadyFrontier(tasks []*board.Task) []string {
	g := board.ToGraph(tasks)
	completed := make(map[string]bool)
	for _, t := range tasks {
		if t.Status == dag.StatusCompleted {
			completed[t.ID] = true
		}
	}
	return g.ReadySet(completed)
}

// Tick runs one full scheduling pass: poll, detect completions, dispatch
// ready tasks to idle agents, and detect deadlock/stuck agents. nowEpoch
// is a caller-supplied monotonic counter (seconds or ticks) used for
// stuck-agent staleness, kept injectable rather than reading the clock so
// ticks are deterministic to test.
func (s *Scheduler) Tick(nowEpoch int64) (*Tick, error) {
	tasks, err := s.pollBoard()
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*board.Task, len(tasks))
	remaining := 0
	done := 0
	for _, t := range tasks {
		byID[t.ID] = t
		if t.Status == dag.StatusCompleted {
			done++
		} else {
			remaining++
		}
	}

	completed := s.detectCompletions(byID)
	s.markCompletedAgentsIdle(completed)

	ready := s.ReadyFrontier(tasks)
	dispatched, err := s.dispatchReady(byID, ready, nowEpoch)
	if err != nil {
		return nil, err
	}

	deadlocked := s.detectDeadlock(ready, remaining)
	stuck := s.detectStuck(nowEpoch)

	return &Tick{
		Ready:      ready,
		Completed:  completed,
		Dispatched: dispatched,
		AllDone:    remaining == 0,
		TotalTasks: remaining + done,
		DoneTasks:  done,
		Deadlocked: deadlocked,
		Stuck:      stuck,
	}, nil
}

// HandleAgentCrash releases any claim held by agent and marks it idle.
func (s *Scheduler) HandleAgentCrash(agent string, tasks []*board.Task) error {
	st, ok := s.agentStates[agent]
	if !ok || !st.Busy {
		return nil
	}

	for _, t := range tasks {
		if t.ID == st.TaskID {
			if _, err := board.Release(t); err != nil {
				return errors.NewOrchestratorError("HandleAgentCrash", "release claim for task "+t.ID, err)
			}
			break
		}
	}

	s.agentStates[agent] = &AgentState{}
	return nil
}

func (s *Scheduler) detectCompletions(byID map[string]*board.Task) []string {
	doneNow := make(map[string]bool)
	for id, t := range byID {
		if t.Status == dag.StatusCompleted {
			doneNow[id] = true
		}
	}

	var newlyDone []string
	for id := range doneNow {
		if !s.knownDone[id] {
			newlyDone = append(newlyDone, id)
		}
	}
	sort.Slice(newlyDone, func(i, j int) bool { return dag.LessID(newlyDone[i], newlyDone[j]) })
	s.knownDone = doneNow
	return newlyDone
}

func (s *Scheduler) markCompletedAgentsIdle(completed []string) {
	if len(completed) == 0 {
		return
	}
	completedSet := make(map[string]bool, len(completed))
	for _, id := range completed {
		completedSet[id] = true
	}
	for _, st := range s.agentStates {
		if st.Busy && completedSet[st.TaskID] {
			*st = AgentState{}
		}
	}
}

// assignment pairs one idle agent with the distinct task it will claim.
type assignment struct {
	agent string
	task  *board.Task
}

// assignTasks picks, for each idle agent in turn, a still-unassigned ready
// task. Selection happens single-threaded so two agents never pick the same
// task; the resulting assignments touch disjoint tasks and can therefore
// be claimed concurrently.
func (s *Scheduler) assignTasks(byID map[string]*board.Task, ready []string) []assignment {
	readySet := make(map[string]bool, len(ready))
	for _, id := range ready {
		readySet[id] = true
	}

	var assignments []assignment
	for _, agent := range s.idleAgents() {
		task := s.pickForAgent(byID, readySet, agent)
		if task == nil {
			continue
		}
		delete(readySet, task.ID)
		assignments = append(assignments, assignment{agent: agent, task: task})
	}
	return assignments
}

// dispatchReady assigns ready tasks to idle agents and claims them.
// Claiming touches disjoint task files, so each assignment's claim and
// verification runs concurrently via an errgroup; agentStates is only
// mutated once every claim has succeeded.
func (s *Scheduler) dispatchReady(byID map[string]*board.Task, ready []string, nowEpoch int64) ([]Dispatch, error) {
	if len(ready) == 0 {
		return nil, nil
	}

	assignments := s.assignTasks(byID, ready)
	if len(assignments) == 0 {
		return nil, nil
	}

	dispatched := make([]Dispatch, len(assignments))
	g := new(errgroup.Group)
	for i, a := range assignments {
		i, a := i, a
		g.Go(func() error {
			if _, err := board.Claim(a.task, a.agent); err != nil {
				return errors.NewOrchestratorError("dispatchReady", "claim task "+a.task.ID+" for "+a.agent, err)
			}
			if err := s.verifyClaim(byID, a.task.ID, a.agent); err != nil {
				return err
			}
			dispatched[i] = Dispatch{Agent: a.agent, TaskID: a.task.ID, TaskTitle: a.task.Title}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, a := range assignments {
		s.agentStates[a.agent] = &AgentState{Busy: true, TaskID: a.task.ID, LastProgressEpoch: nowEpoch}
	}

	return dispatched, nil
}

func (s *Scheduler) idleAgents() []string {
	var names []string
	for name, st := range s.agentStates {
		if !st.Busy {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// pickForAgent picks the lowest-id unclaimed ready task for agent, matching
// the reference implementation's ascending-task-id scheduling order.
func (s *Scheduler) pickForAgent(byID map[string]*board.Task, readySet map[string]bool, agent string) *board.Task {
	var ids []string
	for id := range readySet {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return dag.LessID(ids[i], ids[j]) })

	for _, id := range ids {
		t, ok := byID[id]
		if !ok || t.ClaimedBy != "" {
			continue
		}
		return t
	}
	return nil
}

func (s *Scheduler) verifyClaim(byID map[string]*board.Task, taskID, agent string) error {
	t, ok := byID[taskID]
	if !ok {
		return errors.NewOrchestratorError("verifyClaim", "picked task not found in board snapshot: "+taskID, nil)
	}
	if t.ClaimedBy != agent {
		_, _ = board.Release(t)
		return errors.NewOrchestratorError("verifyClaim",
			fmt.Sprintf("claim verification failed for task %s: expected %q, found %q", taskID, agent, t.ClaimedBy), nil)
	}
	return nil
}

func (s *Scheduler) detectDeadlock(ready []string, remaining int) bool {
	allIdle := true
	for _, st := range s.agentStates {
		if st.Busy {
			allIdle = false
			break
		}
	}
	return len(ready) == 0 && allIdle && remaining > 0
}

func (s *Scheduler) detectStuck(nowEpoch int64) []StuckAgent {
	var stuck []StuckAgent
	for agent, st := range s.agentStates {
		if !st.Busy {
			continue
		}
		stalled := nowEpoch - st.LastProgressEpoch
		if stalled < 0 {
			stalled = 0
		}
		if time.Duration(stalled)*time.Second >= s.config.StuckTimeout {
			stuck = append(stuck, StuckAgent{Agent: agent, TaskID: st.TaskID, StalledSecs: stalled})
		}
	}
	sort.Slice(stuck, func(i, j int) bool { return stuck[i].Agent < stuck[j].Agent })
	return stuck
}

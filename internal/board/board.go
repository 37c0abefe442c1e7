// Package board implements kanban-md parsing: task files with YAML
// frontmatter plus an optional "## Batty Config" section, organized into
// status directories (backlog/todo/in_progress/completed) under a
// resolved kanban root.
package board

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/battysh/batty/internal/dag"
	"github.com/battysh/batty/internal/errors"
	"gopkg.in/yaml.v3"
)

// Frontmatter is a task file's YAML header.
type Frontmatter struct {
	ID        string   `yaml:"id"`
	Title     string   `yaml:"title"`
	Priority  string   `yaml:"priority,omitempty"`
	Tags      []string `yaml:"tags,omitempty"`
	DependsOn []string `yaml:"depends_on,omitempty"`
	ClaimedBy string   `yaml:"claimed_by,omitempty"`
}

// HasTag reports whether t carries the given tag (case-sensitive, matching
// the reference board-CLI's exact-match tag lookup).
func (f Frontmatter) HasTag(tag string) bool {
	for _, t := range f.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// MilestoneTag is the distinguished tag the Completion Contract looks for.
const MilestoneTag = "milestone"

// TaskConfig holds the optional per-task overrides found in a task file's
// "## Batty Config" section (TOML or fenced ```toml block).
type TaskConfig struct {
	Agent      string `toml:"agent"`
	Policy     string `toml:"policy"`
	DodCommand string `toml:"dod_command"`
	MaxRetries int    `toml:"max_retries"`
}

// Task is a fully parsed kanban-md task.
type Task struct {
	Frontmatter
	Status dag.Status
	Path   string
	Body   string
	Config TaskConfig
}

var batchConfigHeading = regexp.MustCompile(`(?m)^##\s*Batty Config\s*$`)
var fencedTOML = regexp.MustCompile("(?s)```toml\\s*\\n(.*?)\\n```")

// SplitFrontmatter separates a task file's YAML frontmatter (delimited by
// --- lines) from its Markdown body.
func SplitFrontmatter(content string) (yamlPart, body string, err error) {
	const delim = "---"
	if !strings.HasPrefix(content, delim) {
		return "", content, fmt.Errorf("board: missing frontmatter delimiter")
	}
	rest := content[len(delim):]
	idx := strings.Index(rest, "\n"+delim)
	if idx < 0 {
		return "", content, fmt.Errorf("board: unterminated frontmatter")
	}
	yamlPart = strings.TrimSpace(rest[:idx])
	body = strings.TrimLeft(rest[idx+len(delim)+1:], "\n")
	return yamlPart, body, nil
}

// ParseTask parses a single task file's bytes into a Task. status and path
// are supplied by the caller from the file's location.
func ParseTask(content []byte, status dag.Status, path string) (*Task, error) {
	yamlPart, body, err := SplitFrontmatter(string(content))
	if err != nil {
		return nil, errors.NewBoardError("ParseTask", "split frontmatter: "+path, err)
	}

	var fm Frontmatter
	if err := yaml.Unmarshal([]byte(yamlPart), &fm); err != nil {
		return nil, errors.NewBoardError("ParseTask", "parse frontmatter: "+path, err)
	}
	if fm.ID == "" {
		fm.ID = strings.TrimSuffix(filepath.Base(path), ".md")
	}

	cfg := extractTaskConfig(body)

	return &Task{
		Frontmatter: fm,
		Status:      status,
		Path:        path,
		Body:        body,
		Config:      cfg,
	}, nil
}

// extractTaskConfig looks for a "## Batty Config" section and parses the
// fenced TOML block (or bare key=value lines) that follows it. Parse
// failures are swallowed; an unparseable config section simply leaves
// defaults in place, matching the reference implementation's lenient
// behavior.
func extractTaskConfig(body string) TaskConfig {
	var cfg TaskConfig

	loc := batchConfigHeading.FindStringIndex(body)
	if loc == nil {
		return cfg
	}
	section := body[loc[1]:]
	if next := strings.Index(section, "\n## "); next >= 0 {
		section = section[:next]
	}

	var raw string
	if m := fencedTOML.FindStringSubmatch(section); m != nil {
		raw = m[1]
	} else {
		raw = section
	}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"`)
		switch key {
		case "agent":
			cfg.Agent = val
		case "policy":
			cfg.Policy = val
		case "dod_command":
			cfg.DodCommand = val
		case "max_retries":
			if n, err := strconv.Atoi(val); err == nil {
				cfg.MaxRetries = n
			}
		}
	}

	return cfg
}

// statusDirs maps board status directories to their dag.Status.
var statusDirs = map[string]dag.Status{
	"backlog":     dag.StatusBacklog,
	"todo":        dag.StatusTodo,
	"in_progress": dag.StatusInProgress,
	"completed":   dag.StatusCompleted,
}

// LoadTasksFromDir walks phaseRoot's status subdirectories and parses
// every .md file found, sorted by ID. Files that fail to parse are
// skipped with a warning returned via the warnings slice rather than
// aborting the whole load.
func LoadTasksFromDir(phaseRoot string) (tasks []*Task, warnings []string, err error) {
	for dirName, status := range statusDirs {
		dirPath := filepath.Join(phaseRoot, dirName)
		entries, readErr := os.ReadDir(dirPath)
		if readErr != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
				continue
			}
			fullPath := filepath.Join(dirPath, entry.Name())
			content, readErr := os.ReadFile(fullPath)
			if readErr != nil {
				warnings = append(warnings, fmt.Sprintf("%s: %v", fullPath, readErr))
				continue
			}
			task, parseErr := ParseTask(content, status, fullPath)
			if parseErr != nil {
				warnings = append(warnings, fmt.Sprintf("%s: %v", fullPath, parseErr))
				continue
			}
			tasks = append(tasks, task)
		}
	}

	sort.Slice(tasks, func(i, j int) bool { return dag.LessID(tasks[i].ID, tasks[j].ID) })
	return tasks, warnings, nil
}

// ToGraph builds a dag.Graph from a set of parsed tasks.
func ToGraph(tasks []*Task) *dag.Graph {
	g := dag.New()
	for _, t := range tasks {
		g.Add(dag.Node{ID: t.ID, DependsOn: t.DependsOn, Status: t.Status})
	}
	return g
}

// ResolveKanbanRoot locates the kanban-md root for a project, preferring
// the new ".batty/board" layout and falling back to the legacy
// "kanban" directory at the project root for compatibility with boards
// created before the layout changed.
func ResolveKanbanRoot(projectRoot string) string {
	newLayout := filepath.Join(projectRoot, ".batty", "board")
	if info, err := os.Stat(newLayout); err == nil && info.IsDir() {
		return newLayout
	}
	legacy := filepath.Join(projectRoot, "kanban")
	if info, err := os.Stat(legacy); err == nil && info.IsDir() {
		return legacy
	}
	return newLayout
}

// dirForStatus inverts statusDirs, used when moving a task file between
// status directories.
func dirForStatus(status dag.Status) string {
	for dirName, s := range statusDirs {
		if s == status {
			return dirName
		}
	}
	return string(status)
}

// Claim rewrites a task's frontmatter to record claimedBy and moves the
// task file from its current status directory to in_progress, returning
// the task's new path. It fails if the task is already claimed by a
// different agent.
func Claim(t *Task, claimedBy string) (newPath string, err error) {
	if t.ClaimedBy != "" && t.ClaimedBy != claimedBy {
		return "", errors.NewBoardError("Claim", fmt.Sprintf("task %s already claimed by %s", t.ID, t.ClaimedBy), nil)
	}

	t.ClaimedBy = claimedBy
	t.Status = dag.StatusInProgress
	return rewriteTaskFile(t)
}

// Release clears a task's claim and moves it back to backlog, for use when
// a claiming agent crashes or its claim fails verification.
func Release(t *Task) (newPath string, err error) {
	t.ClaimedBy = ""
	t.Status = dag.StatusBacklog
	return rewriteTaskFile(t)
}

// rewriteTaskFile re-serializes a task's frontmatter, writes it to the
// status directory matching t.Status, and removes the old file if the
// directory changed.
func rewriteTaskFile(t *Task) (string, error) {
	fmBytes, err := yaml.Marshal(t.Frontmatter)
	if err != nil {
		return "", errors.NewBoardError("rewriteTaskFile", "marshal frontmatter: "+t.Path, err)
	}

	content := "---\n" + string(fmBytes) + "---\n\n" + t.Body
	phaseRoot := filepath.Dir(filepath.Dir(t.Path))
	newDir := filepath.Join(phaseRoot, dirForStatus(t.Status))
	if err := os.MkdirAll(newDir, 0o755); err != nil {
		return "", errors.NewBoardError("rewriteTaskFile", "mkdir "+newDir, err)
	}

	newPath := filepath.Join(newDir, filepath.Base(t.Path))
	if err := os.WriteFile(newPath, []byte(content), 0o644); err != nil {
		return "", errors.NewBoardError("rewriteTaskFile", "write "+newPath, err)
	}
	if newPath != t.Path {
		_ = os.Remove(t.Path)
	}
	t.Path = newPath
	return newPath, nil
}

// Package eventbuf implements the Event Buffer: it tails a capture file
// growing under the multiplexer's pipe-pane sideline, extracts structured
// events from newly written lines, and keeps a bounded rolling summary for
// Tier-2 context composition and resumable-offset bookkeeping.
package eventbuf

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/battysh/batty/internal/prompt"
)

// Kind classifies one extracted event, matching the extraction pipeline's
// priority order: task-started > task-completed > test-ran > command-ran >
// commit-made > file-created > file-modified > prompt-candidate > raw-line.
type Kind string

const (
	KindTaskStarted     Kind = "task_started"
	KindTaskCompleted   Kind = "task_completed"
	KindTestRan         Kind = "test_ran"
	KindCommandRan      Kind = "command_ran"
	KindCommitMade      Kind = "commit_made"
	KindFileCreated     Kind = "file_created"
	KindFileModified    Kind = "file_modified"
	KindPromptCandidate Kind = "prompt_candidate"
	KindRawLine         Kind = "raw_line"
)

// Event is a single structured item extracted from the capture stream.
// Fields unrelated to Kind are left at their zero value. Text always holds
// the ANSI-stripped, trimmed source line, so callers that only care about
// raw output (e.g. the Prompt Detector) never need to re-derive it.
type Event struct {
	Seq    int64
	Offset int64
	Time   time.Time
	Kind   Kind
	Text   string

	TaskID  string
	Title   string
	Path    string
	Command string
	Passed  bool
	SHA     string
	Message string
}

// DefaultSummarySize is the rolling summary's default capacity (spec §4.2).
const DefaultSummarySize = 50

// IsProgress reports whether a Kind advances the stuck/nudge ladder's
// last-progress clock (spec §4.6 step 6).
func (k Kind) IsProgress() bool {
	switch k {
	case KindTaskStarted, KindTaskCompleted, KindTestRan, KindCommandRan, KindCommitMade:
		return true
	default:
		return false
	}
}

var (
	taskStartedRe     = regexp.MustCompile(`(?i)(?:picked|claimed|starting|working on)\s+(?:and moved\s+)?task\s+#?(\d+)(?::\s+(.+))?`)
	taskCompletedRe   = regexp.MustCompile(`(?i)(?:moved task\s+#?(\d+).*(?:done|complete)|task\s+#?(\d+)\s+(?:done|complete))`)
	testRanRe         = regexp.MustCompile(`(?i)test result:\s*(ok|FAILED)`)
	commandRanRe      = regexp.MustCompile(`(?:^\$\s+(.+)|^Running:\s+(.+))`)
	commitMadeRe      = regexp.MustCompile(`(?:\[[\w/-]+\s+([0-9a-f]{7,40})]\s+(.+)|commit\s+([0-9a-f]{7,40}))`)
	fileCreatedRe     = regexp.MustCompile(`(?i)(?:created?\s+(?:file\s+)?|wrote\s+|writing\s+to\s+)([\w/.+-]+\.\w+)`)
	fileModifiedRe    = regexp.MustCompile(`(?i)(?:edit(?:ed|ing)?\s+|modif(?:ied|ying)\s+)([\w/.+-]+\.\w+)`)
	promptCandidateRe = regexp.MustCompile(`(?i)(?:allow\s+tool|continue\?|\[y/n]|do you want to proceed|press enter)`)
)

type classifier func(line string) *Event

// patternOrder mirrors the extraction pipeline's mandated priority order.
// classify tries each in turn; the first match wins, and a line matching
// none of them still always produces a raw-line event.
var patternOrder = []classifier{
	classifyTaskStarted,
	classifyTaskCompleted,
	classifyTestRan,
	classifyCommandRan,
	classifyCommitMade,
	classifyFileCreated,
	classifyFileModified,
	classifyPromptCandidate,
}

func classifyTaskStarted(line string) *Event {
	m := taskStartedRe.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	return &Event{Kind: KindTaskStarted, TaskID: m[1], Title: m[2]}
}

func classifyTaskCompleted(line string) *Event {
	m := taskCompletedRe.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	taskID := m[1]
	if taskID == "" {
		taskID = m[2]
	}
	return &Event{Kind: KindTaskCompleted, TaskID: taskID}
}

func classifyTestRan(line string) *Event {
	m := testRanRe.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	return &Event{Kind: KindTestRan, Passed: strings.EqualFold(m[1], "ok"), Message: m[0]}
}

func classifyCommandRan(line string) *Event {
	m := commandRanRe.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	cmd := m[1]
	if cmd == "" {
		cmd = m[2]
	}
	return &Event{Kind: KindCommandRan, Command: cmd}
}

func classifyCommitMade(line string) *Event {
	m := commitMadeRe.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	sha := m[1]
	if sha == "" {
		sha = m[3]
	}
	return &Event{Kind: KindCommitMade, SHA: sha, Message: m[2]}
}

func classifyFileCreated(line string) *Event {
	m := fileCreatedRe.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	return &Event{Kind: KindFileCreated, Path: m[1]}
}

func classifyFileModified(line string) *Event {
	m := fileModifiedRe.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	return &Event{Kind: KindFileModified, Path: m[1]}
}

func classifyPromptCandidate(line string) *Event {
	if !promptCandidateRe.MatchString(line) {
		return nil
	}
	return &Event{Kind: KindPromptCandidate}
}

// classify applies the pattern rules in priority order, falling back to a
// raw-line event so a line extracting no structured event is never simply
// dropped (spec §4.2: raw-line is always emitted for diagnostic replay).
func classify(line string) Event {
	for _, c := range patternOrder {
		if e := c(line); e != nil {
			e.Text = line
			return *e
		}
	}
	return Event{Kind: KindRawLine, Text: line}
}

// Buffer tails a capture file, extracting structured events from newly
// written complete lines and maintaining a bounded FIFO rolling summary.
type Buffer struct {
	mu      sync.Mutex
	path    string
	pos     int64
	partial strings.Builder
	seq     int64
	maxSize int
	summary []string
}

// New builds a Buffer tailing path from the beginning.
func New(path string) *Buffer {
	return NewFrom(path, 0)
}

// NewFrom builds a Buffer that resumes tailing path from a prior
// checkpoint offset, mirroring the spec's attach(path, start_offset).
func NewFrom(path string, offset int64) *Buffer {
	return &Buffer{path: path, pos: offset, maxSize: DefaultSummarySize}
}

// SetSummarySize overrides the rolling summary's capacity (default 50).
func (b *Buffer) SetSummarySize(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > 0 {
		b.maxSize = n
	}
}

// Poll reads any bytes appended to the capture file since the last call,
// extracts one event per complete new line, and returns them in order. A
// missing file (not yet created by the multiplexer's pipe-pane) yields no
// events rather than an error.
func (b *Buffer) Poll() ([]Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.Open(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("eventbuf: open %s: %w", b.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("eventbuf: stat %s: %w", b.path, err)
	}
	// A stale checkpoint past EOF (e.g. after log truncation) is clamped
	// rather than treated as an error.
	if b.pos > info.Size() {
		b.pos = info.Size()
	}

	if _, err := f.Seek(b.pos, io.SeekStart); err != nil {
		return nil, fmt.Errorf("eventbuf: seek %s: %w", b.path, err)
	}
	newBytes, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("eventbuf: read %s: %w", b.path, err)
	}
	if len(newBytes) == 0 {
		return nil, nil
	}
	b.pos += int64(len(newBytes))
	b.partial.WriteString(string(newBytes))

	var events []Event
	for {
		buffered := b.partial.String()
		idx := strings.IndexByte(buffered, '\n')
		if idx < 0 {
			break
		}
		line := buffered[:idx]
		b.partial.Reset()
		b.partial.WriteString(buffered[idx+1:])

		clean := strings.TrimSpace(prompt.StripANSI(line))
		if clean == "" {
			continue
		}

		ev := classify(clean)
		b.seq++
		ev.Seq = b.seq
		ev.Offset = b.pos - int64(b.partial.Len())
		ev.Time = time.Now()

		b.pushSummary(formatSummaryLine(ev))
		events = append(events, ev)
	}

	return events, nil
}

func (b *Buffer) pushSummary(line string) {
	b.summary = append(b.summary, line)
	if len(b.summary) > b.maxSize {
		b.summary = b.summary[len(b.summary)-b.maxSize:]
	}
}

// Summary renders the last n rolling-summary entries (or the whole window
// when n <= 0), newline-joined with a trailing newline, for inclusion in a
// Tier-2 context.
func (b *Buffer) Summary(n int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.summary) == 0 {
		return "(no events yet)"
	}
	lines := b.summary
	if n > 0 && n < len(lines) {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n") + "\n"
}

// Checkpoint returns a resumable offset rounded back to the last complete
// line boundary, so the next attach never re-emits an already-seen event
// nor drops a line that was mid-flight at checkpoint time.
func (b *Buffer) Checkpoint() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pos - int64(b.partial.Len())
}

// RewindPartialLine discards any buffered partial line and rewinds the
// read position to just before it, so a resumed Buffer re-reads a line
// that was mid-flight at crash time in full rather than losing or
// double-emitting the fragment already seen.
func (b *Buffer) RewindPartialLine() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	offset := b.pos - int64(b.partial.Len())
	b.pos = offset
	b.partial.Reset()
	return offset
}

// formatSummaryLine renders one event as a single compact summary line,
// grounded on the reference implementation's format_summary icons.
func formatSummaryLine(e Event) string {
	switch e.Kind {
	case KindTaskStarted:
		return fmt.Sprintf("→ task #%s started: %s", e.TaskID, e.Title)
	case KindTaskCompleted:
		return fmt.Sprintf("✓ task #%s completed", e.TaskID)
	case KindTestRan:
		icon := "✗"
		if e.Passed {
			icon = "✓"
		}
		return fmt.Sprintf("%s test: %s", icon, e.Message)
	case KindCommandRan:
		return fmt.Sprintf("$ %s", e.Command)
	case KindCommitMade:
		sha := e.SHA
		if len(sha) > 7 {
			sha = sha[:7]
		}
		return fmt.Sprintf("⊕ commit %s: %s", sha, e.Message)
	case KindFileCreated:
		return fmt.Sprintf("+ %s", e.Path)
	case KindFileModified:
		return fmt.Sprintf("~ %s", e.Path)
	case KindPromptCandidate:
		return fmt.Sprintf("? %s", e.Text)
	default:
		line := e.Text
		if len(line) > 80 {
			line = line[:77] + "..."
		}
		return "  " + line
	}
}

// LastLine returns the final non-empty line of content, the line most
// likely to hold a prompt, used to compare a pane's trailing line before
// and after an answer-delay wait.
func LastLine(content string) string {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return lines[i]
		}
	}
	return ""
}

package trace

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roach88/flowplan/internal/graph"
	"github.com/roach88/flowplan/internal/plan"
)

// StatsFile is the per-registry run summary file name.
const StatsFile = "stats.txt"

// DirWriter is a plan.TraceSink writing DOT files and run statistics under
// a root directory. I/O failures are logged and never reach the planner.
type DirWriter struct {
	dir    string
	logger *slog.Logger
}

// Option configures a DirWriter.
type Option func(*DirWriter)

// WithLogger sets the logger used to report write failures.
func WithLogger(l *slog.Logger) Option {
	return func(w *DirWriter) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewDirWriter returns a writer rooted at dir. The directory is created on
// first write.
func NewDirWriter(dir string, opts ...Option) *DirWriter {
	w := &DirWriter{dir: dir, logger: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Dir returns the root directory.
func (w *DirWriter) Dir() string { return w.dir }

// WriteTransformPlan implements plan.TraceSink.
func (w *DirWriter) WriteTransformPlan(registry string, phase plan.Phase, rule string, index int, g *graph.Graph) {
	name := fmt.Sprintf("%s-%s-%d.dot", prefix(phase), clean(rule), index)
	w.writeDOT(registry, name, g)
}

// WriteLevelResults implements plan.TraceSink. Every child at the phase
// level is written, numbered by parent and child position.
func (w *DirWriter) WriteLevelResults(registry string, phase plan.Phase, res *plan.Result) {
	level := phase.Level()
	for p, parent := range res.Parents(level) {
		for c, child := range res.ChildrenOf(level, parent) {
			name := fmt.Sprintf("%s-%s-%02d-%02d.dot", prefix(phase), strings.ToLower(level.String()), p, c)
			w.writeDOT(registry, name, child)
		}
	}
}

// WriteStats implements plan.TraceSink.
func (w *DirWriter) WriteStats(registry string, res *plan.Result) {
	var buf bytes.Buffer
	FormatStats(&buf, res)
	w.write(registry, StatsFile, buf.Bytes())
}

// FormatStats renders the run summary of res: outcome, level counts, then
// per-phase and per-rule timings in phase order.
func FormatStats(buf *bytes.Buffer, res *plan.Result) {
	fmt.Fprintf(buf, "registry: %s\n", res.Registry())
	if err := res.Err(); err != nil {
		fmt.Fprintf(buf, "status: failed (%s)\n", plan.CodeOf(err))
		fmt.Fprintf(buf, "error: %s\n", err)
	} else {
		buf.WriteString("status: success\n")
	}
	fmt.Fprintf(buf, "duration: %s\n", res.Duration().Round(time.Microsecond))
	fmt.Fprintf(buf, "steps: %d\n", res.Count(plan.LevelStep))
	fmt.Fprintf(buf, "nodes: %d\n", res.Count(plan.LevelNode))
	fmt.Fprintf(buf, "pipelines: %d\n", res.Count(plan.LevelPipeline))

	buf.WriteString("\nphases:\n")
	for _, phase := range plan.Phases() {
		fmt.Fprintf(buf, "  %s %s\n", prefix(phase), res.PhaseDuration(phase).Round(time.Microsecond))
		for _, rd := range res.RuleDurations(phase) {
			fmt.Fprintf(buf, "    %s %s\n", rd.Rule, rd.Duration.Round(time.Microsecond))
		}
	}
}

func (w *DirWriter) writeDOT(registry, name string, g *graph.Graph) {
	if g == nil {
		return
	}
	var buf bytes.Buffer
	if err := graph.WriteDOT(&buf, g); err != nil {
		w.logger.Warn("trace render failed", "registry", registry, "file", name, "error", err)
		return
	}
	w.write(registry, name, buf.Bytes())
}

func (w *DirWriter) write(registry, name string, data []byte) {
	dir := filepath.Join(w.dir, clean(registry))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		w.logger.Warn("trace directory failed", "dir", dir, "error", err)
		return
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		w.logger.Warn("trace write failed", "path", path, "error", err)
		return
	}
	w.logger.Debug("trace written", "path", path)
}

func prefix(phase plan.Phase) string {
	return fmt.Sprintf("%02d-%s", phase.Ordinal(), phase)
}

// clean makes s safe as a single path element.
func clean(s string) string {
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, s)
}

package workflow

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/time/rate"

	"torrentd/internal/metrics"
	"torrentd/internal/session"
	"torrentd/internal/workflow/render"
)

// triggerBurst caps how many runs of one workflow a single event storm can
// start before damping kicks in.
const triggerBurst = 16

// Engine holds the loaded workflows and binds them to the session event bus.
// Triggering and step progression run on the session event loop.
type Engine struct {
	workflows []*loaded
	factory   ActionFactory
	logger    *slog.Logger
}

type loaded struct {
	name    string
	wf      *Workflow
	limiter *rate.Limiter
}

func NewEngine(factory ActionFactory, logger *slog.Logger) *Engine {
	return &Engine{factory: factory, logger: logger}
}

// LoadDir parses every .yml/.yaml document under dir. A file that fails to
// parse is skipped with a log line; the rest still load.
func (e *Engine) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read workflows dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yml" && ext != ".yaml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.LoadFile(path); err != nil {
			e.logger.Error("failed to load workflow",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (e *Engine) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	wf, err := Parse(f)
	if err != nil {
		return err
	}
	e.Add(filepath.Base(path), wf)
	e.logger.Info("workflow loaded",
		slog.String("name", filepath.Base(path)),
		slog.Int("steps", len(wf.Steps)),
	)
	return nil
}

// Add registers a parsed workflow under a display name.
func (e *Engine) Add(name string, wf *Workflow) {
	e.workflows = append(e.workflows, &loaded{
		name:    name,
		wf:      wf,
		limiter: rate.NewLimiter(rate.Limit(triggerBurst), triggerBurst),
	})
}

func (e *Engine) Len() int {
	return len(e.workflows)
}

// Bind subscribes the engine to the supervisor's events. Returns the
// unsubscribe func.
func (e *Engine) Bind(sup *session.Supervisor) func() {
	post := sup.Loop().Post
	return sup.Subscribe(func(ev session.Event) {
		e.OnEvent(ev.Name(), ev.Payload(), post)
	})
}

// OnEvent triggers every matching workflow. The trigger event's payload is
// exposed to expressions under both the event name and "event".
func (e *Engine) OnEvent(name string, payload any, post func(func())) {
	contexts := render.Context{
		"event": render.Static(payload),
		name:    render.Static(payload),
	}
	for _, l := range e.workflows {
		ok, err := l.wf.ShouldExecute(name, contexts)
		if err != nil {
			e.logger.Error("workflow condition failed",
				slog.String("workflow", l.name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !ok {
			continue
		}
		if !l.limiter.Allow() {
			e.logger.Warn("workflow trigger rate limited",
				slog.String("workflow", l.name),
				slog.String("event", name),
			)
			continue
		}
		metrics.WorkflowRunsTotal.WithLabelValues(name).Inc()
		l.wf.Execute(e.factory, contexts, post, e.logger.With(slog.String("workflow", l.name)))
	}
}

package workflow

import (
	"fmt"
	"log/slog"

	"torrentd/internal/metrics"
	"torrentd/internal/workflow/render"
)

// ShouldExecute reports whether the workflow triggers for the named event
// under the given contexts: the event must be in the trigger set, and the
// condition (when present) must render truthy in raw-expression mode.
func (w *Workflow) ShouldExecute(eventName string, contexts render.Context) (bool, error) {
	if _, ok := w.TriggerEvents[eventName]; !ok {
		return false, nil
	}
	if w.Condition == "" {
		return true, nil
	}
	v, err := render.Render(w.Condition, true, contexts)
	if err != nil {
		return false, fmt.Errorf("evaluate workflow condition: %w", err)
	}
	return !render.IsFalsy(v), nil
}

// runner drives one execution of a workflow: the resolved step list, a
// cursor, and the context tree augmented with the growing steps list. The
// runner reinvokes itself from its own completion callback, so at most one
// step is in flight and every render sees all prior outputs.
type runner struct {
	wf       *Workflow
	actions  []Action
	contexts render.Context
	outputs  []any
	cursor   int
	logger   *slog.Logger

	// post serializes step advancement onto the owner's event loop; nil
	// means advance inline.
	post func(func())
}

// Execute resolves every step up front and starts the run. An unresolvable
// action name aborts the whole workflow before any side effects. Post, when
// non-nil, is used to continue the run after asynchronous completions.
func (w *Workflow) Execute(factory ActionFactory, contexts render.Context, post func(func()), logger *slog.Logger) {
	actions := make([]Action, 0, len(w.Steps))
	for _, step := range w.Steps {
		action, ok := factory.Construct(step.Uses)
		if !ok {
			logger.Error("Invalid action name: " + step.Uses)
			metrics.WorkflowFailuresTotal.Inc()
			return
		}
		actions = append(actions, action)
	}

	r := &runner{
		wf:      w,
		actions: actions,
		outputs: []any{},
		logger:  logger,
		post:    post,
	}

	// The augmented context: everything the caller provided plus the live
	// steps list. Copy so concurrent runs never share a map.
	r.contexts = make(render.Context, len(contexts)+1)
	for name, p := range contexts {
		r.contexts[name] = p
	}
	r.contexts["steps"] = func() any { return r.outputs }

	if len(w.Steps) == 0 {
		return
	}
	r.invokeCurrent()
}

func (r *runner) invokeCurrent() {
	step := r.wf.Steps[r.cursor]
	action := r.actions[r.cursor]

	params := &stepParams{with: step.With, contexts: r.contexts}

	defer func() {
		if err := recover(); err != nil {
			r.logger.Error(fmt.Sprintf("Error when invoking action %s: %v", step.Uses, err))
			metrics.WorkflowFailuresTotal.Inc()
		}
	}()
	action.Invoke(params, &stepCallback{r: r})
}

// advance runs on the owner's loop.
func (r *runner) advance(output any) {
	r.outputs = append(r.outputs, output)
	r.cursor++
	if r.cursor >= len(r.wf.Steps) {
		return
	}
	r.invokeCurrent()
}

type stepCallback struct {
	r *runner
}

func (cb *stepCallback) Complete(output any) {
	if cb.r.post != nil {
		cb.r.post(func() { cb.r.advance(output) })
		return
	}
	cb.r.advance(output)
}

type stepParams struct {
	with     any
	contexts render.Context
}

func (p *stepParams) Input() any {
	return p.with
}

func (p *stepParams) Render(text string, raw bool) (any, error) {
	return render.Render(text, raw, p.contexts)
}

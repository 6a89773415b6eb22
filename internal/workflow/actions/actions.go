// Package actions is the starter action catalog for workflows: log, sleep
// and exec. log's message and exec's arguments are rendered through the
// run's context tree before use; sleep's duration and exec's command are
// used as written.
package actions

import (
	"log/slog"
	"os/exec"
	"time"

	"torrentd/internal/workflow"
)

// Registry resolves the built-in action names.
type Registry struct {
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

func (r *Registry) Construct(name string) (workflow.Action, bool) {
	switch name {
	case "log":
		return &logAction{logger: r.logger}, true
	case "sleep":
		return &sleepAction{}, true
	case "exec":
		return &execAction{logger: r.logger}, true
	}
	return nil, false
}

// logAction writes the rendered "msg" parameter at info level and outputs
// the rendered message.
type logAction struct {
	logger *slog.Logger
}

func (a *logAction) Invoke(params workflow.ActionParams, cb workflow.Callback) {
	msg := stringParam(params, "msg")
	rendered, err := params.Render(msg, false)
	if err != nil {
		panic(err)
	}
	a.logger.Info(toString(rendered))
	cb.Complete(rendered)
}

// sleepAction pauses the workflow for "duration" (Go duration string)
// without blocking the event loop; completion resumes the run.
type sleepAction struct{}

func (a *sleepAction) Invoke(params workflow.ActionParams, cb workflow.Callback) {
	d, err := time.ParseDuration(stringParam(params, "duration"))
	if err != nil {
		panic(err)
	}
	time.AfterFunc(d, func() {
		cb.Complete(nil)
	})
}

// execAction runs a command with rendered arguments off the event loop and
// outputs {exit_code, output}.
type execAction struct {
	logger *slog.Logger
}

func (a *execAction) Invoke(params workflow.ActionParams, cb workflow.Callback) {
	command := stringParam(params, "command")
	rawArgs, _ := mapParam(params)["args"].([]any)

	args := make([]string, 0, len(rawArgs))
	for _, raw := range rawArgs {
		rendered, err := params.Render(toString(raw), false)
		if err != nil {
			panic(err)
		}
		args = append(args, toString(rendered))
	}

	go func() {
		out, err := exec.Command(command, args...).CombinedOutput()
		exitCode := 0
		if err != nil {
			exitCode = -1
			if ee, ok := err.(*exec.ExitError); ok {
				exitCode = ee.ExitCode()
			}
			a.logger.Warn("exec action failed",
				slog.String("command", command),
				slog.String("error", err.Error()),
			)
		}
		cb.Complete(map[string]any{
			"exit_code": exitCode,
			"output":    string(out),
		})
	}()
}

func mapParam(params workflow.ActionParams) map[string]any {
	m, _ := params.Input().(map[string]any)
	return m
}

func stringParam(params workflow.ActionParams, key string) string {
	v, _ := mapParam(params)[key].(string)
	return v
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return slog.AnyValue(v).String()
}

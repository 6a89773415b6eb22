package workflow

// Callback receives an action's result. Complete must be called exactly once
// on success; an action may call it synchronously from Invoke or later from
// another goroutine.
type Callback interface {
	Complete(output any)
}

// ActionParams is what a step hands its action: the raw `with` value and a
// renderer closed over the run's context tree, so each render sees every
// output produced so far.
type ActionParams interface {
	Input() any
	Render(text string, raw bool) (any, error)
}

// Action is a single workflow step implementation. Invoke may panic to abort
// the run; it may also never call back, which leaks the run (known hazard).
type Action interface {
	Invoke(params ActionParams, cb Callback)
}

// ActionFactory resolves step `uses` names to actions.
type ActionFactory interface {
	Construct(name string) (Action, bool)
}

// FactoryFunc adapts a function to ActionFactory.
type FactoryFunc func(name string) (Action, bool)

func (f FactoryFunc) Construct(name string) (Action, bool) {
	return f(name)
}

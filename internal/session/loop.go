package session

// Loop is the single event-loop thread of the daemon. All session state,
// store access and workflow progression happen on it; other goroutines only
// ever Post.
type Loop struct {
	tasks chan func()
	quit  chan struct{}
	done  chan struct{}
}

func NewLoop() *Loop {
	return &Loop{
		tasks: make(chan func(), 256),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Run processes tasks until Stop; it is the loop goroutine's body.
func (l *Loop) Run() {
	defer close(l.done)
	for {
		select {
		case fn := <-l.tasks:
			fn()
		case <-l.quit:
			// Drain what is already queued so Stop has deterministic effect.
			for {
				select {
				case fn := <-l.tasks:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Post enqueues fn; safe from any goroutine, including engine callbacks.
func (l *Loop) Post(fn func()) {
	select {
	case l.tasks <- fn:
	case <-l.quit:
	}
}

// Exec runs fn on the loop and waits for it to return. Must not be called
// from the loop itself.
func (l *Loop) Exec(fn func()) {
	ch := make(chan struct{})
	l.Post(func() {
		defer close(ch)
		fn()
	})
	select {
	case <-ch:
	case <-l.done:
	}
}

// Stop ends the loop after draining queued tasks and waits for the loop
// goroutine to exit. Stopping an already-stopped loop is a no-op.
func (l *Loop) Stop() {
	select {
	case <-l.quit:
	default:
		close(l.quit)
	}
	<-l.done
}

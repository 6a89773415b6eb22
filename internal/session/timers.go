package session

import "time"

// loopTimer re-arms itself after each expiry and posts its tick onto the
// event loop. Stop is safe against an in-flight tick: the tick checks the
// stopped flag on the loop before firing.
type loopTimer struct {
	interval time.Duration
	timer    *time.Timer
	stopped  bool
}

func (s *Supervisor) startTimers() {
	s.addTimer(s.cfg.DHTStatsInterval, s.eng.PostDHTStats)
	s.addTimer(s.cfg.SessionStatsInterval, s.eng.PostSessionStats)
	s.addTimer(s.cfg.TorrentUpdatesInterval, s.eng.PostTorrentUpdates)
}

func (s *Supervisor) addTimer(interval time.Duration, tick func()) {
	if interval <= 0 {
		return
	}
	t := &loopTimer{interval: interval}
	var arm func()
	arm = func() {
		t.timer = time.AfterFunc(t.interval, func() {
			s.loop.Post(func() {
				if t.stopped {
					return
				}
				tick()
				arm()
			})
		})
	}
	arm()
	s.timers = append(s.timers, t)
}

// stopTimers runs on the event loop.
func (s *Supervisor) stopTimers() {
	for _, t := range s.timers {
		t.stopped = true
		if t.timer != nil {
			t.timer.Stop()
		}
	}
	s.timers = nil
}

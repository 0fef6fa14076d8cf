package realtime

import "time"

// poller calls tick once right away and then every interval until halted.
type poller struct {
	stop chan struct{}
	done chan struct{}
}

func startPoller(interval time.Duration, tick func()) *poller {
	p := &poller{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	go func() {
		defer close(p.done)

		select {
		case <-p.stop:
			return
		default:
		}
		tick()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				tick()
			}
		}
	}()

	return p
}

// halt stops future ticks without waiting for a running one.
func (p *poller) halt() {
	close(p.stop)
}

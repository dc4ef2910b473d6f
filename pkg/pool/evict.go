// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"log/slog"
	"slices"
	"time"
)

// evict closes idle connections whose keep-alive elapsed. It sleeps until
// the bottom of the stack expires; a release into an empty stack wakes it.
func (p *Pool) evict() {
	defer p.wg.Done()

	timer := time.NewTimer(p.config.KeepAlive)
	timer.Stop()
	defer timer.Stop()

	for {
		expired, next := p.expire(time.Now())
		for _, c := range expired {
			c.close()
			p.evicted.Add(1)
			p.logger.Debug("Evicted idle MLLP connection", slog.String("conn", c.id))
		}

		var wait <-chan time.Time
		if next > 0 {
			timer.Reset(next)
			wait = timer.C
		}

		select {
		case <-p.done:
			return
		case <-p.wake:
		case <-wait:
		}
	}
}

// expire removes every expired connection from the bottom of the stack and
// returns them with the delay until the next expiry, or zero if the stack
// is empty.
func (p *Pool) expire(now time.Time) ([]*Conn, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for n < len(p.idle) && now.Sub(p.idle[n].idleSince) >= p.config.KeepAlive {
		n++
	}

	var expired []*Conn
	if n > 0 {
		expired = slices.Clone(p.idle[:n])
		p.idle = slices.Delete(p.idle, 0, n)
	}

	if len(p.idle) == 0 {
		return expired, 0
	}

	return expired, p.idle[0].idleSince.Add(p.config.KeepAlive).Sub(now)
}

func (p *Pool) kick() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

package agent

import (
	"context"
	"reflect"
	"time"

	"github.com/sentineld/autocracy/internal/facts"
	"github.com/sentineld/autocracy/internal/session"
)

// factsLoop runs independently of the receive loop for the lifetime of one
// session. Each iteration collects facts; an unchanged map backs the delay
// off toward maxInterval, a changed one resets it to one second and fires
// the fact-publishing command fire-and-forget, matching spec.md §4.2's
// description of the facts collector.
func (a *Agent) factsLoop(ctx context.Context, sess *session.Session) {
	delay := time.Second
	var last map[string]any

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		current, err := a.collectFacts()
		if err != nil {
			a.log.Error("facts collection failed", "error", err)
			delay = a.cfg.MaxPretensesInterval
			continue
		}

		if last != nil && reflect.DeepEqual(current, last) {
			delay *= 2
			if delay > a.cfg.MaxPretensesInterval {
				delay = a.cfg.MaxPretensesInterval
			}
			continue
		}

		if _, err := sess.RemoteCommand(ctx, a.cfg.PretensesCommand, []any{current}, false, 0); err != nil {
			a.log.Warn("sending facts failed", "error", err)
		}
		last = current
		delay = time.Second
	}
}

func (a *Agent) collectFacts() (map[string]any, error) {
	if a.cfg.CollectFacts != nil {
		return a.cfg.CollectFacts()
	}
	return facts.Collect()
}

package memengine

import (
	"time"

	"github.com/roach88/tempo/internal/driver"
	"github.com/roach88/tempo/internal/ir"
)

// point is an open wait point: a paused token, or an armed timer.
type point struct {
	occurrence string
	execution  string
	activity   *ir.Activity
	kind       ir.Kind
	due        time.Time // timers only
	host       string    // boundary timers: occurrence of the host point
	seq        int       // arming order
}

// scoped reports whether the point is a timer hanging off a scope rather
// than a token of its own.
func (p *point) scoped() bool {
	return p.kind == ir.KindBoundaryTimer || p.kind == ir.KindEventTimer
}

type instance struct {
	id      string
	def     *ir.ProcessDefinition
	clock   driver.Clock
	vars    ir.Object
	points  []*point       // creation order
	joins   map[string]int // parallel join arrivals
	state   InstanceState
	failure string

	occSeq   int
	execSeq  int
	pointSeq int
}

func (i *instance) waitPoint(p *point) ir.WaitPoint {
	return ir.WaitPoint{
		InstanceID:   i.id,
		ActivityID:   p.activity.ID,
		ExecutionID:  p.execution,
		OccurrenceID: p.occurrence,
		Kind:         p.kind,
		DueAt:        p.due,
		EventName:    p.activity.EventName,
	}
}

func (i *instance) point(occurrence string) *point {
	for _, p := range i.points {
		if p.occurrence == occurrence {
			return p
		}
	}
	return nil
}

func (i *instance) remove(target *point) {
	for idx, p := range i.points {
		if p == target {
			i.points = append(i.points[:idx], i.points[idx+1:]...)
			return
		}
	}
}

// removeBoundaries drops the boundary timers armed for host.
func (i *instance) removeBoundaries(host *point) {
	kept := i.points[:0]
	for _, p := range i.points {
		if p.kind == ir.KindBoundaryTimer && p.host == host.occurrence {
			continue
		}
		kept = append(kept, p)
	}
	i.points = kept
}

// nextDueTimer returns the earliest timer due at or before now, ties broken
// by arming order.
func (i *instance) nextDueTimer(now time.Time) *point {
	var best *point
	for _, p := range i.points {
		if !p.kind.IsTimer() || p.due.After(now) {
			continue
		}
		if best == nil || p.due.Before(best.due) || (p.due.Equal(best.due) && p.seq < best.seq) {
			best = p
		}
	}
	return best
}

// alive reports whether any token is still in flight: paused at a wait
// point or waiting at a join.
func (i *instance) alive() bool {
	for _, p := range i.points {
		if !p.scoped() {
			return true
		}
	}
	for _, n := range i.joins {
		if n > 0 {
			return true
		}
	}
	return false
}

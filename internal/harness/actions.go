package harness

import (
	"context"
	"fmt"

	"github.com/roach88/tempo/internal/driver"
	"github.com/roach88/tempo/internal/ir"
)

// Messenger delivers messages and signals on behalf of send actions.
// *memengine.Engine satisfies it.
type Messenger interface {
	Correlate(ctx context.Context, name string, payload ir.Variables) (bool, error)
	Broadcast(ctx context.Context, name string, payload ir.Variables) (int, error)
}

// stepFunc performs one resumption against a delegate.
type stepFunc func(ctx context.Context, d driver.Delegate) error

// register installs every action on reg.
func register(reg *driver.Registry, actions []Action, m Messenger) error {
	for _, a := range actions {
		h, err := a.handler(m)
		if err != nil {
			return fmt.Errorf("action %s (%s): %w", a.Activity, a.Kind, err)
		}
		if err := reg.Register(a.Activity, ir.Kind(a.Kind), h); err != nil {
			return err
		}
	}
	return nil
}

// handler builds the driver handler for one action.
func (a Action) handler(m Messenger) (driver.Handler, error) {
	if a.Defer == "" {
		now, err := a.Step.compile(m)
		if err != nil {
			return nil, err
		}
		return driver.Handler(now), nil
	}

	if a.Then == nil {
		return nil, fmt.Errorf("defer requires then")
	}
	then, err := a.Then.compile(m)
	if err != nil {
		return nil, err
	}
	period := a.Defer
	return func(ctx context.Context, d driver.Delegate) error {
		return d.Defer(period, func(ctx context.Context) error {
			return then(ctx, d)
		})
	}, nil
}

func (s Step) compile(m Messenger) (stepFunc, error) {
	vars, err := ir.ObjectFromMap(s.Variables)
	if err != nil {
		return nil, fmt.Errorf("variables: %w", err)
	}

	switch s.Do {
	case DoNoop:
		return func(context.Context, driver.Delegate) error { return nil }, nil

	case DoComplete:
		return func(ctx context.Context, d driver.Delegate) error {
			td, err := asTask(d)
			if err != nil {
				return err
			}
			return td.Complete(ctx, vars)
		}, nil

	case DoFail:
		reason := s.Reason
		return func(ctx context.Context, d driver.Delegate) error {
			td, err := asTask(d)
			if err != nil {
				return err
			}
			return td.Fail(ctx, reason)
		}, nil

	case DoReceive:
		return func(ctx context.Context, d driver.Delegate) error {
			ed, ok := d.(*driver.EventDelegate)
			if !ok {
				return fmt.Errorf("%s: receive on %s wait point", d.ActivityID(), d.Kind())
			}
			return ed.Receive(ctx, vars)
		}, nil

	case DoSend:
		if m == nil {
			return nil, fmt.Errorf("send needs an engine that delivers messages")
		}
		message, signal := s.Message, s.Signal
		return func(ctx context.Context, d driver.Delegate) error {
			td, err := asTask(d)
			if err != nil {
				return err
			}
			if message != "" {
				found, err := m.Correlate(ctx, message, vars)
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("%s: no receiver waiting for message %q", d.ActivityID(), message)
				}
			} else if _, err := m.Broadcast(ctx, signal, vars); err != nil {
				return err
			}
			return td.Complete(ctx, nil)
		}, nil
	}
	return nil, fmt.Errorf("unknown do %q", s.Do)
}

func asTask(d driver.Delegate) (*driver.TaskDelegate, error) {
	td, ok := d.(*driver.TaskDelegate)
	if !ok {
		return nil, fmt.Errorf("%s: %s wait point is not a task", d.ActivityID(), d.Kind())
	}
	return td, nil
}

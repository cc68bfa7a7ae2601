package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tempo/internal/ir"
)

func delegateFor(t *testing.T, activity string, kind ir.Kind) Delegate {
	t.Helper()
	d, err := newDelegate(ir.WaitPoint{InstanceID: "i", ActivityID: activity, OccurrenceID: "o", Kind: kind}, nil)
	require.NoError(t, err)
	return d
}

func TestRegistry_ExactMatch(t *testing.T) {
	r := NewRegistry()
	called := ""
	require.NoError(t, r.Register("Approve", ir.KindUserTask, func(context.Context, Delegate) error {
		called = "user"
		return nil
	}))

	h, ok := r.Resolve(delegateFor(t, "Approve", ir.KindUserTask))
	require.True(t, ok)
	require.NoError(t, h(context.Background(), nil))
	assert.Equal(t, "user", called)

	_, ok = r.Resolve(delegateFor(t, "Approve", ir.KindServiceTask))
	assert.False(t, ok, "kind must match exactly")

	_, ok = r.Resolve(delegateFor(t, "Reject", ir.KindUserTask))
	assert.False(t, ok, "activity must match exactly")
}

func TestRegistry_RejectsTimersAndDuplicates(t *testing.T) {
	r := NewRegistry()
	noop := func(context.Context, Delegate) error { return nil }

	assert.Error(t, r.Register("Timeout", ir.KindBoundaryTimer, noop))
	assert.Error(t, r.Register("Nap", ir.KindTimerCatch, noop))
	assert.Error(t, r.Register("End", ir.KindEnd, noop))
	assert.Error(t, r.Register("", ir.KindUserTask, noop))
	assert.Error(t, r.Register("Task", ir.KindUserTask, nil))

	require.NoError(t, r.Register("Task", ir.KindUserTask, noop))
	assert.Error(t, r.Register("Task", ir.KindUserTask, noop))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_TypedHelpers(t *testing.T) {
	r := NewRegistry()
	task := func(context.Context, *TaskDelegate) error { return nil }
	event := func(context.Context, *EventDelegate) error { return nil }

	require.NoError(t, r.OnUserTask("A", task))
	require.NoError(t, r.OnServiceTask("B", task))
	require.NoError(t, r.OnBusinessRuleTask("C", task))
	require.NoError(t, r.OnSendTask("D", task))
	require.NoError(t, r.OnMessageCatch("E", event))
	require.NoError(t, r.OnSignalCatch("F", event))
	require.NoError(t, r.OnReceiveTask("G", event))

	cases := []struct {
		activity string
		kind     ir.Kind
	}{
		{"A", ir.KindUserTask},
		{"B", ir.KindServiceTask},
		{"C", ir.KindBusinessRuleTask},
		{"D", ir.KindSendTask},
		{"E", ir.KindMessageCatch},
		{"F", ir.KindSignalCatch},
		{"G", ir.KindReceiveTask},
	}
	for _, c := range cases {
		d := delegateFor(t, c.activity, c.kind)
		h, ok := r.Resolve(d)
		require.True(t, ok, c.activity)
		assert.NoError(t, h(context.Background(), d), c.activity)
	}
}

func TestRegistry_TypedHelperRejectsWrongVariant(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.OnUserTask("A", func(context.Context, *TaskDelegate) error { return nil }))

	h, ok := r.Resolve(delegateFor(t, "A", ir.KindUserTask))
	require.True(t, ok)
	err := h(context.Background(), delegateFor(t, "A", ir.KindMessageCatch))
	assert.ErrorContains(t, err, "expected task delegate")
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyStrict, p)

	p, err = ParsePolicy("Lenient")
	require.NoError(t, err)
	assert.Equal(t, PolicyLenient, p)
	assert.Equal(t, "lenient", p.String())

	_, err = ParsePolicy("relaxed")
	assert.Error(t, err)
}

func TestNewDelegate_Variants(t *testing.T) {
	assert.IsType(t, &TaskDelegate{}, delegateFor(t, "x", ir.KindBusinessRuleTask))
	assert.IsType(t, &EventDelegate{}, delegateFor(t, "x", ir.KindReceiveTask))
	assert.IsType(t, &TimerDelegate{}, delegateFor(t, "x", ir.KindBoundaryTimer))

	_, err := newDelegate(ir.WaitPoint{ActivityID: "x", Kind: ir.KindExclusive}, nil)
	assert.Error(t, err)
}

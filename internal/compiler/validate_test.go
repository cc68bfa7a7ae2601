package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/tempo/internal/ir"
	"github.com/roach88/tempo/internal/testutil"
)

func codes(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func TestValidateFixtures(t *testing.T) {
	for _, def := range testutil.AllDefinitions() {
		t.Run(def.Key, func(t *testing.T) {
			assert.Empty(t, Validate(def))
		})
	}
}

func TestValidateStart(t *testing.T) {
	tests := []struct {
		name  string
		start string
		want  string
	}{
		{"missing", "", ErrStartMissing},
		{"unknown", "Nowhere", ErrStartUnknown},
		{"wrong kind", "Task", ErrStartKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := &ir.ProcessDefinition{
				Key:   "P",
				Start: tt.start,
				Activities: []ir.Activity{
					{ID: "Task", Kind: ir.KindUserTask},
				},
			}
			assert.Equal(t, []string{tt.want}, codes(Validate(def)))
		})
	}
}

func TestValidateNoActivities(t *testing.T) {
	errs := Validate(&ir.ProcessDefinition{Key: "P", Start: "S"})
	assert.Equal(t, []string{ErrNoActivities, ErrStartUnknown}, codes(errs))
}

func TestValidateDuplicateActivity(t *testing.T) {
	def := &ir.ProcessDefinition{
		Key:   "P",
		Start: "S",
		Activities: []ir.Activity{
			{ID: "S", Kind: ir.KindStart},
			{ID: "S", Kind: ir.KindEnd},
		},
	}
	assert.Contains(t, codes(Validate(def)), ErrDuplicateActivity)
}

func TestValidateFlows(t *testing.T) {
	tests := []struct {
		name string
		act  ir.Activity
		want string
	}{
		{
			name: "unknown target",
			act:  ir.Activity{ID: "X", Kind: ir.KindScript, Next: []ir.Flow{{Target: "Missing"}}},
			want: ErrUnknownTarget,
		},
		{
			name: "timer target",
			act:  ir.Activity{ID: "X", Kind: ir.KindScript, Next: []ir.Flow{{Target: "Timeout"}}},
			want: ErrTimerTarget,
		},
		{
			name: "start target",
			act:  ir.Activity{ID: "X", Kind: ir.KindScript, Next: []ir.Flow{{Target: "S"}}},
			want: ErrStartHasIncoming,
		},
		{
			name: "unconditional exclusive branch",
			act:  ir.Activity{ID: "X", Kind: ir.KindExclusive, Next: []ir.Flow{{Target: "E", Condition: "ok"}, {Target: "E"}}},
			want: ErrExclusiveBranch,
		},
		{
			name: "two defaults",
			act:  ir.Activity{ID: "X", Kind: ir.KindExclusive, Next: []ir.Flow{{Target: "E", Default: true}, {Target: "E", Default: true}}},
			want: ErrExclusiveDefaults,
		},
		{
			name: "end with next",
			act:  ir.Activity{ID: "X", Kind: ir.KindEnd, Next: []ir.Flow{{Target: "E"}}},
			want: ErrEndHasNext,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := &ir.ProcessDefinition{
				Key:   "P",
				Start: "S",
				Activities: []ir.Activity{
					{ID: "S", Kind: ir.KindStart, Next: []ir.Flow{{Target: "T"}}},
					{ID: "T", Kind: ir.KindUserTask, Next: []ir.Flow{{Target: "E"}}},
					{ID: "Timeout", Kind: ir.KindBoundaryTimer, AttachedTo: "T", Duration: "PT1M", Next: []ir.Flow{{Target: "E"}}},
					{ID: "E", Kind: ir.KindEnd},
					tt.act,
				},
			}
			errs := Validate(def)
			assert.Equal(t, []string{tt.want}, codes(errs))
			assert.Equal(t, "activity.X.next", errs[0].Field)
		})
	}
}

func TestValidateEvents(t *testing.T) {
	tests := []struct {
		name string
		act  ir.Activity
		want string
	}{
		{"boundary without host", ir.Activity{ID: "X", Kind: ir.KindBoundaryTimer, Duration: "PT1M"}, ErrAttachment},
		{"boundary unknown host", ir.Activity{ID: "X", Kind: ir.KindBoundaryError, AttachedTo: "Ghost"}, ErrAttachment},
		{"boundary on gateway", ir.Activity{ID: "X", Kind: ir.KindBoundaryError, AttachedTo: "S"}, ErrAttachment},
		{"attached non-boundary", ir.Activity{ID: "X", Kind: ir.KindUserTask, AttachedTo: "T"}, ErrUnexpectedAttach},
		{"timer without duration", ir.Activity{ID: "X", Kind: ir.KindTimerCatch}, ErrDuration},
		{"timer bad duration", ir.Activity{ID: "X", Kind: ir.KindEventTimer, Duration: "5 minutes"}, ErrDuration},
		{"message without name", ir.Activity{ID: "X", Kind: ir.KindMessageCatch}, ErrEventName},
		{"receive without name", ir.Activity{ID: "X", Kind: ir.KindReceiveTask}, ErrEventName},
		{"unknown kind", ir.Activity{ID: "X", Kind: "lane"}, ErrUnknownKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := &ir.ProcessDefinition{
				Key:   "P",
				Start: "S",
				Activities: []ir.Activity{
					{ID: "S", Kind: ir.KindStart, Next: []ir.Flow{{Target: "T"}}},
					{ID: "T", Kind: ir.KindUserTask},
					tt.act,
				},
			}
			assert.Equal(t, []string{tt.want}, codes(Validate(def)))
		})
	}
}

func TestValidateCollectsAll(t *testing.T) {
	def := &ir.ProcessDefinition{
		Key:   "P",
		Start: "Missing",
		Activities: []ir.Activity{
			{ID: "A", Kind: ir.KindTimerCatch, Next: []ir.Flow{{Target: "Nowhere"}}},
			{ID: "B", Kind: ir.KindSignalCatch},
		},
	}
	errs := Validate(def)
	assert.Equal(t, []string{ErrStartUnknown, ErrUnknownTarget, ErrDuration, ErrEventName}, codes(errs))
}

func TestValidationErrorString(t *testing.T) {
	e := ValidationError{Field: "start", Message: "start is required", Code: ErrStartMissing}
	assert.Equal(t, "[E101] start: start is required", e.Error())
}

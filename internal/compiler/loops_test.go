package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tempo/internal/ir"
	"github.com/roach88/tempo/internal/testutil"
)

func TestAnalyzeLoops_Empty(t *testing.T) {
	assert.Empty(t, AnalyzeLoops(&ir.ProcessDefinition{}))
}

func TestAnalyzeLoops_Acyclic(t *testing.T) {
	for _, def := range []*ir.ProcessDefinition{
		testutil.TimerRace(),
		testutil.ParallelApproval(),
		testutil.ChargeWithFallback(),
		testutil.Sleep(),
	} {
		assert.Empty(t, AnalyzeLoops(def), def.Key)
	}
}

func TestAnalyzeLoops_WaitLoopIsInfo(t *testing.T) {
	warnings := AnalyzeLoops(testutil.ReviewLoop())
	require.Len(t, warnings, 1)

	w := warnings[0]
	assert.Equal(t, LevelInfo, w.Level)
	assert.Equal(t, []string{"Review", "Decide", "Review"}, w.Path)
	assert.Equal(t, []string{"Review"}, w.Waits)
	assert.Contains(t, w.Message, "re-enters Review")
}

func TestAnalyzeLoops_SpinLoopIsWarning(t *testing.T) {
	def := &ir.ProcessDefinition{
		Key:   "Spin",
		Start: "S",
		Activities: []ir.Activity{
			{ID: "S", Kind: ir.KindStart, Next: []ir.Flow{{Target: "Bump"}}},
			{ID: "Bump", Kind: ir.KindScript, Next: []ir.Flow{{Target: "Check"}}},
			{ID: "Check", Kind: ir.KindExclusive, Next: []ir.Flow{
				{Target: "Done", Condition: "done"},
				{Target: "Bump", Default: true},
			}},
			{ID: "Done", Kind: ir.KindEnd},
		},
	}

	warnings := AnalyzeLoops(def)
	require.Len(t, warnings, 1)
	assert.Equal(t, LevelWarning, warnings[0].Level)
	assert.Equal(t, []string{"Bump", "Check", "Bump"}, warnings[0].Path)
	assert.Empty(t, warnings[0].Waits)
	assert.Contains(t, warnings[0].Message, "never yields")
}

func TestAnalyzeLoops_SelfLoop(t *testing.T) {
	def := &ir.ProcessDefinition{
		Key:   "Self",
		Start: "S",
		Activities: []ir.Activity{
			{ID: "S", Kind: ir.KindStart, Next: []ir.Flow{{Target: "G"}}},
			{ID: "G", Kind: ir.KindExclusive, Next: []ir.Flow{
				{Target: "G", Condition: "again"},
				{Target: "E", Default: true},
			}},
			{ID: "E", Kind: ir.KindEnd},
		},
	}

	warnings := AnalyzeLoops(def)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"G", "G"}, warnings[0].Path)
	assert.Equal(t, LevelWarning, warnings[0].Level)
}

// A retry through a boundary error passes through the failed task, which
// is a wait activity.
func TestAnalyzeLoops_BoundaryRetry(t *testing.T) {
	def := &ir.ProcessDefinition{
		Key:   "Retry",
		Start: "S",
		Activities: []ir.Activity{
			{ID: "S", Kind: ir.KindStart, Next: []ir.Flow{{Target: "Charge"}}},
			{ID: "Charge", Kind: ir.KindServiceTask, Next: []ir.Flow{{Target: "E"}}},
			{ID: "E", Kind: ir.KindEnd},
			{ID: "Failed", Kind: ir.KindBoundaryError, AttachedTo: "Charge", Next: []ir.Flow{{Target: "Charge"}}},
		},
	}

	warnings := AnalyzeLoops(def)
	require.Len(t, warnings, 1)
	assert.Equal(t, LevelInfo, warnings[0].Level)
	assert.Equal(t, []string{"Charge", "Failed", "Charge"}, warnings[0].Path)
	assert.Equal(t, []string{"Charge"}, warnings[0].Waits)
}

func TestAnalyzeLoops_MultipleInDeclarationOrder(t *testing.T) {
	def := &ir.ProcessDefinition{
		Key:   "Two",
		Start: "S",
		Activities: []ir.Activity{
			{ID: "S", Kind: ir.KindStart, Next: []ir.Flow{{Target: "A"}}},
			{ID: "A", Kind: ir.KindUserTask, Next: []ir.Flow{{Target: "GA"}}},
			{ID: "GA", Kind: ir.KindExclusive, Next: []ir.Flow{
				{Target: "A", Condition: "again"},
				{Target: "B", Default: true},
			}},
			{ID: "B", Kind: ir.KindScript, Next: []ir.Flow{{Target: "GB"}}},
			{ID: "GB", Kind: ir.KindExclusive, Next: []ir.Flow{
				{Target: "B", Condition: "again"},
				{Target: "E", Default: true},
			}},
			{ID: "E", Kind: ir.KindEnd},
		},
	}

	warnings := AnalyzeLoops(def)
	require.Len(t, warnings, 2)
	assert.Equal(t, "A", warnings[0].Path[0])
	assert.Equal(t, LevelInfo, warnings[0].Level)
	assert.Equal(t, "B", warnings[1].Path[0])
	assert.Equal(t, LevelWarning, warnings[1].Level)
}

func TestAnalyzeLoops_Deterministic(t *testing.T) {
	def := testutil.ReviewLoop()
	first := AnalyzeLoops(def)
	for range 20 {
		assert.Equal(t, first, AnalyzeLoops(def))
	}
}

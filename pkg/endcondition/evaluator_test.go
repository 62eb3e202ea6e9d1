package endcondition

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethan/mediacompositor/pkg/types"
)

func TestAllInputsFiresWhenConnectedSetEmpties(t *testing.T) {
	e := New(Condition{Kind: AllInputs}, []types.InputID{"a", "b"})
	require.False(t, e.Disconnect("a"))
	require.True(t, e.Disconnect("b"))
	// Only one EOS ever, even if queried again.
	require.False(t, e.Disconnect("b"))
}

func TestAnyInputFiresOnFirstRemoval(t *testing.T) {
	e := New(Condition{Kind: AnyInput}, []types.InputID{"a", "b", "c"})
	require.True(t, e.Disconnect("a"))
	require.False(t, e.Disconnect("b")) // already fired
}

func TestAnyOfFiresWhenOneListedLeaves(t *testing.T) {
	e := New(Condition{Kind: AnyOf, Inputs: []types.InputID{"a", "b"}}, []types.InputID{"a", "b", "c"})
	require.False(t, e.Disconnect("c"))
	require.True(t, e.Disconnect("a"))
}

func TestAllOfFiresOnlyWhenAllListedLeave(t *testing.T) {
	e := New(Condition{Kind: AllOf, Inputs: []types.InputID{"a", "b"}}, []types.InputID{"a", "b", "c"})
	require.False(t, e.Disconnect("a"))
	require.True(t, e.Disconnect("b"))
}

func TestNeverNeverFires(t *testing.T) {
	e := New(Condition{Kind: Never}, []types.InputID{"a"})
	require.False(t, e.Disconnect("a"))
}

func TestFiredReflectsState(t *testing.T) {
	e := New(Condition{Kind: AllInputs}, []types.InputID{"a"})
	require.False(t, e.Fired())
	e.Disconnect("a")
	require.True(t, e.Fired())
}

package pth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAtforkOrdering(t *testing.T) {
	// AtforkPush/Pop is process-global state; clear whatever a failed
	// prior test left behind before asserting on a known stack.
	for AtforkPop() {
	}

	var prepareOrder, parentOrder, childOrder []string

	push := func(name string) {
		AtforkPush(
			func(arg interface{}) { prepareOrder = append(prepareOrder, name) },
			func(arg interface{}) { parentOrder = append(parentOrder, name) },
			func(arg interface{}) { childOrder = append(childOrder, name) },
			nil,
		)
	}
	push("a")
	push("b")
	push("c")

	runPrepareHooks()
	require.Equal(t, []string{"c", "b", "a"}, prepareOrder)

	runParentHooks()
	require.Equal(t, []string{"a", "b", "c"}, parentOrder)

	runChildHooks()
	require.Equal(t, []string{"a", "b", "c"}, childOrder)

	require.True(t, AtforkPop())
	require.True(t, AtforkPop())
	require.True(t, AtforkPop())
	require.False(t, AtforkPop())
}

func TestAtforkNilHandlersSkipped(t *testing.T) {
	for AtforkPop() {
	}

	ran := false
	AtforkPush(nil, func(arg interface{}) { ran = true }, nil, nil)
	runPrepareHooks() // must not panic on a nil prepare handler
	runChildHooks()   // must not panic on a nil child handler
	runParentHooks()
	require.True(t, ran)
	require.True(t, AtforkPop())
}

package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildLinear() *Graph {
	g := New()
	g.Add(Node{ID: "a", Status: StatusTodo})
	g.Add(Node{ID: "b", DependsOn: []string{"a"}, Status: StatusTodo})
	g.Add(Node{ID: "c", DependsOn: []string{"b"}, Status: StatusTodo})
	return g
}

func TestTopologicalSortLinear(t *testing.T) {
	g := buildLinear()
	order, err := g.TopologicalSort()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestDetectCycle(t *testing.T) {
	g := New()
	g.Add(Node{ID: "a", DependsOn: []string{"b"}})
	g.Add(Node{ID: "b", DependsOn: []string{"c"}})
	g.Add(Node{ID: "c", DependsOn: []string{"a"}})

	err := g.DetectCycle()
	require.Error(t, err)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.NotEmpty(t, cycleErr.Path)
}

func TestTopologicalSortReturnsCycleError(t *testing.T) {
	g := New()
	g.Add(Node{ID: "a", DependsOn: []string{"b"}})
	g.Add(Node{ID: "b", DependsOn: []string{"a"}})

	_, err := g.TopologicalSort()
	require.Error(t, err)
}

func TestReadySetRespectsDependenciesAndStatus(t *testing.T) {
	g := buildLinear()
	completed := map[string]bool{}
	assert.Equal(t, []string{"a"}, g.ReadySet(completed))

	completed["a"] = true
	assert.Equal(t, []string{"b"}, g.ReadySet(completed))
}

func TestReadySetExcludesInProgressAndCompleted(t *testing.T) {
	g := New()
	g.Add(Node{ID: "a", Status: StatusCompleted})
	g.Add(Node{ID: "b", Status: StatusInProgress})
	g.Add(Node{ID: "c", Status: StatusTodo})

	assert.Equal(t, []string{"c"}, g.ReadySet(map[string]bool{"a": true}))
}

func TestReadySetParallelBranches(t *testing.T) {
	g := New()
	g.Add(Node{ID: "root", Status: StatusTodo})
	g.Add(Node{ID: "left", DependsOn: []string{"root"}, Status: StatusTodo})
	g.Add(Node{ID: "right", DependsOn: []string{"root"}, Status: StatusTodo})

	ready := g.ReadySet(map[string]bool{"root": true})
	assert.Equal(t, []string{"left", "right"}, ready)
}

func TestLessIDOrdersNumerically(t *testing.T) {
	assert.True(t, LessID("2", "10"))
	assert.False(t, LessID("10", "2"))
}

func TestReadySetOrdersNumericIDsAscending(t *testing.T) {
	g := New()
	for _, id := range []string{"10", "2", "1", "9"} {
		g.Add(Node{ID: id, Status: StatusTodo})
	}
	assert.Equal(t, []string{"1", "2", "9", "10"}, g.ReadySet(map[string]bool{}))
}

func TestTopologicalSortBreaksTiesByNumericID(t *testing.T) {
	g := New()
	g.Add(Node{ID: "10", Status: StatusTodo})
	g.Add(Node{ID: "2", Status: StatusTodo})
	g.Add(Node{ID: "9", DependsOn: []string{"2"}, Status: StatusTodo})

	order, err := g.TopologicalSort()
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "9", "10"}, order)
}

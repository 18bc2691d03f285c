package btree

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDebugGetOnEmptyTree(t *testing.T) {
	tr := openTestTree(t)
	trace, err := tr.DebugGet([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, []string{"Tree is empty (root_page = 0)"}, trace)
}

func TestDebugGetTracesLeafHit(t *testing.T) {
	tr := openTestTree(t)
	require.NoError(t, tr.Put([]byte("hello"), []byte("world")))

	trace, err := tr.DebugGet([]byte("hello"))
	require.NoError(t, err)
	require.Contains(t, trace[0], "Searching for key")
	require.Contains(t, trace[len(trace)-1], "FOUND at index")
}

func TestDebugGetTracesDescentThroughInterior(t *testing.T) {
	tr := openTestTree(t)
	for i := 0; i < 500; i++ {
		require.NoError(t, tr.Put([]byte(fmt.Sprintf("k-%04d", i)), []byte("v")))
	}

	trace, err := tr.DebugGet([]byte("k-0250"))
	require.NoError(t, err)

	found := false
	for _, line := range trace {
		if strings.Contains(line, "Descending to child page") {
			found = true
		}
	}
	require.True(t, found, "a multi-level tree must trace at least one descent")
}

func TestExportTreeOnEmptyTree(t *testing.T) {
	tr := openTestTree(t)
	node, err := tr.ExportTree()
	require.NoError(t, err)
	require.Nil(t, node)
}

func TestExportTreeLeafRoot(t *testing.T) {
	tr := openTestTree(t)
	require.NoError(t, tr.Put([]byte("a"), []byte("1")))
	require.NoError(t, tr.Put([]byte("b"), []byte("2")))

	node, err := tr.ExportTree()
	require.NoError(t, err)
	require.True(t, node.IsLeaf)
	require.Len(t, node.Keys, 2)
	require.Empty(t, node.Children)
}

func TestExportTreeInteriorHasChildrenForRightChildAndEachCell(t *testing.T) {
	tr := openTestTree(t)
	for i := 0; i < 500; i++ {
		require.NoError(t, tr.Put([]byte(fmt.Sprintf("k-%04d", i)), []byte("v")))
	}

	node, err := tr.ExportTree()
	require.NoError(t, err)
	require.False(t, node.IsLeaf)
	require.Len(t, node.Children, len(node.Keys)+1, "an interior node exports right_child plus one child per separator")
}

package btree

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intellect4all/btreestore/common"
)

func TestLeafPageInsertAndGet(t *testing.T) {
	p := NewLeafPage(1)
	existed, err := p.InsertCell(&Cell{Key: []byte("b"), Value: []byte("bval")})
	require.NoError(t, err)
	require.False(t, existed)

	existed, err = p.InsertCell(&Cell{Key: []byte("a"), Value: []byte("aval")})
	require.NoError(t, err)
	require.False(t, existed)

	require.EqualValues(t, 2, p.CellCount())

	idx, found, err := p.Search([]byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 0, idx)

	cell, err := p.GetCell(idx)
	require.NoError(t, err)
	require.Equal(t, "aval", string(cell.Value))
}

func TestLeafPageInsertDuplicateReportsExisted(t *testing.T) {
	p := NewLeafPage(1)
	_, err := p.InsertCell(&Cell{Key: []byte("k"), Value: []byte("v1")})
	require.NoError(t, err)

	existed, err := p.InsertCell(&Cell{Key: []byte("k"), Value: []byte("v2")})
	require.NoError(t, err)
	require.True(t, existed)

	idx, found, err := p.Search([]byte("k"))
	require.NoError(t, err)
	require.True(t, found)
	cell, err := p.GetCell(idx)
	require.NoError(t, err)
	require.Equal(t, "v1", string(cell.Value), "InsertCell must not overwrite on a duplicate key")
}

func TestLeafPageUpdateCell(t *testing.T) {
	p := NewLeafPage(1)
	_, err := p.InsertCell(&Cell{Key: []byte("k"), Value: []byte("old")})
	require.NoError(t, err)

	idx, found, err := p.Search([]byte("k"))
	require.NoError(t, err)
	require.True(t, found)
	require.NoError(t, p.UpdateCell(idx, &Cell{Key: []byte("k"), Value: []byte("new-value")}))

	idx, found, err = p.Search([]byte("k"))
	require.NoError(t, err)
	require.True(t, found)
	cell, err := p.GetCell(idx)
	require.NoError(t, err)
	require.Equal(t, "new-value", string(cell.Value))
}

func TestLeafPageFillsUpAndReportsPageFull(t *testing.T) {
	p := NewLeafPage(1)
	var lastErr error
	for i := 0; i < 10000; i++ {
		key := []byte(fmt.Sprintf("key-%06d", i))
		value := make([]byte, 64)
		_, err := p.InsertCell(&Cell{Key: key, Value: value})
		if err != nil {
			lastErr = err
			break
		}
	}
	require.Error(t, lastErr)
	require.True(t, common.IsKind(lastErr, common.KindPageFull))
}

func TestLeafPageDeleteThenDefragmentReclaimsSpace(t *testing.T) {
	p := NewLeafPage(1)
	for i := 0; i < 20; i++ {
		key := []byte(fmt.Sprintf("k%02d", i))
		_, err := p.InsertCell(&Cell{Key: key, Value: make([]byte, 100)})
		require.NoError(t, err)
	}
	freeBefore := p.FreeSpace()

	for i := 0; i < 10; i++ {
		require.NoError(t, p.DeleteCell(0))
	}
	require.Greater(t, p.FragmentedBytes(), uint8(0))

	require.NoError(t, p.Defragment())
	require.EqualValues(t, 10, p.CellCount())
	require.Greater(t, p.FreeSpace(), freeBefore)
}

func TestLeafSplitDistributesCellsAndPromotesSeparator(t *testing.T) {
	p := NewLeafPage(1)
	for i := 0; i < 20; i++ {
		key := []byte(fmt.Sprintf("k%02d", i))
		_, err := p.InsertCell(&Cell{Key: key, Value: []byte("v")})
		require.NoError(t, err)
	}
	newPage, sep, err := p.SplitLeaf(2)
	require.NoError(t, err)
	require.NotEmpty(t, sep)
	require.Equal(t, int(p.CellCount()+newPage.CellCount()), 20)

	lastOld, err := p.GetCell(p.CellCount() - 1)
	require.NoError(t, err)
	firstNew, err := newPage.GetCell(0)
	require.NoError(t, err)
	require.Equal(t, string(sep), string(firstNew.Key))
	require.Less(t, string(lastOld.Key), string(firstNew.Key))
}

func TestInteriorFindChildUsesRightChildForSmallestSubtree(t *testing.T) {
	p := NewInteriorPage(1)
	p.SetRightChild(100)
	_, err := p.InsertCell(&Cell{Key: []byte("m"), Child: 200})
	require.NoError(t, err)
	_, err = p.InsertCell(&Cell{Key: []byte("t"), Child: 300})
	require.NoError(t, err)

	child, err := p.FindChild([]byte("a"))
	require.NoError(t, err)
	require.EqualValues(t, 100, child, "keys less than the first separator must route to right_child")

	child, err = p.FindChild([]byte("m"))
	require.NoError(t, err)
	require.EqualValues(t, 200, child)

	child, err = p.FindChild([]byte("r"))
	require.NoError(t, err)
	require.EqualValues(t, 200, child)

	child, err = p.FindChild([]byte("z"))
	require.NoError(t, err)
	require.EqualValues(t, 300, child)
}

func TestInteriorSplitLeavesRightChildUnchanged(t *testing.T) {
	p := NewInteriorPage(1)
	p.SetRightChild(1000)
	for i := 0; i < 20; i++ {
		key := []byte(fmt.Sprintf("k%02d", i))
		_, err := p.InsertCell(&Cell{Key: key, Child: uint32(2000 + i)})
		require.NoError(t, err)
	}

	newPage, sep, err := p.SplitInterior(2)
	require.NoError(t, err)
	require.NotEmpty(t, sep)
	require.EqualValues(t, 1000, p.RightChild(), "splitting an interior page must not touch its own right_child")
	require.NotZero(t, newPage.RightChild())
}

func TestLoadPageRejectsBadSize(t *testing.T) {
	_, err := LoadPage(1, make([]byte, 10))
	require.Error(t, err)
	require.True(t, common.IsKind(err, common.KindInvalidPage))
}

func TestLoadPageRoundTrip(t *testing.T) {
	p := NewLeafPage(5)
	_, err := p.InsertCell(&Cell{Key: []byte("x"), Value: []byte("y")})
	require.NoError(t, err)

	loaded, err := LoadPage(5, p.AsBytes())
	require.NoError(t, err)
	require.True(t, loaded.IsLeaf())
	require.EqualValues(t, 1, loaded.CellCount())
}

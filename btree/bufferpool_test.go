package btree

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/intellect4all/btreestore/common"
)

func openTestBufferPool(t *testing.T, capacity int) *BufferPool {
	t.Helper()
	fs := afero.NewMemMapFs()
	dm, err := OpenDiskManager(fs, "/db/test.btree", false)
	require.NoError(t, err)
	bp := NewBufferPool(dm, capacity)
	t.Cleanup(func() { _ = bp.Close() })
	return bp
}

func TestBufferPoolNewPageThenFetch(t *testing.T) {
	bp := openTestBufferPool(t, 10)

	g, err := bp.NewPage()
	require.NoError(t, err)
	id := g.Page().ID()
	_, err = g.Page().InsertCell(&Cell{Key: []byte("a"), Value: []byte("b")})
	require.NoError(t, err)
	g.Release()

	g2, err := bp.FetchPage(id)
	require.NoError(t, err)
	defer g2.Release()
	require.EqualValues(t, 1, g2.Page().CellCount())
}

func TestBufferPoolEvictsUnpinnedLRUFrame(t *testing.T) {
	bp := openTestBufferPool(t, 2)

	g1, err := bp.NewPage()
	require.NoError(t, err)
	id1 := g1.Page().ID()
	g1.Release()

	g2, err := bp.NewPage()
	require.NoError(t, err)
	id2 := g2.Page().ID()
	g2.Release()

	require.Equal(t, 2, bp.Resident())

	// A third page forces an eviction; id1 is least-recently-used.
	g3, err := bp.NewPage()
	require.NoError(t, err)
	id3 := g3.Page().ID()
	g3.Release()

	require.Equal(t, 2, bp.Resident())

	bp.mu.Lock()
	_, stillResident := bp.frames[id1]
	bp.mu.Unlock()
	require.False(t, stillResident)

	for _, id := range []uint32{id2, id3} {
		g, err := bp.FetchPage(id)
		require.NoError(t, err)
		g.Release()
	}
}

func TestBufferPoolExhaustedWhenAllFramesPinned(t *testing.T) {
	bp := openTestBufferPool(t, 1)

	g1, err := bp.NewPage()
	require.NoError(t, err)
	defer g1.Release()

	_, err = bp.NewPage()
	require.Error(t, err)
	require.True(t, common.IsKind(err, common.KindBufferPoolExhausted))
}

func TestBufferPoolFlushAllPersistsDirtyPages(t *testing.T) {
	bp := openTestBufferPool(t, 10)

	g, err := bp.NewPage()
	require.NoError(t, err)
	id := g.Page().ID()
	_, err = g.Page().InsertCell(&Cell{Key: []byte("k"), Value: []byte("v")})
	require.NoError(t, err)
	g.Release()

	require.NoError(t, bp.FlushAll())

	raw, err := bp.dm.ReadPage(id)
	require.NoError(t, err)
	loaded, err := LoadPage(id, raw)
	require.NoError(t, err)
	require.EqualValues(t, 1, loaded.CellCount())
}

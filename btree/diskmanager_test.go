package btree

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/intellect4all/btreestore/common"
)

func openTestDiskManager(t *testing.T) *DiskManager {
	t.Helper()
	fs := afero.NewMemMapFs()
	dm, err := OpenDiskManager(fs, "/db/test.btree", false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })
	return dm
}

func TestDiskManagerFreshFileStartsWithOnePage(t *testing.T) {
	dm := openTestDiskManager(t)
	require.EqualValues(t, 1, dm.Header().PageCount)
	require.EqualValues(t, 0, dm.Header().RootPage)
}

func TestDiskManagerAllocateWriteReadRoundTrip(t *testing.T) {
	dm := openTestDiskManager(t)

	id, err := dm.AllocatePage()
	require.NoError(t, err)
	require.EqualValues(t, 1, id)

	data := make([]byte, PageSize)
	data[0] = 0x42
	require.NoError(t, dm.WritePage(id, data))

	got, err := dm.ReadPage(id)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestDiskManagerRejectsPageZeroAccess(t *testing.T) {
	dm := openTestDiskManager(t)

	_, err := dm.ReadPage(0)
	require.Error(t, err)
	require.True(t, common.IsKind(err, common.KindInvalidOperation))

	err = dm.WritePage(0, make([]byte, PageSize))
	require.Error(t, err)
	require.True(t, common.IsKind(err, common.KindInvalidOperation))

	err = dm.DeallocatePage(0)
	require.Error(t, err)
	require.True(t, common.IsKind(err, common.KindInvalidOperation))
}

func TestDiskManagerFreeListReusesDeallocatedPages(t *testing.T) {
	dm := openTestDiskManager(t)

	p1, err := dm.AllocatePage()
	require.NoError(t, err)
	p2, err := dm.AllocatePage()
	require.NoError(t, err)
	p3, err := dm.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, []uint32{1, 2, 3}, []uint32{p1, p2, p3})

	require.NoError(t, dm.DeallocatePage(p2))

	p4, err := dm.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, p2, p4, "a deallocated page must be reused before extending the file")

	p5, err := dm.AllocatePage()
	require.NoError(t, err)
	require.EqualValues(t, 4, p5, "once the free list is empty, allocation must extend the file")
}

func TestDiskManagerReopenPreservesHeader(t *testing.T) {
	fs := afero.NewMemMapFs()
	dm, err := OpenDiskManager(fs, "/db/test.btree", true)
	require.NoError(t, err)

	id, err := dm.AllocatePage()
	require.NoError(t, err)
	require.NoError(t, dm.SetRootPage(id, 1))
	require.NoError(t, dm.Close())

	dm2, err := OpenDiskManager(fs, "/db/test.btree", true)
	require.NoError(t, err)
	defer dm2.Close()

	require.Equal(t, id, dm2.Header().RootPage)
	require.EqualValues(t, 1, dm2.Header().TreeHeight)
}

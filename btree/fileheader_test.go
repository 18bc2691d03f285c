package btree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intellect4all/btreestore/common"
)

func TestFileHeaderRoundTrip(t *testing.T) {
	h := NewFileHeader()
	h.PageCount = 7
	h.RootPage = 3
	h.TreeHeight = 2
	h.FirstFreePage = 5
	h.FreePageCount = 1

	buf := make([]byte, PageSize)
	h.Write(buf)

	got, err := ReadFileHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h.PageCount, got.PageCount)
	require.Equal(t, h.RootPage, got.RootPage)
	require.Equal(t, h.TreeHeight, got.TreeHeight)
	require.Equal(t, h.FirstFreePage, got.FirstFreePage)
	require.Equal(t, h.FreePageCount, got.FreePageCount)
}

func TestFileHeaderRejectsBadMagic(t *testing.T) {
	buf := make([]byte, PageSize)
	NewFileHeader().Write(buf)
	buf[0] = 'X'

	_, err := ReadFileHeader(buf)
	require.Error(t, err)
	require.True(t, common.IsKind(err, common.KindInvalidDatabaseFile))
}

func TestFileHeaderRejectsCorruptChecksum(t *testing.T) {
	buf := make([]byte, PageSize)
	NewFileHeader().Write(buf)
	buf[16] ^= 0xFF // flip a byte inside the checksummed region

	_, err := ReadFileHeader(buf)
	require.Error(t, err)
	require.True(t, common.IsKind(err, common.KindInvalidDatabaseFile))
}

func TestFileHeaderAllocatePageExtendsCount(t *testing.T) {
	h := NewFileHeader()
	require.EqualValues(t, 1, h.PageCount)

	id := h.AllocatePage()
	require.EqualValues(t, 1, id)
	require.EqualValues(t, 2, h.PageCount)
}

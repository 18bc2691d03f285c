package btree

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/intellect4all/btreestore/common"
)

// Magic gates every open(): 16 bytes including the trailing NUL.
var Magic = [16]byte{'B', 'T', 'r', 'e', 'e', 'S', 't', 'o', 'r', 'a', 'g', 'e', 'V', '0', '1', 0}

const (
	headerMagicOffset         = 0
	headerPageSizeOffset      = 16
	headerPageCountOffset     = 20
	headerFirstFreeOffset     = 24
	headerFreeCountOffset     = 28
	headerRootPageOffset      = 32
	headerTreeHeightOffset    = 36
	headerChecksumOffset      = 40
	headerChecksummedLen      = 40
)

// FileHeader is the 44 meaningful bytes of page 0, the rest of that page
// being zero padding. See SPEC_FULL.md §3.
type FileHeader struct {
	PageSize       uint32
	PageCount      uint32
	FirstFreePage  uint32
	FreePageCount  uint32
	RootPage       uint32
	TreeHeight     uint32
}

// NewFileHeader returns the header for a brand-new, empty database: one
// page (the header itself) and no tree.
func NewFileHeader() *FileHeader {
	return &FileHeader{
		PageSize:  PageSize,
		PageCount: 1,
		RootPage:  0,
	}
}

// ReadFileHeader parses and validates a page-0 buffer.
func ReadFileHeader(buf []byte) (*FileHeader, error) {
	if len(buf) < headerChecksumOffset+4 {
		return nil, common.InvalidDatabaseFile("header page too short")
	}
	var magic [16]byte
	copy(magic[:], buf[headerMagicOffset:headerMagicOffset+16])
	if magic != Magic {
		return nil, common.InvalidDatabaseFile("bad magic")
	}

	wantSum := binary.BigEndian.Uint32(buf[headerChecksumOffset:])
	gotSum := crc32.ChecksumIEEE(buf[:headerChecksummedLen])
	if wantSum != gotSum {
		return nil, common.InvalidDatabaseFile("file header checksum mismatch")
	}

	h := &FileHeader{
		PageSize:      binary.BigEndian.Uint32(buf[headerPageSizeOffset:]),
		PageCount:     binary.BigEndian.Uint32(buf[headerPageCountOffset:]),
		FirstFreePage: binary.BigEndian.Uint32(buf[headerFirstFreeOffset:]),
		FreePageCount: binary.BigEndian.Uint32(buf[headerFreeCountOffset:]),
		RootPage:      binary.BigEndian.Uint32(buf[headerRootPageOffset:]),
		TreeHeight:    binary.BigEndian.Uint32(buf[headerTreeHeightOffset:]),
	}
	if h.PageSize != PageSize {
		return nil, common.InvalidDatabaseFile("page size mismatch")
	}
	return h, nil
}

// Write serializes the header into buf (which must be at least PAGE_SIZE
// bytes; bytes beyond the checksum are left zeroed).
func (h *FileHeader) Write(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	copy(buf[headerMagicOffset:], Magic[:])
	binary.BigEndian.PutUint32(buf[headerPageSizeOffset:], PageSize)
	binary.BigEndian.PutUint32(buf[headerPageCountOffset:], h.PageCount)
	binary.BigEndian.PutUint32(buf[headerFirstFreeOffset:], h.FirstFreePage)
	binary.BigEndian.PutUint32(buf[headerFreeCountOffset:], h.FreePageCount)
	binary.BigEndian.PutUint32(buf[headerRootPageOffset:], h.RootPage)
	binary.BigEndian.PutUint32(buf[headerTreeHeightOffset:], h.TreeHeight)

	sum := crc32.ChecksumIEEE(buf[:headerChecksummedLen])
	binary.BigEndian.PutUint32(buf[headerChecksumOffset:], sum)
}

// AllocatePage reserves the next page id, extending page_count.
func (h *FileHeader) AllocatePage() uint32 {
	id := h.PageCount
	h.PageCount++
	return id
}

package btree

import (
	"bytes"
	"encoding/binary"

	"github.com/intellect4all/btreestore/common"
)

const (
	PageSize = 4096 // matches the compile-time PAGE_SIZE constant

	PageTypeInternal = 1
	PageTypeLeaf     = 2

	// Leaf header: page_type(1) + first_freeblock(2) + cell_count(2) +
	// cell_content_start(2) + fragmented_bytes(1) = 8 bytes.
	LeafHeaderSize = 8
	// Interior header: leaf header + right_child(4) = 12 bytes.
	InteriorHeaderSize = 12

	headerOffsetType          = 0
	headerOffsetFreeblock     = 1
	headerOffsetCellCount     = 3
	headerOffsetContentStart  = 5
	headerOffsetFragBytes     = 7
	headerOffsetRightChild    = 8 // interior pages only

	cellDirEntrySize = 2

	MaxKeySize   = PageSize / 4
	MaxValueSize = PageSize / 2
)

// Cell is a single on-page record: a key-value pair for a leaf page, or a
// (key, child page id) separator edge for an interior page.
type Cell struct {
	Key   []byte
	Value []byte // leaf cells only
	Child uint32 // interior cells only
}

// Page is one slotted page: a fixed header, a sorted array of 2-byte cell
// pointers growing from the header, and a cell content area growing
// backward from the end of the page. See SPEC_FULL.md §3/§4.2.
type Page struct {
	id       uint32
	data     [PageSize]byte
	pageType byte
	dirty    bool
}

// NewLeafPage allocates an empty leaf page with the given id.
func NewLeafPage(id uint32) *Page {
	p := &Page{id: id, pageType: PageTypeLeaf, dirty: true}
	p.data[headerOffsetType] = PageTypeLeaf
	p.setContentStart(PageSize)
	return p
}

// NewInteriorPage allocates an empty interior page with the given id. Its
// right_child is 0 (invalid) until the caller sets it.
func NewInteriorPage(id uint32) *Page {
	p := &Page{id: id, pageType: PageTypeInternal, dirty: true}
	p.data[headerOffsetType] = PageTypeInternal
	p.setContentStart(PageSize)
	return p
}

// LoadPage parses a page previously read from disk.
func LoadPage(id uint32, data []byte) (*Page, error) {
	if len(data) != PageSize {
		return nil, common.InvalidPage("page data must be PAGE_SIZE bytes")
	}
	p := &Page{id: id}
	copy(p.data[:], data)
	p.pageType = p.data[headerOffsetType]
	if p.pageType != PageTypeLeaf && p.pageType != PageTypeInternal {
		return nil, common.InvalidPage("unknown page type tag")
	}
	return p, nil
}

func (p *Page) ID() uint32    { return p.id }
func (p *Page) PageType() byte { return p.pageType }
func (p *Page) IsLeaf() bool   { return p.pageType == PageTypeLeaf }
func (p *Page) IsInterior() bool { return p.pageType == PageTypeInternal }
func (p *Page) IsDirty() bool { return p.dirty }
func (p *Page) SetDirty(d bool) { p.dirty = d }

// AsBytes returns the raw PAGE_SIZE backing buffer.
func (p *Page) AsBytes() []byte { return p.data[:] }

func (p *Page) headerSize() int {
	if p.IsInterior() {
		return InteriorHeaderSize
	}
	return LeafHeaderSize
}

func (p *Page) CellCount() uint16 {
	return binary.BigEndian.Uint16(p.data[headerOffsetCellCount:])
}

func (p *Page) setCellCount(n uint16) {
	binary.BigEndian.PutUint16(p.data[headerOffsetCellCount:], n)
}

func (p *Page) contentStart() uint16 {
	return binary.BigEndian.Uint16(p.data[headerOffsetContentStart:])
}

func (p *Page) setContentStart(v uint16) {
	binary.BigEndian.PutUint16(p.data[headerOffsetContentStart:], v)
}

func (p *Page) FragmentedBytes() uint8 {
	return p.data[headerOffsetFragBytes]
}

func (p *Page) addFragmentedBytes(n int) {
	p.data[headerOffsetFragBytes] = byte(int(p.data[headerOffsetFragBytes]) + n)
}

// FirstFreeblock is reserved for a future free-block chain inside a page's
// content area; this implementation never populates it, matching the
// upstream design's reclaim-only-via-defragment policy.
func (p *Page) FirstFreeblock() uint16 {
	return binary.BigEndian.Uint16(p.data[headerOffsetFreeblock:])
}

// RightChild returns the subtree holding keys less than the page's first
// separator. Valid only on interior pages. See the non-standard addressing
// convention documented in SPEC_FULL.md §3/§9.
func (p *Page) RightChild() uint32 {
	return binary.BigEndian.Uint32(p.data[headerOffsetRightChild:])
}

func (p *Page) SetRightChild(id uint32) {
	binary.BigEndian.PutUint32(p.data[headerOffsetRightChild:], id)
	p.dirty = true
}

func (p *Page) cellPointerOffset(i uint16) int {
	return p.headerSize() + int(i)*cellDirEntrySize
}

func (p *Page) getCellPointer(i uint16) uint16 {
	off := p.cellPointerOffset(i)
	return binary.BigEndian.Uint16(p.data[off:])
}

func (p *Page) setCellPointer(i uint16, offset uint16) {
	off := p.cellPointerOffset(i)
	binary.BigEndian.PutUint16(p.data[off:], offset)
}

// rawFree is the number of bytes between the end of the cell pointer array
// and the start of cell content, before reserving room for a new pointer.
func (p *Page) rawFree() int {
	ptrArrayEnd := p.headerSize() + int(p.CellCount())*cellDirEntrySize
	return int(p.contentStart()) - ptrArrayEnd
}

// FreeSpace is the space usable for a new cell, after reserving the 2 bytes
// a new pointer-array entry would need.
func (p *Page) FreeSpace() int {
	return p.rawFree() - cellDirEntrySize
}

// CanFit reports whether a cell of the given encoded size can be inserted
// without a split.
func (p *Page) CanFit(cellSize int) bool {
	return p.FreeSpace() >= cellSize
}

// GetCell decodes and returns the cell at pointer index i.
func (p *Page) GetCell(i uint16) (*Cell, error) {
	if i >= p.CellCount() {
		return nil, common.InvalidPage("cell index out of range")
	}
	offset := int(p.getCellPointer(i))
	if p.IsLeaf() {
		return p.decodeLeafCell(offset)
	}
	return p.decodeInteriorCell(offset)
}

// GetAllCells returns every cell on the page in pointer (key) order.
func (p *Page) GetAllCells() ([]*Cell, error) {
	n := p.CellCount()
	cells := make([]*Cell, 0, n)
	for i := uint16(0); i < n; i++ {
		c, err := p.GetCell(i)
		if err != nil {
			return nil, err
		}
		cells = append(cells, c)
	}
	return cells, nil
}

func (p *Page) decodeLeafCell(offset int) (*Cell, error) {
	if offset < 0 || offset >= PageSize {
		return nil, common.InvalidPage("invalid cell offset")
	}
	keyLen, n1 := uvarint(p.data[offset:])
	if n1 <= 0 {
		return nil, common.InvalidPage("invalid key length varint")
	}
	valLen, n2 := uvarint(p.data[offset+n1:])
	if n2 <= 0 {
		return nil, common.InvalidPage("invalid value length varint")
	}
	start := offset + n1 + n2
	end := start + int(keyLen) + int(valLen)
	if end > PageSize {
		return nil, common.InvalidPage("cell extends past page boundary")
	}
	cell := &Cell{
		Key:   append([]byte(nil), p.data[start:start+int(keyLen)]...),
		Value: append([]byte(nil), p.data[start+int(keyLen):end]...),
	}
	return cell, nil
}

func (p *Page) decodeInteriorCell(offset int) (*Cell, error) {
	if offset < 0 || offset >= PageSize {
		return nil, common.InvalidPage("invalid cell offset")
	}
	child := binary.BigEndian.Uint32(p.data[offset:])
	keyLen, n := uvarint(p.data[offset+4:])
	if n <= 0 {
		return nil, common.InvalidPage("invalid key length varint")
	}
	start := offset + 4 + n
	end := start + int(keyLen)
	if end > PageSize {
		return nil, common.InvalidPage("cell extends past page boundary")
	}
	cell := &Cell{
		Key:   append([]byte(nil), p.data[start:end]...),
		Child: child,
	}
	return cell, nil
}

func (p *Page) encodedCellSize(cell *Cell) int {
	if p.IsLeaf() {
		return varintSize(uint64(len(cell.Key))) + varintSize(uint64(len(cell.Value))) + len(cell.Key) + len(cell.Value)
	}
	return 4 + varintSize(uint64(len(cell.Key))) + len(cell.Key)
}

func (p *Page) writeCellAt(offset int, cell *Cell) {
	if p.IsLeaf() {
		n1 := putUvarint(p.data[offset:], uint64(len(cell.Key)))
		n2 := putUvarint(p.data[offset+n1:], uint64(len(cell.Value)))
		start := offset + n1 + n2
		copy(p.data[start:], cell.Key)
		copy(p.data[start+len(cell.Key):], cell.Value)
		return
	}
	binary.BigEndian.PutUint32(p.data[offset:], cell.Child)
	n := putUvarint(p.data[offset+4:], uint64(len(cell.Key)))
	start := offset + 4 + n
	copy(p.data[start:], cell.Key)
}

// findInsertPosition returns the index at which key belongs (binary search
// over the sorted pointer array) and whether key is already present there.
// A decode error on any probed cell aborts the search and is returned to the
// caller rather than being reported as a false "not found".
func (p *Page) findInsertPosition(key []byte) (idx uint16, found bool, err error) {
	n := int(p.CellCount())
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		c, err := p.GetCell(uint16(mid))
		if err != nil {
			return 0, false, err
		}
		cmp := bytes.Compare(key, c.Key)
		switch {
		case cmp == 0:
			return uint16(mid), true, nil
		case cmp < 0:
			hi = mid
		default:
			lo = mid + 1
		}
	}
	return uint16(lo), false, nil
}

// Search returns the index of key on a leaf page, or found=false. A
// corrupt/undecodable page surfaces as an error rather than a false miss.
func (p *Page) Search(key []byte) (idx uint16, found bool, err error) {
	return p.findInsertPosition(key)
}

// FindChild returns the subtree to descend into for key on an interior
// page, per the non-standard addressing convention: right_child covers
// keys less than the first separator; each cell covers keys >= its key.
func (p *Page) FindChild(key []byte) (uint32, error) {
	n := p.CellCount()
	if n == 0 {
		return p.RightChild(), nil
	}
	first, err := p.GetCell(0)
	if err != nil {
		return 0, err
	}
	if bytes.Compare(key, first.Key) < 0 {
		return p.RightChild(), nil
	}
	lo, hi := 0, int(n)
	for lo < hi {
		mid := (lo + hi) / 2
		c, err := p.GetCell(uint16(mid))
		if err != nil {
			return 0, err
		}
		if bytes.Compare(c.Key, key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	c, err := p.GetCell(uint16(lo - 1))
	if err != nil {
		return 0, err
	}
	return c.Child, nil
}

// InsertCell inserts cell in sorted position. If a cell with the same key
// already exists, nothing is inserted and existed is true — the caller
// (the B-tree layer) is expected to route that case through UpdateCell.
func (p *Page) InsertCell(cell *Cell) (existed bool, err error) {
	idx, found, err := p.findInsertPosition(cell.Key)
	if err != nil {
		return false, err
	}
	if found {
		return true, nil
	}
	size := p.encodedCellSize(cell)
	if !p.CanFit(size) {
		return false, common.PageFull(size+cellDirEntrySize, p.rawFree())
	}
	newStart := p.contentStart() - uint16(size)
	p.writeCellAt(int(newStart), cell)

	n := p.CellCount()
	for i := n; i > idx; i-- {
		p.setCellPointer(i, p.getCellPointer(i-1))
	}
	p.setCellPointer(idx, newStart)
	p.setCellCount(n + 1)
	p.setContentStart(newStart)
	p.dirty = true
	return false, nil
}

// UpdateCell replaces the value of the cell at idx (leaf pages only): the
// old cell is deleted and the new one reinserted, defragmenting first if the
// new cell does not fit in the current free space. If it still does not fit,
// the old cell is put back and the PageFull error is returned; no split is
// attempted here.
func (p *Page) UpdateCell(idx uint16, cell *Cell) error {
	old, err := p.GetCell(idx)
	if err != nil {
		return err
	}
	if err := p.DeleteCell(idx); err != nil {
		return err
	}
	if !p.CanFit(p.encodedCellSize(cell)) {
		if err := p.Defragment(); err != nil {
			return err
		}
	}
	existed, err := p.InsertCell(cell)
	if err != nil {
		if common.IsKind(err, common.KindPageFull) {
			_, _ = p.InsertCell(old)
		}
		return err
	}
	if existed {
		// Unreachable: we just deleted the only cell with this key.
		return common.InvalidOperation("update raced with itself")
	}
	return nil
}

// DeleteCell removes the cell at idx, shifting the pointer array left. Cell
// content bytes are not reclaimed until Defragment runs.
func (p *Page) DeleteCell(idx uint16) error {
	n := p.CellCount()
	if idx >= n {
		return common.InvalidPage("delete index out of range")
	}
	cell, err := p.GetCell(idx)
	if err != nil {
		return err
	}
	p.addFragmentedBytes(p.encodedCellSize(cell))

	for i := idx; i < n-1; i++ {
		p.setCellPointer(i, p.getCellPointer(i+1))
	}
	p.setCellCount(n - 1)
	p.dirty = true
	return nil
}

// Defragment rebuilds the page's content area by reinserting every live
// cell into a fresh buffer of the same type, eliminating fragmentation.
func (p *Page) Defragment() error {
	cells, err := p.GetAllCells()
	if err != nil {
		return err
	}
	var fresh *Page
	if p.IsLeaf() {
		fresh = NewLeafPage(p.id)
	} else {
		fresh = NewInteriorPage(p.id)
		fresh.SetRightChild(p.RightChild())
	}
	for _, c := range cells {
		if _, err := fresh.InsertCell(c); err != nil {
			return err
		}
	}
	p.data = fresh.data
	p.dirty = true
	return nil
}

// SplitLeaf moves the upper half of this page's cells into newPage (a fresh
// leaf with id newPageID) and returns it along with the promoted separator
// key (the first moved key, which remains present as newPage's first cell).
func (p *Page) SplitLeaf(newPageID uint32) (*Page, []byte, error) {
	cells, err := p.GetAllCells()
	if err != nil {
		return nil, nil, err
	}
	mid := len(cells) / 2
	moved := cells[mid:]
	separator := append([]byte(nil), moved[0].Key...)

	newPage := NewLeafPage(newPageID)
	for _, c := range moved {
		if _, err := newPage.InsertCell(c); err != nil {
			return nil, nil, err
		}
	}
	for i := len(cells) - 1; i >= mid; i-- {
		if err := p.DeleteCell(uint16(i)); err != nil {
			return nil, nil, err
		}
	}
	if err := p.Defragment(); err != nil {
		return nil, nil, err
	}
	return newPage, separator, nil
}

// SplitInterior promotes the middle cell's key to the parent and moves the
// remaining upper cells into newPage, whose right_child becomes the
// promoted cell's former child. This page's own right_child is unchanged.
func (p *Page) SplitInterior(newPageID uint32) (*Page, []byte, error) {
	cells, err := p.GetAllCells()
	if err != nil {
		return nil, nil, err
	}
	mid := len(cells) / 2
	promoted := cells[mid]
	separator := append([]byte(nil), promoted.Key...)
	moved := cells[mid+1:]

	newPage := NewInteriorPage(newPageID)
	newPage.SetRightChild(promoted.Child)
	for _, c := range moved {
		if _, err := newPage.InsertCell(c); err != nil {
			return nil, nil, err
		}
	}
	for i := len(cells) - 1; i >= mid; i-- {
		if err := p.DeleteCell(uint16(i)); err != nil {
			return nil, nil, err
		}
	}
	if err := p.Defragment(); err != nil {
		return nil, nil, err
	}
	return newPage, separator, nil
}

// Clone returns an independent copy of the page.
func (p *Page) Clone() *Page {
	c := &Page{id: p.id, pageType: p.pageType, dirty: p.dirty}
	c.data = p.data
	return c
}

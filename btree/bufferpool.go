package btree

import (
	"container/list"
	"sync"

	"go.uber.org/multierr"

	"github.com/intellect4all/btreestore/common"
)

// frame is one resident page plus its pin count and dirty bit. Owned by the
// pool; borrowed by callers through the PageGuard that FetchPage and
// FetchPageMut return. mu guards pins and dirty only; callers reading or
// changing the page through a guard take no per-frame lock.
type frame struct {
	mu    sync.RWMutex
	page  *Page
	dirty bool
	pins  int
}

// BufferPool is a fixed-capacity cache of resident pages in front of a
// DiskManager, with pin-counted frames and LRU eviction. Grounded on the
// teacher's pager.go caching logic, restructured to match the
// fetch/new/flush/evict shape of the Rust original's buffer/pool.rs.
type BufferPool struct {
	dm       *DiskManager
	capacity int

	mu     sync.Mutex
	frames map[uint32]*frame
	lru    *list.List
	lruEl  map[uint32]*list.Element
}

func NewBufferPool(dm *DiskManager, capacity int) *BufferPool {
	return &BufferPool{
		dm:       dm,
		capacity: capacity,
		frames:   make(map[uint32]*frame),
		lru:      list.New(),
		lruEl:    make(map[uint32]*list.Element),
	}
}

func (bp *BufferPool) touch(id uint32) {
	if el, ok := bp.lruEl[id]; ok {
		bp.lru.MoveToFront(el)
		return
	}
	bp.lruEl[id] = bp.lru.PushFront(id)
}

// evictOneLocked evicts the least-recently-used unpinned frame. Called with
// bp.mu held.
func (bp *BufferPool) evictOneLocked() error {
	for el := bp.lru.Back(); el != nil; el = el.Prev() {
		id := el.Value.(uint32)
		fr, ok := bp.frames[id]
		if !ok {
			bp.lru.Remove(el)
			delete(bp.lruEl, id)
			continue
		}
		fr.mu.RLock()
		pinned := fr.pins > 0
		fr.mu.RUnlock()
		if pinned {
			continue
		}
		if fr.dirty {
			if err := bp.dm.WritePage(id, fr.page.AsBytes()); err != nil {
				return err
			}
			fr.dirty = false
		}
		delete(bp.frames, id)
		bp.lru.Remove(el)
		delete(bp.lruEl, id)
		return nil
	}
	return common.BufferPoolExhausted()
}

func (bp *BufferPool) loadLocked(id uint32) (*frame, error) {
	if len(bp.frames) >= bp.capacity {
		if err := bp.evictOneLocked(); err != nil {
			return nil, err
		}
	}
	raw, err := bp.dm.ReadPage(id)
	if err != nil {
		return nil, err
	}
	page, err := LoadPage(id, raw)
	if err != nil {
		return nil, err
	}
	fr := &frame{page: page}
	bp.frames[id] = fr
	bp.touch(id)
	return fr, nil
}

// PageGuard is a scoped, read-oriented borrow of a resident page. Release
// must be called exactly once, typically via defer.
type PageGuard struct {
	bp    *BufferPool
	id    uint32
	frame *frame
}

func (g *PageGuard) Page() *Page { return g.frame.page }

func (g *PageGuard) Release() {
	g.frame.mu.Lock()
	if g.frame.pins > 0 {
		g.frame.pins--
	}
	g.frame.mu.Unlock()

	g.bp.mu.Lock()
	g.bp.touch(g.id)
	g.bp.mu.Unlock()
}

// FetchPage pins and returns id for reading.
func (bp *BufferPool) FetchPage(id uint32) (*PageGuard, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	fr, ok := bp.frames[id]
	if !ok {
		var err error
		fr, err = bp.loadLocked(id)
		if err != nil {
			return nil, err
		}
	} else {
		bp.touch(id)
	}
	fr.mu.Lock()
	fr.pins++
	fr.mu.Unlock()
	return &PageGuard{bp: bp, id: id, frame: fr}, nil
}

// FetchPageMut pins id for writing: the frame is marked dirty immediately,
// since the caller is assumed to mutate it before releasing.
func (bp *BufferPool) FetchPageMut(id uint32) (*PageGuard, error) {
	g, err := bp.FetchPage(id)
	if err != nil {
		return nil, err
	}
	g.frame.mu.Lock()
	g.frame.dirty = true
	g.frame.mu.Unlock()
	g.frame.page.SetDirty(true)
	return g, nil
}

// AllocateBlankPage reserves a fresh on-disk page id without installing
// anything into the pool. Used when the caller needs to construct a
// specifically-typed Page (interior, for a split or a new root) before it
// has a frame.
func (bp *BufferPool) AllocateBlankPage() (uint32, error) {
	return bp.dm.AllocatePage()
}

// InstallPage inserts an already-constructed, already-dirty page into the
// pool under its own id, evicting if the pool is at capacity, and returns
// a pinned guard for it.
func (bp *BufferPool) InstallPage(page *Page) (*PageGuard, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if len(bp.frames) >= bp.capacity {
		if err := bp.evictOneLocked(); err != nil {
			return nil, err
		}
	}
	page.SetDirty(true)
	fr := &frame{page: page, dirty: true, pins: 1}
	bp.frames[page.ID()] = fr
	bp.touch(page.ID())
	return &PageGuard{bp: bp, id: page.ID(), frame: fr}, nil
}

// NewPage allocates a fresh on-disk page id and installs a pinned, dirty,
// empty leaf frame for it without reading from disk.
func (bp *BufferPool) NewPage() (*PageGuard, error) {
	id, err := bp.dm.AllocatePage()
	if err != nil {
		return nil, err
	}
	return bp.InstallPage(NewLeafPage(id))
}

// FlushPage writes id back to disk if dirty.
func (bp *BufferPool) FlushPage(id uint32) error {
	bp.mu.Lock()
	fr, ok := bp.frames[id]
	bp.mu.Unlock()
	if !ok {
		return nil
	}
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if !fr.dirty {
		return nil
	}
	if err := bp.dm.WritePage(id, fr.page.AsBytes()); err != nil {
		return err
	}
	fr.dirty = false
	return nil
}

// FlushAll writes back every dirty resident frame, then syncs the disk
// manager. Every frame is attempted even if an earlier one fails; all
// errors encountered are joined with go.uber.org/multierr rather than
// aborting after the first (see SPEC_FULL.md §11).
func (bp *BufferPool) FlushAll() error {
	bp.mu.Lock()
	ids := make([]uint32, 0, len(bp.frames))
	for id := range bp.frames {
		ids = append(ids, id)
	}
	bp.mu.Unlock()

	var errs error
	for _, id := range ids {
		if err := bp.FlushPage(id); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if err := bp.dm.Sync(); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

// FreePage evicts id from the pool without flushing and returns its disk
// slot to the free list.
func (bp *BufferPool) FreePage(id uint32) error {
	bp.mu.Lock()
	delete(bp.frames, id)
	if el, ok := bp.lruEl[id]; ok {
		bp.lru.Remove(el)
		delete(bp.lruEl, id)
	}
	bp.mu.Unlock()
	return bp.dm.DeallocatePage(id)
}

// Resident returns the number of pages currently cached in the pool.
func (bp *BufferPool) Resident() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.frames)
}

// Header exposes the disk manager's cached file header (root page, height,
// page count) for the B-tree layer.
func (bp *BufferPool) Header() FileHeader {
	return bp.dm.Header()
}

func (bp *BufferPool) SetRootPage(id uint32, height uint32) error {
	return bp.dm.SetRootPage(id, height)
}

func (bp *BufferPool) Close() error {
	if err := bp.FlushAll(); err != nil {
		return err
	}
	return bp.dm.Close()
}

package btree

import (
	"bytes"
	"sync"

	"github.com/spf13/afero"

	"github.com/intellect4all/btreestore/common"
)

// Config controls how a database file is opened. Grounded on the teacher's
// pager.go Config struct, extended with the Fs indirection so tests can run
// against an in-memory afero filesystem instead of touching disk.
type Config struct {
	Path           string
	BufferPoolSize int
	SyncOnWrite    bool
	Fs             afero.Fs
}

// DefaultConfig returns the conventional configuration for path: a 1000-frame
// buffer pool, no forced fsync on every write, and the real OS filesystem.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		BufferPoolSize: 1000,
		SyncOnWrite:    false,
		Fs:             afero.NewOsFs(),
	}
}

// BTree is the single-writer/multi-reader embedded key-value store: a
// B-tree of slotted pages over a pinning buffer pool, backed by one disk
// file. See SPEC_FULL.md §1-§5.
type BTree struct {
	mu sync.RWMutex
	bp *BufferPool
}

// Open opens (or creates) the database file named by config.Path.
func Open(config Config) (*BTree, error) {
	if config.BufferPoolSize <= 0 {
		config.BufferPoolSize = 1000
	}
	if config.Fs == nil {
		config.Fs = afero.NewOsFs()
	}
	dm, err := OpenDiskManager(config.Fs, config.Path, config.SyncOnWrite)
	if err != nil {
		return nil, err
	}
	bp := NewBufferPool(dm, config.BufferPoolSize)
	return &BTree{bp: bp}, nil
}

func validateKey(key []byte) error {
	if len(key) == 0 {
		return common.InvalidOperation("key must not be empty")
	}
	if len(key) > MaxKeySize {
		return common.KeyTooLarge(len(key), MaxKeySize)
	}
	return nil
}

func validateValue(value []byte) error {
	if len(value) > MaxValueSize {
		return common.ValueTooLarge(len(value), MaxValueSize)
	}
	return nil
}

// Get looks up key, returning the stored value and true, or nil and false if
// it is absent.
func (t *BTree) Get(key []byte) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	hdr := t.bp.Header()
	if hdr.RootPage == 0 {
		return nil, false, nil
	}
	return t.getRecursive(hdr.RootPage, key)
}

func (t *BTree) getRecursive(pageID uint32, key []byte) ([]byte, bool, error) {
	g, err := t.bp.FetchPage(pageID)
	if err != nil {
		return nil, false, err
	}
	defer g.Release()

	page := g.Page()
	if page.IsLeaf() {
		idx, found, err := page.Search(key)
		if err != nil {
			return nil, false, err
		}
		if !found {
			return nil, false, nil
		}
		cell, err := page.GetCell(idx)
		if err != nil {
			return nil, false, err
		}
		return append([]byte(nil), cell.Value...), true, nil
	}

	child, err := page.FindChild(key)
	if err != nil {
		return nil, false, err
	}
	return t.getRecursive(child, key)
}

// Contains reports whether key is present, without copying its value.
func (t *BTree) Contains(key []byte) (bool, error) {
	_, found, err := t.Get(key)
	return found, err
}

// Put inserts or overwrites key with value.
func (t *BTree) Put(key, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(value); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	hdr := t.bp.Header()
	if hdr.RootPage == 0 {
		g, err := t.bp.NewPage()
		if err != nil {
			return err
		}
		rootID := g.Page().ID()
		g.Release()
		if err := t.bp.SetRootPage(rootID, 1); err != nil {
			return err
		}
		hdr = t.bp.Header()
	}

	sepKey, newChildID, split, err := t.insertRecursive(hdr.RootPage, key, value)
	if err != nil {
		return err
	}
	if !split {
		return nil
	}

	newRootID, err := t.bp.AllocateBlankPage()
	if err != nil {
		return err
	}
	newRoot := NewInteriorPage(newRootID)
	newRoot.SetRightChild(hdr.RootPage)
	if _, err := newRoot.InsertCell(&Cell{Key: sepKey, Child: newChildID}); err != nil {
		return err
	}
	rg, err := t.bp.InstallPage(newRoot)
	if err != nil {
		return err
	}
	rg.Release()
	return t.bp.SetRootPage(newRootID, hdr.TreeHeight+1)
}

// insertRecursive descends to the leaf owning key, inserts or updates it,
// and propagates any split back up as a (separator, new child) pair.
func (t *BTree) insertRecursive(pageID uint32, key, value []byte) (sepKey []byte, newChildID uint32, split bool, err error) {
	g, err := t.bp.FetchPageMut(pageID)
	if err != nil {
		return nil, 0, false, err
	}
	defer g.Release()
	page := g.Page()

	if page.IsLeaf() {
		idx, found, err := page.Search(key)
		if err != nil {
			return nil, 0, false, err
		}
		if found {
			if err := page.UpdateCell(idx, &Cell{Key: key, Value: value}); err != nil {
				if common.IsKind(err, common.KindPageFull) {
					return nil, 0, false, common.InvalidOperation("update would grow the value past the page's free space")
				}
				return nil, 0, false, err
			}
			return nil, 0, false, nil
		}

		_, err = page.InsertCell(&Cell{Key: key, Value: value})
		if err == nil {
			return nil, 0, false, nil
		}
		if !common.IsKind(err, common.KindPageFull) {
			return nil, 0, false, err
		}
		sep, newID, err := splitAndInsertLeaf(t.bp, page, &Cell{Key: key, Value: value})
		if err != nil {
			return nil, 0, false, err
		}
		return sep, newID, true, nil
	}

	child, err := page.FindChild(key)
	if err != nil {
		return nil, 0, false, err
	}
	childSep, childNewID, childSplit, err := t.insertRecursive(child, key, value)
	if err != nil {
		return nil, 0, false, err
	}
	if !childSplit {
		return nil, 0, false, nil
	}

	_, err = page.InsertCell(&Cell{Key: childSep, Child: childNewID})
	if err == nil {
		return nil, 0, false, nil
	}
	if !common.IsKind(err, common.KindPageFull) {
		return nil, 0, false, err
	}
	sep, newID, err := splitAndInsertInterior(t.bp, page, &Cell{Key: childSep, Child: childNewID})
	if err != nil {
		return nil, 0, false, err
	}
	return sep, newID, true, nil
}

// Delete removes key if present and reports whether it was found. No
// rebalancing or merging is performed; see SPEC_FULL.md §2 Non-goals.
func (t *BTree) Delete(key []byte) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	hdr := t.bp.Header()
	if hdr.RootPage == 0 {
		return false, nil
	}
	return t.deleteRecursive(hdr.RootPage, key)
}

func (t *BTree) deleteRecursive(pageID uint32, key []byte) (bool, error) {
	g, err := t.bp.FetchPageMut(pageID)
	if err != nil {
		return false, err
	}
	defer g.Release()
	page := g.Page()

	if page.IsLeaf() {
		idx, found, err := page.Search(key)
		if err != nil {
			return false, err
		}
		if !found {
			return false, nil
		}
		if err := page.DeleteCell(idx); err != nil {
			return false, err
		}
		return true, nil
	}

	child, err := page.FindChild(key)
	if err != nil {
		return false, err
	}
	return t.deleteRecursive(child, key)
}

// Range returns every key-value pair with key in [start, end) in ascending
// key order. A nil start means "from the beginning"; a nil end means
// "through the end".
func (t *BTree) Range(start, end []byte) ([]common.KV, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	hdr := t.bp.Header()
	if hdr.RootPage == 0 {
		return nil, nil
	}
	var out []common.KV
	if err := t.scanRecursive(hdr.RootPage, start, end, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Iter returns every key-value pair in the tree in ascending key order.
func (t *BTree) Iter() ([]common.KV, error) {
	return t.Range(nil, nil)
}

// scanRecursive is a pruned recursive traversal: on an interior page it
// visits right_child first (the smallest subtree), then each cell's child
// in order, skipping any subtree whose key range cannot overlap [start,
// end). This mirrors the original implementation's scan_recursive rather
// than a leaf-linked-list walk.
func (t *BTree) scanRecursive(pageID uint32, start, end []byte, out *[]common.KV) error {
	g, err := t.bp.FetchPage(pageID)
	if err != nil {
		return err
	}
	defer g.Release()
	page := g.Page()

	if page.IsLeaf() {
		cells, err := page.GetAllCells()
		if err != nil {
			return err
		}
		for _, c := range cells {
			if start != nil && bytes.Compare(c.Key, start) < 0 {
				continue
			}
			if end != nil && bytes.Compare(c.Key, end) >= 0 {
				continue
			}
			*out = append(*out, common.KV{
				Key:   append([]byte(nil), c.Key...),
				Value: append([]byte(nil), c.Value...),
			})
		}
		return nil
	}

	cells, err := page.GetAllCells()
	if err != nil {
		return err
	}

	// right_child holds keys strictly less than cells[0].Key; only descend
	// if start doesn't already rule out that whole range. end never prunes
	// right_child: this subtree is always the lower end of the page's keys.
	if len(cells) == 0 || start == nil || bytes.Compare(start, cells[0].Key) < 0 {
		if err := t.scanRecursive(page.RightChild(), start, end, out); err != nil {
			return err
		}
	}

	for i, c := range cells {
		if end != nil && bytes.Compare(c.Key, end) >= 0 {
			break
		}
		var upper []byte
		if i+1 < len(cells) {
			upper = cells[i+1].Key
		}
		if upper != nil && start != nil && bytes.Compare(start, upper) >= 0 {
			continue
		}
		if err := t.scanRecursive(c.Child, start, end, out); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes every dirty page and the file header back to disk.
func (t *BTree) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bp.FlushAll()
}

// Stats reports the file's current page count, resident buffer pool size,
// and tree height.
func (t *BTree) Stats() common.Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	hdr := t.bp.Header()
	return common.Stats{
		PageCount:      int(hdr.PageCount),
		BufferPoolSize: t.bp.Resident(),
		TreeHeight:     int(hdr.TreeHeight),
	}
}

// Close flushes and closes the underlying file.
func (t *BTree) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bp.Close()
}

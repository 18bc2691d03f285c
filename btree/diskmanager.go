package btree

import (
	"os"
	"sync"

	"github.com/spf13/afero"

	"github.com/intellect4all/btreestore/common"
)

const fileOpenFlags = os.O_RDWR | os.O_CREATE

// DiskManager owns the single OS file backing a database and is the only
// component that does raw file I/O. It is grounded on the teacher's
// pager.go, rewritten against afero.Fs (see SPEC_FULL.md §11) and fixed up
// against the Rust original's disk_manager.rs to add the page-0 guard and
// real free-list reuse that the teacher's version left as a TODO.
type DiskManager struct {
	fs   afero.Fs
	path string

	mu     sync.Mutex
	file   afero.File
	header *FileHeader
	free   *FreeList

	syncOnWrite bool
}

// OpenDiskManager opens path on fs, creating a fresh database file if it
// does not already exist or is shorter than one page.
func OpenDiskManager(fs afero.Fs, path string, syncOnWrite bool) (*DiskManager, error) {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, common.IOError(err)
	}

	file, err := fs.OpenFile(path, fileOpenFlags, 0o644)
	if err != nil {
		return nil, common.IOError(err)
	}

	dm := &DiskManager{
		fs:          fs,
		path:        path,
		file:        file,
		free:        NewFreeList(),
		syncOnWrite: syncOnWrite,
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, common.IOError(err)
	}

	if exists && info.Size() >= PageSize {
		buf := make([]byte, PageSize)
		if _, err := file.ReadAt(buf, 0); err != nil {
			file.Close()
			return nil, common.IOError(err)
		}
		header, err := ReadFileHeader(buf)
		if err != nil {
			file.Close()
			return nil, err
		}
		dm.header = header
		return dm, nil
	}

	header := NewFileHeader()
	buf := make([]byte, PageSize)
	header.Write(buf)
	if _, err := file.WriteAt(buf, 0); err != nil {
		file.Close()
		return nil, common.IOError(err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return nil, common.IOError(err)
	}
	dm.header = header
	return dm, nil
}

func (dm *DiskManager) flushHeaderLocked() error {
	buf := make([]byte, PageSize)
	dm.header.Write(buf)
	if _, err := dm.file.WriteAt(buf, 0); err != nil {
		return common.IOError(err)
	}
	if dm.syncOnWrite {
		if err := dm.file.Sync(); err != nil {
			return common.IOError(err)
		}
	}
	return nil
}

// Header returns a copy of the currently cached file header.
func (dm *DiskManager) Header() FileHeader {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return *dm.header
}

// ReadPage reads PAGE_SIZE bytes for id from disk. Page 0 (the header) may
// not be read through this path.
func (dm *DiskManager) ReadPage(id uint32) ([]byte, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if id == 0 {
		return nil, common.InvalidOperation("cannot read header page directly")
	}
	if id >= dm.header.PageCount {
		return nil, common.PageNotFound(id)
	}

	buf := make([]byte, PageSize)
	offset := int64(id) * PageSize
	if _, err := dm.file.ReadAt(buf, offset); err != nil {
		return nil, common.IOError(err)
	}
	return buf, nil
}

// WritePage writes exactly PAGE_SIZE bytes at id. Page 0 may not be written
// through this path; use SetRootPage / DeallocatePage / flushHeaderLocked for
// header mutations.
func (dm *DiskManager) WritePage(id uint32, data []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if id == 0 {
		return common.InvalidOperation("cannot write header page directly")
	}
	if len(data) != PageSize {
		return common.InvalidOperation("page data must be PAGE_SIZE bytes")
	}

	offset := int64(id) * PageSize
	if _, err := dm.file.WriteAt(data, offset); err != nil {
		return common.IOError(err)
	}
	if dm.syncOnWrite {
		if err := dm.file.Sync(); err != nil {
			return common.IOError(err)
		}
	}
	return nil
}

// AllocatePage returns a page id for a fresh page: reused from the free
// list first, else extending the file by one page.
func (dm *DiskManager) AllocatePage() (uint32, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if id, ok := dm.free.Pop(); ok {
		return id, nil
	}

	id := dm.header.AllocatePage()
	offset := int64(id) * PageSize
	zeros := make([]byte, PageSize)
	if _, err := dm.file.WriteAt(zeros, offset); err != nil {
		return 0, common.IOError(err)
	}
	if err := dm.flushHeaderLocked(); err != nil {
		return 0, err
	}
	return id, nil
}

// DeallocatePage returns id to the free list and persists the updated
// free-list summary in the header.
func (dm *DiskManager) DeallocatePage(id uint32) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if id == 0 {
		return common.InvalidOperation("cannot deallocate header page")
	}

	dm.free.Push(id)
	dm.header.FreePageCount = uint32(dm.free.Len())
	dm.header.FirstFreePage = id
	return dm.flushHeaderLocked()
}

// Sync flushes the header and fsyncs the whole file.
func (dm *DiskManager) Sync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if err := dm.flushHeaderLocked(); err != nil {
		return err
	}
	if err := dm.file.Sync(); err != nil {
		return common.IOError(err)
	}
	return nil
}

// SetRootPage updates and persists the tree's root page id and height.
func (dm *DiskManager) SetRootPage(id uint32, height uint32) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.header.RootPage = id
	dm.header.TreeHeight = height
	return dm.flushHeaderLocked()
}

// Close syncs and closes the underlying file.
func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if err := dm.flushHeaderLocked(); err != nil {
		dm.file.Close()
		return err
	}
	if err := dm.file.Sync(); err != nil {
		dm.file.Close()
		return common.IOError(err)
	}
	return dm.file.Close()
}

package btree

import "bytes"

// splitAndInsertLeaf splits a full leaf, places the cell that didn't fit
// into whichever half it belongs to by comparing against the promoted
// separator, and installs the new page in the pool. Returns the separator
// key and the new page's id, to be inserted as a cell in the parent.
func splitAndInsertLeaf(bp *BufferPool, leaf *Page, cell *Cell) (sepKey []byte, newChildID uint32, err error) {
	newID, err := bp.AllocateBlankPage()
	if err != nil {
		return nil, 0, err
	}
	newPage, sep, err := leaf.SplitLeaf(newID)
	if err != nil {
		return nil, 0, err
	}
	if bytes.Compare(cell.Key, sep) < 0 {
		if _, err := leaf.InsertCell(cell); err != nil {
			return nil, 0, err
		}
	} else {
		if _, err := newPage.InsertCell(cell); err != nil {
			return nil, 0, err
		}
	}
	leaf.SetDirty(true)
	g, err := bp.InstallPage(newPage)
	if err != nil {
		return nil, 0, err
	}
	g.Release()
	return sep, newID, nil
}

// splitAndInsertInterior is the interior-page analogue of
// splitAndInsertLeaf: the cell that didn't fit is a (separator, child)
// edge rather than a (key, value) pair.
func splitAndInsertInterior(bp *BufferPool, page *Page, cell *Cell) (sepKey []byte, newChildID uint32, err error) {
	newID, err := bp.AllocateBlankPage()
	if err != nil {
		return nil, 0, err
	}
	newPage, sep, err := page.SplitInterior(newID)
	if err != nil {
		return nil, 0, err
	}
	if bytes.Compare(cell.Key, sep) < 0 {
		if _, err := page.InsertCell(cell); err != nil {
			return nil, 0, err
		}
	} else {
		if _, err := newPage.InsertCell(cell); err != nil {
			return nil, 0, err
		}
	}
	page.SetDirty(true)
	g, err := bp.InstallPage(newPage)
	if err != nil {
		return nil, 0, err
	}
	g.Release()
	return sep, newID, nil
}

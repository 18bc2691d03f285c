package btree

import (
	"fmt"
)

// DebugGet retraces the descent search(key) would take, returning one
// human-readable line per step. Line shapes are ported verbatim from the
// original implementation's search_with_trace (see SPEC_FULL.md §12).
func (t *BTree) DebugGet(key []byte) ([]string, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	var trace []string
	hdr := t.bp.Header()
	if hdr.RootPage == 0 {
		trace = append(trace, "Tree is empty (root_page = 0)")
		return trace, nil
	}

	trace = append(trace, fmt.Sprintf("Searching for key: %q", string(key)))
	trace = append(trace, fmt.Sprintf("Root page: %d, Height: %d", hdr.RootPage, hdr.TreeHeight))
	if err := t.searchWithTrace(hdr.RootPage, key, &trace); err != nil {
		return nil, err
	}
	return trace, nil
}

func (t *BTree) searchWithTrace(pageID uint32, key []byte, trace *[]string) error {
	g, err := t.bp.FetchPage(pageID)
	if err != nil {
		return err
	}
	defer g.Release()
	page := g.Page()

	*trace = append(*trace, fmt.Sprintf("  Page %d: is_leaf=%t, cell_count=%d", pageID, page.IsLeaf(), page.CellCount()))

	if page.IsLeaf() {
		n := page.CellCount()
		for i := uint16(0); i < n; i++ {
			cell, err := page.GetCell(i)
			if err != nil {
				return err
			}
			*trace = append(*trace, fmt.Sprintf("    Cell %d: key=%s", i, string(cell.Key)))
		}
		idx, found, err := page.Search(key)
		if err != nil {
			return err
		}
		if found {
			*trace = append(*trace, fmt.Sprintf("  FOUND at index %d", idx))
			return nil
		}
		*trace = append(*trace, "  NOT FOUND in leaf")
		return nil
	}

	*trace = append(*trace, fmt.Sprintf("    right_child=%d (keys < first sep)", page.RightChild()))
	n := page.CellCount()
	for i := uint16(0); i < n; i++ {
		cell, err := page.GetCell(i)
		if err != nil {
			return err
		}
		*trace = append(*trace, fmt.Sprintf("    Cell %d: sep=%s, child=%d (keys >= sep)", i, string(cell.Key), cell.Child))
	}

	child, err := page.FindChild(key)
	if err != nil {
		return err
	}
	*trace = append(*trace, fmt.Sprintf("  -> Descending to child page %d", child))
	return t.searchWithTrace(child, key, trace)
}

// TreeNode is a recursive snapshot of one page for tree visualization,
// mirroring the {pageId, isLeaf, keys, values, children} shape the original
// server's /api/tree endpoint returns from its own export_tree.
type TreeNode struct {
	PageID   uint32      `json:"pageId"`
	IsLeaf   bool        `json:"isLeaf"`
	Keys     [][]byte    `json:"keys"`
	Values   [][]byte    `json:"values,omitempty"`
	Children []*TreeNode `json:"children,omitempty"`
}

// ExportTree walks the whole tree and returns it as a nested TreeNode, or
// nil if the tree is empty.
func (t *BTree) ExportTree() (*TreeNode, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	hdr := t.bp.Header()
	if hdr.RootPage == 0 {
		return nil, nil
	}
	return t.exportNode(hdr.RootPage)
}

func (t *BTree) exportNode(pageID uint32) (*TreeNode, error) {
	g, err := t.bp.FetchPage(pageID)
	if err != nil {
		return nil, err
	}
	defer g.Release()
	page := g.Page()

	node := &TreeNode{PageID: pageID, IsLeaf: page.IsLeaf()}
	cells, err := page.GetAllCells()
	if err != nil {
		return nil, err
	}

	if page.IsLeaf() {
		for _, c := range cells {
			node.Keys = append(node.Keys, append([]byte(nil), c.Key...))
			node.Values = append(node.Values, append([]byte(nil), c.Value...))
		}
		return node, nil
	}

	rightChild, err := t.exportNode(page.RightChild())
	if err != nil {
		return nil, err
	}
	node.Children = append(node.Children, rightChild)
	for _, c := range cells {
		node.Keys = append(node.Keys, append([]byte(nil), c.Key...))
		child, err := t.exportNode(c.Child)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}

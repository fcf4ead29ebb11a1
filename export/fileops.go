package export

import (
	"sort"

	"github.com/rcowham/cvsgitexport/rcs"
)

// fileIter walks a commit's directory list in order and each directory's
// file list in order, yielding file revisions in the snapshot's total
// order. Copying the struct snapshots the position.
type fileIter struct {
	dirs []*rcs.Dir
	di   int
	fi   int
}

func newFileIter(c *rcs.Commit) fileIter {
	if c == nil {
		return fileIter{}
	}
	return fileIter{dirs: c.Dirs}
}

func (it *fileIter) next() *rcs.FileRev {
	for it.di < len(it.dirs) {
		d := it.dirs[it.di]
		if it.fi < len(d.Files) {
			f := d.Files[it.fi]
			it.fi++
			return f
		}
		it.di++
		it.fi = 0
	}
	return nil
}

// computeParentLinks creates reciprocal link pairs between file revisions
// in a commit and its parent. Both file lists are in the same total
// order, so matches are monotone: the parent cursor resumes after the
// last successful match and the whole pass is O(n+m).
func computeParentLinks(commit *rcs.Commit) {
	parent := commit.Parent

	ncommit := 0
	commitIter := newFileIter(commit)
	for cf := commitIter.next(); cf != nil; cf = commitIter.next() {
		ncommit++
		cf.Other = nil
	}

	nparent := 0
	parentIter := newFileIter(parent)
	for pf := parentIter.next(); pf != nil; pf = parentIter.next() {
		nparent++
		pf.Other = nil
	}

	maxmatch := nparent
	if ncommit < nparent {
		maxmatch = ncommit
	}

	commitIter = newFileIter(commit)
	parentIter = newFileIter(parent)
	for cf := commitIter.next(); cf != nil; cf = commitIter.next() {
		// The parent's aggregate filter never falsely says "no": a name
		// whose bits are disjoint from it cannot match anything.
		if !cf.Name.Bloom.Intersects(&parent.Bloom) {
			continue
		}
		it := parentIter
		for pf := it.next(); pf != nil; pf = it.next() {
			if cf.Name == pf.Name {
				cf.Other = pf
				pf.Other = cf
				maxmatch--
				if maxmatch == 0 {
					return
				}
				parentIter = it
				break
			}
		}
	}
}

// fileop - one M or D line of a commit record.
type fileop struct {
	op   byte
	mode uint16
	rev  *rcs.FileRev
	path string
}

// buildFileOps produces the commit's operations against its parent, in
// snapshot-traversal order. Sorting into canonical path order happens
// after blob marks are allocated, which must follow traversal order.
func buildFileOps(commit *rcs.Commit) []fileop {
	ops := make([]fileop, 0, 32)
	for _, dir := range commit.Dirs {
		for _, cc := range dir.Files {
			present := false
			changed := false
			if commit.Parent != nil {
				present = cc.Other != nil
				changed = present && cc.Serial != cc.Other.Serial
			}
			if !present || changed {
				mode := uint16(0644)
				// git fast-import only supports 644 and 755 file modes
				if cc.Mode&0100 != 0 {
					mode = 0755
				}
				ops = append(ops, fileop{op: 'M', mode: mode, rev: cc, path: fileopName(cc.Name.Name)})
			}
		}
	}
	if commit.Parent != nil {
		for _, dir := range commit.Parent.Dirs {
			for _, cc := range dir.Files {
				if cc.Other == nil {
					ops = append(ops, fileop{op: 'D', rev: cc, path: fileopName(cc.Name.Name)})
				}
			}
		}
	}
	return ops
}

// sortFileOps orders operations as git fast-export does: files below a
// directory first, in case they are all deleted and the directory
// changes to a file or symlink.
func sortFileOps(ops []fileop) {
	sort.Slice(ops, func(i, j int) bool {
		return rcs.PathDeepCompare(ops[i].path, ops[j].path) < 0
	})
}

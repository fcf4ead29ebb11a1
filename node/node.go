package node

import (
	"strings"

	"github.com/rcowham/cvsgitexport/rcs"
)

// Node - tree structure recording the live file revisions of one branch.
// The stream reader updates it after every commit so each commit's full
// snapshot can be reconstructed, with unchanged files sharing their
// parent snapshot's revisions.
type Node struct {
	Name     string
	Rev      *rcs.FileRev // set on file leaves
	IsFile   bool
	Children []*Node
}

func NewNode(name string) *Node {
	return &Node{Name: name}
}

func (n *Node) addSubRev(rev *rcs.FileRev, subPath string) {
	parts := strings.SplitN(subPath, "/", 2)
	if len(parts) == 1 {
		for _, c := range n.Children {
			if c.Name == parts[0] {
				c.Rev = rev // new revision of a registered file
				return
			}
		}
		n.Children = append(n.Children, &Node{Name: parts[0], IsFile: true, Rev: rev})
	} else {
		for _, c := range n.Children {
			if c.Name == parts[0] {
				c.addSubRev(rev, parts[1])
				return
			}
		}
		n.Children = append(n.Children, NewNode(parts[0]))
		n.Children[len(n.Children)-1].addSubRev(rev, parts[1])
	}
}

func (n *Node) deleteSubFile(subPath string) {
	parts := strings.SplitN(subPath, "/", 2)
	if len(parts) == 1 {
		i := 0
		var c *Node
		found := false
		for i, c = range n.Children {
			if c.Name == parts[0] {
				found = true
				break
			}
		}
		if i < len(n.Children) && found { // Ignore files not found
			n.Children[i] = n.Children[len(n.Children)-1]
			n.Children = n.Children[:len(n.Children)-1]
		}
	} else {
		for _, c := range n.Children {
			if c.Name == parts[0] {
				c.deleteSubFile(parts[1])
				return
			}
		}
	}
}

// AddRev registers (or replaces) the revision stored under its name.
func (n *Node) AddRev(rev *rcs.FileRev) {
	n.addSubRev(rev, rev.Name.Name)
}

func (n *Node) DeleteFile(path string) {
	n.deleteSubFile(path)
}

func (n *Node) getChildRevs() []*rcs.FileRev {
	revs := make([]*rcs.FileRev, 0)
	for _, c := range n.Children {
		if c.IsFile {
			revs = append(revs, c.Rev)
		} else {
			revs = append(revs, c.getChildRevs()...)
		}
	}
	return revs
}

// GetRevs returns all live file revisions under dirName ("" for all).
func (n *Node) GetRevs(dirName string) []*rcs.FileRev {
	revs := make([]*rcs.FileRev, 0)
	if n.Name == "" && dirName == "" {
		revs = append(revs, n.getChildRevs()...)
		return revs
	}
	parts := strings.SplitN(dirName, "/", 2)
	if len(parts) == 1 {
		for _, c := range n.Children {
			if c.Name == parts[0] {
				if c.IsFile {
					revs = append(revs, c.Rev)
				} else {
					revs = append(revs, c.getChildRevs()...)
				}
			}
		}
		return revs
	}
	for _, c := range n.Children {
		if c.Name == parts[0] {
			return c.GetRevs(parts[1])
		}
	}
	return revs
}

// FindRev returns the live revision of the named file, or nil.
func (n *Node) FindRev(fileName string) *rcs.FileRev {
	parts := strings.Split(fileName, "/")
	dir := ""
	if len(parts) > 1 {
		dir = strings.Join(parts[:len(parts)-1], "/")
	}
	for _, r := range n.GetRevs(dir) {
		if r.Name.Name == fileName {
			return r
		}
	}
	return nil
}

// Copy duplicates the tree; the branched snapshot shares revisions with
// its parent branch until either side changes a file.
func (n *Node) Copy() *Node {
	c := &Node{Name: n.Name, Rev: n.Rev, IsFile: n.IsFile}
	if len(n.Children) > 0 {
		c.Children = make([]*Node, 0, len(n.Children))
		for _, child := range n.Children {
			c.Children = append(c.Children, child.Copy())
		}
	}
	return c
}

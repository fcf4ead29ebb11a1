package rcs

// In-memory model of a version-control history: branch heads rooted at
// the newest commit and chained backward through parent links, plus tags,
// file revisions and blob sources.

import (
	"sort"
	"strings"
)

// PathDeepCompare orders path strings with '/' sorting before every other
// byte, so "a/b/c" < "a/b" < "a". Files below a directory are handled
// before an operation that replaces the directory itself.
func PathDeepCompare(a, b string) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		ca, cb := a[i], b[i]
		if ca == cb {
			continue
		}
		if ca == '/' {
			return -1
		}
		if cb == '/' {
			return 1
		}
		if ca < cb {
			return -1
		}
		return 1
	}
	// One is a prefix of the other; the longer sorts first when the next
	// byte is a separator, otherwise plain length order applies.
	switch {
	case len(a) == len(b):
		return 0
	case len(a) > len(b):
		if a[len(b)] == '/' {
			return -1
		}
		return 1
	default:
		if b[len(a)] == '/' {
			return 1
		}
		return -1
	}
}

// FileRev - one revision of one file, shared by every commit whose
// snapshot contains it. Other is transient scratch state valid only
// during one commit's diff; Emitted is set once the blob has been
// written to the stream.
type FileRev struct {
	Name    *Atom // interned repository-relative path, Attic/RCS rectified
	Number  Number
	Mode    uint16 // low 0100 bit = executable
	Serial  uint32 // assigned when the blob is first generated
	Other   *FileRev
	Emitted bool
}

// Dir - the files of one directory within one commit snapshot, sorted by
// name.
type Dir struct {
	Path  string // "" for the repository root
	Files []*FileRev
}

// Commit - one commit in the converted history.
type Commit struct {
	Author string // author id, as recorded by CVS
	Log    string
	Date   int64 // seconds since the epoch
	Parent *Commit
	Tail   bool // boundary of this branch's exported range
	Dirs   []*Dir
	Bloom  Bloom // aggregate over the snapshot's file name atoms
	Serial uint32
}

// NFiles counts the files in the commit's snapshot.
func (c *Commit) NFiles() int {
	n := 0
	for _, d := range c.Dirs {
		n += len(d.Files)
	}
	return n
}

// Tag - a tag pointing at a commit; emitted after the commit it names.
type Tag struct {
	Name   string
	Commit *Commit
}

// Head - a branch head. Tail is true when this head's history is fully
// covered by an earlier head.
type Head struct {
	RefName string
	Commit  *Commit
	Tail    bool
}

// BlobSink receives one file revision's blob payload.
type BlobSink func(rev *FileRev, data []byte) error

// BlobSource generates blob payloads for the export's blob phase; the
// engine drives one source per input file.
type BlobSource interface {
	Generate(emit BlobSink) error
}

// RevBlob pairs a file revision with its payload for in-memory sources.
type RevBlob struct {
	Rev  *FileRev
	Data []byte
}

// FileSource - an in-memory blob source holding the revisions of one file.
type FileSource struct {
	Revs []RevBlob
}

func (s *FileSource) Generate(emit BlobSink) error {
	for _, rb := range s.Revs {
		if err := emit(rb.Rev, rb.Data); err != nil {
			return err
		}
	}
	return nil
}

// Repo - the converted history plus the inputs the export engine needs.
type Repo struct {
	Heads          []*Head
	Tags           []*Tag
	Sources        []BlobSource
	Atoms          *Table
	TotalRevisions int
	TextSize       int   // total master text volume, drives adaptive mode
	SkewVulnerable int64 // newest commit lacking a commitid, 0 if none
}

func NewRepo() *Repo {
	return &Repo{Atoms: NewTable()}
}

func splitPath(path string) (dir, base string) {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[:i], path[i+1:]
	}
	return "", path
}

// BuildDirs groups a snapshot's file revisions into per-directory lists
// with directories in deep path order and files in byte order, the total
// order the parent-link pass walks.
func BuildDirs(revs []*FileRev) []*Dir {
	byDir := make(map[string][]*FileRev)
	for _, r := range revs {
		d, _ := splitPath(r.Name.Name)
		byDir[d] = append(byDir[d], r)
	}
	paths := make([]string, 0, len(byDir))
	for d := range byDir {
		paths = append(paths, d)
	}
	sort.Slice(paths, func(i, j int) bool {
		return PathDeepCompare(paths[i], paths[j]) < 0
	})
	dirs := make([]*Dir, 0, len(paths))
	for _, p := range paths {
		files := byDir[p]
		sort.Slice(files, func(i, j int) bool {
			return files[i].Name.Name < files[j].Name.Name
		})
		dirs = append(dirs, &Dir{Path: p, Files: files})
	}
	return dirs
}

// SnapshotBloom folds the snapshot's file name atoms into one filter.
func SnapshotBloom(dirs []*Dir) Bloom {
	var b Bloom
	for _, d := range dirs {
		for _, f := range d.Files {
			b.Or(&f.Name.Bloom)
		}
	}
	return b
}

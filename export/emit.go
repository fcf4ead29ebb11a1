package export

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/emicklei/dot"
	"github.com/sirupsen/logrus"

	"github.com/rcowham/cvsgitexport/blobstore"
	"github.com/rcowham/cvsgitexport/marks"
	"github.com/rcowham/cvsgitexport/rcs"
)

// DefaultIgnores is the GNU CVS default ignore block. We omit things CVS
// ignores by default but which are highly unlikely to turn up outside an
// actual CVS repository and should be conspicuous if they do: RCS SCCS
// CVS CVS.adm RCSLOG cvslog.*
const DefaultIgnores = "# CVS default ignores begin\ntags\nTAGS\n.make.state\n.nse_depinfo\n*~\n#*\n.#*\n,*\n_$*\n*$\n*.old\n*.bak\n*.BAK\n*.orig\n*.rej\n.del-*\n*.a\n*.olb\n*.o\n*.obj\n*.so\n*.exe\n*.Z\n*.elc\n*.ln\ncore\n# CVS default ignores end\n"

// Exporter holds the state of one export run.
type Exporter struct {
	opts        Options
	logger      *logrus.Logger
	w           *bufio.Writer
	alloc       *marks.Allocator
	store       *blobstore.Store
	needIgnores bool
	stats       Stats
	graph       *dot.Graph
	gnodes      map[*rcs.Commit]dot.Node
}

func (e *Exporter) displayDate(c *rcs.Commit, m marks.Mark) int64 {
	if e.opts.ForceDates {
		return forcedDateBase + int64(m)*int64(e.opts.CommitTimeWindow)*2
	}
	return c.Date
}

// exportCommit writes one commit record and, in canonical mode, the
// staged blobs it is the first to reference.
func (e *Exporter) exportCommit(commit *rcs.Commit, branch string, report bool) error {
	wantRevpairs := e.opts.Reposurgeon || e.opts.RevisionMap != nil || e.opts.EmbedIDs
	var revpairs strings.Builder

	// Precompute mutual parent-child pointers.
	if commit.Parent != nil {
		computeParentLinks(commit)
	}

	ops := buildFileOps(commit)
	if wantRevpairs {
		for _, op := range ops {
			if op.op != 'M' {
				continue
			}
			if e.opts.EmbedIDs {
				revpairs.WriteString("CVS-ID: ")
			}
			revpairs.WriteString(op.rev.Name.Name)
			revpairs.WriteByte(' ')
			revpairs.WriteString(op.rev.Number.String())
			revpairs.WriteByte('\n')
		}
	}

	// Blob marks are allocated in traversal order, before the fileop
	// sort, so mark numbering is independent of path order.
	for i := range ops {
		op := &ops[i]
		if op.op != 'M' || op.rev.Emitted {
			continue
		}
		if e.opts.ReportMode == Canonical {
			m, err := e.alloc.AssignMark(op.rev.Serial)
			if err != nil {
				return err
			}
			if report {
				blob, err := e.store.Open(op.rev.Serial)
				if err != nil {
					return err
				}
				if blob != nil {
					fmt.Fprintf(e.w, "blob\nmark :%d\n", m)
					if _, err := io.Copy(e.w, blob); err != nil {
						blob.Close()
						return err
					}
					if err := blob.Close(); err != nil {
						return err
					}
					op.rev.Emitted = true
				}
			}
		}
	}

	// sort operations into canonical order
	sortFileOps(ops)

	full := commit.Author
	email := commit.Author
	timezone := "UTC"
	if author := e.opts.AuthorMap.Lookup(commit.Author); author != nil {
		full = author.Full
		email = author.Email
		if author.Timezone != "" {
			timezone = author.Timezone
		}
	}

	if report {
		fmt.Fprintf(e.w, "commit %s%s\n", e.opts.BranchPrefix, branch)
	}
	serial, err := e.alloc.NextSerial()
	if err != nil {
		return err
	}
	commit.Serial = serial
	here, err := e.alloc.AssignMark(serial)
	if err != nil {
		return err
	}
	if report {
		fmt.Fprintf(e.w, "mark :%d\n", here)

		ct := e.displayDate(commit, here)
		ts := utcOffsetTimestamp(ct, timezone)
		fmt.Fprintf(e.w, "committer %s <%s> %s\n", full, email, ts)
		if !e.opts.EmbedIDs {
			fmt.Fprintf(e.w, "data %d\n%s\n", len(commit.Log), commit.Log)
		} else {
			fmt.Fprintf(e.w, "data %d\n%s\n%s\n",
				len(commit.Log)+revpairs.Len()+1, commit.Log, revpairs.String())
		}
		if commit.Parent != nil {
			fmt.Fprintf(e.w, "from :%d\n", e.alloc.Lookup(commit.Parent.Serial))
		}

		for _, op := range ops {
			switch op.op {
			case 'M':
				fmt.Fprintf(e.w, "M 100%o :%d %s\n", op.mode, e.alloc.Lookup(op.rev.Serial), op.path)
			case 'D':
				fmt.Fprintf(e.w, "D %s\n", op.path)
			}
			// If there's a .gitignore in the first commit, don't generate
			// one; the blob phase will already have prepended the block.
			if e.needIgnores && op.path == ".gitignore" {
				e.needIgnores = false
			}
		}
		if e.needIgnores {
			e.needIgnores = false
			fmt.Fprintf(e.w, "M 100644 inline .gitignore\ndata %d\n%s\n", len(DefaultIgnores), DefaultIgnores)
		}
		if revpairs.Len() > 0 {
			if e.opts.RevisionMap != nil {
				for _, line := range strings.SplitAfter(revpairs.String(), "\n") {
					if line == "" {
						continue
					}
					e.opts.RevisionMap.WriteLine(strings.TrimSuffix(line, "\n"), here)
				}
			}
			if e.opts.Reposurgeon {
				fmt.Fprintf(e.w, "property cvs-revision %d %s", revpairs.Len(), revpairs.String())
			}
		}

		fmt.Fprintf(e.w, "\n")
	}

	if e.graph != nil && report {
		n := e.graph.Node(fmt.Sprintf("Commit: %d %s", here, branch))
		e.gnodes[commit] = n
		if commit.Parent != nil {
			if pn, ok := e.gnodes[commit.Parent]; ok {
				e.graph.Edge(pn, n, "p")
			}
		}
	}
	return nil
}

// exportTags writes a tag reset for every tag pointing at the commit,
// provided its display date passes the incremental threshold.
func (e *Exporter) exportTags(tags []*rcs.Tag, commit *rcs.Commit) {
	for _, t := range tags {
		if t.Commit != commit {
			continue
		}
		m := e.alloc.Lookup(commit.Serial)
		if e.displayDate(commit, m) > e.opts.FromTime {
			fmt.Fprintf(e.w, "reset refs/tags/%s\nfrom :%d\n\n", t.Name, m)
		}
	}
}

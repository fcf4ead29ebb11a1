package export

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/emicklei/dot"
	"github.com/sirupsen/logrus"

	"github.com/rcowham/cvsgitexport/blobstore"
	"github.com/rcowham/cvsgitexport/marks"
	"github.com/rcowham/cvsgitexport/rcs"
)

// Commits exports a history as a git fast-import stream.
//
// The writer is wrapped in one buffered writer so emission stays
// single-writer; callers should not interleave their own writes. The
// staging directory, when one is created, is removed on success and
// failure alike.
func Commits(repo *rcs.Repo, opts Options, w io.Writer, logger *logrus.Logger) (*Stats, error) {
	e := &Exporter{
		opts:        opts,
		logger:      logger,
		w:           bufio.NewWriter(w),
		needIgnores: true,
	}
	if opts.CommitTimeWindow <= 0 {
		e.opts.CommitTimeWindow = 300
	}
	if e.opts.GraphWriter != nil {
		e.graph = dot.NewGraph(dot.Directed)
		e.gnodes = make(map[*rcs.Commit]dot.Node)
	}

	// Incremental dumps only make sense against canonical order.
	if e.opts.FromTime > 0 {
		e.opts.ReportMode = Canonical
	} else if e.opts.ReportMode == Adaptive {
		if repo.TextSize <= smallRepository {
			e.opts.ReportMode = Canonical
		} else {
			e.opts.ReportMode = Fast
		}
	}

	e.stats.TotalCommits = exportNCommit(repo)
	// the +1 is because mark indices are 1-origin, slot 0 always empty
	e.alloc = marks.NewAllocator(repo.TotalRevisions + e.stats.TotalCommits + 1)

	if e.opts.ReportMode == Canonical {
		store, err := blobstore.NewStore(e.opts.TmpDir, e.opts.CompressBlobs, logger)
		if err != nil {
			return nil, err
		}
		e.store = store
		defer e.store.Remove()
	}

	if err := e.run(repo); err != nil {
		return nil, err
	}
	if err := e.w.Flush(); err != nil {
		return nil, err
	}

	if e.graph != nil {
		if _, err := io.WriteString(e.opts.GraphWriter, e.graph.String()); err != nil {
			return nil, err
		}
	}

	if repo.SkewVulnerable > 0 && len(repo.Sources) > 1 && !e.opts.ForceDates {
		udate := time.Unix(repo.SkewVulnerable, 0).UTC()
		logger.Warnf("no commitids before %s.", udate.Format(time.RFC3339))
	}
	logger.Infof("Exported %d commits, %s of blob data in %s order",
		e.stats.TotalCommits, humanize.Bytes(uint64(e.stats.SnapSize)), e.opts.ReportMode)

	stats := e.stats
	return &stats, nil
}

func (e *Exporter) run(repo *rcs.Repo) error {
	// Blob phase: every source pushes its payloads through exportBlob.
	for _, src := range repo.Sources {
		if err := src.Generate(e.exportBlob); err != nil {
			return err
		}
	}
	if e.store != nil {
		if err := e.store.Wait(); err != nil {
			return err
		}
	}

	logger := e.logger
	logger.Debugf("Saving in %s order", e.opts.ReportMode)

	if e.opts.ReportMode == Fast {
		if err := e.exportFast(repo); err != nil {
			return err
		}
	} else {
		if err := e.exportCanonical(repo); err != nil {
			return err
		}
	}

	for _, h := range repo.Heads {
		m := e.alloc.Lookup(h.Commit.Serial)
		if e.displayDate(h.Commit, m) > e.opts.FromTime {
			fmt.Fprintf(e.w, "reset %s%s\nfrom :%d\n\n", e.opts.BranchPrefix, h.RefName, m)
		}
	}

	fmt.Fprintf(e.w, "done\n")
	return nil
}

// exportBlob streams the blob inline (fast mode) or stages it for random
// access (canonical mode).
func (e *Exporter) exportBlob(rev *rcs.FileRev, data []byte) error {
	e.stats.SnapSize += int64(len(data))

	extra := ""
	if rev.Name.Name == ".cvsignore" {
		extra = DefaultIgnores
	}

	serial, err := e.alloc.NextSerial()
	if err != nil {
		return err
	}
	rev.Serial = serial
	if e.opts.ReportMode == Fast {
		m, err := e.alloc.AssignMark(serial)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.w, "blob\nmark :%d\n", m)
		fmt.Fprintf(e.w, "data %d\n", len(data)+len(extra))
		if extra != "" {
			e.w.WriteString(extra)
		}
		e.w.Write(data)
		return e.w.WriteByte('\n')
	}

	contents := make([]byte, 0, len(data)+len(extra)+32)
	contents = append(contents, fmt.Sprintf("data %d\n", len(data)+len(extra))...)
	contents = append(contents, extra...)
	contents = append(contents, data...)
	contents = append(contents, '\n')
	e.store.Stage(serial, contents)
	return nil
}

// exportFast dumps by branch order, not by commit date. Slightly faster
// and less memory-intensive, but incremental dump won't work and the
// output is not canonical form.
func (e *Exporter) exportFast(repo *rcs.Repo) error {
	for _, h := range repo.Heads {
		if h.Tail {
			continue
		}
		// Commits chain newest to oldest; collect then walk backward.
		history := make([]*rcs.Commit, 0, 1024)
		for c := h.Commit; c != nil; c = branchNext(c) {
			history = append(history, c)
		}
		for i := len(history) - 1; i >= 0; i-- {
			if err := e.exportCommit(history[i], h.RefName, true); err != nil {
				return err
			}
			e.exportTags(repo.Tags, history[i])
		}
	}
	return nil
}

// exportCanonical dumps in strict git-fast-export order: the flattened
// history array, date-sorted when the dates are consistent with
// parentage.
func (e *Exporter) exportCanonical(repo *rcs.Repo) error {
	history := canonicalize(repo, e.stats.TotalCommits)

	if !sortable(history) {
		e.stats.Unsortable = true
		e.logger.Warnf("some parent commits are younger than children.")
	} else {
		sortByDate(history)
	}

	for hp := 0; hp < len(history); hp++ {
		entry := &history[hp]
		report := true
		if e.opts.FromTime > 0 {
			if e.opts.FromTime >= e.displayDate(entry.commit, e.alloc.Marks()+1) {
				report = false
			} else if !entry.realized {
				parent := entry.commit.Parent
				if parent != nil && e.displayDate(parent, e.alloc.Lookup(parent.Serial)) < e.opts.FromTime {
					fmt.Fprintf(e.w, "from %s%s^0\n\n", e.opts.BranchPrefix, entry.head.RefName)
				}
				for lp := hp; lp < len(history); lp++ {
					if history[lp].head == entry.head {
						history[lp].realized = true
					}
				}
			}
		}
		if err := e.exportCommit(entry.commit, entry.head.RefName, report); err != nil {
			return err
		}
		e.exportTags(repo.Tags, entry.commit)
	}
	return nil
}

// Authors dumps the unique author ids of the exportable history, in
// canonical-array order.
func Authors(repo *rcs.Repo, w io.Writer) error {
	history := canonicalize(repo, exportNCommit(repo))
	seen := make(map[string]bool)
	for i := range history {
		author := history[i].commit.Author
		if seen[author] {
			continue
		}
		seen[author] = true
		if _, err := fmt.Fprintln(w, author); err != nil {
			return err
		}
	}
	return nil
}

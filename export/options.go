// Package export turns an in-memory history model into a git fast-import
// stream.
//
// The natural order of operations generated by history traversal is not
// even remotely like the canonical order generated by git-fast-export; we
// emulate the latter so regression-testing and comparisons with other
// tools stay easy. Fast mode ships branch-by-branch and streams blobs
// inline; canonical mode stages blobs on disk and replays them next to
// the first commit that references them.
package export

import (
	"io"

	"github.com/rcowham/cvsgitexport/rcs"
	"github.com/rcowham/cvsgitexport/revmap"
)

// ReportMode selects the output ordering and blob staging strategy.
type ReportMode int

const (
	// Adaptive picks Canonical for small repositories and Fast otherwise.
	Adaptive ReportMode = iota
	Fast
	Canonical
)

func (m ReportMode) String() string {
	return [...]string{"adaptive", "fast", "canonical"}[m]
}

// ParseReportMode maps a config string to a ReportMode; unknown strings
// fall back to Adaptive.
func ParseReportMode(s string) ReportMode {
	switch s {
	case "fast":
		return Fast
	case "canonical":
		return Canonical
	}
	return Adaptive
}

// Below this byte volume of master text, adaptive mode defaults to
// canonical order; above it, fast. Mainly present for backward
// compatibility and somewhat arbitrary.
const smallRepository = 1000000

// The magic number 100000 avoids generating forced timestamps that might
// be negative in some timezone, while producing a sequence easy to read.
const forcedDateBase = 100000

// Options control one export run.
type Options struct {
	ReportMode       ReportMode
	BranchPrefix     string // prepended to every branch ref
	ForceDates       bool   // synthesize monotonic timestamps from marks
	Reposurgeon      bool   // append property cvs-revision trailers
	EmbedIDs         bool   // append CVS-ID: lines to commit logs
	RevisionMap      *revmap.RevMap // sink for "<path> <rev> :<mark>" lines, may be nil
	FromTime         int64  // incremental lower bound; forces canonical
	CommitTimeWindow int
	TmpDir           string // staging parent, $TMPDIR when empty
	CompressBlobs    bool
	AuthorMap        rcs.AuthorMap
	StripPrefix      string    // not read by the engine; file names arrive already rectified (see Rectify)
	GraphWriter      io.Writer // optional commit-DAG dot output, may be nil
}

// Stats of a completed export run.
type Stats struct {
	SnapSize     int64 // total blob payload bytes
	TotalCommits int   // exportable commits
	Unsortable   bool  // date order inconsistent with parentage
}

// Tests for the export engine

package export

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/rcowham/cvsgitexport/rcs"
	"github.com/rcowham/cvsgitexport/revmap"
)

var debug bool = false
var logger *logrus.Logger

func init() {
	flag.BoolVar(&debug, "debug", false, "Set to have debug logging for tests.")
}

func createLogger() *logrus.Logger {
	if logger != nil {
		return logger
	}
	logger = logrus.New()
	logger.Level = logrus.InfoLevel
	if debug {
		logger.Level = logrus.DebugLevel
	}
	return logger
}

// newTestRev builds a standalone revision with a preset serial, for unit
// tests that bypass the blob phase.
func newTestRev(tbl *rcs.Table, name string, serial uint32) *rcs.FileRev {
	return &rcs.FileRev{Name: tbl.Intern(name), Number: rcs.Number{1, 1}, Serial: serial}
}

func testCommit(author, log string, date int64, parent *rcs.Commit, revs ...*rcs.FileRev) *rcs.Commit {
	dirs := rcs.BuildDirs(revs)
	return &rcs.Commit{
		Author: author,
		Log:    log,
		Date:   date,
		Parent: parent,
		Dirs:   dirs,
		Bloom:  rcs.SnapshotBloom(dirs),
	}
}

// repoBuilder assembles end-to-end fixtures the way the stream parser
// does: revisions without serials, one blob source per file.
type repoBuilder struct {
	repo  *rcs.Repo
	srcs  map[string]*rcs.FileSource
	order []string
	seq   map[string]int
}

func newRepoBuilder() *repoBuilder {
	return &repoBuilder{
		repo: rcs.NewRepo(),
		srcs: make(map[string]*rcs.FileSource),
		seq:  make(map[string]int),
	}
}

func (b *repoBuilder) rev(name, data string) *rcs.FileRev {
	return b.modeRev(name, data, 0644)
}

func (b *repoBuilder) modeRev(name, data string, mode uint16) *rcs.FileRev {
	b.seq[name]++
	r := &rcs.FileRev{
		Name:   b.repo.Atoms.Intern(name),
		Number: rcs.Number{1, b.seq[name]},
		Mode:   mode,
	}
	src, ok := b.srcs[name]
	if !ok {
		src = &rcs.FileSource{}
		b.srcs[name] = src
		b.order = append(b.order, name)
	}
	src.Revs = append(src.Revs, rcs.RevBlob{Rev: r, Data: []byte(data)})
	b.repo.TotalRevisions++
	b.repo.TextSize += len(data)
	return r
}

func (b *repoBuilder) commit(author, log string, date int64, parent *rcs.Commit, revs ...*rcs.FileRev) *rcs.Commit {
	return testCommit(author, log, date, parent, revs...)
}

func (b *repoBuilder) head(ref string, c *rcs.Commit) {
	b.repo.Heads = append(b.repo.Heads, &rcs.Head{RefName: ref, Commit: c})
}

func (b *repoBuilder) tag(name string, c *rcs.Commit) {
	b.repo.Tags = append(b.repo.Tags, &rcs.Tag{Name: name, Commit: c})
}

func (b *repoBuilder) build() *rcs.Repo {
	b.repo.Sources = b.repo.Sources[:0]
	for _, name := range b.order {
		b.repo.Sources = append(b.repo.Sources, b.srcs[name])
	}
	return b.repo
}

func canonicalOpts(t *testing.T) Options {
	return Options{
		ReportMode:       Canonical,
		BranchPrefix:     "refs/heads/",
		CommitTimeWindow: 300,
		TmpDir:           t.TempDir(),
	}
}

func runExport(t *testing.T, repo *rcs.Repo, opts Options) (string, *Stats) {
	var buf bytes.Buffer
	stats, err := Commits(repo, opts, &buf, createLogger())
	assert.NoError(t, err)
	return buf.String(), stats
}

func ignoresFileop() string {
	return fmt.Sprintf("M 100644 inline .gitignore\ndata %d\n%s\n", len(DefaultIgnores), DefaultIgnores)
}

// checkMarks asserts mark density and definition-before-use over a
// whole stream.
func checkMarks(t *testing.T, stream string) {
	defined := make(map[int]bool)
	next := 1
	for _, line := range strings.Split(stream, "\n") {
		if strings.HasPrefix(line, "mark :") {
			n, err := strconv.Atoi(line[len("mark :"):])
			assert.NoError(t, err)
			assert.Equal(t, next, n, "marks not dense at %q", line)
			defined[n] = true
			next++
			continue
		}
		var ref string
		if strings.HasPrefix(line, "from :") {
			ref = line[len("from :"):]
		} else if strings.HasPrefix(line, "M 100") {
			fields := strings.Fields(line)
			if len(fields) >= 3 && strings.HasPrefix(fields[2], ":") {
				ref = fields[2][1:]
			}
		}
		if ref != "" {
			n, err := strconv.Atoi(ref)
			assert.NoError(t, err)
			assert.True(t, defined[n], "mark :%d referenced before definition in %q", n, line)
		}
	}
}

// checkFileopOrder asserts every commit record's op paths are strictly
// increasing under the deep-path comparator. The synthetic inline
// .gitignore op is appended after the sorted ops and is not checked.
func checkFileopOrder(t *testing.T, stream string) {
	var prev string
	inOps := false
	for _, line := range strings.Split(stream, "\n") {
		if strings.HasPrefix(line, "commit ") {
			inOps = true
			prev = ""
			continue
		}
		if line == "" {
			inOps = false
			continue
		}
		if !inOps {
			continue
		}
		var path string
		if strings.HasPrefix(line, "M 100644 inline ") {
			continue
		}
		if strings.HasPrefix(line, "M 100") {
			fields := strings.SplitN(line, " ", 4)
			if len(fields) == 4 {
				path = fields[3]
			}
		} else if strings.HasPrefix(line, "D ") {
			path = line[2:]
		}
		if path != "" {
			if prev != "" {
				assert.Negative(t, rcs.PathDeepCompare(prev, path),
					"fileops out of order: %q then %q", prev, path)
			}
			prev = path
		}
	}
}

func TestSingleCommitCanonical(t *testing.T) {
	logger := createLogger()
	logger.Debugf("======== Test: %s", t.Name())
	b := newRepoBuilder()
	hello := b.rev("hello.c", "hi\n")
	c1 := b.commit("ada", "", 1, nil, hello)
	b.head("master", c1)
	repo := b.build()

	output, stats := runExport(t, repo, canonicalOpts(t))

	expected := "blob\nmark :1\ndata 3\nhi\n\n" +
		"commit refs/heads/master\n" +
		"mark :2\n" +
		"committer ada <ada> 1 +0000\n" +
		"data 0\n\n" +
		"M 100644 :1 hello.c\n" +
		ignoresFileop() +
		"\n" +
		"reset refs/heads/master\nfrom :2\n\n" +
		"done\n"
	assert.Equal(t, expected, output)
	assert.Equal(t, 1, stats.TotalCommits)
	assert.Equal(t, int64(3), stats.SnapSize)
	checkMarks(t, output)
}

func TestDeleteAgainstParent(t *testing.T) {
	b := newRepoBuilder()
	a1 := b.rev("a.c", "A\n")
	// b.c lived in the Attic before deletion; its rectified name carries
	// no Attic component
	b1 := b.rev("b.c", "B\n")
	c1 := b.commit("ada", "add", 10, nil, a1, b1)
	c2 := b.commit("ada", "del", 20, c1, a1)
	b.head("master", c2)
	repo := b.build()

	output, _ := runExport(t, repo, canonicalOpts(t))

	// The second commit deletes b.c and modifies nothing
	records := strings.Split(output, "commit refs/heads/master\n")
	assert.Equal(t, 3, len(records))
	second := records[2]
	assert.Contains(t, second, "D b.c\n")
	assert.NotContains(t, second, "M 100644")
	assert.NotContains(t, second, "Attic")
	checkMarks(t, output)
	checkFileopOrder(t, output)
}

func TestCvsignoreRename(t *testing.T) {
	b := newRepoBuilder()
	ign := b.rev(".cvsignore", "*.o\n")
	c1 := b.commit("ada", "ignore", 5, nil, ign)
	b.head("master", c1)
	repo := b.build()

	output, _ := runExport(t, repo, canonicalOpts(t))

	// The blob carries the default-ignores block prepended to its payload
	assert.Contains(t, output,
		fmt.Sprintf("blob\nmark :1\ndata %d\n%s*.o\n\n", len(DefaultIgnores)+4, DefaultIgnores))
	assert.Contains(t, output, "M 100644 :1 .gitignore\n")
	assert.NotContains(t, output, ".cvsignore")
	// The synthetic inline fileop is suppressed
	assert.NotContains(t, output, "inline")
}

func TestTwoBranchCanonicalOrder(t *testing.T) {
	b := newRepoBuilder()
	a1 := b.rev("a.c", "A1\n")
	a2 := b.rev("a.c", "A2\n")
	b1 := b.rev("b.c", "B1\n")
	b2 := b.rev("b.c", "B2\n")
	t0 := b.commit("ada", "t0", 10, nil, a1)
	t1 := b.commit("ada", "t1", 20, t0, a2)
	f0 := b.commit("bob", "f0", 30, t0, a1, b1)
	f0.Tail = true
	f1 := b.commit("bob", "f1", 40, f0, a1, b2)
	b.head("trunk", t1)
	b.head("feat", f1)
	repo := b.build()

	output, stats := runExport(t, repo, canonicalOpts(t))
	assert.Equal(t, 4, stats.TotalCommits)

	expected := "blob\nmark :1\ndata 3\nA1\n\n" +
		"commit refs/heads/trunk\nmark :2\ncommitter ada <ada> 10 +0000\ndata 2\nt0\n" +
		"M 100644 :1 a.c\n" + ignoresFileop() + "\n" +
		"blob\nmark :3\ndata 3\nA2\n\n" +
		"commit refs/heads/trunk\nmark :4\ncommitter ada <ada> 20 +0000\ndata 2\nt1\nfrom :2\n" +
		"M 100644 :3 a.c\n\n" +
		"blob\nmark :5\ndata 3\nB1\n\n" +
		"commit refs/heads/feat\nmark :6\ncommitter bob <bob> 30 +0000\ndata 2\nf0\nfrom :2\n" +
		"M 100644 :5 b.c\n\n" +
		"blob\nmark :7\ndata 3\nB2\n\n" +
		"commit refs/heads/feat\nmark :8\ncommitter bob <bob> 40 +0000\ndata 2\nf1\nfrom :6\n" +
		"M 100644 :7 b.c\n\n" +
		"reset refs/heads/trunk\nfrom :4\n\n" +
		"reset refs/heads/feat\nfrom :8\n\n" +
		"done\n"
	assert.Equal(t, expected, output)
	checkMarks(t, output)
	checkFileopOrder(t, output)
}

func TestFastMode(t *testing.T) {
	b := newRepoBuilder()
	a1 := b.rev("a.c", "A1\n")
	a2 := b.rev("a.c", "A2\n")
	t0 := b.commit("ada", "t0", 10, nil, a1)
	t1 := b.commit("ada", "t1", 20, t0, a2)
	b.head("master", t1)
	b.tag("release-1", t1)
	repo := b.build()

	opts := canonicalOpts(t)
	opts.ReportMode = Fast
	output, _ := runExport(t, repo, opts)

	// All blobs stream ahead of the commits
	expected := "blob\nmark :1\ndata 3\nA1\n\n" +
		"blob\nmark :2\ndata 3\nA2\n\n" +
		"commit refs/heads/master\nmark :3\ncommitter ada <ada> 10 +0000\ndata 2\nt0\n" +
		"M 100644 :1 a.c\n" + ignoresFileop() + "\n" +
		"commit refs/heads/master\nmark :4\ncommitter ada <ada> 20 +0000\ndata 2\nt1\nfrom :3\n" +
		"M 100644 :2 a.c\n\n" +
		"reset refs/tags/release-1\nfrom :4\n\n" +
		"reset refs/heads/master\nfrom :4\n\n" +
		"done\n"
	assert.Equal(t, expected, output)
	checkMarks(t, output)
}

func TestAdaptiveModeSelection(t *testing.T) {
	b := newRepoBuilder()
	r := b.rev("a.c", "small\n")
	c := b.commit("ada", "x", 1, nil, r)
	b.head("master", c)
	repo := b.build()

	opts := canonicalOpts(t)
	opts.ReportMode = Adaptive
	output, _ := runExport(t, repo, opts)
	// Small repository: canonical order, so the blob follows no branch
	// prelude and commits reference staged blobs
	assert.True(t, strings.HasPrefix(output, "blob\nmark :1\n"))

	b2 := newRepoBuilder()
	big := strings.Repeat("x", smallRepository+1)
	r2 := b2.rev("big.bin", big)
	c2 := b2.commit("ada", "x", 1, nil, r2)
	b2.head("master", c2)
	repo2 := b2.build()

	opts2 := canonicalOpts(t)
	opts2.ReportMode = Adaptive
	output2, _ := runExport(t, repo2, opts2)
	// Large repository flips to fast mode; the stream is identical in
	// structure here, but no staging directory was used
	assert.True(t, strings.HasPrefix(output2, "blob\nmark :1\n"))
	assert.Contains(t, output2, "done\n")
}

func TestTagsAfterReferencedCommit(t *testing.T) {
	b := newRepoBuilder()
	a1 := b.rev("a.c", "A1\n")
	a2 := b.rev("a.c", "A2\n")
	t0 := b.commit("ada", "t0", 10, nil, a1)
	t1 := b.commit("ada", "t1", 20, t0, a2)
	b.head("master", t1)
	b.tag("v1", t0)
	repo := b.build()

	output, _ := runExport(t, repo, canonicalOpts(t))
	tagPos := strings.Index(output, "reset refs/tags/v1\nfrom :2\n\n")
	assert.Positive(t, tagPos)
	// Tag appears after t0's record and before t1's
	assert.Less(t, strings.Index(output, "mark :2"), tagPos)
	assert.Greater(t, strings.Index(output, "mark :4"), tagPos)
}

func TestForceDates(t *testing.T) {
	b := newRepoBuilder()
	r := b.rev("a.c", "A\n")
	c := b.commit("ada", "x", 999999, nil, r)
	b.head("master", c)
	repo := b.build()

	opts := canonicalOpts(t)
	opts.ForceDates = true
	opts.CommitTimeWindow = 5
	output, _ := runExport(t, repo, opts)
	// commit mark is 2: 100000 + 2*5*2 = 100020
	assert.Contains(t, output, "committer ada <ada> 100020 +0000\n")
}

func TestIncremental(t *testing.T) {
	b := newRepoBuilder()
	a1 := b.rev("a.c", "A1\n")
	a2 := b.rev("a.c", "A2\n")
	t0 := b.commit("ada", "t0", 50, nil, a1)
	t1 := b.commit("ada", "t1", 150, t0, a2)
	b.head("master", t1)
	repo := b.build()

	opts := canonicalOpts(t)
	opts.FromTime = 100
	output, _ := runExport(t, repo, opts)

	// t0 is suppressed entirely
	assert.NotContains(t, output, "data 2\nt0\n")
	assert.NotContains(t, output, "mark :1\ndata 3\nA1")
	// The first passing commit realizes the branch boundary
	boundary := strings.Index(output, "from refs/heads/master^0\n\n")
	assert.GreaterOrEqual(t, boundary, 0)
	commitPos := strings.Index(output, "commit refs/heads/master\n")
	assert.Greater(t, commitPos, boundary)
	assert.Contains(t, output, "data 2\nt1\n")
	// Suppressed commits still allocate marks for cross-run alignment
	assert.Contains(t, output, "mark :4\n")
	assert.Contains(t, output, "reset refs/heads/master\nfrom :4\n\n")
}

func TestIncrementalAllPassingHasNoBoundary(t *testing.T) {
	b := newRepoBuilder()
	a1 := b.rev("a.c", "A1\n")
	a2 := b.rev("a.c", "A2\n")
	t0 := b.commit("ada", "t0", 150, nil, a1)
	t1 := b.commit("ada", "t1", 250, t0, a2)
	b.head("master", t1)
	repo := b.build()

	opts := canonicalOpts(t)
	opts.FromTime = 100
	output, _ := runExport(t, repo, opts)
	assert.NotContains(t, output, "^0")
	assert.Contains(t, output, "data 2\nt0\n")
	assert.Contains(t, output, "data 2\nt1\n")
}

func TestIgnoresEmittedOnce(t *testing.T) {
	b := newRepoBuilder()
	a1 := b.rev("a.c", "A1\n")
	a2 := b.rev("a.c", "A2\n")
	t0 := b.commit("ada", "t0", 10, nil, a1)
	t1 := b.commit("ada", "t1", 20, t0, a2)
	b.head("master", t1)
	repo := b.build()

	output, _ := runExport(t, repo, canonicalOpts(t))
	assert.Equal(t, 1, strings.Count(output, "M 100644 inline .gitignore\n"))
}

func TestDeterminism(t *testing.T) {
	build := func() *rcs.Repo {
		b := newRepoBuilder()
		a1 := b.rev("a.c", "A1\n")
		a2 := b.rev("a.c", "A2\n")
		b1 := b.rev("sub/b.c", "B1\n")
		t0 := b.commit("ada", "t0", 10, nil, a1)
		t1 := b.commit("ada", "t1", 20, t0, a2, b1)
		b.head("master", t1)
		b.tag("v1", t1)
		return b.build()
	}
	opts1 := canonicalOpts(t)
	opts2 := canonicalOpts(t)
	out1, _ := runExport(t, build(), opts1)
	out2, _ := runExport(t, build(), opts2)
	assert.Equal(t, out1, out2)
}

func TestStagingCleanup(t *testing.T) {
	tmp := t.TempDir()
	b := newRepoBuilder()
	r := b.rev("a.c", "A\n")
	c := b.commit("ada", "x", 1, nil, r)
	b.head("master", c)
	repo := b.build()

	opts := canonicalOpts(t)
	opts.TmpDir = tmp
	var buf bytes.Buffer
	_, err := Commits(repo, opts, &buf, createLogger())
	assert.NoError(t, err)

	entries, err := os.ReadDir(tmp)
	assert.NoError(t, err)
	assert.Equal(t, 0, len(entries), "staging directory left behind")
}

func TestUnsortableFallsBackToBranchOrder(t *testing.T) {
	b := newRepoBuilder()
	a1 := b.rev("a.c", "A1\n")
	a2 := b.rev("a.c", "A2\n")
	p := b.commit("ada", "newer-parent", 100, nil, a1)
	c := b.commit("ada", "older-child", 50, p, a2)
	b.head("master", c)
	repo := b.build()

	output, stats := runExport(t, repo, canonicalOpts(t))
	assert.True(t, stats.Unsortable)
	// Per-branch forward order still defines marks before use
	checkMarks(t, output)
	assert.Less(t,
		strings.Index(output, "data 12\nnewer-parent\n"),
		strings.Index(output, "data 11\nolder-child\n"))
}

func TestReposurgeonProperty(t *testing.T) {
	b := newRepoBuilder()
	r := b.rev("a.c", "A\n")
	c := b.commit("ada", "x", 1, nil, r)
	b.head("master", c)
	repo := b.build()

	opts := canonicalOpts(t)
	opts.Reposurgeon = true
	output, _ := runExport(t, repo, opts)
	pair := "a.c 1.1\n"
	assert.Contains(t, output, fmt.Sprintf("property cvs-revision %d %s", len(pair), pair))
}

func TestEmbedIDs(t *testing.T) {
	b := newRepoBuilder()
	r := b.rev("a.c", "A\n")
	c := b.commit("ada", "fix bug", 1, nil, r)
	b.head("master", c)
	repo := b.build()

	opts := canonicalOpts(t)
	opts.EmbedIDs = true
	output, _ := runExport(t, repo, opts)
	log := "fix bug"
	pairs := "CVS-ID: a.c 1.1\n"
	assert.Contains(t, output,
		fmt.Sprintf("data %d\n%s\n%s\n", len(log)+len(pairs)+1, log, pairs))
}

func TestRevisionMap(t *testing.T) {
	b := newRepoBuilder()
	r := b.rev("a.c", "A\n")
	s := b.rev("sub/b.c", "B\n")
	c := b.commit("ada", "x", 1, nil, r, s)
	b.head("master", c)
	repo := b.build()

	var mapBuf bytes.Buffer
	opts := canonicalOpts(t)
	rm := revmap.New(&mapBuf)
	opts.RevisionMap = rm
	runExport(t, repo, opts)
	assert.NoError(t, rm.Close())

	// Commit mark is 3 (two blobs precede it)
	assert.Contains(t, mapBuf.String(), "a.c 1.1 :3\n")
	assert.Contains(t, mapBuf.String(), "sub/b.c 1.1 :3\n")
}

func TestAuthorMapApplied(t *testing.T) {
	b := newRepoBuilder()
	r := b.rev("a.c", "A\n")
	c := b.commit("ferd", "x", 1000000000, nil, r)
	b.head("master", c)
	repo := b.build()

	opts := canonicalOpts(t)
	opts.AuthorMap = rcs.AuthorMap{
		"ferd": {Full: "Ferd J. Foonly", Email: "foonly@foo.com", Timezone: "America/New_York"},
	}
	output, _ := runExport(t, repo, opts)
	assert.Contains(t, output, "committer Ferd J. Foonly <foonly@foo.com> 1000000000 -0400\n")
}

func TestAuthorsDump(t *testing.T) {
	b := newRepoBuilder()
	a1 := b.rev("a.c", "A1\n")
	a2 := b.rev("a.c", "A2\n")
	t0 := b.commit("ada", "t0", 10, nil, a1)
	t1 := b.commit("bob", "t1", 20, t0, a2)
	b.head("master", t1)
	repo := b.build()

	var buf bytes.Buffer
	assert.NoError(t, Authors(repo, &buf))
	assert.Equal(t, "ada\nbob\n", buf.String())
}

func TestGraphOutput(t *testing.T) {
	b := newRepoBuilder()
	a1 := b.rev("a.c", "A1\n")
	a2 := b.rev("a.c", "A2\n")
	t0 := b.commit("ada", "t0", 10, nil, a1)
	t1 := b.commit("ada", "t1", 20, t0, a2)
	b.head("master", t1)
	repo := b.build()

	var graphBuf bytes.Buffer
	opts := canonicalOpts(t)
	opts.GraphWriter = &graphBuf
	runExport(t, repo, opts)

	g := graphBuf.String()
	assert.Contains(t, g, "digraph")
	assert.Contains(t, g, "Commit: 2 master")
	assert.Contains(t, g, "Commit: 4 master")
}

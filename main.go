package main

// cvsgitexport program
// This processes a git fast-export file (as produced by CVS converters or
// git itself) and re-emits it as a git fast-import stream in canonical or
// fast order:
//   * blobs staged on disk and replayed next to the first referencing
//     commit (canonical), or streamed inline ahead of the branch (fast)
//   * commit records with minimal fileops recomputed against each parent
//   * reset records for branches and tags, trailing "done"
//
// Design:
// The main loop Parse():
//     Reads the next record from the git file using libfastimport
//     Blob payloads are remembered by mark for the whole parse; each
//     commit that references one turns it into a file revision
//     Commit records are replayed against a per-branch manifest tree so
//     every commit gets its full snapshot, with unchanged files sharing
//     their parent's revisions
// The assembled history (branch heads chained backward through parents,
// plus tags) is then handed to the export engine which owns ordering,
// marks, staging and emission.

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/profile"
	libfastimport "github.com/rcowham/go-libgitfastimport"

	"github.com/rcowham/cvsgitexport/config"
	"github.com/rcowham/cvsgitexport/export"
	"github.com/rcowham/cvsgitexport/node"
	"github.com/rcowham/cvsgitexport/rcs"
	"github.com/rcowham/cvsgitexport/revmap"

	"github.com/perforce/p4prometheus/version"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

var defaultAuthor = "cvs-user" // Default user if none found

type ParserOptions struct {
	config     *config.Config
	importFile string
	maxCommits int
}

func getUserFromEmail(email string) string {
	if email == "" {
		return defaultAuthor
	}
	parts := strings.Split(email, "@")
	if len(parts) > 0 && parts[0] != "" {
		return parts[0]
	}
	return defaultAuthor
}

func getOID(dataref string) (int, error) {
	if !strings.HasPrefix(dataref, ":") {
		return 0, errors.New("invalid dataref")
	}
	return strconv.Atoi(dataref[1:])
}

type fileAction struct {
	modify  bool
	copy    bool
	path    string
	srcPath string // rename/copy source
	mode    libfastimport.Mode
	oid     int
}

type pendingCommit struct {
	commit *libfastimport.CmdCommit
	files  []fileAction
}

// CvsGitExport - rebuild a history model from a fast-export stream
type CvsGitExport struct {
	logger        *logrus.Logger
	opts          ParserOptions
	repo          *rcs.Repo
	blobs         map[int][]byte        // payloads by input mark, kept for the whole parse
	commits       map[int]*rcs.Commit   // by input mark
	branchOf      map[*rcs.Commit]string
	lastOnBranch  map[string]*rcs.Commit
	filesOnBranch map[string]*node.Node // current state of the tree per branch
	heads         map[string]*rcs.Head
	revSeq        map[string]int            // next revision number per path
	sources       map[string]*rcs.FileSource // one blob source per path
	sourceOrder   []string
	totalRevs     int
	testInput     string // For testing only
}

func NewCvsGitExport(logger *logrus.Logger, opts *ParserOptions) *CvsGitExport {
	return &CvsGitExport{logger: logger,
		opts:          *opts,
		repo:          rcs.NewRepo(),
		blobs:         make(map[int][]byte),
		commits:       make(map[int]*rcs.Commit),
		branchOf:      make(map[*rcs.Commit]string),
		lastOnBranch:  make(map[string]*rcs.Commit),
		filesOnBranch: make(map[string]*node.Node),
		heads:         make(map[string]*rcs.Head),
		revSeq:        make(map[string]int),
		sources:       make(map[string]*rcs.FileSource),
	}
}

func branchName(ref string) string {
	return strings.Replace(ref, "refs/heads/", "", 1)
}

// parent resolves the commit a pending commit chains from.
func (c *CvsGitExport) parent(pc *pendingCommit, branch string) *rcs.Commit {
	if pc.commit.From != "" {
		if mark, err := strconv.Atoi(pc.commit.From[1:]); err == nil {
			if p, ok := c.commits[mark]; ok {
				return p
			}
			c.logger.Errorf("Failed to find parent from: %s", pc.commit.From)
		}
		return nil
	}
	return c.lastOnBranch[branch]
}

// manifest returns the branch's file tree, branching it off the parent's
// when this commit opens a new branch.
func (c *CvsGitExport) manifest(branch string, parent *rcs.Commit) *node.Node {
	if n, ok := c.filesOnBranch[branch]; ok {
		return n
	}
	if parent != nil {
		if pn, ok := c.filesOnBranch[c.branchOf[parent]]; ok {
			n := pn.Copy()
			c.filesOnBranch[branch] = n
			return n
		}
	}
	n := node.NewNode("")
	c.filesOnBranch[branch] = n
	return n
}

// addRev turns a modify action into a file revision with its payload.
func (c *CvsGitExport) addRev(manifest *node.Node, path string, mode libfastimport.Mode, data []byte) {
	rectified := export.Rectify(path, c.opts.config.StripPrefix)
	c.revSeq[rectified]++
	fmode := uint16(0644)
	if mode == libfastimport.ModeExe {
		fmode = 0755
	}
	rev := &rcs.FileRev{
		Name:   c.repo.Atoms.Intern(rectified),
		Number: rcs.Number{1, c.revSeq[rectified]},
		Mode:   fmode,
	}
	manifest.AddRev(rev)
	src, ok := c.sources[rectified]
	if !ok {
		src = &rcs.FileSource{}
		c.sources[rectified] = src
		c.sourceOrder = append(c.sourceOrder, rectified)
	}
	src.Revs = append(src.Revs, rcs.RevBlob{Rev: rev, Data: data})
	c.totalRevs++
}

// sourceData finds the payload of an already-registered revision.
func (c *CvsGitExport) sourceData(rev *rcs.FileRev) []byte {
	for _, rb := range c.sources[rev.Name.Name].Revs {
		if rb.Rev == rev {
			return rb.Data
		}
	}
	return nil
}

// processCommit replays a buffered commit against its branch manifest and
// appends the resulting snapshot commit to the history.
func (c *CvsGitExport) processCommit(pc *pendingCommit) {
	if pc == nil {
		return
	}
	branch := branchName(pc.commit.Ref)
	parent := c.parent(pc, branch)
	manifest := c.manifest(branch, parent)

	for _, fa := range pc.files {
		if fa.modify {
			data, ok := c.blobs[fa.oid]
			if !ok {
				c.logger.Errorf("Failed to find blob: %d", fa.oid)
				continue
			}
			c.addRev(manifest, fa.path, fa.mode, data)
		} else if fa.copy {
			src := manifest.FindRev(export.Rectify(fa.srcPath, c.opts.config.StripPrefix))
			if src == nil {
				c.logger.Warnf("Copy of unknown file ignored: %s", fa.srcPath)
				continue
			}
			c.addRev(manifest, fa.path, fa.mode, c.sourceData(src))
		} else if fa.srcPath != "" {
			// Rename: the source leaves the snapshot, the target keeps its payload
			src := manifest.FindRev(export.Rectify(fa.srcPath, c.opts.config.StripPrefix))
			if src == nil {
				c.logger.Warnf("Rename of unknown file ignored: %s", fa.srcPath)
				continue
			}
			data := c.sourceData(src)
			manifest.DeleteFile(src.Name.Name)
			c.addRev(manifest, fa.path, fa.mode, data)
		} else {
			manifest.DeleteFile(export.Rectify(fa.path, c.opts.config.StripPrefix))
		}
	}

	revs := manifest.GetRevs("")
	dirs := rcs.BuildDirs(revs)
	cmt := &rcs.Commit{
		Author: getUserFromEmail(pc.commit.Author.Email),
		Log:    strings.TrimSuffix(pc.commit.Msg, "\n"),
		Date:   pc.commit.Author.Time.Unix(),
		Parent: parent,
		Tail:   parent != nil && c.branchOf[parent] != branch,
		Dirs:   dirs,
		Bloom:  rcs.SnapshotBloom(dirs),
	}
	c.commits[pc.commit.Mark] = cmt
	c.branchOf[cmt] = branch
	c.lastOnBranch[branch] = cmt
	c.repo.TotalRevisions = c.totalRevs

	if h, ok := c.heads[branch]; ok {
		h.Commit = cmt
	} else {
		h = &rcs.Head{RefName: branch, Commit: cmt}
		c.heads[branch] = h
		c.repo.Heads = append(c.repo.Heads, h)
	}
}

// Parse reads the whole fast-export stream into the history model.
func (c *CvsGitExport) Parse() (*rcs.Repo, error) {
	var buf io.Reader

	if c.testInput != "" {
		buf = strings.NewReader(c.testInput)
	} else {
		file, err := os.Open(c.opts.importFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open file '%s': %v", c.opts.importFile, err)
		}
		defer file.Close()
		buf = bufio.NewReader(file)
	}

	var curr *pendingCommit
	commitCount := 0

	f := libfastimport.NewFrontend(buf, nil, nil)
CmdLoop:
	for {
		cmd, err := f.ReadCmd()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to read cmd: %v", err)
		}
		switch ctype := cmd.(type) {
		case libfastimport.CmdBlob:
			blob := cmd.(libfastimport.CmdBlob)
			c.logger.Debugf("Blob: Mark:%d Size:%s", blob.Mark, humanize.Bytes(uint64(len(blob.Data))))
			c.blobs[blob.Mark] = []byte(blob.Data)
			c.repo.TextSize += len(blob.Data)

		case libfastimport.CmdReset:
			reset := cmd.(libfastimport.CmdReset)
			c.logger.Debugf("Reset: - %+v", reset)

		case libfastimport.CmdCommit:
			commit := cmd.(libfastimport.CmdCommit)
			c.logger.Debugf("Commit: %+v", commit)
			curr = &pendingCommit{commit: &commit}

		case libfastimport.CmdCommitEnd:
			c.processCommit(curr)
			curr = nil
			commitCount++
			if c.opts.maxCommits > 0 && commitCount >= c.opts.maxCommits {
				c.logger.Infof("Processed %d commits", commitCount)
				break CmdLoop
			}

		case libfastimport.FileModify:
			fm := cmd.(libfastimport.FileModify)
			c.logger.Debugf("FileModify: %+v", fm)
			oid, err := getOID(fm.DataRef)
			if err != nil {
				c.logger.Errorf("Failed to get oid: %+v", fm)
				continue
			}
			curr.files = append(curr.files, fileAction{modify: true, path: string(fm.Path), mode: fm.Mode, oid: oid})

		case libfastimport.FileDelete:
			fd := cmd.(libfastimport.FileDelete)
			c.logger.Debugf("FileDelete: Path:%s", fd.Path)
			curr.files = append(curr.files, fileAction{path: string(fd.Path)})

		case libfastimport.FileCopy:
			fc := cmd.(libfastimport.FileCopy)
			c.logger.Debugf("FileCopy: Src:%s Dst:%s", fc.Src, fc.Dst)
			curr.files = append(curr.files, fileAction{copy: true, path: string(fc.Dst), srcPath: string(fc.Src)})

		case libfastimport.FileRename:
			fr := cmd.(libfastimport.FileRename)
			c.logger.Debugf("FileRename: Src:%s Dst:%s", fr.Src, fr.Dst)
			curr.files = append(curr.files, fileAction{path: string(fr.Dst), srcPath: string(fr.Src)})

		case libfastimport.CmdTag:
			t := cmd.(libfastimport.CmdTag)
			c.logger.Debugf("CmdTag: %+v", t)
			if mark, err := strconv.Atoi(strings.TrimPrefix(t.CommitIsh, ":")); err == nil {
				if cmt, ok := c.commits[mark]; ok {
					c.repo.Tags = append(c.repo.Tags, &rcs.Tag{Name: t.RefName, Commit: cmt})
				}
			}

		default:
			c.logger.Errorf("Not handled - found ctype %v cmd %+v", ctype, cmd)
		}
	}
	c.processCommit(curr)
	c.repo.Sources = make([]rcs.BlobSource, 0, len(c.sourceOrder))
	for _, p := range c.sourceOrder {
		c.repo.Sources = append(c.repo.Sources, c.sources[p])
	}
	return c.repo, nil
}

func main() {
	var (
		configFile = kingpin.Flag(
			"config",
			"Config file for cvsgitexport.",
		).Default("cvsgitexport.yaml").Short('c').String()
		gitimport = kingpin.Arg(
			"gitimport",
			"Git fast-export file to process.",
		).String()
		reportMode = kingpin.Flag(
			"report.mode",
			"Output order: fast/canonical/adaptive (overrides config).",
		).Short('r').String()
		branchPrefix = kingpin.Flag(
			"branch.prefix",
			"Prefix prepended to branch refs (overrides config).",
		).String()
		forceDates = kingpin.Flag(
			"force.dates",
			"Synthesize monotonic timestamps from marks.",
		).Bool()
		reposurgeon = kingpin.Flag(
			"reposurgeon",
			"Emit reposurgeon cvs-revision properties.",
		).Bool()
		embedIDs = kingpin.Flag(
			"embed.ids",
			"Embed CVS-ID lines in commit logs.",
		).Bool()
		revMapFile = kingpin.Flag(
			"revision.map",
			"File to write <path> <rev> :<mark> lines to.",
		).String()
		fromTime = kingpin.Flag(
			"fromtime",
			"Incremental lower bound (epoch seconds, forces canonical).",
		).Int64()
		authorMapFile = kingpin.Flag(
			"authormap",
			"Author map file (overrides config).",
		).Short('A').String()
		authorsDump = kingpin.Flag(
			"authors",
			"Dump author ids instead of exporting.",
		).Bool()
		outputGraph = kingpin.Flag(
			"graphfile",
			"Graphviz dot file to output the commit structure to.",
		).String()
		outputFile = kingpin.Flag(
			"output",
			"Output file for the fast-import stream (default stdout).",
		).Short('o').String()
		maxCommits = kingpin.Flag(
			"max.commits",
			"Max no of commits to process.",
		).Short('m').Int()
		profileRun = kingpin.Flag(
			"profile",
			"Write a CPU profile for this run.",
		).Bool()
		debug = kingpin.Flag(
			"debug",
			"Enable debugging level.",
		).Int()
	)
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version(version.Print("cvsgitexport")).Author("Robert Cowham")
	kingpin.CommandLine.Help = "Parses a git fast-export file and re-emits it as a canonical fast-import stream\n"
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	if *profileRun {
		defer profile.Start(profile.ProfilePath(".")).Stop()
	}

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug > 0 {
		logger.Level = logrus.DebugLevel
	}
	cfg, err := config.LoadConfigFile(*configFile)
	if err != nil {
		if *configFile != "cvsgitexport.yaml" {
			logger.Errorf("error loading config file: %v", err)
			os.Exit(-1)
		}
		cfg, _ = config.Unmarshal([]byte(""))
	}
	if *reportMode != "" {
		cfg.ReportMode = *reportMode
	}
	if *branchPrefix != "" {
		cfg.BranchPrefix = *branchPrefix
	}
	if *forceDates {
		cfg.ForceDates = true
	}
	if *reposurgeon {
		cfg.Reposurgeon = true
	}
	if *embedIDs {
		cfg.EmbedIDs = true
	}
	if *fromTime > 0 {
		cfg.FromTime = *fromTime
	}
	if *authorMapFile != "" {
		cfg.AuthorMap = *authorMapFile
	}
	startTime := time.Now()
	logger.Infof("%v", version.Print("cvsgitexport"))
	logger.Infof("Starting %s, gitimport: %v", startTime, *gitimport)

	popts := &ParserOptions{
		config:     cfg,
		importFile: *gitimport,
		maxCommits: *maxCommits,
	}
	logger.Infof("Options: %+v", popts)
	c := NewCvsGitExport(logger, popts)
	repo, err := c.Parse()
	if err != nil {
		logger.Errorf("error parsing input: %v", err)
		os.Exit(-1)
	}

	if *authorsDump {
		if err := export.Authors(repo, os.Stdout); err != nil {
			logger.Errorf("error dumping authors: %v", err)
			os.Exit(-1)
		}
		return
	}

	opts := export.Options{
		ReportMode:       export.ParseReportMode(cfg.ReportMode),
		BranchPrefix:     cfg.BranchPrefix,
		ForceDates:       cfg.ForceDates,
		Reposurgeon:      cfg.Reposurgeon,
		EmbedIDs:         cfg.EmbedIDs,
		FromTime:         cfg.FromTime,
		CommitTimeWindow: cfg.CommitTimeWindow,
		CompressBlobs:    cfg.CompressBlobs,
		StripPrefix:      cfg.StripPrefix,
	}
	if cfg.AuthorMap != "" {
		amap, err := rcs.LoadAuthorMap(cfg.AuthorMap)
		if err != nil {
			logger.Errorf("error loading authormap: %v", err)
			os.Exit(-1)
		}
		opts.AuthorMap = amap
	}
	if *revMapFile != "" {
		rm, err := revmap.Create(*revMapFile)
		if err != nil {
			logger.Errorf("error creating revision map: %v", err)
			os.Exit(-1)
		}
		defer rm.Close()
		opts.RevisionMap = rm
	}
	var graphFile *os.File
	if *outputGraph != "" {
		graphFile, err = os.Create(*outputGraph)
		if err != nil {
			logger.Errorf("error creating graph file: %v", err)
			os.Exit(-1)
		}
		defer graphFile.Close()
		opts.GraphWriter = graphFile
	}

	out := os.Stdout
	if *outputFile != "" {
		out, err = os.Create(*outputFile)
		if err != nil {
			logger.Errorf("error creating output file: %v", err)
			os.Exit(-1)
		}
		defer out.Close()
	}

	stats, err := export.Commits(repo, opts, out, logger)
	if err != nil {
		logger.Errorf("export failed: %v", err)
		os.Exit(-1)
	}
	logger.Infof("Exported %d commits, snapshot data %s", stats.TotalCommits, humanize.Bytes(uint64(stats.SnapSize)))
}

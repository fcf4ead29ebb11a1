package main

// exportgraph program
// This processes a git fast-import/export file and writes the following:
//   * a graph file (graphviz dot format) showing commit relationships
//   * optionally a rendered PNG of the same graph
// Useful for eyeballing the branch structure a conversion produced.

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emicklei/dot"
	"github.com/goccy/go-graphviz"
	libfastimport "github.com/rcowham/go-libgitfastimport"

	"github.com/perforce/p4prometheus/version"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

var defaultUser = "cvs-user" // Default user if none found

type ExportGraphOptions struct {
	exportFile  string
	graphFile   string
	pngFile     string
	firstCommit int
	lastCommit  int
	maxCommits  int
	squash      bool
}

// GraphCommit - one commit of the parsed stream
type GraphCommit struct {
	commit       *libfastimport.CmdCommit
	user         string
	branch       string // branch name
	label        string // node label
	parentBranch string
	childCount   int
	mergeCount   int
	hasNode      bool
	gNode        dot.Node
}

// hasPrefix tests whether the string s begins with prefix (or is prefix)
func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

func getUserFromEmail(email string) string {
	if email == "" {
		return defaultUser
	}
	parts := strings.Split(email, "@")
	if len(parts) > 0 && parts[0] != "" {
		return parts[0]
	}
	return defaultUser
}

func newGraphCommit(commit *libfastimport.CmdCommit) *GraphCommit {
	user := getUserFromEmail(commit.Author.Email)
	gc := &GraphCommit{commit: commit, user: user}
	gc.branch = strings.Replace(commit.Ref, "refs/heads/", "", 1)
	if hasPrefix(gc.branch, "refs/tags") || hasPrefix(gc.branch, "refs/remote") {
		gc.branch = ""
	}
	gc.label = fmt.Sprintf("Commit: %d %s", gc.commit.Mark, gc.branch)
	return gc
}

// ExportGraph - graph a fast-import stream
type ExportGraph struct {
	logger    *logrus.Logger
	opts      ExportGraphOptions
	commits   map[int]*GraphCommit
	testInput string     // For testing only
	graph     *dot.Graph
}

func NewExportGraph(logger *logrus.Logger, opts *ExportGraphOptions) *ExportGraph {
	return &ExportGraph{logger: logger,
		opts:    *opts,
		commits: make(map[int]*GraphCommit)}
}

// ParseStream - incrementally parse the file, building the commit graph
func (g *ExportGraph) ParseStream() {
	var buf io.Reader

	if g.testInput != "" {
		buf = strings.NewReader(g.testInput)
	} else {
		file, err := os.Open(g.opts.exportFile)
		if err != nil {
			fmt.Printf("ERROR: Failed to open file '%s': %v\n", g.opts.exportFile, err)
			os.Exit(1)
		}
		defer file.Close()
		buf = bufio.NewReader(file)
	}

	var cmt *GraphCommit
	lastBranchCommit := make(map[string]int, 0) // Record last commit per branch
	branchSkipCount := make(map[string]int, 0)  // Record how many have been skipped per branch

	f := libfastimport.NewFrontend(buf, nil, nil)
CmdLoop:
	for {
		cmd, err := f.ReadCmd()
		if err != nil {
			if err != io.EOF {
				g.logger.Errorf("Failed to read cmd: %v", err)
				panic("Unrecoverable error")
			} else {
				break
			}
		}
		switch cmd.(type) {
		case libfastimport.CmdCommit:
			commit := cmd.(libfastimport.CmdCommit)
			g.logger.Infof("Commit:  %+v", commit)
			cmt = newGraphCommit(&commit)
			g.commits[commit.Mark] = cmt
			if cmt.commit.From != "" {
				if intVar, err := strconv.Atoi(cmt.commit.From[1:]); err == nil {
					parent := g.commits[intVar]
					if parent != nil {
						parent.childCount += 1
						if cmt.branch == "" {
							cmt.branch = parent.branch
						}
						cmt.parentBranch = parent.branch
					}
				}
			} else {
				cmt.branch = "main"
			}
			if len(cmt.commit.Merge) > 0 {
				for _, merge := range cmt.commit.Merge {
					if intVar, err := strconv.Atoi(merge[1:]); err == nil {
						mergeCmt := g.commits[intVar]
						if mergeCmt != nil {
							mergeCmt.mergeCount += 1
						}
					}
				}
			}
			if g.opts.maxCommits != 0 && len(g.commits) >= g.opts.maxCommits {
				break CmdLoop
			}

		default:
		}
	}
	keys := make([]int, 0)
	for k := range g.commits {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	// Now we create graph nodes as appropriate
	for _, k := range keys {
		cmt := g.commits[k]
		if (g.opts.firstCommit == 0 || cmt.commit.Mark >= g.opts.firstCommit) &&
			(g.opts.lastCommit == 0 || cmt.commit.Mark <= g.opts.lastCommit) {
			if !g.opts.squash ||
				cmt.branch != cmt.parentBranch ||
				len(cmt.commit.Merge) > 0 ||
				cmt.mergeCount != 0 ||
				cmt.childCount > 1 ||
				cmt.commit.Mark == g.opts.firstCommit ||
				cmt.commit.Mark == g.opts.lastCommit {
				if pid, ok := lastBranchCommit[cmt.branch]; ok {
					cmt.commit.From = fmt.Sprintf(":%d", pid) // reset parent
				}
				cmt.gNode = g.graph.Node(cmt.label)
				cmt.hasNode = true
				g.createGraphEdges(cmt, branchSkipCount[cmt.branch])
				lastBranchCommit[cmt.branch] = cmt.commit.Mark
				branchSkipCount[cmt.branch] = 0
			} else {
				branchSkipCount[cmt.branch] += 1
			}
		}
	}
}

func (g *ExportGraph) createGraphEdges(cmt *GraphCommit, skipCount int) {
	if cmt == nil {
		return
	}
	if cmt.commit.From != "" {
		if intVar, err := strconv.Atoi(cmt.commit.From[1:]); err == nil {
			parent := g.commits[intVar]
			if parent != nil {
				parent.gNode = g.graph.Node(parent.label)
				label := "p"
				if skipCount > 0 {
					label = fmt.Sprintf("p%d", skipCount)
				}
				g.graph.Edge(parent.gNode, cmt.gNode, label)
			}
		}
	}
	if len(cmt.commit.Merge) < 1 {
		return
	}
	for _, merge := range cmt.commit.Merge {
		if intVar, err := strconv.Atoi(merge[1:]); err == nil {
			mergeFrom := g.commits[intVar]
			if mergeFrom != nil {
				mergeFrom.gNode = g.graph.Node(mergeFrom.label)
				g.graph.Edge(mergeFrom.gNode, cmt.gNode, "m")
			}
		}
	}
}

// renderPNG rasterizes the dot output
func renderPNG(dotStr string, pngFile string) error {
	gv := graphviz.New()
	graph, err := graphviz.ParseBytes([]byte(dotStr))
	if err != nil {
		return err
	}
	defer func() {
		graph.Close()
		gv.Close()
	}()
	return gv.RenderFilename(graph, graphviz.PNG, pngFile)
}

func main() {
	var (
		exportFile = kingpin.Arg(
			"exportfile",
			"Fast-import/export file to process.",
		).String()
		maxCommits = kingpin.Flag(
			"max.commits",
			"Max no of commits to process (default 0 means all).",
		).Default("0").Short('m').Int()
		outputGraph = kingpin.Flag(
			"output",
			"Graphviz dot file to output commit structure to.",
		).Short('o').String()
		outputPNG = kingpin.Flag(
			"png",
			"Optional PNG file to render the graph to.",
		).String()
		graphFirstCommit = kingpin.Flag(
			"first.commit",
			"ID of first commit to include in graph output (default 0 means all commits).",
		).Default("0").Short('f').Int()
		graphLastCommit = kingpin.Flag(
			"last.commit",
			"ID of last commit to include in graph output (default of 0 means all commits).",
		).Default("0").Short('l').Int()
		squash = kingpin.Flag(
			"squash",
			"Squash commits (leaving branches/merges only).",
		).Short('s').Bool()
		debug = kingpin.Flag(
			"debug",
			"Enable debugging level.",
		).Default("0").Int()
	)
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version(version.Print("exportgraph")).Author("Robert Cowham")
	kingpin.CommandLine.Help = "Parses a git fast-import/export file to create a graphviz DOT file\n"
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug > 0 {
		logger.Level = logrus.DebugLevel
	}
	startTime := time.Now()
	logger.Infof("%v", version.Print("exportgraph"))
	logger.Infof("Starting %s, exportfile: %v", startTime, *exportFile)

	opts := &ExportGraphOptions{
		exportFile:  *exportFile,
		maxCommits:  *maxCommits,
		graphFile:   *outputGraph,
		pngFile:     *outputPNG,
		firstCommit: *graphFirstCommit,
		lastCommit:  *graphLastCommit,
		squash:      *squash,
	}
	logger.Infof("Options: %+v", opts)
	logger.Infof("OS: %s/%s", runtime.GOOS, runtime.GOARCH)
	g := NewExportGraph(logger, opts)
	g.graph = dot.NewGraph(dot.Directed)
	g.ParseStream()
	f, err := os.OpenFile(g.opts.graphFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		g.logger.Error(err)
	}
	defer f.Close()

	f.Write([]byte(g.graph.String()))

	if g.opts.pngFile != "" {
		if err := renderPNG(g.graph.String(), g.opts.pngFile); err != nil {
			g.logger.Errorf("Failed to render PNG: %v", err)
		}
	}
}

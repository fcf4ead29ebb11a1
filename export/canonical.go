package export

import (
	"sort"
	"strings"

	"github.com/rcowham/cvsgitexport/rcs"
)

// exportNCommit returns a count of exportable commits.
func exportNCommit(repo *rcs.Repo) int {
	n := 0
	for _, h := range repo.Heads {
		if h.Tail {
			continue
		}
		for c := h.Commit; c != nil; c = c.Parent {
			n++
			if c.Tail {
				break
			}
		}
	}
	return n
}

type commitSeq struct {
	commit   *rcs.Commit
	head     *rcs.Head
	realized bool
}

// compareCommit attempts the mathematically impossible total ordering on
// the DAG: date first, children biased after parents on ties, then
// arbitrary-but-deterministic fallbacks so as few cases as possible are
// left to chance.
func compareCommit(ac, bc *rcs.Commit) int {
	if ac.Date != bc.Date {
		if ac.Date < bc.Date {
			return -1
		}
		return 1
	}
	if bc == ac.Parent || (ac.Parent != nil && bc == ac.Parent.Parent) {
		return 1
	}
	if ac == bc.Parent || (bc.Parent != nil && ac == bc.Parent.Parent) {
		return -1
	}
	if cmp := strings.Compare(ac.Author, bc.Author); cmp != 0 {
		return cmp
	}
	return strings.Compare(ac.Log, bc.Log)
}

// sortCompare orders two history entries; older parents drag tied
// commits back in time (in effect).
func sortCompare(a, b *commitSeq) int {
	ac, bc := a.commit, b.commit
	for {
		if ac == bc {
			return 0
		}
		if cmp := compareCommit(ac, bc); cmp != 0 {
			return cmp
		}
		if ac.Parent != nil && bc.Parent != nil {
			ac = ac.Parent
			bc = bc.Parent
			continue
		}
		return 0
	}
}

// canonicalize copies the branch histories into one flat array in
// per-branch forward order.
//
// Commits are in reverse order on per-branch chains, and the branches
// have to ship in their declaration order or some marks may not be
// resolved. Each branch gets a contiguous span filled back to front, so
// every parent lands before every child: within a branch trivially, and
// across branches because cross-branch parents only point backward into
// an already-placed branch.
func canonicalize(repo *rcs.Repo, total int) []commitSeq {
	history := make([]commitSeq, total)
	branchbase := 0
	for _, h := range repo.Heads {
		if h.Tail {
			continue
		}
		branchlength := 0
		for c := h.Commit; c != nil; c = branchNext(c) {
			branchlength++
		}
		i := 0
		for c := h.Commit; c != nil; c = branchNext(c) {
			// copy commits in reverse order into this branch's span
			n := branchbase + branchlength - (i + 1)
			history[n] = commitSeq{commit: c, head: h}
			i++
		}
		branchbase += branchlength
	}
	return history
}

func branchNext(c *rcs.Commit) *rcs.Commit {
	if c.Tail {
		return nil
	}
	return c.Parent
}

// sortable checks that topo order is consistent with time order. If so,
// commits can be sorted by date without shipping a mark before it is
// defined.
func sortable(history []commitSeq) bool {
	for i := range history {
		c := history[i].commit
		if c.Parent != nil && c.Parent.Date > c.Date {
			return false
		}
	}
	return true
}

func sortByDate(history []commitSeq) {
	sort.SliceStable(history, func(i, j int) bool {
		return sortCompare(&history[i], &history[j]) < 0
	})
}

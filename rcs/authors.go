package rcs

// Author-map lookup. Map files use the usual CVS authormap convention:
//
//	ferd = Ferd J. Foonly <foonly@foo.com> America/Chicago
//
// The timezone field is optional. Lines starting with '#' are ignored.

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Author - display identity for a CVS author id.
type Author struct {
	Full     string
	Email    string
	Timezone string
}

// AuthorMap maps raw CVS author ids to display identities.
type AuthorMap map[string]*Author

// Lookup returns the author record for id, or nil when none is known.
func (m AuthorMap) Lookup(id string) *Author {
	if m == nil {
		return nil
	}
	return m[id]
}

// ParseAuthorMap reads an author-map stream.
func ParseAuthorMap(r io.Reader) (AuthorMap, error) {
	m := make(AuthorMap)
	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq < 0 {
			return nil, fmt.Errorf("authormap line %d: missing '='", lineno)
		}
		id := strings.TrimSpace(line[:eq])
		rest := strings.TrimSpace(line[eq+1:])
		lt := strings.Index(rest, "<")
		gt := strings.Index(rest, ">")
		if lt < 0 || gt < lt {
			return nil, fmt.Errorf("authormap line %d: missing <email>", lineno)
		}
		a := &Author{
			Full:     strings.TrimSpace(rest[:lt]),
			Email:    rest[lt+1 : gt],
			Timezone: strings.TrimSpace(rest[gt+1:]),
		}
		m[id] = a
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadAuthorMap reads an author-map file.
func LoadAuthorMap(filename string) (AuthorMap, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err.Error())
	}
	defer f.Close()
	return ParseAuthorMap(f)
}

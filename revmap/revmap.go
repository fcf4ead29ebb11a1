package revmap

// Revision-map sink: one line per modified file revision associating it
// with the mark of the commit that carried it.

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

type RevMap struct {
	filename string
	f        *os.File
	w        *bufio.Writer
}

// New wraps an existing writer.
func New(w io.Writer) *RevMap {
	return &RevMap{w: bufio.NewWriter(w)}
}

// Create opens a revision-map file.
func Create(filename string) (*RevMap, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	return &RevMap{filename: filename, f: f, w: bufio.NewWriter(f)}, nil
}

// WriteLine appends one "<pair> :<mark>" line; pair is "<path> <rev>".
func (m *RevMap) WriteLine(pair string, mark uint32) {
	_, err := fmt.Fprintf(m.w, "%s :%d\n", pair, mark)
	if err != nil {
		panic(err)
	}
}

func (m *RevMap) Close() error {
	if err := m.w.Flush(); err != nil {
		return err
	}
	if m.f != nil {
		return m.f.Close()
	}
	return nil
}

package masswhois

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// Result is the outcome of driving one query through the dispatcher: the
// final server in the referral chain, its raw reply, and the classified
// availability. Err is set when the conversation could not complete (no
// server, a resolver failure or timeout, a dial/write failure, or the
// query's context ending), and Body/Availability are then empty. Err is
// also set to a ReferralCapError when the referral cap is hit; Body and
// Availability then hold the last reply received.
type Result struct {
	Query        WhoisQuery
	Server       string
	Body         string
	Availability Availability
	Hops         int
	Err          error
}

// Handler consumes one completed Result. Implementations must be safe to
// call from the dispatcher's output goroutine only; masswhois never calls
// a Handler concurrently.
type Handler interface {
	Handle(r Result) error
}

// BinaryHandler writes each result as a pair of little-endian
// length-prefixed byte strings: the query as rendered by its String
// method, followed by the raw reply body. A failed query (r.Err != nil) is skipped.
type BinaryHandler struct {
	w io.Writer
}

func NewBinaryHandler(w io.Writer) *BinaryHandler { return &BinaryHandler{w: w} }

func (h *BinaryHandler) Handle(r Result) error {
	if r.Err != nil {
		return nil
	}
	if err := writeLenPrefixed(h.w, []byte(r.Query.String())); err != nil {
		return err
	}
	return writeLenPrefixed(h.w, []byte(r.Body))
}

func writeLenPrefixed(w io.Writer, b []byte) error {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// ReadableHandler writes each result framed for human consumption:
//
//	----- <query> -----
//
//	<body>
//
// A failed query is reported with its error in place of a body, so the
// operator can see which inputs did not resolve.
type ReadableHandler struct {
	w io.Writer
}

func NewReadableHandler(w io.Writer) *ReadableHandler { return &ReadableHandler{w: w} }

func (h *ReadableHandler) Handle(r Result) error {
	if _, err := fmt.Fprintf(h.w, "----- %s -----\n\n", r.Query.String()); err != nil {
		return err
	}
	if r.Err != nil {
		_, err := fmt.Fprintf(h.w, "ERROR: %s\n\n", r.Err)
		return err
	}
	_, err := fmt.Fprintf(h.w, "%s\n\n", r.Body)
	return err
}

// QuerySupplier yields the next raw query string, or ok=false once
// exhausted.
type QuerySupplier interface {
	Next() (string, bool)
}

// LineQuerySupplier reads one query per line from r, trimming surrounding
// whitespace. Blank lines are skipped.
type LineQuerySupplier struct {
	scanner *bufio.Scanner
}

func NewLineQuerySupplier(r io.Reader) *LineQuerySupplier {
	return &LineQuerySupplier{scanner: bufio.NewScanner(r)}
}

func (s *LineQuerySupplier) Next() (string, bool) {
	for s.scanner.Scan() {
		if trimmed := strings.TrimSpace(s.scanner.Text()); trimmed != "" {
			return trimmed, true
		}
	}
	return "", false
}

// ArgsQuerySupplier serves a fixed list of queries, e.g. from trailing
// CLI positional arguments.
type ArgsQuerySupplier struct {
	queries []string
	pos     int
}

func NewArgsQuerySupplier(queries []string) *ArgsQuerySupplier {
	return &ArgsQuerySupplier{queries: queries}
}

func (s *ArgsQuerySupplier) Next() (string, bool) {
	if s.pos >= len(s.queries) {
		return "", false
	}
	q := s.queries[s.pos]
	s.pos++
	return q, true
}

package kfmt

import (
	"bytes"
	"io"
)

// PrefixWriter is an io.Writer that wraps another io.Writer and injects a
// prefix at the beginning of each line.
type PrefixWriter struct {
	// A writer where all writes get sent to. If nil, writes are buffered
	// in the early print buffer until an output sink is attached.
	Sink io.Writer

	// The prefix injected at the beginning of each line.
	Prefix []byte

	bytesAfterPrefix int
}

// Write writes len(p) bytes from p to the underlying data stream and returns
// back the number of bytes written. The injected prefix is not included in
// the number of written bytes.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var (
		written int
		sink    = w.Sink
	)

	if sink == nil {
		sink = &earlyPrintBuffer
	}

	for len(p) != 0 {
		if w.bytesAfterPrefix == 0 {
			if _, err := sink.Write(w.Prefix); err != nil {
				return written, err
			}
		}

		line := p
		if eol := bytes.IndexByte(p, '\n'); eol != -1 {
			line = p[:eol+1]
		}

		n, err := sink.Write(line)
		written += n
		if err != nil {
			return written, err
		}

		if line[len(line)-1] == '\n' {
			w.bytesAfterPrefix = 0
		} else {
			w.bytesAfterPrefix += n
		}
		p = p[len(line):]
	}

	return written, nil
}

package relay

import "github.com/relaydaemon/relaycore/internal/wire"

// Driver accumulates inbound bytes for one connection and splits them into
// complete protocol lines. It holds no registry or engine reference: it is
// purely a byte-to-lines transform, kept separate so it can be driven from
// whatever transport the embedder chooses.
//
// There is no input-side length cap, per the framing rules: a client may
// send an arbitrarily long line before its terminator arrives. An embedder
// wanting a sanity limit applies it itself and disconnects.
type Driver struct {
	buf []byte
}

// Feed appends chunk to the accumulator and returns every complete line it
// now contains (CRLF stripped), retaining any partial tail for the next
// call.
func (d *Driver) Feed(chunk []byte) []string {
	d.buf = append(d.buf, chunk...)

	var lines []string
	for {
		i := indexCRLF(d.buf)
		if i < 0 {
			break
		}
		lines = append(lines, string(d.buf[:i]))
		d.buf = d.buf[i+2:]
	}

	return lines
}

func indexCRLF(b []byte) int {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' {
			return i
		}
	}
	return -1
}

// ParseLines is a convenience wrapper combining Feed with wire.Parse,
// discarding blank/whitespace-only lines per the framing rules.
func (d *Driver) ParseLines(chunk []byte) []wire.Line {
	var out []wire.Line
	for _, raw := range d.Feed(chunk) {
		if l, ok := wire.Parse(raw); ok {
			out = append(out, l)
		}
	}
	return out
}

package protocol

import (
	"bytes"
	"encoding/json"
	"log"
)

// Framer converts an arbitrarily-chunked byte stream into discrete JSON-RPC
// messages using NDJSON framing (one JSON text per line). An incomplete
// trailing line is buffered and prepended to the next chunk, so splitting
// the input at any byte boundary yields the same message sequence.
//
// MaxLineBytes caps a single NDJSON line. A peer that streams bytes without
// ever sending a newline would otherwise grow the buffer without bound.
const MaxLineBytes = 4 << 20

// Framer is not goroutine-safe; each stream must be fed from a single
// reader goroutine.
type Framer struct {
	buf []byte

	// discarding is set after an oversized line's buffered prefix has been
	// dropped; the remainder is skipped up to the next newline.
	discarding bool
}

// Feed appends a chunk to the internal buffer and returns every complete
// message it now contains, in arrival order. Lines that are not valid
// JSON-RPC, or that exceed MaxLineBytes, are dropped with a diagnostic;
// they never abort the stream.
func (f *Framer) Feed(chunk []byte) []Message {
	f.buf = append(f.buf, chunk...)

	var msgs []Message
	for {
		idx := bytes.IndexByte(f.buf, '\n')
		if idx < 0 {
			if len(f.buf) > MaxLineBytes {
				if !f.discarding {
					log.Printf("Dropping oversized line (%d bytes buffered, limit %d)", len(f.buf), MaxLineBytes)
				}
				f.buf = nil
				f.discarding = true
			}
			return msgs
		}
		line := bytes.TrimSpace(f.buf[:idx])
		f.buf = f.buf[idx+1:]

		if f.discarding {
			// Tail of a line whose prefix was already dropped.
			f.discarding = false
			continue
		}
		if len(line) == 0 {
			continue
		}
		if len(line) > MaxLineBytes {
			log.Printf("Dropping oversized line (%d bytes, limit %d)", len(line), MaxLineBytes)
			continue
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			log.Printf("Dropping unparseable line: %v (%.80s)", err, line)
			continue
		}
		msgs = append(msgs, msg)
	}
}

// Pending returns the number of buffered bytes awaiting a newline.
func (f *Framer) Pending() int {
	return len(f.buf)
}

// Encode serializes a message as one newline-terminated NDJSON line.
func Encode(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

package realtime

import (
	"bytes"
	"strings"
)

// Frame is one complete unit of the text event stream protocol.
type Frame struct {
	// Event is the frame's event name; "message" when the stream never
	// set one.
	Event string
	// ID is the frame id, when present.
	ID string
	// Data is the frame payload. Multiple data lines are joined by a
	// newline.
	Data string
}

var (
	delimLF   = []byte("\n\n")
	delimCRLF = []byte("\r\n\r\n")
)

// frameParser reassembles frames from arbitrarily-chunked stream
// bytes. Partial frames stay buffered until their delimiter arrives;
// slow or split delivery never loses data.
type frameParser struct {
	buf []byte
}

// Feed appends chunk to the carry-over buffer and returns every frame
// completed by it, in arrival order.
func (p *frameParser) Feed(chunk []byte) []Frame {
	p.buf = append(p.buf, chunk...)

	var frames []Frame
	for {
		block, rest, ok := nextBlock(p.buf)
		if !ok {
			break
		}
		p.buf = rest
		frames = append(frames, decodeBlock(block))
	}
	return frames
}

// nextBlock slices off everything up to and including the earliest
// frame delimiter, accepting both bare and CRLF forms.
func nextBlock(buf []byte) (block, rest []byte, ok bool) {
	iLF := bytes.Index(buf, delimLF)
	iCRLF := bytes.Index(buf, delimCRLF)

	switch {
	case iCRLF >= 0 && (iLF < 0 || iCRLF < iLF):
		return buf[:iCRLF], buf[iCRLF+len(delimCRLF):], true
	case iLF >= 0:
		return buf[:iLF], buf[iLF+len(delimLF):], true
	}
	return nil, buf, false
}

func decodeBlock(block []byte) Frame {
	f := Frame{Event: "message"}
	var data strings.Builder

	for _, rawLine := range strings.Split(string(block), "\n") {
		line := strings.TrimSuffix(rawLine, "\r")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}

		field, value := line, ""
		if i := strings.Index(line, ":"); i >= 0 {
			field = line[:i]
			value = strings.TrimLeft(line[i+1:], " ")
		}

		switch field {
		case "event":
			f.Event = value
		case "data":
			data.WriteString(value)
			data.WriteByte('\n')
		case "id":
			f.ID = value
		}
	}

	f.Data = strings.TrimSuffix(data.String(), "\n")
	return f
}

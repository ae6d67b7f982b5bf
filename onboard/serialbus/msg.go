package serialbus

import "bytes"

const maxLine = 4096

// lineBuffer accumulates raw reads and hands back complete lines with the
// line ending (\n or \r\n) removed.
type lineBuffer struct {
	pending []byte
}

func (b *lineBuffer) Write(p []byte) error {
	b.pending = append(b.pending, p...)
	if len(b.pending) > maxLine && bytes.IndexByte(b.pending, '\n') < 0 {
		b.pending = b.pending[:0]
		return ErrLineTooLong
	}
	return nil
}

// Next returns the next complete line, or nil if there is none yet.
func (b *lineBuffer) Next() []byte {
	i := bytes.IndexByte(b.pending, '\n')
	if i < 0 {
		return nil
	}
	line := make([]byte, i)
	copy(line, b.pending[:i])
	b.pending = b.pending[i+1:]
	return bytes.TrimRight(line, "\r")
}

func (b *lineBuffer) Reset() {
	b.pending = b.pending[:0]
}

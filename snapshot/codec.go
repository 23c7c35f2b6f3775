package snapshot

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// recordWriter emits the save-file wire format. All integers are
// little-endian fixed width.
type recordWriter struct {
	w    *bufio.Writer
	path string
}

func newRecordWriter(w io.Writer, path string) *recordWriter {
	return &recordWriter{w: bufio.NewWriter(w), path: path}
}

// writeHeader writes the length-prefixed namespace display name. The name
// is empty only for the reserved global-objects file.
func (rw *recordWriter) writeHeader(name string) error {
	if len(name) > maxNameLen {
		return fmt.Errorf("namespace name too long (%d bytes)", len(name))
	}
	if err := binary.Write(rw.w, binary.LittleEndian, uint32(len(name))); err != nil {
		return fmt.Errorf("write header of %q: %w", rw.path, err)
	}
	if _, err := rw.w.WriteString(name); err != nil {
		return fmt.Errorf("write header of %q: %w", rw.path, err)
	}
	return nil
}

func (rw *recordWriter) writeRecord(tag byte, value uint32) error {
	if err := rw.w.WriteByte(tag); err != nil {
		return fmt.Errorf("write record %q to %q: %w", tag, rw.path, err)
	}
	if err := binary.Write(rw.w, binary.LittleEndian, value); err != nil {
		return fmt.Errorf("write record %q to %q: %w", tag, rw.path, err)
	}
	return nil
}

func (rw *recordWriter) flush() error {
	if err := rw.w.Flush(); err != nil {
		return fmt.Errorf("flush %q: %w", rw.path, err)
	}
	return nil
}

// record is one decoded save-file entry.
type record struct {
	tag   byte
	value uint32
}

// recordReader decodes the save-file wire format, tracking the byte offset
// for corruption reports.
type recordReader struct {
	r    *bufio.Reader
	path string
	off  int64
}

func newRecordReader(r io.Reader, path string) *recordReader {
	return &recordReader{r: bufio.NewReader(r), path: path}
}

// readHeader reads the namespace display name.
func (rr *recordReader) readHeader() (string, error) {
	var n uint32
	if err := binary.Read(rr.r, binary.LittleEndian, &n); err != nil {
		return "", &CorruptError{Path: rr.path, Offset: rr.off, Reason: "missing header"}
	}
	rr.off += 4
	if n > maxNameLen {
		return "", &CorruptError{Path: rr.path, Offset: rr.off, Reason: fmt.Sprintf("implausible name length %d", n)}
	}
	name := make([]byte, n)
	if _, err := io.ReadFull(rr.r, name); err != nil {
		return "", &CorruptError{Path: rr.path, Offset: rr.off, Reason: "truncated header name"}
	}
	rr.off += int64(n)
	return string(name), nil
}

// next returns the next record, io.EOF at a clean end of stream, or a
// *CorruptError for anything else.
func (rr *recordReader) next() (record, error) {
	tag, err := rr.r.ReadByte()
	if err == io.EOF {
		return record{}, io.EOF
	}
	if err != nil {
		return record{}, fmt.Errorf("read %q: %w", rr.path, err)
	}
	rr.off++

	switch tag {
	case TagFile, TagFork, TagBlock, TagRange:
	default:
		return record{}, &CorruptError{Path: rr.path, Offset: rr.off - 1,
			Reason: fmt.Sprintf("unexpected record marker %#x", tag)}
	}

	var value uint32
	if err := binary.Read(rr.r, binary.LittleEndian, &value); err != nil {
		return record{}, &CorruptError{Path: rr.path, Offset: rr.off, Reason: "truncated record payload"}
	}
	rr.off += 4

	return record{tag: tag, value: value}, nil
}

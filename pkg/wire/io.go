package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame layout on the wire: a 4-byte big-endian length prefix, followed
// by that many bytes of sections. Each section is a 1-byte tag, a 4-byte
// big-endian length, and the section's payload bytes.
const (
	framePrefixSize   = 4
	sectionHeaderSize = 5

	// maxFrameSize bounds a single frame, so that a corrupt or hostile
	// length prefix cannot make the reader allocate without limit.
	maxFrameSize = 64 << 20 // 64 MiB.
)

// ErrFraming reports a malformed frame: a bad length
// prefix, a truncated section, or an oversize frame.
var ErrFraming = errors.New("malformed frame")

// Write writes a single length-prefixed frame to the given stream.
// The frame's remaining sections are written in push order.
func Write(w io.Writer, m *MessageBuf) error {
	size := 0
	for _, s := range m.sections {
		size += sectionHeaderSize + len(s.data)
	}
	if size > maxFrameSize {
		return fmt.Errorf("%w: frame of %d bytes exceeds limit", ErrFraming, size)
	}

	buf := make([]byte, framePrefixSize, framePrefixSize+size)
	binary.BigEndian.PutUint32(buf, uint32(size))
	for _, s := range m.sections {
		buf = append(buf, byte(s.tag))
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(s.data)))
		buf = append(buf, s.data...)
	}

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Read reads a single length-prefixed frame from the given stream.
// It blocks until a full frame is available. A clean end-of-stream
// before the first prefix byte is reported as [io.EOF]; a stream that
// ends mid-frame is an error wrapping [io.ErrUnexpectedEOF].
func Read(r io.Reader) (*MessageBuf, error) {
	prefix := make([]byte, framePrefixSize)
	if _, err := io.ReadFull(r, prefix); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read frame prefix: %w", err)
	}

	size := binary.BigEndian.Uint32(prefix)
	if size > maxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit", ErrFraming, size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("failed to read frame body: %w", err)
	}

	return parseFrame(body)
}

// parseFrame splits a frame body into its sections, validating that
// every section is complete and that fixed-size tags have the right size.
func parseFrame(body []byte) (*MessageBuf, error) {
	m := Empty()
	for len(body) > 0 {
		if len(body) < sectionHeaderSize {
			return nil, fmt.Errorf("%w: truncated section header", ErrFraming)
		}

		tag := sectionTag(body[0])
		size := binary.BigEndian.Uint32(body[1:sectionHeaderSize])
		body = body[sectionHeaderSize:]
		if uint32(len(body)) < size {
			return nil, fmt.Errorf("%w: truncated %v section", ErrFraming, tag)
		}

		switch tag {
		case tagByte:
			if size != 1 {
				return nil, fmt.Errorf("%w: byte section of %d bytes", ErrFraming, size)
			}
		case tagUint32:
			if size != 4 {
				return nil, fmt.Errorf("%w: uint32 section of %d bytes", ErrFraming, size)
			}
		case tagString, tagJSON:
		default:
			return nil, fmt.Errorf("%w: unknown section %v", ErrFraming, tag)
		}

		m.sections = append(m.sections, section{tag: tag, data: body[:size:size]})
		body = body[size:]
	}
	return m, nil
}

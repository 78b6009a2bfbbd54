// Package wire implements the framed message format that all spate
// endpoints exchange over TCP: a [MessageBuf] is an ordered sequence of
// typed, length-prefixed sections which is pushed at the tail by the
// sender and popped from the head by the receiver, in the same order.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// sectionTag identifies the type of a single section inside a frame.
// A pop fails unless the head section carries the expected tag.
type sectionTag byte

const (
	tagByte sectionTag = iota + 1
	tagUint32
	tagString
	tagJSON
)

// String returns the tag's name, or its number if it's unrecognized.
func (t sectionTag) String() string {
	switch t {
	case tagByte:
		return "byte"
	case tagUint32:
		return "uint32"
	case tagString:
		return "string"
	case tagJSON:
		return "json"
	default:
		return fmt.Sprintf("tag %d", byte(t))
	}
}

// Sentinel errors for section decoding. Callers should match
// them with [errors.Is], the wrapping text carries the details.
var (
	ErrNoSection   = errors.New("no more sections in message")
	ErrSectionType = errors.New("section type mismatch")
)

type section struct {
	tag  sectionTag
	data []byte
}

// MessageBuf is a self-describing message frame. Sections are appended
// with the Push methods and consumed in the same order with the Pop
// methods. The zero value is an empty frame; [Empty] returns a new one.
type MessageBuf struct {
	sections []section
}

// Empty returns a new message frame with no sections.
func Empty() *MessageBuf {
	return &MessageBuf{}
}

// Len returns the number of sections that have not been popped yet.
func (m *MessageBuf) Len() int {
	return len(m.sections)
}

// PushByte appends a single-byte section at the tail of the frame.
func (m *MessageBuf) PushByte(b byte) {
	m.sections = append(m.sections, section{tag: tagByte, data: []byte{b}})
}

// PushUint32 appends a 4-byte big-endian section at the tail of the frame.
func (m *MessageBuf) PushUint32(n uint32) {
	data := make([]byte, 4)
	binary.BigEndian.PutUint32(data, n)
	m.sections = append(m.sections, section{tag: tagUint32, data: data})
}

// PushString appends a UTF-8 string section at the tail of the frame.
func (m *MessageBuf) PushString(s string) {
	m.sections = append(m.sections, section{tag: tagString, data: []byte(s)})
}

// Push JSON-encodes the given value and appends
// it as a new section at the tail of the frame.
func (m *MessageBuf) Push(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message section: %w", err)
	}
	m.sections = append(m.sections, section{tag: tagJSON, data: data})
	return nil
}

// pop removes and returns the head section, if it carries the expected tag.
func (m *MessageBuf) pop(want sectionTag) ([]byte, error) {
	if len(m.sections) == 0 {
		return nil, fmt.Errorf("cannot pop %v section: %w", want, ErrNoSection)
	}

	s := m.sections[0]
	if s.tag != want {
		return nil, fmt.Errorf("cannot pop %v section, head is %v: %w", want, s.tag, ErrSectionType)
	}

	m.sections = m.sections[1:]
	return s.data, nil
}

// PopByte removes the head section and returns it as a single byte.
func (m *MessageBuf) PopByte() (byte, error) {
	data, err := m.pop(tagByte)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

// PopUint32 removes the head section and returns it as a big-endian uint32.
func (m *MessageBuf) PopUint32() (uint32, error) {
	data, err := m.pop(tagUint32)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(data), nil
}

// PopString removes the head section and returns it as a UTF-8 string.
func (m *MessageBuf) PopString() (string, error) {
	data, err := m.pop(tagString)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Pop removes the head section and JSON-decodes it into the given pointer.
func (m *MessageBuf) Pop(v any) error {
	data, err := m.pop(tagJSON)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode message section: %w", err)
	}
	return nil
}

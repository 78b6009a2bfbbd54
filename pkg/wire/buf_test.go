package wire

import (
	"errors"
	"testing"
)

func TestPushPopRoundTrip(t *testing.T) {
	m := Empty()
	m.PushByte(1)
	m.PushUint32(42)
	m.PushString("hello")

	if got := m.Len(); got != 3 {
		t.Fatalf("MessageBuf.Len() = %d, want 3", got)
	}

	b, err := m.PopByte()
	if err != nil || b != 1 {
		t.Errorf("MessageBuf.PopByte() = (%d, %v), want (1, nil)", b, err)
	}
	n, err := m.PopUint32()
	if err != nil || n != 42 {
		t.Errorf("MessageBuf.PopUint32() = (%d, %v), want (42, nil)", n, err)
	}
	s, err := m.PopString()
	if err != nil || s != "hello" {
		t.Errorf("MessageBuf.PopString() = (%q, %v), want (%q, nil)", s, err, "hello")
	}

	if _, err := m.PopByte(); !errors.Is(err, ErrNoSection) {
		t.Errorf("pop from empty frame error = %v, want %v", err, ErrNoSection)
	}
}

func TestPopTypeMismatch(t *testing.T) {
	tests := []struct {
		name string
		push func(m *MessageBuf)
		pop  func(m *MessageBuf) error
	}{
		{
			name: "byte_as_uint32",
			push: func(m *MessageBuf) { m.PushByte(7) },
			pop: func(m *MessageBuf) error {
				_, err := m.PopUint32()
				return err
			},
		},
		{
			name: "uint32_as_string",
			push: func(m *MessageBuf) { m.PushUint32(7) },
			pop: func(m *MessageBuf) error {
				_, err := m.PopString()
				return err
			},
		},
		{
			name: "string_as_json",
			push: func(m *MessageBuf) { m.PushString("x") },
			pop: func(m *MessageBuf) error {
				var v any
				return m.Pop(&v)
			},
		},
		{
			name: "json_as_byte",
			push: func(m *MessageBuf) { _ = m.Push(7) },
			pop: func(m *MessageBuf) error {
				_, err := m.PopByte()
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Empty()
			tt.push(m)
			if err := tt.pop(m); !errors.Is(err, ErrSectionType) {
				t.Errorf("pop error = %v, want %v", err, ErrSectionType)
			}
			if got := m.Len(); got != 1 {
				t.Errorf("MessageBuf.Len() after failed pop = %d, want 1", got)
			}
		})
	}
}

func TestPushPopJSON(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	m := Empty()
	if err := m.Push(payload{Name: "spate", Count: 3}); err != nil {
		t.Fatalf("MessageBuf.Push() error = %v", err)
	}

	var got payload
	if err := m.Pop(&got); err != nil {
		t.Fatalf("MessageBuf.Pop() error = %v", err)
	}
	if got.Name != "spate" || got.Count != 3 {
		t.Errorf("MessageBuf.Pop() = %+v, want {spate 3}", got)
	}
}

func TestPushUnencodable(t *testing.T) {
	m := Empty()
	if err := m.Push(func() {}); err == nil {
		t.Error("MessageBuf.Push() of a function should fail")
	}
	if got := m.Len(); got != 0 {
		t.Errorf("MessageBuf.Len() after failed push = %d, want 0", got)
	}
}

package eeprom

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type blob []byte

func (b blob) MarshalBinary() ([]byte, error) {
	return []byte(b), nil
}

func (b *blob) UnmarshalBinary(data []byte) error {
	*b = append((*b)[:0], data...)
	return nil
}

func openTemp(t *testing.T, size int) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "eeprom.bin")
	s, err := Open(path, size)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestOpenErased(t *testing.T) {
	s, path := openTemp(t, 64)
	if s.Size() != 64 {
		t.Errorf("size %d", s.Size())
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b, bytes.Repeat([]byte{0xFF}, 64)) {
		t.Errorf("image % X", b)
	}
	var v blob
	if err := s.Load(0, &v); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
	if _, err := Open(path, 0); err == nil {
		t.Error("accepted a zero size")
	}
}

func TestSaveLoad(t *testing.T) {
	s, path := openTemp(t, 64)
	want := blob{0xA6, 0x04, 0x03, 0x00, 0xFF}
	if err := s.Save(10, want); err != nil {
		t.Fatal(err)
	}
	var got blob
	if err := s.Load(10, &got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("got % X", got)
	}
	if err := s.Load(0, &got); !errors.Is(err, ErrEmpty) {
		t.Errorf("neighbor: %v", err)
	}

	// Records survive reopening.
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	s2, err := Open(path, 64)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	got = nil
	if err := s2.Load(10, &got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("after reopen got % X", got)
	}
}

func TestBounds(t *testing.T) {
	s, _ := openTemp(t, 16)
	if err := s.Save(12, blob{1, 2, 3, 4}); err == nil {
		t.Error("record past the end accepted")
	}
	if err := s.Save(-1, blob{1}); err == nil {
		t.Error("negative offset accepted")
	}
	if err := s.Save(11, blob{1, 2, 3, 4}); err != nil {
		t.Errorf("record ending at the last byte: %v", err)
	}
	var v blob
	if err := s.Load(16, &v); err == nil {
		t.Error("load past the end accepted")
	}
	if err := s.Save(0, make(blob, MaxRecord+1)); err == nil {
		t.Error("oversized record accepted")
	}
}

func TestErase(t *testing.T) {
	s, _ := openTemp(t, 32)
	if err := s.Save(0, blob{7, 7, 7}); err != nil {
		t.Fatal(err)
	}
	if err := s.Erase(); err != nil {
		t.Fatal(err)
	}
	var v blob
	if err := s.Load(0, &v); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty after Erase, got %v", err)
	}
}

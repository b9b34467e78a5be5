// Package eeprom emulates the monitor's byte addressable configuration
// memory with a file. Erased cells read 0xFF.
//
// Each record is stored as a length byte followed by the blob; the store
// does not interpret the blob.
package eeprom

import (
	"encoding"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

const erased byte = 0xFF

// MaxRecord is the largest blob a single record holds.
const MaxRecord = int(erased) - 1

// ErrEmpty is returned by Load when no record was saved at the offset.
var ErrEmpty = errors.New("eeprom: no record at offset")

// Store is a fixed size memory image backed by a file.
type Store struct {
	mu   sync.Mutex
	f    *os.File
	size int
}

// Open opens the image at path, creating it erased when missing. An existing
// image keeps its content and is grown to size if shorter.
func Open(path string, size int) (*Store, error) {
	if size <= 0 {
		return nil, fmt.Errorf("eeprom: invalid size %d", size)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eeprom: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("eeprom: %w", err)
	}
	if n := int(fi.Size()); n < size {
		fill := make([]byte, size-n)
		for i := range fill {
			fill[i] = erased
		}
		if _, err := f.WriteAt(fill, int64(n)); err != nil {
			f.Close()
			return nil, fmt.Errorf("eeprom: %w", err)
		}
	}
	return &Store{f: f, size: size}, nil
}

// Size returns the capacity in bytes.
func (s *Store) Size() int {
	return s.size
}

// Save writes v at offset.
func (s *Store) Save(offset int, v encoding.BinaryMarshaler) error {
	b, err := v.MarshalBinary()
	if err != nil {
		return err
	}
	if len(b) > MaxRecord {
		return fmt.Errorf("eeprom: record of %d bytes too large", len(b))
	}
	if err := s.check(offset, 1+len(b)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.WriteAt(append([]byte{byte(len(b))}, b...), int64(offset)); err != nil {
		return fmt.Errorf("eeprom: %w", err)
	}
	return s.f.Sync()
}

// Load reads the record at offset into v.
func (s *Store) Load(offset int, v encoding.BinaryUnmarshaler) error {
	if err := s.check(offset, 1); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n [1]byte
	if _, err := s.f.ReadAt(n[:], int64(offset)); err != nil {
		return fmt.Errorf("eeprom: %w", err)
	}
	if n[0] == erased {
		return ErrEmpty
	}
	if err := s.check(offset, 1+int(n[0])); err != nil {
		return err
	}
	b := make([]byte, n[0])
	if _, err := s.f.ReadAt(b, int64(offset)+1); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("eeprom: %w", err)
	}
	return v.UnmarshalBinary(b)
}

// Erase resets the whole image to 0xFF.
func (s *Store) Erase() error {
	b := make([]byte, s.size)
	for i := range b {
		b[i] = erased
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.WriteAt(b, 0); err != nil {
		return fmt.Errorf("eeprom: %w", err)
	}
	return nil
}

// Close releases the backing file.
func (s *Store) Close() error {
	return s.f.Close()
}

func (s *Store) check(offset, n int) error {
	if offset < 0 || offset+n > s.size {
		return fmt.Errorf("eeprom: %d bytes at offset %d exceed size %d", n, offset, s.size)
	}
	return nil
}

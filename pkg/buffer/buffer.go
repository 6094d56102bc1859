// Package buffer defines the byte-addressable storage primitive that the
// segmented log and meta store are built on. §1 of the spec places disk
// buffer primitives out of scope for the core — the core only requires
// read/write of fixed-width primitives at an offset and a bounded
// allocate(file, size) call — so this package supplies the interface plus
// a minimal os.File-backed implementation for the core to run against.
// No example in the retrieval pack targets raw binary buffer primitives,
// so this one component is built directly on the standard library.
package buffer

import (
	"encoding/binary"
	"fmt"
	"os"
)

// Buffer is a byte-addressable, growable region backed by a file. All
// multi-byte primitives are big-endian.
type Buffer interface {
	ReadUint8(offset int64) (uint8, error)
	ReadUint16(offset int64) (uint16, error)
	ReadUint32(offset int64) (uint32, error)
	ReadUint64(offset int64) (uint64, error)
	ReadBytes(offset int64, n int) ([]byte, error)

	WriteUint8(offset int64, v uint8) error
	WriteUint16(offset int64, v uint16) error
	WriteUint32(offset int64, v uint32) error
	WriteUint64(offset int64, v uint64) error
	WriteBytes(offset int64, b []byte) error

	// Size returns the buffer's current allocated size.
	Size() int64
	// Flush durably persists any buffered writes.
	Flush() error
	// Close releases underlying resources.
	Close() error
}

// Allocate grows the file backing path to at least size bytes and opens
// it as a Buffer. Bounded per §1: callers supply the size ceiling.
func Allocate(path string, size int64) (Buffer, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("buffer: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("buffer: stat %s: %w", path, err)
	}
	if info.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("buffer: truncate %s: %w", path, err)
		}
	}
	return &fileBuffer{f: f, size: max64(size, info.Size())}, nil
}

// Open opens an existing file as a Buffer without pre-allocating.
func Open(path string) (Buffer, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("buffer: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("buffer: stat %s: %w", path, err)
	}
	return &fileBuffer{f: f, size: info.Size()}, nil
}

type fileBuffer struct {
	f    *os.File
	size int64
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func (b *fileBuffer) grow(end int64) error {
	if end <= b.size {
		return nil
	}
	if err := b.f.Truncate(end); err != nil {
		return err
	}
	b.size = end
	return nil
}

func (b *fileBuffer) ReadUint8(offset int64) (uint8, error) {
	buf, err := b.ReadBytes(offset, 1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (b *fileBuffer) ReadUint16(offset int64) (uint16, error) {
	buf, err := b.ReadBytes(offset, 2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf), nil
}

func (b *fileBuffer) ReadUint32(offset int64) (uint32, error) {
	buf, err := b.ReadBytes(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf), nil
}

func (b *fileBuffer) ReadUint64(offset int64) (uint64, error) {
	buf, err := b.ReadBytes(offset, 8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf), nil
}

func (b *fileBuffer) ReadBytes(offset int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := b.f.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("buffer: read at %d: %w", offset, err)
	}
	return buf, nil
}

func (b *fileBuffer) WriteUint8(offset int64, v uint8) error {
	return b.WriteBytes(offset, []byte{v})
}

func (b *fileBuffer) WriteUint16(offset int64, v uint16) error {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, v)
	return b.WriteBytes(offset, buf)
}

func (b *fileBuffer) WriteUint32(offset int64, v uint32) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return b.WriteBytes(offset, buf)
}

func (b *fileBuffer) WriteUint64(offset int64, v uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return b.WriteBytes(offset, buf)
}

func (b *fileBuffer) WriteBytes(offset int64, data []byte) error {
	if err := b.grow(offset + int64(len(data))); err != nil {
		return fmt.Errorf("buffer: grow: %w", err)
	}
	if _, err := b.f.WriteAt(data, offset); err != nil {
		return fmt.Errorf("buffer: write at %d: %w", offset, err)
	}
	return nil
}

func (b *fileBuffer) Size() int64 { return b.size }

func (b *fileBuffer) Flush() error { return b.f.Sync() }

func (b *fileBuffer) Close() error { return b.f.Close() }

package sim

import "fmt"

const pageSize = 0x1000

// memory is the sparse address space of a simulated process. Accessing an
// unmapped page faults.
type memory struct {
	pages map[uint64][]byte
}

// FaultError is returned for accesses to unmapped memory.
type FaultError struct {
	Addr uint64
}

func (err *FaultError) Error() string {
	return fmt.Sprintf("could not access memory at %#x", err.Addr)
}

func newMemory() *memory {
	return &memory{pages: make(map[uint64][]byte)}
}

func (m *memory) mapRegion(addr, size uint64) {
	for pg := addr &^ (pageSize - 1); pg < addr+size; pg += pageSize {
		if m.pages[pg] == nil {
			m.pages[pg] = make([]byte, pageSize)
		}
	}
}

func (m *memory) read(buf []byte, addr uint64) (int, error) {
	n := 0
	for n < len(buf) {
		a := addr + uint64(n)
		pg := m.pages[a&^(pageSize-1)]
		if pg == nil {
			return n, &FaultError{Addr: a}
		}
		n += copy(buf[n:], pg[a&(pageSize-1):])
	}
	return n, nil
}

func (m *memory) write(addr uint64, data []byte) (int, error) {
	// Nothing is written if any page is missing.
	for a := addr &^ (pageSize - 1); a < addr+uint64(len(data)); a += pageSize {
		if m.pages[a] == nil {
			if a < addr {
				a = addr
			}
			return 0, &FaultError{Addr: a}
		}
	}
	n := 0
	for n < len(data) {
		a := addr + uint64(n)
		pg := m.pages[a&^(pageSize-1)]
		n += copy(pg[a&(pageSize-1):], data[n:])
	}
	return n, nil
}

// Package memory implements demand-paged guest memory: 4 KiB pages with
// per-page permission bits and a per-page decode cache. It has no
// dependency on package cpu — the decode cache stores a plain
// decode.Decoded value rather than a handler function pointer, which
// keeps memory a leaf package (decode and riscv only) and lets cpu
// depend on memory without a cycle.
package memory

import (
	"fmt"

	"rvmach/riscv"
	"rvmach/riscv/decode"
)

// Perm is a bitset of page access rights.
type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec
)

func (p Perm) Readable() bool   { return p&PermRead != 0 }
func (p Perm) Writable() bool   { return p&PermWrite != 0 }
func (p Perm) Executable() bool { return p&PermExec != 0 }

// instrSlots is the number of decode-cache slots per page: a 4 KiB page
// holds at most PageSize/2 distinct 16-bit-aligned instruction starts.
const instrSlots = riscv.PageSize / 2

// Page is one 4 KiB unit of guest memory.
type Page struct {
	Data  [riscv.PageSize]byte
	Perm  Perm
	cache []decode.Decoded // lazily allocated; indexed by offset/2
}

func newPage(perm Perm) *Page {
	return &Page{Perm: perm}
}

// cachedAt returns the cached decode for offset, or the zero value
// (Op == riscv.OpInvalid) if nothing is cached there yet.
func (p *Page) cachedAt(offset uint32) decode.Decoded {
	if p.cache == nil {
		return decode.Decoded{}
	}
	return p.cache[offset/2]
}

func (p *Page) setCachedAt(offset uint32, d decode.Decoded) {
	if p.cache == nil {
		p.cache = make([]decode.Decoded, instrSlots)
	}
	p.cache[offset/2] = d
}

// invalidate drops every cached decode on the page. Called whenever a
// write lands on executable memory, since the instructions the cache
// describes may no longer match what's in Data (self-modifying code).
func (p *Page) invalidate() {
	p.cache = nil
}

// Memory is the guest's paged address space, generic over the native
// register/address width W. A Memory[uint32] is an RV32 address space,
// Memory[uint64] an RV64 one; the two share no state even when both
// run in the same process.
type Memory[W riscv.XLen] struct {
	pages map[uint64]*Page
	max   uint64 // memory_max: total bytes of backing pages allowed

	compressed          bool
	execSegmentConstant bool

	snapshot map[uint64]pageSnapshot // image captured by Snapshot, restored by Reset

	// Execute-segment-constant fast path (RISCV_EXEC_SEGMENT_IS_CONSTANT):
	// once FinalizeExecSegment has run, fetch and the decode cache for
	// [execBegin, execEnd) go through this flat array instead of the
	// per-page map, and writes into the range are rejected outright.
	execBegin        uint64
	execEnd          uint64
	execData         []byte
	execDecode       []decode.Decoded
	execDataSnapshot []byte
}

// pageSnapshot is a deep copy of one page's contents, taken by Snapshot
// at load time so Reset can restore it without re-running the loader.
type pageSnapshot struct {
	data [riscv.PageSize]byte
	perm Perm
}

// Options configures a new Memory instance. Zero value is a sane
// default: no compressed support, no fixed-executable-segment
// optimization, no enforced ceiling (max == 0 means unbounded).
type Options struct {
	MaxMemory           uint64
	CompressedEnabled   bool
	ExecSegmentConstant bool
}

func New[W riscv.XLen](opts Options) *Memory[W] {
	return &Memory[W]{
		pages:               make(map[uint64]*Page),
		max:                 opts.MaxMemory,
		compressed:          opts.CompressedEnabled,
		execSegmentConstant: opts.ExecSegmentConstant,
	}
}

func (m *Memory[W]) CompressedEnabled() bool   { return m.compressed }
func (m *Memory[W]) ExecSegmentConstant() bool { return m.execSegmentConstant }

// Snapshot records the current page contents as the image Reset later
// restores to. The loader calls this once, after the binary and initial
// stack are mapped, capturing the pristine post-load state the
// reference engine's memory.reset() rewinds back to.
func (m *Memory[W]) Snapshot() {
	snap := make(map[uint64]pageSnapshot, len(m.pages))
	for pn, p := range m.pages {
		snap[pn] = pageSnapshot{data: p.Data, perm: p.Perm}
	}
	m.snapshot = snap
	if m.execData != nil {
		m.execDataSnapshot = append([]byte(nil), m.execData...)
	}
}

// Reset restores every page to the image captured by Snapshot, dropping
// any page allocated since (guest-driven growth past the initial load)
// and discarding every decode cache entry. This is the memory half of
// Machine::reset() in the reference engine: cpu.reset(); memory.reset().
func (m *Memory[W]) Reset() {
	pages := make(map[uint64]*Page, len(m.snapshot))
	for pn, snap := range m.snapshot {
		pages[pn] = &Page{Data: snap.data, Perm: snap.perm}
	}
	m.pages = pages
	if m.execSegmentConstant && m.execDataSnapshot != nil {
		m.execData = append([]byte(nil), m.execDataSnapshot...)
		m.execDecode = make([]decode.Decoded, len(m.execData)/2)
	}
}

// FinalizeExecSegment builds the flat execute-segment-constant array
// covering every resident executable page, and records execBegin/execEnd
// for the mandatory pc-range check. A no-op unless Options.ExecSegmentConstant
// was set. The loader calls this once, after every guest segment is
// mapped, mirroring the reference engine's single contiguous array that
// replaces per-page instruction tables.
func (m *Memory[W]) FinalizeExecSegment() {
	if !m.execSegmentConstant {
		return
	}
	var lo, hi uint64
	first := true
	for pn, p := range m.pages {
		if !p.Perm.Executable() {
			continue
		}
		addr := pn << riscv.PageShift
		if first || addr < lo {
			lo = addr
		}
		if first || addr+riscv.PageSize > hi {
			hi = addr + riscv.PageSize
		}
		first = false
	}
	if first {
		return
	}
	m.execBegin, m.execEnd = lo, hi
	data := make([]byte, hi-lo)
	for pn, p := range m.pages {
		if !p.Perm.Executable() {
			continue
		}
		addr := pn << riscv.PageShift
		copy(data[addr-lo:], p.Data[:])
	}
	m.execData = data
	m.execDecode = make([]decode.Decoded, len(data)/2)
}

// FetchHalfConstant reads a halfword from the flat execute-segment array.
// pc ∈ [execBegin, execEnd) is a mandatory check, not an optimization:
// outside that range is a fault even if some other page happens to be
// mapped and executable there, since execute-segment-constant mode
// replaces per-page fetch entirely rather than supplementing it.
func (m *Memory[W]) FetchHalfConstant(addr uint64) (uint16, error) {
	if addr < m.execBegin || addr+2 > m.execEnd {
		return 0, riscv.NewException(riscv.ExecutionSpaceProtectionFault, addr)
	}
	off := addr - m.execBegin
	return uint16(m.execData[off]) | uint16(m.execData[off+1])<<8, nil
}

// DecodedAtConstant and SetDecodedAtConstant are the execute-segment-
// constant equivalents of DecodedAt/SetDecodedAt: one flat slice indexed
// by (addr-execBegin)/2 instead of a per-page cache slice.
func (m *Memory[W]) DecodedAtConstant(addr uint64) (decode.Decoded, bool) {
	if addr < m.execBegin || addr >= m.execEnd {
		return decode.Decoded{}, false
	}
	d := m.execDecode[(addr-m.execBegin)/2]
	if d.Op == riscv.OpInvalid {
		return decode.Decoded{}, false
	}
	return d, true
}

func (m *Memory[W]) SetDecodedAtConstant(addr uint64, d decode.Decoded) {
	if addr < m.execBegin || addr >= m.execEnd {
		return
	}
	m.execDecode[(addr-m.execBegin)/2] = d
}

func pageNumber(addr uint64) uint64 { return addr >> riscv.PageShift }
func pageOffset(addr uint64) uint32 { return uint32(addr & (riscv.PageSize - 1)) }

// GetPage returns the page backing addr, allocating a fresh
// zero-filled page with perm if it doesn't exist yet and create is
// true. With create false, a missing page is a protection fault: the
// guest referenced memory nothing ever mapped.
func (m *Memory[W]) GetPage(addr uint64, create bool, perm Perm) (*Page, error) {
	pn := pageNumber(addr)
	if p, ok := m.pages[pn]; ok {
		return p, nil
	}
	if !create {
		return nil, riscv.NewException(riscv.ProtectionFault, addr)
	}
	if m.max != 0 && uint64(len(m.pages)+1)*riscv.PageSize > m.max {
		return nil, riscv.NewException(riscv.OutOfMemory, addr)
	}
	p := newPage(perm)
	m.pages[pn] = p
	return p, nil
}

// MapRange eagerly allocates and fills pages covering [addr, addr+len(data)),
// used by the flat-binary loader to install guest segments up front
// rather than fault them in lazily.
func (m *Memory[W]) MapRange(addr uint64, data []byte, perm Perm) error {
	end := addr + uint64(len(data))
	for cur := addr; cur < end; {
		pn := pageNumber(cur)
		off := pageOffset(cur)
		p, err := m.GetPage(cur, true, perm)
		if err != nil {
			return err
		}
		p.Perm = perm
		n := copy(p.Data[off:], data[cur-addr:])
		if n == 0 {
			break
		}
		cur += uint64(n)
		_ = pn
	}
	return nil
}

// FetchHalf returns the raw 16-bit halfword at addr for instruction fetch,
// without consulting or updating the decode cache.
func (m *Memory[W]) FetchHalf(addr uint64) (uint16, error) {
	pn := pageNumber(addr)
	p, ok := m.pages[pn]
	if !ok {
		return 0, riscv.NewException(riscv.ExecutionSpaceProtectionFault, addr)
	}
	if !p.Perm.Executable() {
		return 0, riscv.NewException(riscv.ExecutionSpaceProtectionFault, addr)
	}
	off := pageOffset(addr)
	return uint16(p.Data[off]) | uint16(p.Data[off+1])<<8, nil
}

// DecodedAt returns the cached decode for the instruction at addr, or
// false if the page has no page-table entry or nothing cached there.
func (m *Memory[W]) DecodedAt(addr uint64) (decode.Decoded, bool) {
	pn := pageNumber(addr)
	p, ok := m.pages[pn]
	if !ok {
		return decode.Decoded{}, false
	}
	d := p.cachedAt(pageOffset(addr))
	if d.Op == riscv.OpInvalid {
		return decode.Decoded{}, false
	}
	return d, true
}

// SetDecodedAt installs a decode cache entry for addr.
func (m *Memory[W]) SetDecodedAt(addr uint64, d decode.Decoded) {
	pn := pageNumber(addr)
	p, ok := m.pages[pn]
	if !ok {
		return
	}
	p.setCachedAt(pageOffset(addr), d)
}

// ReadByte, ReadHalf, ReadWord, ReadDWord load little-endian values,
// checking permission and page presence.
func (m *Memory[W]) ReadByte(addr uint64) (byte, error) {
	p, err := m.pageFor(addr, PermRead)
	if err != nil {
		return 0, err
	}
	return p.Data[pageOffset(addr)], nil
}

func (m *Memory[W]) ReadHalf(addr uint64) (uint16, error) {
	var v uint16
	for i := 0; i < 2; i++ {
		b, err := m.ReadByte(addr + uint64(i))
		if err != nil {
			return 0, err
		}
		v |= uint16(b) << (8 * i)
	}
	return v, nil
}

func (m *Memory[W]) ReadWord(addr uint64) (uint32, error) {
	var v uint32
	for i := 0; i < 4; i++ {
		b, err := m.ReadByte(addr + uint64(i))
		if err != nil {
			return 0, err
		}
		v |= uint32(b) << (8 * i)
	}
	return v, nil
}

func (m *Memory[W]) ReadDWord(addr uint64) (uint64, error) {
	var v uint64
	for i := 0; i < 8; i++ {
		b, err := m.ReadByte(addr + uint64(i))
		if err != nil {
			return 0, err
		}
		v |= uint64(b) << (8 * i)
	}
	return v, nil
}

// WriteByte, WriteHalf, WriteWord, WriteDWord store little-endian
// values and invalidate any decode cache entry on a page with the
// executable bit set, so self-modifying code is re-decoded on next
// fetch.
func (m *Memory[W]) WriteByte(addr uint64, v byte) error {
	if m.execSegmentConstant && addr >= m.execBegin && addr < m.execEnd {
		return riscv.NewException(riscv.ProtectionFault, addr)
	}
	p, err := m.pageFor(addr, PermWrite)
	if err != nil {
		return err
	}
	p.Data[pageOffset(addr)] = v
	if p.Perm.Executable() {
		p.invalidate()
	}
	return nil
}

func (m *Memory[W]) WriteHalf(addr uint64, v uint16) error {
	for i := 0; i < 2; i++ {
		if err := m.WriteByte(addr+uint64(i), byte(v>>(8*i))); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory[W]) WriteWord(addr uint64, v uint32) error {
	for i := 0; i < 4; i++ {
		if err := m.WriteByte(addr+uint64(i), byte(v>>(8*i))); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory[W]) WriteDWord(addr uint64, v uint64) error {
	for i := 0; i < 8; i++ {
		if err := m.WriteByte(addr+uint64(i), byte(v>>(8*i))); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory[W]) pageFor(addr uint64, need Perm) (*Page, error) {
	pn := pageNumber(addr)
	p, ok := m.pages[pn]
	if !ok {
		return nil, riscv.NewException(riscv.ProtectionFault, addr)
	}
	if need == PermRead && !p.Perm.Readable() {
		return nil, riscv.NewException(riscv.ProtectionFault, addr)
	}
	if need == PermWrite && !p.Perm.Writable() {
		return nil, riscv.NewException(riscv.ProtectionFault, addr)
	}
	return p, nil
}

// Memcpy copies data into the guest at addr, crossing page boundaries
// and allocating pages as needed (used by the loader and by
// Machine.CopyToGuest).
func (m *Memory[W]) Memcpy(addr uint64, data []byte, perm Perm) error {
	return m.MapRange(addr, data, perm)
}

// MemcpyOut copies n bytes starting at addr out of the guest into a
// freshly allocated slice.
func (m *Memory[W]) MemcpyOut(addr uint64, n int) ([]byte, error) {
	out := make([]byte, n)
	for i := range out {
		b, err := m.ReadByte(addr + uint64(i))
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// Memstring reads a NUL-terminated string starting at addr, up to
// maxLen bytes (protects against a guest that never terminates one).
func (m *Memory[W]) Memstring(addr uint64, maxLen int) (string, error) {
	buf := make([]byte, 0, 64)
	for i := 0; i < maxLen; i++ {
		b, err := m.ReadByte(addr + uint64(i))
		if err != nil {
			return "", err
		}
		if b == 0 {
			return string(buf), nil
		}
		buf = append(buf, b)
	}
	return "", fmt.Errorf("memstring: no NUL terminator within %d bytes of 0x%x", maxLen, addr)
}

// PageCount reports how many pages are currently resident, for tests
// and diagnostics.
func (m *Memory[W]) PageCount() int { return len(m.pages) }

// PageAt returns the resident page number pn (addr >> PageShift) for
// addr without allocating one. Used by cpu's small MRU page cache to
// skip the map lookup on repeated fetches from the same page.
func (m *Memory[W]) PageAt(addr uint64) (*Page, uint64, bool) {
	pn := pageNumber(addr)
	p, ok := m.pages[pn]
	return p, pn, ok
}

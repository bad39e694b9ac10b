package wasm

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("unsupported wasm version")
	ErrSectionOrder   = errors.New("section out of order")
	ErrSectionSize    = errors.New("section size mismatch")
	ErrTooLarge       = errors.New("module exceeds size limit")
)

// Limits describes memory or table bounds.
type Limits struct {
	Max      *uint64
	Min      uint64
	Shared   bool
	Memory64 bool
}

// Import is a single entry of the import section.
type Import struct {
	Memory  *Limits // set for memory imports
	Module  string
	Name    string
	TypeIdx uint32 // function imports only
	Kind    byte
}

// Export is a single entry of the export section.
type Export struct {
	Name  string
	Index uint32
	Kind  byte
}

// Section is one framed section as it appeared in the stream.
type Section struct {
	Name    string // custom sections only
	Payload []byte
	ID      byte
}

// Summary collects what a full scan learned about a module.
type Summary struct {
	Imports  []Import
	Exports  []Export
	Memories []Limits // imported memories first, then defined
	Custom   []string
	Bytes    []byte
}

// SharedMemory reports whether any memory is declared shared.
func (s *Summary) SharedMemory() bool {
	for _, m := range s.Memories {
		if m.Shared {
			return true
		}
	}
	return false
}

// HasExport reports whether an export with the given name and kind exists.
func (s *Summary) HasExport(name string, kind byte) bool {
	for _, e := range s.Exports {
		if e.Name == name && e.Kind == kind {
			return true
		}
	}
	return false
}

// Scanner reads a module section by section from a stream.
// The header is validated before any section is read, so a bad
// stream fails without being consumed.
type Scanner struct {
	src     *bufio.Reader
	raw     bytes.Buffer
	summary Summary
	// MaxBytes bounds the total module size. Zero means unbounded.
	MaxBytes int64
	last     int
	started  bool
}

// NewScanner creates a scanner over r.
func NewScanner(r io.Reader) *Scanner {
	s := &Scanner{}
	s.src = bufio.NewReader(io.TeeReader(r, &s.raw))
	return s
}

func (s *Scanner) header() error {
	var hdr [8]byte
	if _, err := io.ReadFull(s.src, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("read header: %w", ErrInvalidMagic)
		}
		return fmt.Errorf("read header: %w", err)
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != Magic {
		return ErrInvalidMagic
	}
	if binary.LittleEndian.Uint32(hdr[4:8]) != Version {
		return ErrInvalidVersion
	}
	return nil
}

// Next returns the next section, or io.EOF after the last one.
func (s *Scanner) Next() (Section, error) {
	if !s.started {
		s.started = true
		if err := s.header(); err != nil {
			return Section{}, err
		}
	}

	id, err := s.src.ReadByte()
	if err == io.EOF {
		return Section{}, io.EOF
	}
	if err != nil {
		return Section{}, err
	}

	if id != SectionCustom {
		order := sectionOrder(id)
		if order < 0 {
			return Section{}, fmt.Errorf("unknown section id %d", id)
		}
		if order <= s.last {
			return Section{}, fmt.Errorf("section %d: %w", id, ErrSectionOrder)
		}
		s.last = order
	}

	size, err := ReadLEB128u(s.src)
	if err != nil {
		return Section{}, fmt.Errorf("section %d size: %w", id, err)
	}
	if s.MaxBytes > 0 && s.consumed()+int64(size) > s.MaxBytes {
		return Section{}, ErrTooLarge
	}

	var payload bytes.Buffer
	if _, err := io.CopyN(&payload, s.src, int64(size)); err != nil {
		return Section{}, fmt.Errorf("section %d payload: %w", id, io.ErrUnexpectedEOF)
	}

	sec := Section{ID: id, Payload: payload.Bytes()}
	if err := s.record(&sec); err != nil {
		return Section{}, fmt.Errorf("section %d: %w", id, err)
	}
	return sec, nil
}

func (s *Scanner) record(sec *Section) error {
	r := bytes.NewReader(sec.Payload)
	var err error
	switch sec.ID {
	case SectionCustom:
		sec.Name, err = readName(r)
		if err != nil {
			return err
		}
		s.summary.Custom = append(s.summary.Custom, sec.Name)
		return nil
	case SectionImport:
		err = s.readImports(r)
	case SectionMemory:
		err = s.readMemories(r)
	case SectionExport:
		err = s.readExports(r)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	if r.Len() != 0 {
		return ErrSectionSize
	}
	return nil
}

// consumed is the number of bytes handed out by the buffered reader.
func (s *Scanner) consumed() int64 {
	return int64(s.raw.Len() - s.src.Buffered())
}

// Summary returns what has been scanned so far.
func (s *Scanner) Summary() *Summary {
	sum := s.summary
	sum.Bytes = s.raw.Bytes()
	return &sum
}

// Scan consumes r to the end and returns the module summary.
func Scan(r io.Reader) (*Summary, error) {
	return ScanLimit(r, 0)
}

// ScanLimit is Scan with an upper bound on module size.
func ScanLimit(r io.Reader, max int64) (*Summary, error) {
	s := NewScanner(r)
	s.MaxBytes = max
	for {
		_, err := s.Next()
		if err == io.EOF {
			return s.Summary(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (s *Scanner) readImports(r *bytes.Reader) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		var imp Import
		if imp.Module, err = readName(r); err != nil {
			return fmt.Errorf("import %d module: %w", i, err)
		}
		if imp.Name, err = readName(r); err != nil {
			return fmt.Errorf("import %d name: %w", i, err)
		}
		if imp.Kind, err = r.ReadByte(); err != nil {
			return err
		}
		switch imp.Kind {
		case KindFunc:
			imp.TypeIdx, err = ReadLEB128u(r)
		case KindTable:
			if err = skipRefType(r); err == nil {
				_, err = readLimits(r)
			}
		case KindMemory:
			var lim Limits
			if lim, err = readLimits(r); err == nil {
				imp.Memory = &lim
				s.summary.Memories = append(s.summary.Memories, lim)
			}
		case KindGlobal:
			if err = skipRefType(r); err == nil {
				_, err = r.ReadByte() // mutability
			}
		case KindTag:
			if _, err = r.ReadByte(); err == nil {
				imp.TypeIdx, err = ReadLEB128u(r)
			}
		default:
			return fmt.Errorf("import %d: unknown kind 0x%02x", i, imp.Kind)
		}
		if err != nil {
			return fmt.Errorf("import %s.%s: %w", imp.Module, imp.Name, err)
		}
		s.summary.Imports = append(s.summary.Imports, imp)
	}
	return nil
}

func (s *Scanner) readMemories(r *bytes.Reader) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		lim, err := readLimits(r)
		if err != nil {
			return fmt.Errorf("memory %d: %w", i, err)
		}
		s.summary.Memories = append(s.summary.Memories, lim)
	}
	return nil
}

func (s *Scanner) readExports(r *bytes.Reader) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		var exp Export
		if exp.Name, err = readName(r); err != nil {
			return fmt.Errorf("export %d name: %w", i, err)
		}
		if exp.Kind, err = r.ReadByte(); err != nil {
			return err
		}
		if exp.Index, err = ReadLEB128u(r); err != nil {
			return err
		}
		s.summary.Exports = append(s.summary.Exports, exp)
	}
	return nil
}

func readName(r *bytes.Reader) (string, error) {
	n, err := ReadLEB128u(r)
	if err != nil {
		return "", err
	}
	if int(n) > r.Len() {
		return "", io.ErrUnexpectedEOF
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readLimits(r *bytes.Reader) (Limits, error) {
	var lim Limits
	flags, err := r.ReadByte()
	if err != nil {
		return lim, err
	}
	lim.Shared = flags&LimitsShared != 0
	lim.Memory64 = flags&LimitsMemory64 != 0
	if lim.Min, err = ReadLEB128u64(r); err != nil {
		return lim, err
	}
	if flags&LimitsHasMax != 0 {
		max, err := ReadLEB128u64(r)
		if err != nil {
			return lim, err
		}
		lim.Max = &max
	}
	return lim, nil
}

// skipRefType consumes a value or reference type, including the
// typed-reference forms that carry a heap type.
func skipRefType(r *bytes.Reader) error {
	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	if b == 0x63 || b == 0x64 {
		_, err = ReadLEB128s64(r)
	}
	return err
}

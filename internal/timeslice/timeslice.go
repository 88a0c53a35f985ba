// Package timeslice records how long the phases of compiling and running a
// module take. Records are streamed to a writer in a compact binary form
// and read back with ReadAllRecords or Summarize.
//
// A recording is a header, a JSON table of kinds padded to a page, then
// one 16 byte record (kind, nanoseconds) per measurement.
package timeslice

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	magic    uint32 = 0x54534c46 // "TSLF"
	version  uint32 = 3
	pageSize        = 4096
)

type header struct {
	Magic      uint32
	Version    uint32
	KindsBytes uint32
}

// Kind identifies a registered slice name.
type Kind uint64

type kindInfo struct {
	Name  string
	Flags SliceFlags
}

type SliceFlags uint32

const (
	// SliceFlagCompile marks time spent producing code.
	SliceFlagCompile SliceFlags = 1 << iota
	// SliceFlagNative marks time spent running generated code.
	SliceFlagNative
)

func (f SliceFlags) String() string {
	var names []string
	if f&SliceFlagCompile != 0 {
		names = append(names, "compile")
	}
	if f&SliceFlagNative != 0 {
		names = append(names, "native")
	}
	return strings.Join(names, ",")
}

var (
	kindsMu sync.Mutex
	kinds   = make(map[Kind]kindInfo)
)

// RegisterKind is meant for package level variables. Kinds registered
// after Open are missing from that recording.
func RegisterKind(name string, flags SliceFlags) Kind {
	kindsMu.Lock()
	defer kindsMu.Unlock()

	k := Kind(len(kinds) + 1)
	kinds[k] = kindInfo{Name: name, Flags: flags}
	return k
}

type record struct {
	Kind     Kind
	Duration int64
}

type recording struct {
	records chan record
	done    chan error
}

var current atomic.Pointer[recording]

// drain writes records until the channel closes. After a write error the
// remaining records are discarded so Record never blocks.
func (r *recording) drain(w io.Writer) {
	bw := bufio.NewWriterSize(w, pageSize)
	var err error
	for rec := range r.records {
		if err == nil {
			err = binary.Write(bw, binary.LittleEndian, rec)
		}
	}
	if err == nil {
		err = bw.Flush()
	}
	r.done <- err
}

func (r *recording) Close() error {
	if !current.CompareAndSwap(r, nil) {
		return errors.New("timeslice: already closed")
	}
	close(r.records)
	if err := <-r.done; err != nil {
		return fmt.Errorf("timeslice: write records: %w", err)
	}
	return nil
}

// Recorder measures consecutive phases. It is not safe for concurrent use.
type Recorder struct {
	last time.Time
}

func NewRecorder() *Recorder {
	return &Recorder{last: time.Now()}
}

// Record attributes the time since the previous call (or NewRecorder) to k.
func (r *Recorder) Record(k Kind) {
	now := time.Now()
	Record(k, now.Sub(r.last))
	r.last = now
}

// Record is a no-op unless a recording is open.
func Record(k Kind, d time.Duration) {
	if r := current.Load(); r != nil {
		r.records <- record{Kind: k, Duration: d.Nanoseconds()}
	}
}

// Recording reports whether a recording is open.
func Recording() bool { return current.Load() != nil }

// Open starts a recording on w. Only one recording can be open at a time.
func Open(w io.Writer) (io.Closer, error) {
	if Recording() {
		return nil, errors.New("timeslice: already open")
	}

	kindsMu.Lock()
	table, err := json.Marshal(kinds)
	kindsMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("timeslice: encode kinds: %w", err)
	}

	hdr := header{Magic: magic, Version: version, KindsBytes: uint32(len(table))}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return nil, fmt.Errorf("timeslice: write header: %w", err)
	}
	if _, err := w.Write(table); err != nil {
		return nil, fmt.Errorf("timeslice: write kinds: %w", err)
	}
	if pad := padding(binary.Size(hdr) + len(table)); pad > 0 {
		if _, err := w.Write(make([]byte, pad)); err != nil {
			return nil, fmt.Errorf("timeslice: write padding: %w", err)
		}
	}

	r := &recording{
		records: make(chan record, pageSize),
		done:    make(chan error, 1),
	}
	if !current.CompareAndSwap(nil, r) {
		return nil, errors.New("timeslice: already open")
	}
	go r.drain(w)
	return r, nil
}

func padding(n int) int {
	if n%pageSize == 0 {
		return 0
	}
	return pageSize - n%pageSize
}

// ReadAllRecords calls fn for every record of a recording, in order.
func ReadAllRecords(r io.Reader, fn func(name string, flags SliceFlags, d time.Duration) error) error {
	br := bufio.NewReaderSize(r, pageSize)

	var hdr header
	if err := binary.Read(br, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("timeslice: read header: %w", err)
	}
	if hdr.Magic != magic {
		return errors.New("timeslice: invalid magic")
	}
	if hdr.Version != version {
		return fmt.Errorf("timeslice: unsupported version %d", hdr.Version)
	}

	var table map[Kind]kindInfo
	if err := json.NewDecoder(io.LimitReader(br, int64(hdr.KindsBytes))).Decode(&table); err != nil {
		return fmt.Errorf("timeslice: decode kinds: %w", err)
	}
	if _, err := br.Discard(padding(binary.Size(hdr) + int(hdr.KindsBytes))); err != nil {
		return fmt.Errorf("timeslice: skip padding: %w", err)
	}

	for {
		var rec record
		if err := binary.Read(br, binary.LittleEndian, &rec); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("timeslice: read record: %w", err)
		}
		info, ok := table[rec.Kind]
		if !ok {
			return fmt.Errorf("timeslice: unknown kind %d", rec.Kind)
		}
		if err := fn(info.Name, info.Flags, time.Duration(rec.Duration)); err != nil {
			return err
		}
	}
}

// Total aggregates every record of one kind.
type Total struct {
	Name     string
	Flags    SliceFlags
	Count    int
	Duration time.Duration
}

// Summarize totals a recording per kind, longest first.
func Summarize(r io.Reader) ([]Total, error) {
	byName := make(map[string]*Total)
	if err := ReadAllRecords(r, func(name string, flags SliceFlags, d time.Duration) error {
		t, ok := byName[name]
		if !ok {
			t = &Total{Name: name, Flags: flags}
			byName[name] = t
		}
		t.Count++
		t.Duration += d
		return nil
	}); err != nil {
		return nil, err
	}

	totals := make([]Total, 0, len(byName))
	for _, t := range byName {
		totals = append(totals, *t)
	}
	sort.Slice(totals, func(i, j int) bool {
		if totals[i].Duration != totals[j].Duration {
			return totals[i].Duration > totals[j].Duration
		}
		return totals[i].Name < totals[j].Name
	})
	return totals, nil
}

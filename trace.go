package mptcpsim

// trace.go holds the trace manager.  The log layout is byte-exact
// because it exists to be diffed against another implementation's
// output: a newline-terminated text header mapping component names to
// numeric ids and declaring metadata, the literal line "# TRACE", and
// then fixed-size big-endian binary records.  Record count is
// (file size - header size) / TraceRecordSize, so the record size can
// never vary within a file.

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// TraceEventType tags what a record describes
type TraceEventType int32

const (
	TraceSend TraceEventType = iota
	TraceAck
	TraceDupAck
	TraceRetransmit
	TraceDrop
	TraceState
)

var tetToStr map[TraceEventType]string = map[TraceEventType]string{
	TraceSend: "send", TraceAck: "ack", TraceDupAck: "dupack",
	TraceRetransmit: "rtx", TraceDrop: "drop", TraceState: "state"}

func (tet TraceEventType) String() string { return tetToStr[tet] }

// TraceRecord is the fixed-size binary record.  Field order and
// widths are the wire layout; do not rearrange.
type TraceRecord struct {
	Ticks  int64 // virtual timestamp
	CompID int32 // component id from the header mapping
	Type   int32 // TraceEventType
	Seq    int64 // sequence number the event concerns
	Cwnd   int64 // congestion window at the instant of the event
	Rto    int64 // RTO in ticks at the instant of the event
}

// TraceRecordSize is the encoded size of one TraceRecord
const TraceRecordSize = 40

// traceEndOfHeader is the line that separates header from records
const traceEndOfHeader = "# TRACE"

// TraceManager gathers records during a run and serializes them.
// Testing the Active flag lets callers embed trace calls everywhere
// they are needed while inhibiting the gathering when unwanted.
type TraceManager struct {
	InUse   bool
	ExpName string

	idByName  map[string]int32
	nameOrder []string // registration order fixes header order and ids
	metaKeys  []string
	metaVals  []string
	records   []TraceRecord
}

// CreateTraceManager is a constructor.  It saves the name of the
// experiment and a flag indicating whether the trace manager is active.
func CreateTraceManager(expName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = expName
	tm.idByName = make(map[string]int32)
	tm.nameOrder = []string{}
	tm.records = []TraceRecord{}
	tm.AddMeta("experiment", expName)
	return tm
}

// Active tells the caller whether the trace manager is actively being used
func (tm *TraceManager) Active() bool {
	return tm.InUse
}

// RegisterComponent assigns the next numeric id to a component name
// for the header dictionary.  Duplicate names are a modeling bug.
func (tm *TraceManager) RegisterComponent(name string) int32 {
	_, present := tm.idByName[name]
	if present {
		panic(fmt.Sprintf("duplicated component name %q in trace registration", name))
	}
	id := int32(len(tm.nameOrder))
	tm.idByName[name] = id
	tm.nameOrder = append(tm.nameOrder, name)
	return id
}

// AddMeta declares a header metadata key/value pair
func (tm *TraceManager) AddMeta(key, value string) {
	tm.metaKeys = append(tm.metaKeys, key)
	tm.metaVals = append(tm.metaVals, value)
}

// Add stores one record
func (tm *TraceManager) Add(vt VirtualTime, compID int32, typ TraceEventType,
	seq, cwnd, rto int64) {

	if !tm.InUse {
		return
	}
	tm.records = append(tm.records,
		TraceRecord{Ticks: vt.Ticks(), CompID: compID, Type: int32(typ),
			Seq: seq, Cwnd: cwnd, Rto: rto})
}

// Records returns how many records have been gathered
func (tm *TraceManager) Records() int {
	return len(tm.records)
}

// WriteTo serializes header and records to a writer
func (tm *TraceManager) WriteTo(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for idx, name := range tm.nameOrder {
		_, err := fmt.Fprintf(bw, ":%s=%d\n", name, idx)
		if err != nil {
			return err
		}
	}
	for idx, key := range tm.metaKeys {
		_, err := fmt.Fprintf(bw, "#%s=%s\n", key, tm.metaVals[idx])
		if err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(bw, "%s\n", traceEndOfHeader)
	if err != nil {
		return err
	}
	for _, rec := range tm.records {
		err = binary.Write(bw, binary.BigEndian, rec)
		if err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteToFile stores the trace to the named file
func (tm *TraceManager) WriteToFile(filename string) error {
	if !tm.InUse {
		return nil
	}
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	werr := tm.WriteTo(f)
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

// TraceLog is the parsed form of a trace file
type TraceLog struct {
	IDByName map[string]int32
	Meta     map[string]string
	Records  []TraceRecord
}

// ReadTraceLog parses a trace back from a reader: header dictionary,
// metadata, then binary records until EOF
func ReadTraceLog(r io.Reader) (*TraceLog, error) {
	br := bufio.NewReader(r)
	tl := new(TraceLog)
	tl.IDByName = make(map[string]int32)
	tl.Meta = make(map[string]string)

	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("trace header ended before %q: %w", traceEndOfHeader, err)
		}
		line = strings.TrimSuffix(line, "\n")
		if line == traceEndOfHeader {
			break
		}
		switch {
		case strings.HasPrefix(line, ":"):
			name, idStr, found := strings.Cut(line[1:], "=")
			if !found {
				return nil, fmt.Errorf("malformed component line %q", line)
			}
			id, aerr := strconv.Atoi(idStr)
			if aerr != nil {
				return nil, fmt.Errorf("malformed component id in %q", line)
			}
			tl.IDByName[name] = int32(id)
		case strings.HasPrefix(line, "#"):
			key, value, found := strings.Cut(line[1:], "=")
			if !found {
				return nil, fmt.Errorf("malformed metadata line %q", line)
			}
			tl.Meta[key] = value
		default:
			return nil, fmt.Errorf("unrecognized header line %q", line)
		}
	}

	for {
		var rec TraceRecord
		err := binary.Read(br, binary.BigEndian, &rec)
		if err == io.EOF {
			return tl, nil
		}
		if err != nil {
			return nil, fmt.Errorf("truncated trace record: %w", err)
		}
		tl.Records = append(tl.Records, rec)
	}
}

// ReadTraceFile parses the named trace file
func ReadTraceFile(filename string) (*TraceLog, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ReadTraceLog(bytes.NewReader(raw))
}

package mptcpsim

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTraceManager_RoundTripThroughBuffer(t *testing.T) {
	tm := CreateTraceManager("rt", true)
	id0 := tm.RegisterComponent("sub0")
	id1 := tm.RegisterComponent("sub1")
	require.Equal(t, int32(0), id0)
	require.Equal(t, int32(1), id1)
	tm.AddMeta("coupling", "COUPLED_INC")

	tm.Add(1000, id0, TraceSend, 0, 1460, 3_000_000_000_000)
	tm.Add(2000, id1, TraceAck, 1460, 2920, 3_000_000_000_000)
	tm.Add(3000, id0, TraceDrop, 2920, 2920, 3_000_000_000_000)

	var buf bytes.Buffer
	require.NoError(t, tm.WriteTo(&buf))

	tl, err := ReadTraceLog(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	require.Equal(t, int32(0), tl.IDByName["sub0"])
	require.Equal(t, int32(1), tl.IDByName["sub1"])
	require.Equal(t, "rt", tl.Meta["experiment"])
	require.Equal(t, "COUPLED_INC", tl.Meta["coupling"])

	require.Len(t, tl.Records, 3)
	require.Equal(t, TraceRecord{Ticks: 1000, CompID: 0, Type: int32(TraceSend),
		Seq: 0, Cwnd: 1460, Rto: 3_000_000_000_000}, tl.Records[0])
	require.Equal(t, int32(TraceAck), tl.Records[1].Type)
	require.Equal(t, int64(2920), tl.Records[2].Seq)
}

func TestTraceManager_RecordCountFollowsFromFileSize(t *testing.T) {
	tm := CreateTraceManager("sized", true)
	id := tm.RegisterComponent("conn")
	for tick := int64(0); tick < 5; tick++ {
		tm.Add(VirtualTime(tick*100), id, TraceSend, tick*1460, 1460, 1000)
	}

	var buf bytes.Buffer
	require.NoError(t, tm.WriteTo(&buf))

	// the header ends with the marker line; everything after is records
	idx := bytes.Index(buf.Bytes(), []byte(traceEndOfHeader+"\n"))
	require.GreaterOrEqual(t, idx, 0)
	headerLen := idx + len(traceEndOfHeader) + 1
	require.Equal(t, 5*TraceRecordSize, buf.Len()-headerLen)
}

func TestTraceManager_HeaderLayout(t *testing.T) {
	tm := CreateTraceManager("layout", true)
	tm.RegisterComponent("a")
	tm.RegisterComponent("b")
	tm.AddMeta("paths", "2")

	var buf bytes.Buffer
	require.NoError(t, tm.WriteTo(&buf))

	lines := strings.Split(buf.String(), "\n")
	require.Equal(t, ":a=0", lines[0])
	require.Equal(t, ":b=1", lines[1])
	require.Equal(t, "#experiment=layout", lines[2])
	require.Equal(t, "#paths=2", lines[3])
	require.Equal(t, traceEndOfHeader, lines[4])
}

func TestTraceManager_InactiveGathersNothing(t *testing.T) {
	tm := CreateTraceManager("off", false)
	id := tm.RegisterComponent("conn")
	tm.Add(100, id, TraceSend, 0, 1460, 1000)

	require.False(t, tm.Active())
	require.Equal(t, 0, tm.Records())

	// WriteToFile on an inactive manager must not create the file
	path := filepath.Join(t.TempDir(), "off.trace")
	require.NoError(t, tm.WriteToFile(path))
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestTraceManager_FileRoundTrip(t *testing.T) {
	tm := CreateTraceManager("file", true)
	id := tm.RegisterComponent("conn")
	tm.Add(12345, id, TraceRetransmit, 1460, 1460, 99)

	path := filepath.Join(t.TempDir(), "run.trace")
	require.NoError(t, tm.WriteToFile(path))

	tl, err := ReadTraceFile(path)
	require.NoError(t, err)
	require.Len(t, tl.Records, 1)
	require.Equal(t, int64(12345), tl.Records[0].Ticks)
	require.Equal(t, int32(TraceRetransmit), tl.Records[0].Type)
}

func TestTraceManager_DuplicateComponentPanics(t *testing.T) {
	tm := CreateTraceManager("dup", true)
	tm.RegisterComponent("conn")
	defer func() {
		if recover() == nil {
			t.Errorf("duplicate component registration did not panic")
		}
	}()
	tm.RegisterComponent("conn")
}

func TestReadTraceLog_RejectsMalformedInput(t *testing.T) {
	// header never terminated
	_, err := ReadTraceLog(strings.NewReader(":a=0\n"))
	require.Error(t, err)

	// unrecognized header line
	_, err = ReadTraceLog(strings.NewReader("bogus\n# TRACE\n"))
	require.Error(t, err)

	// record area not a multiple of the record size
	var buf bytes.Buffer
	buf.WriteString(":a=0\n# TRACE\n")
	buf.Write(make([]byte, TraceRecordSize-1))
	_, err = ReadTraceLog(bytes.NewReader(buf.Bytes()))
	require.Error(t, err)
}

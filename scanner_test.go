package mptcpsim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRtxTimerScanner_NonPositivePeriodRejected(t *testing.T) {
	_, err := CreateRtxTimerScanner(0)
	if err == nil {
		t.Errorf("zero scan period was accepted")
	}
	_, err = CreateRtxTimerScanner(-5)
	if err == nil {
		t.Errorf("negative scan period was accepted")
	}
}

func TestRtxTimerScanner_DuplicateRegistrationRejected(t *testing.T) {
	out, back := buildPipePair(t, 1000)
	conn, err := CreateTcpConnection("s0", out, back, 1000, 4000, 3000, 24000)
	require.NoError(t, err)

	scn, err := CreateRtxTimerScanner(1000)
	require.NoError(t, err)

	require.NoError(t, scn.Register(conn))
	require.Error(t, scn.Register(conn))
	require.Equal(t, 1, scn.Registered())
}

func TestRtxTimerScanner_DeregisterIsIdempotent(t *testing.T) {
	out, back := buildPipePair(t, 1000)
	a, err := CreateTcpConnection("sa", out, back, 1000, 4000, 3000, 24000)
	require.NoError(t, err)
	b, err := CreateTcpConnection("sb", out, back, 1000, 4000, 3000, 24000)
	require.NoError(t, err)

	scn, err := CreateRtxTimerScanner(1000)
	require.NoError(t, err)
	require.NoError(t, scn.Register(a))
	require.NoError(t, scn.Register(b))

	scn.Deregister(a)
	require.Equal(t, 1, scn.Registered())
	scn.Deregister(a) // unknown connection, no-op
	require.Equal(t, 1, scn.Registered())
	require.Nil(t, a.scanner)
	require.NotNil(t, b.scanner)
}

func TestRtxTimerScanner_TicksRecurUntilStopped(t *testing.T) {
	evtMgr := CreateEventManager()
	scn, err := CreateRtxTimerScanner(1000)
	require.NoError(t, err)

	scn.Start(evtMgr)
	evtMgr.RunUntil(3500)
	// ticks at 1000, 2000, 3000 ran; the 4000 tick is pending
	require.Equal(t, VirtualTime(3000), evtMgr.CurrentTime())
	require.Equal(t, 1, evtMgr.EventsPending())

	scn.Stop(evtMgr)
	evtMgr.Run()
	require.Equal(t, 0, evtMgr.EventsPending())
}

func TestRtxTimerScanner_StoppedScannerFiresNoTimeouts(t *testing.T) {
	evtMgr := CreateEventManager()
	out, back := buildPipePair(t, 50000)

	// a SYN into a 100000-tick round trip with a 3000-tick RTO would
	// retransmit many times if the scanner were running
	conn, err := CreateTcpConnection("quiet", out, back, 1000, 4000, 3000, 24000)
	require.NoError(t, err)
	require.NoError(t, conn.SetFlowsize(1000))

	scn, err := CreateRtxTimerScanner(1000)
	require.NoError(t, err)
	require.NoError(t, scn.Register(conn))

	done := 0
	require.NoError(t, conn.Connect(evtMgr, RtnDesc{Cxt: &done, EvtHdlr: countDone}, 0))
	scn.Start(evtMgr)
	scn.Stop(evtMgr)

	evtMgr.RunUntil(100000)
	require.Equal(t, ConnEstablished, conn.State())
	require.Equal(t, 0, conn.RtxCount())
}

package mptcpsim

// scanner.go holds the retransmission-timer scanner.  Connections
// never self-schedule per-connection timers; one recurring event
// sweeps every registered connection and fires timeout handling where
// the deadline has elapsed.  The scanner keeps only id-keyed lookup
// entries, never ownership, so a connection closing mid-scan just
// removes itself.

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// RtxTimerScanner periodically polls registered connections for
// elapsed retransmission deadlines
type RtxTimerScanner struct {
	period   VirtualTime
	connByID map[int]*TcpConnection
	order    []int // registration order, scanned in this order for determinism
	started  bool
	nxtScan  EventID
}

// CreateRtxTimerScanner is a constructor
func CreateRtxTimerScanner(period VirtualTime) (*RtxTimerScanner, error) {
	if period <= 0 {
		return nil, fmt.Errorf("rtx scanner created with non-positive period %d", period)
	}
	scn := new(RtxTimerScanner)
	scn.period = period
	scn.connByID = make(map[int]*TcpConnection)
	scn.order = []int{}
	return scn, nil
}

// Register adds a connection to the scan set.  Registering the same
// connection twice is rejected: silent deduplication would hide the
// kind of double-timeout bug this simulator exists to expose.
func (scn *RtxTimerScanner) Register(conn *TcpConnection) error {
	if slices.Contains(scn.order, conn.ConnID) {
		return fmt.Errorf("connection %s already registered with rtx scanner", conn.Name)
	}
	scn.connByID[conn.ConnID] = conn
	scn.order = append(scn.order, conn.ConnID)
	conn.scanner = scn
	return nil
}

// Deregister removes a connection from the scan set.  Safe to call
// from inside a scan tick (a connection may close itself as a direct
// consequence of the tick); unknown connections are a no-op.
func (scn *RtxTimerScanner) Deregister(conn *TcpConnection) {
	idx := slices.Index(scn.order, conn.ConnID)
	if idx < 0 {
		return
	}
	scn.order = slices.Delete(scn.order, idx, idx+1)
	delete(scn.connByID, conn.ConnID)
	conn.scanner = nil
}

// Registered reports how many connections the scanner is watching
func (scn *RtxTimerScanner) Registered() int {
	return len(scn.order)
}

// Start schedules the first scan tick one period from now
func (scn *RtxTimerScanner) Start(evtMgr *EventManager) {
	if scn.started {
		return
	}
	scn.started = true
	scn.nxtScan = evtMgr.Schedule(scn, nil, rtxScan, scn.period)
}

// Stop cancels the pending tick
func (scn *RtxTimerScanner) Stop(evtMgr *EventManager) {
	if !scn.started {
		return
	}
	scn.started = false
	evtMgr.CancelEvent(scn.nxtScan)
}

// rtxScan is the recurring tick: sweep a snapshot of the registered
// set (so deregistration from inside a timeout handler cannot disturb
// the iteration), then reschedule
func rtxScan(evtMgr *EventManager, context any, data any) any {
	scn := context.(*RtxTimerScanner)

	snapshot := slices.Clone(scn.order)
	for _, connID := range snapshot {
		conn, present := scn.connByID[connID]
		if !present {
			continue
		}
		conn.CheckRtxTimeout(evtMgr)
	}

	if scn.started {
		scn.nxtScan = evtMgr.Schedule(scn, nil, rtxScan, scn.period)
	}
	return nil
}

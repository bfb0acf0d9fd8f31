package mptcpsim

// tcp.go holds the TcpConnection state machine.  A connection models
// both endpoints of one reliable flow: the sender side keeps the
// window, RTT and retransmission state, the receiver side keeps only
// the cumulative expectation rcvNext and generates (possibly
// duplicate) acknowledgments.  The receiver holds no out-of-order
// buffer; a hole forces the sender back to the oldest unacknowledged
// byte, which is what cumulative-ACK-only semantics permit.

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// ConnState enumerates the connection lifecycle
type ConnState int

const (
	ConnClosed ConnState = iota
	ConnSynSent
	ConnEstablished
	ConnClosing
)

var connStateToStr map[ConnState]string = map[ConnState]string{
	ConnClosed: "CLOSED", ConnSynSent: "SYN_SENT",
	ConnEstablished: "ESTABLISHED", ConnClosing: "CLOSING"}

func (cs ConnState) String() string { return connStateToStr[cs] }

// RtnDesc names an event handler (and the context to give it) that
// some component wants called when a thing it asked for has happened
type RtnDesc struct {
	Cxt     any
	EvtHdlr EventHandlerFunction
}

// package-level counter handing out connection identities
var numberOfConns int = 0

// TcpConnection is the per-flow protocol state machine
type TcpConnection struct {
	ConnID int
	Name   string

	state    ConnState
	routeOut *Route // sender to receiver
	routeIn  *Route // receiver back to sender

	mss      int64
	rwnd     int64 // receive window, caps the usable send window
	flowsize int64 // bytes the flow will transfer

	highestSent  int64 // bytes of data handed to the forward route
	highestAcked int64 // bytes cumulatively acknowledged
	rcvNext      int64 // receiver side cumulative expectation
	dupAckCnt    int
	recoverSeq   int64 // highestSent when fast recovery was entered

	srtt    VirtualTime // zero until the first sample
	rttvar  VirtualTime
	rto     VirtualTime
	rtoInit VirtualTime
	rtoMax  VirtualTime
	backoff int // current RTO backoff multiplier, for reporting

	lastSendTime VirtualTime
	startTime    VirtualTime
	rtxCount     int
	lost         []int64 // sequence numbers reported dropped in flight

	cc      *CongestionController
	coord   *MultipathCoordinator
	scanner *RtxTimerScanner

	trace   *TraceManager
	traceID int32

	done RtnDesc // driver callback fired when the transfer completes
}

// CreateTcpConnection is a constructor.  Configuration that cannot
// describe a working connection is rejected here, never clamped.
func CreateTcpConnection(name string, routeOut, routeIn *Route,
	mss, rwnd int64, rtoInit, rtoMax VirtualTime) (*TcpConnection, error) {

	if routeOut == nil || routeIn == nil {
		return nil, fmt.Errorf("connection %s created without a route pair", name)
	}
	if mss <= 0 {
		return nil, fmt.Errorf("connection %s created with non-positive mss %d", name, mss)
	}
	if rwnd < mss {
		return nil, fmt.Errorf("connection %s receive window %d below one segment %d", name, rwnd, mss)
	}
	if rtoInit <= 0 {
		return nil, fmt.Errorf("connection %s created with non-positive initial RTO %d", name, rtoInit)
	}
	if rtoMax < rtoInit {
		return nil, fmt.Errorf("connection %s RTO cap %d below initial RTO %d", name, rtoMax, rtoInit)
	}

	numberOfConns += 1
	conn := new(TcpConnection)
	conn.ConnID = numberOfConns
	conn.Name = name
	conn.state = ConnClosed
	conn.routeOut = routeOut
	conn.routeIn = routeIn
	conn.mss = mss
	conn.rwnd = rwnd
	conn.rtoInit = rtoInit
	conn.rtoMax = rtoMax
	conn.rto = rtoInit
	conn.backoff = 1
	conn.traceID = -1
	conn.cc = CreateCongestionController(mss)
	return conn, nil
}

// SetFlowsize declares how many bytes the flow will carry
func (conn *TcpConnection) SetFlowsize(bytes int64) error {
	if bytes <= 0 {
		return fmt.Errorf("connection %s given non-positive flowsize %d", conn.Name, bytes)
	}
	conn.flowsize = bytes
	return nil
}

// AttachTrace registers the connection with a trace manager so its
// protocol events appear in the binary log
func (conn *TcpConnection) AttachTrace(tm *TraceManager) {
	conn.trace = tm
	conn.traceID = tm.RegisterComponent(conn.Name)
}

// State returns the connection's lifecycle state
func (conn *TcpConnection) State() ConnState { return conn.state }

// HighestSent returns the number of data bytes handed to the route
func (conn *TcpConnection) HighestSent() int64 { return conn.highestSent }

// HighestAcked returns the number of bytes cumulatively acknowledged
func (conn *TcpConnection) HighestAcked() int64 { return conn.highestAcked }

// RTO returns the current retransmission timeout
func (conn *TcpConnection) RTO() VirtualTime { return conn.rto }

// SRTT returns the smoothed round-trip estimate, zero before sampling
func (conn *TcpConnection) SRTT() VirtualTime { return conn.srtt }

// RtxCount returns how many retransmissions the connection has issued
func (conn *TcpConnection) RtxCount() int { return conn.rtxCount }

// LostSegments returns the sequence numbers the links reported dropped
func (conn *TcpConnection) LostSegments() []int64 { return conn.lost }

// Cwnd exposes the congestion window for observers
func (conn *TcpConnection) Cwnd() int64 { return conn.cc.Cwnd() }

// Connect arms the connection: at startTime it sends its SYN and
// enters SYN_SENT.  The done descriptor is called back (through the
// event manager) when the whole flow has been acknowledged.
func (conn *TcpConnection) Connect(evtMgr *EventManager, done RtnDesc, startTime VirtualTime) error {
	if conn.state != ConnClosed {
		return fmt.Errorf("connection %s connect in state %s", conn.Name, conn.state)
	}
	if conn.flowsize == 0 {
		return fmt.Errorf("connection %s connect before SetFlowsize", conn.Name)
	}
	conn.done = done
	conn.startTime = startTime
	evtMgr.ScheduleAt(conn, nil, connSendSyn, startTime)
	return nil
}

// connSendSyn launches the SYN.  The initial RTO is deliberately
// larger than typical round trips; a path whose RTT exceeds it will
// legitimately retransmit the SYN before the SYN-ACK lands, which is
// correct TCP behavior and preserved as such.
func connSendSyn(evtMgr *EventManager, context any, data any) any {
	conn := context.(*TcpConnection)
	conn.state = ConnSynSent
	conn.highestSent = 0
	conn.lastSendTime = evtMgr.CurrentTime()
	logrus.Infof("conn %s: SYN at %f", conn.Name, evtMgr.CurrentSeconds())
	conn.logTrace(evtMgr, TraceSend, 0)

	seg := &Segment{ConnID: conn.ConnID, SYN: true, SendTime: evtMgr.CurrentTime()}
	conn.routeOut.Send(evtMgr, seg, conn, connPeerArrival, conn, connSegmentLost)
	return nil
}

// connPeerArrival runs the receiver side: answer a SYN with a
// SYN-ACK, answer data with the cumulative acknowledgment.  Data at
// or before rcvNext advances nothing but is still acknowledged, data
// beyond it leaves rcvNext alone and so produces a duplicate ACK.
func connPeerArrival(evtMgr *EventManager, context any, data any) any {
	conn := context.(*TcpConnection)
	seg := data.(*Segment)
	now := evtMgr.CurrentTime()

	if seg.SYN {
		rpl := &Segment{ConnID: conn.ConnID, SYN: true, ACK: true,
			SendTime: now, Echo: seg.SendTime}
		conn.routeIn.Send(evtMgr, rpl, conn, connAckArrival, conn, connSegmentLost)
		return nil
	}

	if seg.Seq == conn.rcvNext {
		conn.rcvNext += seg.Len
	}
	rpl := &Segment{ConnID: conn.ConnID, ACK: true, Ack: conn.rcvNext,
		SendTime: now, Echo: seg.SendTime}
	conn.routeIn.Send(evtMgr, rpl, conn, connAckArrival, conn, connSegmentLost)
	return nil
}

// connAckArrival runs the sender-side reaction to SYN-ACKs and
// cumulative acknowledgments
func connAckArrival(evtMgr *EventManager, context any, data any) any {
	conn := context.(*TcpConnection)
	seg := data.(*Segment)
	now := evtMgr.CurrentTime()

	switch conn.state {
	case ConnSynSent:
		if !(seg.SYN && seg.ACK) {
			return nil
		}
		// first RTT sample seeds the estimators
		conn.seedRtt(now - seg.Echo)
		conn.state = ConnEstablished
		conn.highestAcked = conn.highestSent
		logrus.Infof("conn %s: established at %f, srtt %f",
			conn.Name, evtMgr.CurrentSeconds(), conn.srtt.Seconds())
		conn.logTrace(evtMgr, TraceState, 0)
		conn.sendAvailableData(evtMgr)

	case ConnEstablished:
		if !seg.ACK || seg.SYN {
			return nil
		}
		if seg.Ack > conn.highestAcked {
			ackedBytes := seg.Ack - conn.highestAcked
			conn.highestAcked = seg.Ack
			conn.dupAckCnt = 0
			conn.updateRtt(now - seg.Echo)
			if conn.cc.InFastRecovery() && conn.highestAcked >= conn.recoverSeq {
				conn.cc.exitFastRecovery()
			}
			if conn.coord != nil {
				conn.coord.onAck(conn, ackedBytes)
			} else {
				conn.cc.onAck()
			}
			conn.logTrace(evtMgr, TraceAck, seg.Ack)
			if conn.highestAcked >= conn.flowsize {
				conn.complete(evtMgr)
				return nil
			}
			conn.sendAvailableData(evtMgr)
		} else if seg.Ack == conn.highestAcked {
			// stale acks below the cumulative point are ignored, equal
			// acks are the duplicates fast retransmit counts
			conn.dupAckCnt += 1
			conn.logTrace(evtMgr, TraceDupAck, seg.Ack)
			if conn.dupAckCnt == 3 {
				conn.fastRetransmit(evtMgr)
			}
		}
	}
	return nil
}

// connSegmentLost is the loss path the link primitives report drops
// to.  The loss itself is not an error: the sequence number is marked
// and recovery is left to duplicate ACKs and the timeout scan.
func connSegmentLost(evtMgr *EventManager, context any, data any) any {
	conn := context.(*TcpConnection)
	seg := data.(*Segment)
	conn.lost = append(conn.lost, seg.Seq)
	logrus.Debugf("conn %s: seq %d dropped in flight at %f",
		conn.Name, seg.Seq, evtMgr.CurrentSeconds())
	conn.logTrace(evtMgr, TraceDrop, seg.Seq)
	return nil
}

// sendAvailableData pushes new segments while the window allows
func (conn *TcpConnection) sendAvailableData(evtMgr *EventManager) {
	if conn.state != ConnEstablished {
		return
	}
	wnd := conn.cc.Cwnd()
	if conn.rwnd < wnd {
		wnd = conn.rwnd
	}
	for conn.highestSent < conn.flowsize && conn.highestSent-conn.highestAcked < wnd {
		lngth := conn.mss
		if conn.flowsize-conn.highestSent < lngth {
			lngth = conn.flowsize - conn.highestSent
		}
		conn.sendSegment(evtMgr, conn.highestSent, lngth, false)
		conn.highestSent += lngth
	}
}

// sendSegment stamps and launches one data segment
func (conn *TcpConnection) sendSegment(evtMgr *EventManager, seq, lngth int64, rtx bool) {
	now := evtMgr.CurrentTime()
	seg := &Segment{ConnID: conn.ConnID, Seq: seq, Len: lngth, Rtx: rtx, SendTime: now}
	conn.lastSendTime = now
	if rtx {
		conn.logTrace(evtMgr, TraceRetransmit, seq)
	} else {
		conn.logTrace(evtMgr, TraceSend, seq)
	}
	conn.routeOut.Send(evtMgr, seg, conn, connPeerArrival, conn, connSegmentLost)
}

// fastRetransmit reacts to the third duplicate ACK: resend the
// indicated segment immediately, halve the window, enter recovery
func (conn *TcpConnection) fastRetransmit(evtMgr *EventManager) {
	if conn.coord != nil {
		conn.coord.onDupAckLoss(conn)
	} else {
		conn.cc.onDupAckLoss()
	}
	conn.recoverSeq = conn.highestSent
	conn.rtxCount += 1
	lngth := conn.mss
	if conn.flowsize-conn.highestAcked < lngth {
		lngth = conn.flowsize - conn.highestAcked
	}
	logrus.Debugf("conn %s: fast retransmit seq %d at %f",
		conn.Name, conn.highestAcked, evtMgr.CurrentSeconds())
	conn.sendSegment(evtMgr, conn.highestAcked, lngth, true)
}

// CheckRtxTimeout is invoked only by the RtxTimerScanner.  When the
// deadline has elapsed with data outstanding it retransmits the
// oldest unacknowledged segment, doubles the RTO up to the cap,
// collapses the window, and refreshes lastSendTime so the same
// timeout cannot re-fire before a full new RTO elapses.
func (conn *TcpConnection) CheckRtxTimeout(evtMgr *EventManager) bool {
	if conn.state != ConnSynSent && conn.state != ConnEstablished {
		return false
	}
	outstanding := conn.highestAcked < conn.highestSent || conn.state == ConnSynSent
	if !outstanding {
		return false
	}
	now := evtMgr.CurrentTime()
	if now-conn.lastSendTime < conn.rto {
		return false
	}

	logrus.Infof("conn %s: RTO fired at %f, rto %f backoff %d",
		conn.Name, evtMgr.CurrentSeconds(), conn.rto.Seconds(), conn.backoff)

	if conn.coord != nil {
		conn.coord.onTimeout(conn)
	} else {
		conn.cc.onTimeout()
	}

	// exponential backoff, capped
	if conn.rto*2 <= conn.rtoMax {
		conn.rto *= 2
		conn.backoff *= 2
	} else {
		conn.rto = conn.rtoMax
	}
	conn.rtxCount += 1

	if conn.state == ConnSynSent {
		conn.lastSendTime = now
		conn.logTrace(evtMgr, TraceRetransmit, 0)
		seg := &Segment{ConnID: conn.ConnID, SYN: true, Rtx: true, SendTime: now}
		conn.routeOut.Send(evtMgr, seg, conn, connPeerArrival, conn, connSegmentLost)
		return true
	}

	lngth := conn.mss
	if conn.flowsize-conn.highestAcked < lngth {
		lngth = conn.flowsize - conn.highestAcked
	}
	conn.sendSegment(evtMgr, conn.highestAcked, lngth, true)
	return true
}

// complete runs the teardown: CLOSING immediately, CLOSED (with
// scanner deregistration and the driver callback) as a follow-on
// event at the same instant
func (conn *TcpConnection) complete(evtMgr *EventManager) {
	conn.state = ConnClosing
	conn.logTrace(evtMgr, TraceState, conn.highestAcked)
	evtMgr.Schedule(conn, nil, connClosed, 0)
}

// connClosed finishes teardown
func connClosed(evtMgr *EventManager, context any, data any) any {
	conn := context.(*TcpConnection)
	conn.state = ConnClosed
	if conn.scanner != nil {
		conn.scanner.Deregister(conn)
	}
	logrus.Infof("conn %s: closed at %f after %d retransmissions",
		conn.Name, evtMgr.CurrentSeconds(), conn.rtxCount)
	conn.logTrace(evtMgr, TraceState, conn.highestAcked)
	if conn.done.EvtHdlr != nil {
		evtMgr.Schedule(conn.done.Cxt, conn, conn.done.EvtHdlr, 0)
	}
	return nil
}

// seedRtt initializes the estimators from the first sample, per the
// usual srtt = R, rttvar = R/2 seeding
func (conn *TcpConnection) seedRtt(sample VirtualTime) {
	conn.srtt = sample
	conn.rttvar = sample / 2
	conn.setRto(conn.srtt + 4*conn.rttvar)
	conn.backoff = 1
}

// setRto applies a newly computed timeout, honoring the cap
func (conn *TcpConnection) setRto(rto VirtualTime) {
	if rto > conn.rtoMax {
		rto = conn.rtoMax
	}
	conn.rto = rto
}

// updateRtt folds a new sample into the exponentially smoothed
// estimators, in integer tick arithmetic so runs do not drift
func (conn *TcpConnection) updateRtt(sample VirtualTime) {
	if conn.srtt == 0 {
		conn.seedRtt(sample)
		return
	}
	diff := sample - conn.srtt
	if diff < 0 {
		diff = -diff
	}
	conn.rttvar += (diff - conn.rttvar) / 4
	conn.srtt += (sample - conn.srtt) / 8
	conn.setRto(conn.srtt + 4*conn.rttvar)
	conn.backoff = 1
}

// logTrace emits one binary trace record if a trace is attached
func (conn *TcpConnection) logTrace(evtMgr *EventManager, typ TraceEventType, seq int64) {
	if conn.trace == nil || !conn.trace.Active() {
		return
	}
	conn.trace.Add(evtMgr.CurrentTime(), conn.traceID, typ, seq,
		conn.cc.Cwnd(), conn.rto.Ticks())
}

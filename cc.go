package mptcpsim

// cc.go holds the per-connection AIMD congestion state machine.  All
// window mutation funnels through setCwnd so the one-segment floor is
// enforced in exactly one place, including when a multipath
// coordinator is the caller.

import "math"

// CongestionController tracks the classic slow-start / congestion
// avoidance / fast-recovery window state of one connection
type CongestionController struct {
	mss          int64
	cwnd         int64 // bytes
	ssthresh     int64 // bytes
	fastRecovery bool
}

// initSsthresh leaves slow start effectively unbounded until the first
// loss establishes a real threshold
const initSsthresh int64 = math.MaxInt64 / 2

// CreateCongestionController is a constructor.  The window starts at
// one segment, so the first round trips exhibit slow start.
func CreateCongestionController(mss int64) *CongestionController {
	cc := new(CongestionController)
	cc.mss = mss
	cc.cwnd = mss
	cc.ssthresh = initSsthresh
	return cc
}

// Cwnd returns the congestion window in bytes
func (cc *CongestionController) Cwnd() int64 { return cc.cwnd }

// Ssthresh returns the slow-start threshold in bytes
func (cc *CongestionController) Ssthresh() int64 { return cc.ssthresh }

// MSS returns the segment size the window is counted against
func (cc *CongestionController) MSS() int64 { return cc.mss }

// InFastRecovery reports whether a triple-duplicate-ACK reduction is
// still in effect
func (cc *CongestionController) InFastRecovery() bool { return cc.fastRecovery }

// InSlowStart reports whether the window is still below the threshold
func (cc *CongestionController) InSlowStart() bool { return cc.cwnd < cc.ssthresh }

// setCwnd applies a new window value, never letting it collapse below
// one segment
func (cc *CongestionController) setCwnd(cwnd int64) {
	if cwnd < cc.mss {
		cwnd = cc.mss
	}
	cc.cwnd = cwnd
}

// ackIncrease is the pure uncoupled growth rule: one segment per ACK
// in slow start, segment^2/cwnd per ACK in congestion avoidance
// (about one segment per round trip)
func (cc *CongestionController) ackIncrease() int64 {
	if cc.InSlowStart() {
		return cc.mss
	}
	inc := cc.mss * cc.mss / cc.cwnd
	if inc < 1 {
		inc = 1
	}
	return inc
}

// onAck grows the window in reaction to one cumulative acknowledgment
func (cc *CongestionController) onAck() {
	cc.setCwnd(cc.cwnd + cc.ackIncrease())
}

// increase grows the window by a delta computed elsewhere (the
// multipath coordinator's coupled modes)
func (cc *CongestionController) increase(delta int64) {
	cc.setCwnd(cc.cwnd + delta)
}

// onTimeout is the reaction to an RTO-triggered loss: remember half
// the pre-timeout window as the threshold, collapse to one segment,
// and restart slow start
func (cc *CongestionController) onTimeout() {
	half := cc.cwnd / 2
	if half < cc.mss {
		half = cc.mss
	}
	cc.ssthresh = half
	cc.setCwnd(cc.mss)
	cc.fastRecovery = false
}

// onDupAckLoss is the reaction to a triple duplicate ACK: halve the
// window and enter fast recovery without restarting slow start
func (cc *CongestionController) onDupAckLoss() {
	half := cc.cwnd / 2
	if half < cc.mss {
		half = cc.mss
	}
	cc.ssthresh = half
	cc.setCwnd(half)
	cc.fastRecovery = true
}

// enterFastRecovery raises the recovery flag without touching the
// window, used when a coordinator owns the window arithmetic
func (cc *CongestionController) enterFastRecovery() {
	cc.fastRecovery = true
}

// exitFastRecovery clears the recovery flag once the retransmitted
// data has been acknowledged
func (cc *CongestionController) exitFastRecovery() {
	cc.fastRecovery = false
}

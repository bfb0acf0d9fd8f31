package mptcpsim

// mptcp.go holds the multipath coordinator, which groups several
// TcpConnections as subflows of one logical transfer and couples
// their congestion windows.  The coordinator never writes a subflow
// window itself: every change goes through the subflow's own
// controller, so the one-segment floor stays enforced in one place.

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// CouplingMode selects the cross-subflow window coupling algorithm
type CouplingMode int

const (
	// Uncoupled runs every subflow's controller independently
	Uncoupled CouplingMode = iota

	// CoupledInc couples window increases so the aggregate gets about
	// the throughput of the best single path; decreases stay local to
	// the subflow that saw the loss
	CoupledInc

	// FullyCoupled shares one logical window across all subflows,
	// divided among them in proportion to their measured rates
	FullyCoupled
)

var couplingToStr map[CouplingMode]string = map[CouplingMode]string{
	Uncoupled: "UNCOUPLED", CoupledInc: "COUPLED_INC", FullyCoupled: "FULLY_COUPLED"}

func (cm CouplingMode) String() string { return couplingToStr[cm] }

// ParseCouplingMode maps the configuration spelling to a mode
func ParseCouplingMode(str string) (CouplingMode, error) {
	for mode, name := range couplingToStr {
		if name == str {
			return mode, nil
		}
	}
	return Uncoupled, fmt.Errorf("unrecognized coupling mode %q", str)
}

// MultipathCoordinator applies a coupling algorithm across the
// congestion windows of its subflows.  It holds lookup references
// only; the driver owns the connections' lifecycles.
type MultipathCoordinator struct {
	mode     CouplingMode
	subflows []*TcpConnection

	// aggregate counters the coupled modes work from
	totalAcked     int64
	sharedCwnd     int64 // FullyCoupled logical window
	sharedSsthresh int64
	mss            int64
}

// CreateMultipathCoordinator is a constructor
func CreateMultipathCoordinator(mode CouplingMode) *MultipathCoordinator {
	mc := new(MultipathCoordinator)
	mc.mode = mode
	mc.subflows = []*TcpConnection{}
	mc.sharedSsthresh = initSsthresh
	return mc
}

// Mode returns the active coupling mode
func (mc *MultipathCoordinator) Mode() CouplingMode { return mc.mode }

// TotalAcked returns the aggregate bytes acknowledged across subflows
func (mc *MultipathCoordinator) TotalAcked() int64 { return mc.totalAcked }

// AddSubflow enrolls a connection as one path of the logical
// transfer.  Enrolling the same connection twice is rejected.
func (mc *MultipathCoordinator) AddSubflow(conn *TcpConnection) error {
	if slices.Contains(mc.subflows, conn) {
		return fmt.Errorf("connection %s already a subflow of this coordinator", conn.Name)
	}
	if conn.coord != nil {
		return fmt.Errorf("connection %s already owned by another coordinator", conn.Name)
	}
	mc.subflows = append(mc.subflows, conn)
	conn.coord = mc
	if mc.mss == 0 || conn.mss < mc.mss {
		mc.mss = conn.mss
	}
	mc.sharedCwnd += conn.cc.Cwnd()
	return nil
}

// Subflows returns the enrolled connection count
func (mc *MultipathCoordinator) Subflows() int { return len(mc.subflows) }

// cwndTotal sums the subflow windows
func (mc *MultipathCoordinator) cwndTotal() int64 {
	var total int64
	for _, sf := range mc.subflows {
		total += sf.cc.Cwnd()
	}
	return total
}

// SharedCwnd returns the FullyCoupled logical window
func (mc *MultipathCoordinator) SharedCwnd() int64 { return mc.sharedCwnd }

// onAck attributes an acknowledgment to its subflow and applies the
// mode's increase rule
func (mc *MultipathCoordinator) onAck(conn *TcpConnection, ackedBytes int64) {
	mc.totalAcked += ackedBytes

	switch mc.mode {
	case Uncoupled:
		conn.cc.onAck()

	case CoupledInc:
		// slow start is not coupled; the coupled increase applies in
		// congestion avoidance
		if conn.cc.InSlowStart() {
			conn.cc.onAck()
			return
		}
		conn.cc.increase(mc.coupledIncrease(conn, ackedBytes))

	case FullyCoupled:
		if mc.sharedCwnd < mc.sharedSsthresh {
			mc.sharedCwnd += mc.mss
		} else {
			mc.sharedCwnd += mc.mss * mc.mss / mc.sharedCwnd
		}
		mc.redistribute()
	}
}

// coupledIncrease computes the per-ACK increase for one subflow:
// min(alpha * mss * acked / cwnd_total, mss * acked / cwnd_i), the
// second term being what the subflow would earn running alone
func (mc *MultipathCoordinator) coupledIncrease(conn *TcpConnection, ackedBytes int64) int64 {
	total := mc.cwndTotal()
	if total <= 0 {
		return 0
	}
	alpha := mc.alpha(total)
	coupled := int64(alpha * float64(ackedBytes) * float64(mc.mss) / float64(total))
	single := ackedBytes * conn.cc.MSS() / conn.cc.Cwnd()
	if coupled < single {
		return coupled
	}
	return single
}

// alpha is chosen so the aggregate increase approximates the best
// single path: cwnd_total * max_i(cwnd_i/rtt_i^2) / (sum_i cwnd_i/rtt_i)^2.
// Subflows with no RTT sample yet are treated as having unit RTT.
func (mc *MultipathCoordinator) alpha(total int64) float64 {
	var maxTerm, sumTerm float64
	for _, sf := range mc.subflows {
		rtt := sf.srtt.Seconds()
		if !(rtt > 0.0) {
			rtt = 1.0
		}
		cwnd := float64(sf.cc.Cwnd())
		term := cwnd / (rtt * rtt)
		if term > maxTerm {
			maxTerm = term
		}
		sumTerm += cwnd / rtt
	}
	if sumTerm == 0.0 {
		return 1.0
	}
	return float64(total) * maxTerm / (sumTerm * sumTerm)
}

// onDupAckLoss handles a triple-duplicate-ACK on one subflow
func (mc *MultipathCoordinator) onDupAckLoss(conn *TcpConnection) {
	switch mc.mode {
	case Uncoupled, CoupledInc:
		// decreases remain per-subflow
		conn.cc.onDupAckLoss()

	case FullyCoupled:
		conn.cc.enterFastRecovery()
		mc.sharedSsthresh = mc.sharedCwnd / 2
		mc.sharedCwnd = mc.sharedCwnd / 2
		mc.redistribute()
	}
}

// onTimeout handles an RTO-triggered loss on one subflow
func (mc *MultipathCoordinator) onTimeout(conn *TcpConnection) {
	switch mc.mode {
	case Uncoupled, CoupledInc:
		conn.cc.onTimeout()

	case FullyCoupled:
		conn.cc.onTimeout()
		mc.sharedSsthresh = mc.sharedCwnd / 2
		mc.sharedCwnd = mc.sharedCwnd / 2
		mc.redistribute()
	}
}

// redistribute divides the shared logical window among subflows in
// proportion to their measured rates (1/rtt weighting; unsampled
// subflows weigh as unit RTT).  Each share is applied through the
// subflow's own controller setter, so the one-segment floor holds.
func (mc *MultipathCoordinator) redistribute() {
	if len(mc.subflows) == 0 {
		return
	}
	var sumW float64
	weights := make([]float64, len(mc.subflows))
	for idx, sf := range mc.subflows {
		rtt := sf.srtt.Seconds()
		if !(rtt > 0.0) {
			rtt = 1.0
		}
		weights[idx] = 1.0 / rtt
		sumW += weights[idx]
	}
	var given int64
	for idx, sf := range mc.subflows {
		var share int64
		if idx == len(mc.subflows)-1 {
			// remainder to the last subflow so shares sum to the whole
			share = mc.sharedCwnd - given
		} else {
			share = int64(float64(mc.sharedCwnd) * weights[idx] / sumW)
			given += share
		}
		sf.cc.setCwnd(share)
	}
}

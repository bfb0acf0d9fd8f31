package mptcpsim

// workload.go holds the traffic-pattern generators the experiment
// drivers attach to a run: synchronized incast fan-in, and Poisson
// arrivals of short flows with exponentially distributed sizes.

import (
	"fmt"
	"math"

	"github.com/iti/rngstream"
	"github.com/sirupsen/logrus"
)

// expRV returns a sample of an exponentially distributed random number
func expRV(u01, rate float64) float64 {
	return -math.Log(1.0-u01) / rate
}

// StartIncast arms a fan-in: every connection is given the same
// flowsize and connects at the same instant.  Which sender wins the
// resulting same-time ties is decided by the scheduler's FIFO
// tie-break, in the order the connections appear in the slice.
func StartIncast(evtMgr *EventManager, conns []*TcpConnection,
	flowsize int64, start VirtualTime, done RtnDesc) error {

	if len(conns) == 0 {
		return fmt.Errorf("incast with no senders")
	}
	for _, conn := range conns {
		err := conn.SetFlowsize(flowsize)
		if err != nil {
			return err
		}
		err = conn.Connect(evtMgr, done, start)
		if err != nil {
			return err
		}
	}
	return nil
}

// ConnFactory builds the nth short-flow connection for a flow source.
// The driver supplies it so route selection and scanner registration
// stay under driver control.
type ConnFactory func(idx int) (*TcpConnection, error)

// PoissonFlowSource generates short flows with exponential
// inter-arrival times and exponentially distributed sizes
type PoissonFlowSource struct {
	name        string
	rngstrm     *rngstream.RngStream
	arrivalRate float64 // flows per second
	meanSize    float64 // mean flow size in bytes
	maxFlows    int
	factory     ConnFactory

	arrivals  int // arrival slots consumed, successful or not
	started   int
	completed int
}

// CreatePoissonFlowSource is a constructor
func CreatePoissonFlowSource(name string, arrivalRate, meanSize float64,
	maxFlows int, factory ConnFactory) (*PoissonFlowSource, error) {

	if !(arrivalRate > 0.0) {
		return nil, fmt.Errorf("flow source %s with non-positive arrival rate %f", name, arrivalRate)
	}
	if !(meanSize > 0.0) {
		return nil, fmt.Errorf("flow source %s with non-positive mean size %f", name, meanSize)
	}
	if maxFlows <= 0 {
		return nil, fmt.Errorf("flow source %s with non-positive flow count %d", name, maxFlows)
	}
	if factory == nil {
		return nil, fmt.Errorf("flow source %s without a connection factory", name)
	}
	pfs := new(PoissonFlowSource)
	pfs.name = name
	pfs.rngstrm = rngstream.New(name)
	pfs.arrivalRate = arrivalRate
	pfs.meanSize = meanSize
	pfs.maxFlows = maxFlows
	pfs.factory = factory
	return pfs, nil
}

// Started reports how many flows have been launched
func (pfs *PoissonFlowSource) Started() int { return pfs.started }

// Completed reports how many launched flows have finished
func (pfs *PoissonFlowSource) Completed() int { return pfs.completed }

// Start schedules the first arrival
func (pfs *PoissonFlowSource) Start(evtMgr *EventManager) {
	interarrival := expRV(pfs.rngstrm.RandU01(), pfs.arrivalRate)
	evtMgr.Schedule(pfs, nil, poissonFlowArrival, SecondsToTime(interarrival))
}

// poissonFlowArrival launches one short flow and books the next
// arrival.  The next arrival is booked up front: a flow whose factory
// or launch fails costs only its own slot, never the rest of the
// arrival process.
func poissonFlowArrival(evtMgr *EventManager, context any, data any) any {
	pfs := context.(*PoissonFlowSource)
	if pfs.arrivals >= pfs.maxFlows {
		return nil
	}
	flowIdx := pfs.arrivals
	pfs.arrivals += 1
	if pfs.arrivals < pfs.maxFlows {
		interarrival := expRV(pfs.rngstrm.RandU01(), pfs.arrivalRate)
		evtMgr.Schedule(pfs, nil, poissonFlowArrival, SecondsToTime(interarrival))
	}

	conn, err := pfs.factory(flowIdx)
	if err != nil {
		logrus.Errorf("flow source %s: factory failed on flow %d: %v", pfs.name, flowIdx, err)
		return nil
	}

	size := int64(expRV(pfs.rngstrm.RandU01(), 1.0/pfs.meanSize))
	if size < 1 {
		size = 1
	}
	err = conn.SetFlowsize(size)
	if err == nil {
		err = conn.Connect(evtMgr, RtnDesc{Cxt: pfs, EvtHdlr: poissonFlowDone}, evtMgr.CurrentTime())
	}
	if err != nil {
		logrus.Errorf("flow source %s: launch of flow %d failed: %v", pfs.name, flowIdx, err)
		return nil
	}
	pfs.started += 1
	return nil
}

// poissonFlowDone tallies a completed short flow
func poissonFlowDone(evtMgr *EventManager, context any, data any) any {
	pfs := context.(*PoissonFlowSource)
	pfs.completed += 1
	return nil
}

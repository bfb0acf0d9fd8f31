package mptcpsim

// link.go holds the primitives a Route is assembled from.  A Queue
// models finite buffering and the serialization delay of a rated
// interface, a Pipe models fixed propagation delay.  Both are pure
// transformation stages with no protocol awareness: a segment enters,
// and either leaves later or is dropped and reported to the loss path.

import (
	"fmt"

	"github.com/iti/rngstream"
	"github.com/sirupsen/logrus"
)

// LinkElement is one stage of a Route
type LinkElement interface {
	Name() string

	// transit accepts a segment in flight and either schedules its
	// advancement past this element or drops it
	transit(evtMgr *EventManager, tms *transitMsg)
}

// transitMsg carries a segment along its route, remembering where it
// is and whom to tell when it arrives or dies
type transitMsg struct {
	seg      *Segment
	route    *Route
	stepIdx  int
	rtnCxt   any
	rtnFunc  EventHandlerFunction
	lossCxt  any
	lossFunc EventHandlerFunction
}

// advance moves the segment to the next element of its route, or
// schedules delivery at the endpoint when the route is exhausted.
// Delivery goes through the event manager at zero offset so that
// same-time arrivals keep their FIFO order with everything else.
func (tms *transitMsg) advance(evtMgr *EventManager) {
	if tms.stepIdx == len(tms.route.elems) {
		evtMgr.Schedule(tms.rtnCxt, tms.seg, tms.rtnFunc, 0)
		return
	}
	elem := tms.route.elems[tms.stepIdx]
	tms.stepIdx += 1
	elem.transit(evtMgr, tms)
}

// advanceTransit is the event handler bound to every timed hop
func advanceTransit(evtMgr *EventManager, context any, data any) any {
	tms := context.(*transitMsg)
	tms.advance(evtMgr)
	return nil
}

// Route is an ordered, immutable-after-construction sequence of link
// elements a segment traverses in the forward direction
type Route struct {
	elems []LinkElement
}

// CreateRoute is a constructor.  An empty element list is a
// configuration error, reported rather than tolerated.
func CreateRoute(elems ...LinkElement) (*Route, error) {
	if len(elems) == 0 {
		return nil, fmt.Errorf("route created with no link elements")
	}
	rt := new(Route)
	rt.elems = make([]LinkElement, len(elems))
	copy(rt.elems, elems)
	return rt, nil
}

// Send launches a segment down the route.  rtnFunc is called (through
// the event manager) with the segment when it reaches the far end,
// lossFunc if some element drops it.
func (rt *Route) Send(evtMgr *EventManager, seg *Segment,
	rtnCxt any, rtnFunc EventHandlerFunction,
	lossCxt any, lossFunc EventHandlerFunction) {

	tms := &transitMsg{seg: seg, route: rt, rtnCxt: rtnCxt, rtnFunc: rtnFunc,
		lossCxt: lossCxt, lossFunc: lossFunc}
	tms.advance(evtMgr)
}

// Hops returns the number of elements on the route
func (rt *Route) Hops() int {
	return len(rt.elems)
}

// Pipe adds a fixed propagation delay and nothing else
type Pipe struct {
	name  string
	delay VirtualTime
}

// CreatePipe is a constructor
func CreatePipe(name string, delay VirtualTime) (*Pipe, error) {
	if delay < 0 {
		return nil, fmt.Errorf("pipe %s created with negative delay %d", name, delay)
	}
	return &Pipe{name: name, delay: delay}, nil
}

// Name satisfies LinkElement
func (pipe *Pipe) Name() string { return pipe.name }

// transit schedules the segment's arrival at the next element after
// the propagation delay
func (pipe *Pipe) transit(evtMgr *EventManager, tms *transitMsg) {
	evtMgr.Schedule(tms, nil, advanceTransit, pipe.delay)
}

// DropPolicy selects what a Queue does when it is pressed for space
type DropPolicy int

const (
	// DropTail discards the arriving segment once capacity is exceeded
	DropTail DropPolicy = iota

	// RandomEarly discards arrivals probabilistically once occupancy
	// crosses a threshold, before the queue is actually full
	RandomEarly
)

// Queue models a rated interface with a bounded buffer.  Segments are
// serialized at the configured bandwidth in arrival order; arrivals
// that do not fit are dropped and reported to the owning connection's
// loss path, never silently discarded.
type Queue struct {
	name      string
	bndwdth   float64 // Mbps
	capacity  int64   // bytes of buffering
	policy    DropPolicy
	redThresh float64 // occupancy fraction where early drops begin
	rngstrm   *rngstream.RngStream

	inQ       int64 // bytes queued or in service
	busyUntil VirtualTime
	drops     int64
}

// CreateQueue is a constructor
func CreateQueue(name string, bndwdth float64, capacity int64, policy DropPolicy) (*Queue, error) {
	if !(bndwdth > 0.0) {
		return nil, fmt.Errorf("queue %s created with non-positive bandwidth %f", name, bndwdth)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("queue %s created with non-positive capacity %d", name, capacity)
	}
	q := new(Queue)
	q.name = name
	q.bndwdth = bndwdth
	q.capacity = capacity
	q.policy = policy
	q.redThresh = 0.5
	q.rngstrm = rngstream.New(name)
	return q, nil
}

// Name satisfies LinkElement
func (q *Queue) Name() string { return q.name }

// Drops reports how many segments this queue has discarded
func (q *Queue) Drops() int64 { return q.drops }

// serviceTime is the serialization delay of a segment at the queue's bandwidth
func (q *Queue) serviceTime(lngth int64) VirtualTime {
	frameLenMbits := float64(lngth) * 8.0 / 1e6
	return SecondsToTime(frameLenMbits / q.bndwdth)
}

// dropArrival decides whether the arriving segment must be discarded
func (q *Queue) dropArrival(lngth int64) bool {
	if q.inQ+lngth > q.capacity {
		return true
	}
	if q.policy == RandomEarly {
		occupancy := float64(q.inQ) / float64(q.capacity)
		if occupancy > q.redThresh {
			// drop probability rises linearly from the threshold to
			// certainty at a full buffer
			prDrop := (occupancy - q.redThresh) / (1.0 - q.redThresh)
			if q.rngstrm.RandU01() < prDrop {
				return true
			}
		}
	}
	return false
}

// transit either enqueues the segment for serialization or drops it
func (q *Queue) transit(evtMgr *EventManager, tms *transitMsg) {
	lngth := tms.seg.Size()

	if q.dropArrival(lngth) {
		q.drops += 1
		logrus.Debugf("queue %s drops seq %d of conn %d at %f",
			q.name, tms.seg.Seq, tms.seg.ConnID, evtMgr.CurrentSeconds())
		if tms.lossFunc != nil {
			evtMgr.Schedule(tms.lossCxt, tms.seg, tms.lossFunc, 0)
		}
		return
	}

	// the segment waits behind whatever is already serializing, then
	// occupies the line for its own service time
	now := evtMgr.CurrentTime()
	start := now
	if q.busyUntil > start {
		start = q.busyUntil
	}
	depart := start + q.serviceTime(lngth)
	q.busyUntil = depart
	q.inQ += lngth

	evtMgr.ScheduleAt(q, tms, queueDepart, depart)
}

// queueDepart releases the segment's buffer space and moves it along
func queueDepart(evtMgr *EventManager, context any, data any) any {
	q := context.(*Queue)
	tms := data.(*transitMsg)
	q.inQ -= tms.seg.Size()
	tms.advance(evtMgr)
	return nil
}

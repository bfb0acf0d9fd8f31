package mptcpsim

// evtmgr.go holds the virtual clock and the event manager, the engine
// that gives a simulation run its total order over events.  Every other
// component expresses the passage of time by scheduling work here.

import (
	"container/heap"
	"fmt"
	"math"
)

// VirtualTime is simulation time in ticks.  A tick is one picosecond,
// so time arithmetic stays in integers and two runs of the same model
// cannot drift apart through floating point rounding.
type VirtualTime int64

// TicksPerSecond is the fixed-point resolution of the virtual clock
const TicksPerSecond VirtualTime = 1e12

// TimeZero and TimeInfinity bracket the representable simulation times
const (
	TimeZero     VirtualTime = 0
	TimeInfinity VirtualTime = math.MaxInt64
)

// SecondsToTime converts a duration in seconds to virtual ticks
func SecondsToTime(sec float64) VirtualTime {
	return VirtualTime(math.Round(sec * float64(TicksPerSecond)))
}

// Seconds converts a virtual time to seconds, for reporting only.
// Comparisons inside the simulation are always made on ticks.
func (vt VirtualTime) Seconds() float64 {
	return float64(vt) / float64(TicksPerSecond)
}

// Ticks returns the raw tick count
func (vt VirtualTime) Ticks() int64 {
	return int64(vt)
}

// EventID is the handle returned by scheduling, used for cancellation
type EventID int64

// EventHandlerFunction is the signature of all event handlers. The
// context and data arguments are recovered by type assertion in the
// handler, which knows what was scheduled for it.
type EventHandlerFunction func(evtMgr *EventManager, context any, data any) any

// NullHandler exists to provide as a link for data fields that call for
// an event handler, but no event handler is actually needed
func NullHandler(evtMgr *EventManager, context any, data any) any {
	return nil
}

// simEvent is one unit of deferred work.  The event manager owns it
// exclusively from scheduling until dispatch or cancellation.
type simEvent struct {
	time      VirtualTime // when the handler is due
	seq       int64       // assignment order, the tie-break among equal times
	id        EventID
	context   any
	data      any
	hdlr      EventHandlerFunction
	cancelled bool
}

// evtHeap and its methods implement a min-priority heap over
// (due time, schedule order)
type evtHeap []*simEvent

func (h evtHeap) Len() int { return len(h) }

// Less orders by due time, with ties broken by assignment order.  A
// handler that schedules new work for the current instant therefore
// runs that work after everything already queued for the instant;
// new work never preempts queued same-time work.  Which flow "wins" a
// same-time tie is observable in the trace, so this rule is load-bearing.
func (h evtHeap) Less(i, j int) bool {
	if h[i].time != h[j].time {
		return h[i].time < h[j].time
	}
	return h[i].seq < h[j].seq
}

func (h evtHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *evtHeap) Push(x any) {
	*h = append(*h, x.(*simEvent))
}

func (h *evtHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// EventManager owns the virtual clock and the pending-event queue.
// One EventManager is one independent simulation run; nothing in the
// package keeps global clock state, so several runs can coexist in a
// process (the comparison tooling depends on that).
type EventManager struct {
	now     VirtualTime
	present evtHeap
	pending map[EventID]*simEvent
	nxtSeq  int64
	nxtID   EventID
}

// CreateEventManager is a constructor
func CreateEventManager() *EventManager {
	evtMgr := new(EventManager)
	evtMgr.now = TimeZero
	evtMgr.present = make(evtHeap, 0)
	evtMgr.pending = make(map[EventID]*simEvent)
	heap.Init(&evtMgr.present)
	return evtMgr
}

// CurrentTime returns the virtual clock value
func (evtMgr *EventManager) CurrentTime() VirtualTime {
	return evtMgr.now
}

// CurrentSeconds returns the virtual clock value in seconds
func (evtMgr *EventManager) CurrentSeconds() float64 {
	return evtMgr.now.Seconds()
}

// Schedule books a handler to run 'offset' ticks after the present
// moment, and returns a handle the caller may later cancel.  A negative
// offset panics: the clock never moves backward, and a model that asks
// for that is broken at the point of the call.
func (evtMgr *EventManager) Schedule(context any, data any, hdlr EventHandlerFunction, offset VirtualTime) EventID {
	if offset < 0 {
		panic(fmt.Sprintf("schedule with negative offset %d at time %d", offset, evtMgr.now))
	}
	return evtMgr.ScheduleAt(context, data, hdlr, evtMgr.now+offset)
}

// ScheduleAt books a handler for an absolute virtual time >= now
func (evtMgr *EventManager) ScheduleAt(context any, data any, hdlr EventHandlerFunction, at VirtualTime) EventID {
	if at < evtMgr.now {
		panic(fmt.Sprintf("schedule at %d which is in the past of %d", at, evtMgr.now))
	}
	evtMgr.nxtSeq += 1
	evtMgr.nxtID += 1
	evt := &simEvent{time: at, seq: evtMgr.nxtSeq, id: evtMgr.nxtID,
		context: context, data: data, hdlr: hdlr}
	evtMgr.pending[evt.id] = evt
	heap.Push(&evtMgr.present, evt)
	return evt.id
}

// CancelEvent withdraws a scheduled event.  Cancelling a handle whose
// event has already been dispatched is a no-op, not an error.
func (evtMgr *EventManager) CancelEvent(id EventID) {
	evt, present := evtMgr.pending[id]
	if !present {
		return
	}
	evt.cancelled = true
	delete(evtMgr.pending, id)
}

// nxtEvent pops events off the heap until one is found that was not
// cancelled, returning nil when the queue drains
func (evtMgr *EventManager) nxtEvent() *simEvent {
	for evtMgr.present.Len() > 0 {
		evt := heap.Pop(&evtMgr.present).(*simEvent)
		if evt.cancelled {
			continue
		}
		return evt
	}
	return nil
}

// RunOne dispatches the single earliest not-cancelled event, advancing
// the clock to its due time.  The event is removed from the queue and
// from the pending map before its handler runs, so a handler that
// re-entrantly schedules (or cancels) cannot corrupt the dispatch in
// flight.  Returns false when no events remain.
func (evtMgr *EventManager) RunOne() bool {
	evt := evtMgr.nxtEvent()
	if evt == nil {
		return false
	}
	delete(evtMgr.pending, evt.id)
	evtMgr.now = evt.time
	evt.hdlr(evtMgr, evt.context, evt.data)
	return true
}

// RunUntil dispatches events while the earliest pending due time does
// not exceed endTime.  Draining the queue before endTime is a normal
// termination, and the clock is left at the last dispatched time.
func (evtMgr *EventManager) RunUntil(endTime VirtualTime) {
	for {
		evt := evtMgr.peek()
		if evt == nil || evt.time > endTime {
			return
		}
		evtMgr.RunOne()
	}
}

// Run dispatches events until none remain
func (evtMgr *EventManager) Run() {
	for evtMgr.RunOne() {
	}
}

// EventsPending reports how many scheduled, not-cancelled events remain
func (evtMgr *EventManager) EventsPending() int {
	return len(evtMgr.pending)
}

// peek returns the earliest not-cancelled event without removing it,
// discarding cancelled events it encounters on the way
func (evtMgr *EventManager) peek() *simEvent {
	for evtMgr.present.Len() > 0 {
		evt := evtMgr.present[0]
		if !evt.cancelled {
			return evt
		}
		heap.Pop(&evtMgr.present)
	}
	return nil
}

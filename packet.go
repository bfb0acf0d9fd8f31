package mptcpsim

// packet.go declares the segment that moves through routes.  The link
// primitives treat it as an opaque payload with a length; only the
// protocol endpoints look inside.

// Segment is the unit of transfer between connection endpoints.  Control
// segments (SYN, pure ACK) carry Len 0, data segments carry Seq as the
// offset of their first byte into the flow.
type Segment struct {
	ConnID   int
	Seq      int64
	Len      int64
	Ack      int64 // cumulative acknowledgment, valid when ACK is set
	SYN      bool
	ACK      bool
	Rtx      bool        // marks a retransmission, for tracing
	SendTime VirtualTime // stamped by the sender when the segment departs
	Echo     VirtualTime // sender timestamp echoed back by the receiver
}

// Size returns the number of bytes the segment occupies on a link.
// Control segments still occupy a header's worth of capacity.
func (seg *Segment) Size() int64 {
	if seg.Len > 0 {
		return seg.Len + segHdrLen
	}
	return segHdrLen
}

// segHdrLen approximates a TCP/IP header, charged against queue capacity
const segHdrLen int64 = 40

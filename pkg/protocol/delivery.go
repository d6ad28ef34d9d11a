package protocol

import "fmt"

// Delivery holds one side's view of the reliable delivery protocol: the
// counters and the queue of sent but unacknowledged messages.
//
// Message i of the queue has sequence number Sent+i. Both counters are
// non-decreasing for the life of a logical connection.
//
// Delivery is not safe for concurrent use.
type Delivery struct {
	// Received counts peer messages delivered so far. It is also the
	// sequence number expected next from the peer.
	Received int64

	// Sent counts own messages the peer has acknowledged.
	Sent int64

	queue []string
}

// Enqueue appends an encoded message and returns its sequence number.
func (d *Delivery) Enqueue(msg string) int64 {
	d.queue = append(d.queue, msg)
	return d.Sent + int64(len(d.queue)) - 1
}

// Len returns the number of unacknowledged messages.
func (d *Delivery) Len() int {
	return len(d.queue)
}

// Pending returns the unacknowledged messages and the sequence number of the
// first one. The slice is a copy.
func (d *Delivery) Pending() (first int64, msgs []string) {
	if len(d.queue) == 0 {
		return d.Sent, nil
	}
	msgs = make([]string, len(d.queue))
	copy(msgs, d.queue)
	return d.Sent, msgs
}

// Tail returns the last n queued messages and the sequence number of the
// first of them.
func (d *Delivery) Tail(n int) (first int64, msgs []string) {
	if n > len(d.queue) {
		n = len(d.queue)
	}
	start := len(d.queue) - n
	msgs = make([]string, n)
	copy(msgs, d.queue[start:])
	return d.Sent + int64(start), msgs
}

// Acknowledge applies a cumulative ack from the peer and trims the
// acknowledged prefix of the queue.
//
// An ack below Sent means the peer forgot messages it already confirmed; an
// ack beyond the queue means it confirmed messages never sent. Both are
// reported as *ProtocolError and leave the state untouched.
func (d *Delivery) Acknowledge(ack int64) error {
	if ack < d.Sent {
		return &ProtocolError{
			Code:    CodeAckBehind,
			Op:      "acknowledge",
			Message: fmt.Sprintf("ack %d below acknowledged count %d", ack, d.Sent),
			Err:     ErrAckMismatch,
		}
	}
	n := ack - d.Sent
	if n > int64(len(d.queue)) {
		return &ProtocolError{
			Code:    CodeAckAhead,
			Op:      "acknowledge",
			Message: fmt.Sprintf("ack %d beyond sent count %d", ack, d.Sent+int64(len(d.queue))),
			Err:     ErrAckMismatch,
		}
	}
	if n == 0 {
		return nil
	}

	clear(d.queue[:n])
	d.queue = d.queue[n:]
	if len(d.queue) == 0 {
		d.queue = nil
	}
	d.Sent = ack
	return nil
}

// Accept filters inbound messages numbered from firstSeq. Messages numbered
// below Received are duplicates and dropped; the rest are returned in order
// and counted.
func (d *Delivery) Accept(firstSeq int64, msgs []string) []string {
	var fresh []string
	for i, m := range msgs {
		if firstSeq+int64(i) < d.Received {
			continue
		}
		fresh = append(fresh, m)
		d.Received++
	}
	return fresh
}

// Receive runs the receive algorithm on one inbound batch: the ack is
// applied first, then the messages are accepted. On a *ProtocolError no
// message is accepted.
func (d *Delivery) Receive(ack, firstSeq int64, msgs []string) ([]string, error) {
	if err := d.Acknowledge(ack); err != nil {
		return nil, err
	}
	return d.Accept(firstSeq, msgs), nil
}

// Reset clears the counters and the queue for a new logical connection.
func (d *Delivery) Reset() {
	clear(d.queue)
	d.queue = nil
	d.Received = 0
	d.Sent = 0
}

// Batch returns a message batch carrying the whole queue.
func (d *Delivery) Batch() *PollBatch {
	first, msgs := d.Pending()
	return &PollBatch{Ack: d.Received, FirstSeq: first, Messages: msgs}
}

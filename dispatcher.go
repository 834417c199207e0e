package flashdrv

import "sync"

// Handle identifies one subscription on a Dispatcher. Subscribe returns a
// Handle; Unsubscribe consumes it. This is the "opaque handle" the spec
// asks for in §3 Ownership and §5 Shared resources, so a legacy-routing
// dispatcher (§4.3) can be torn down without scanning the filter table.
type Handle uint32

type filterEntry struct {
	rxID     uint32
	mask     uint32
	listener FrameListener
}

// Dispatcher is the shared CAN/IP multiplexer sitting between one hardware
// Bus and every protocol instance using it (§2 system overview). It is
// owned exclusively by whichever orchestrator created it; protocol
// instances hold only a lookup-by-handle reference, never the Bus itself.
//
// Modeled on the teacher's BusManager (bus_manager.go): a map of filters
// keyed by an identifier, fed frames from the Bus's async delivery and
// drained synchronously by Handle — except filters here are keyed by an
// opaque Handle instead of the raw CAN ID, because two openSYDE Transport
// Protocol instances can share one CAN ID space and still need distinct,
// revocable filters (legacy-routing dispatcher swap, §9 DESIGN NOTES).
type Dispatcher struct {
	mu       sync.Mutex
	bus      Bus
	filters  map[Handle]*filterEntry
	nextID   Handle
	pending  []Frame
}

// NewDispatcher wraps a Bus. The Bus is connected separately via Open.
func NewDispatcher(bus Bus) *Dispatcher {
	return &Dispatcher{
		bus:     bus,
		filters: make(map[Handle]*filterEntry),
		nextID:  1,
	}
}

// Open connects the underlying Bus and starts delivering received frames
// to this dispatcher.
func (d *Dispatcher) Open(args ...any) error {
	if err := d.bus.Connect(args...); err != nil {
		return err
	}
	return d.bus.Subscribe(d)
}

func (d *Dispatcher) Close() error {
	return d.bus.Disconnect()
}

// Subscribe installs a filter matching frames whose ID, after masking,
// equals rxID&mask. It returns a Handle that Unsubscribe later consumes.
func (d *Dispatcher) Subscribe(rxID uint32, mask uint32, listener FrameListener) Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.nextID
	d.nextID++
	d.filters[h] = &filterEntry{rxID: rxID & mask, mask: mask, listener: listener}
	return h
}

// Unsubscribe removes a previously installed filter. No-op on an unknown
// or already-removed handle.
func (d *Dispatcher) Unsubscribe(h Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.filters, h)
}

// Send transmits a frame on the underlying Bus. Error handling is
// intentionally thin here (spec §5: single-threaded cooperative model,
// no retry queue) — retries belong to the protocol client above this
// layer, which knows the service-specific timeout to apply.
func (d *Dispatcher) Send(frame Frame) error {
	return d.bus.Send(frame)
}

// Handle implements FrameListener: it is what the Bus calls back into.
// Frames are queued and fanned out to matching filters on the next Drain,
// so reception never reenters a protocol instance mid-poll (spec §5
// "Scheduling model": no callbacks, no reentrancy).
func (d *Dispatcher) Handle(frame Frame) {
	d.mu.Lock()
	d.pending = append(d.pending, frame)
	d.mu.Unlock()
}

// Drain delivers every queued frame to the filters that match it, then
// clears the queue. Call this synchronously between polls (spec §5
// "Suspension points"). A frame matching no filter is discarded.
func (d *Dispatcher) Drain() {
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	filters := make([]*filterEntry, 0, len(d.filters))
	for _, f := range d.filters {
		filters = append(filters, f)
	}
	d.mu.Unlock()

	for _, frame := range pending {
		for _, f := range filters {
			if frame.ID&f.mask == f.rxID {
				f.listener.Handle(frame)
			}
		}
	}
}

// DrainDiscard empties the pending queue without delivering any frame to
// any filter. Broadcasts call this on entry and exit so a stray unicast
// response collected mid-broadcast does not contaminate the next round
// (spec §5 "Ordering guarantees").
func (d *Dispatcher) DrainDiscard() {
	d.mu.Lock()
	d.pending = nil
	d.mu.Unlock()
}

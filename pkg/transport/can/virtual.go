package can

import (
	"sync"

	flashdrv "github.com/openflashdrv/flashdrv"
)

func init() {
	flashdrv.RegisterInterface("virtual", NewVirtualBus)
	flashdrv.RegisterInterface("virtualcan", NewVirtualBus)
}

// virtualSegment is the shared medium a set of VirtualBus instances
// opened on the same channel name publish to and receive from. Used by
// protocol-engine tests in place of real hardware, analogous in spirit to
// the teacher's TCP-backed pkg/can/virtual but in-process, since tests
// here never need to cross a process boundary.
type virtualSegment struct {
	mu   sync.Mutex
	subs []*VirtualBus
}

var (
	segmentsMu sync.Mutex
	segments   = make(map[string]*virtualSegment)
)

func segmentFor(channel string) *virtualSegment {
	segmentsMu.Lock()
	defer segmentsMu.Unlock()
	seg, ok := segments[channel]
	if !ok {
		seg = &virtualSegment{}
		segments[channel] = seg
	}
	return seg
}

// VirtualBus is an in-process loopback CAN medium: every frame Sent by one
// bus instance on a channel is delivered to every other instance (and,
// optionally, itself) subscribed on the same channel name.
type VirtualBus struct {
	segment    *virtualSegment
	listener   flashdrv.FrameListener
	ReceiveOwn bool
}

func NewVirtualBus(channel string) (flashdrv.Bus, error) {
	return &VirtualBus{segment: segmentFor(channel)}, nil
}

func (v *VirtualBus) Connect(...any) error {
	v.segment.mu.Lock()
	v.segment.subs = append(v.segment.subs, v)
	v.segment.mu.Unlock()
	return nil
}

func (v *VirtualBus) Disconnect() error {
	v.segment.mu.Lock()
	defer v.segment.mu.Unlock()
	for i, s := range v.segment.subs {
		if s == v {
			v.segment.subs = append(v.segment.subs[:i], v.segment.subs[i+1:]...)
			break
		}
	}
	return nil
}

func (v *VirtualBus) Send(frame flashdrv.Frame) error {
	v.segment.mu.Lock()
	subs := append([]*VirtualBus(nil), v.segment.subs...)
	v.segment.mu.Unlock()
	for _, s := range subs {
		if s == v && !v.ReceiveOwn {
			continue
		}
		if s.listener != nil {
			s.listener.Handle(frame)
		}
	}
	return nil
}

func (v *VirtualBus) Subscribe(listener flashdrv.FrameListener) error {
	v.listener = listener
	return nil
}

// Package can provides the CAN-bus driver boundary for the flash host:
// a Bus implementation wrapping github.com/brutella/can (SocketCAN), and
// a backend registry so a test harness or an alternate platform driver
// can be swapped in without touching the protocol engines above it.
//
// Grounded on the teacher's pkg/can/socketcan (and the older root-package
// socketcan.go): the same brutella/can wrapping, the same init()-time
// self-registration idiom.
package can

import (
	sockcan "github.com/brutella/can"

	flashdrv "github.com/openflashdrv/flashdrv"
)

func init() {
	flashdrv.RegisterInterface("socketcan", NewSocketcanBus)
}

// SocketcanBus adapts brutella/can's Bus to the flashdrv.Bus interface.
type SocketcanBus struct {
	bus      *sockcan.Bus
	listener flashdrv.FrameListener
}

func NewSocketcanBus(channel string) (flashdrv.Bus, error) {
	bus, err := sockcan.NewBusForInterfaceWithName(channel)
	if err != nil {
		return nil, err
	}
	return &SocketcanBus{bus: bus}, nil
}

func (s *SocketcanBus) Connect(...any) error {
	go s.bus.ConnectAndPublish()
	return nil
}

func (s *SocketcanBus) Disconnect() error {
	return s.bus.Disconnect()
}

func (s *SocketcanBus) Send(frame flashdrv.Frame) error {
	return s.bus.Publish(sockcan.Frame{
		ID:     frame.ID,
		Length: frame.DLC,
		Flags:  frame.Flags,
		Data:   frame.Data,
	})
}

func (s *SocketcanBus) Subscribe(listener flashdrv.FrameListener) error {
	s.listener = listener
	s.bus.Subscribe(s)
	return nil
}

// Handle is brutella/can's callback interface.
func (s *SocketcanBus) Handle(frame sockcan.Frame) {
	s.listener.Handle(flashdrv.Frame{ID: frame.ID, DLC: frame.Length, Flags: frame.Flags, Data: frame.Data})
}

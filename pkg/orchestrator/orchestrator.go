// Package orchestrator implements the flash-driver orchestrator (spec
// §4.3): it owns one protocol instance per target ECU, a shared CAN/IP
// dispatcher, legacy-routing dispatchers for STW targets reached through
// an openSYDE gateway, and the periodic tester_present keepalive.
//
// Grounded on the teacher's BusManager/node-ownership split (pkg/network
// wiring a BusManager to per-node SDO/NMT/PDO instances): the same
// "one shared dispatcher, many per-target protocol instances" shape,
// generalized from CANopen's fixed SDO/NMT/PDO trio to this host's two
// flashloader protocols plus routing.
package orchestrator

import (
	"fmt"
	"sync"
	"time"

	flashdrv "github.com/openflashdrv/flashdrv"
	"github.com/openflashdrv/flashdrv/pkg/model"
	"github.com/openflashdrv/flashdrv/pkg/opensyde"
	"github.com/openflashdrv/flashdrv/pkg/stw"
)

// ProtocolKind selects which flashloader protocol a target speaks (spec
// §3 "node[].flashloader").
type ProtocolKind int

const (
	ProtocolNone ProtocolKind = iota
	ProtocolSTW
	ProtocolOpenSyde
)

// ResetWaitKind classifies the minimum flashloader-reset wait time by how
// invasive the reconfiguration was and which bus carries it (spec §4.3
// "typed by {no-changes, no-fundamental-com-changes, fundamental-com-
// changes} x {CAN, Ethernet}").
type ResetWaitKind int

const (
	ResetWaitNoChanges ResetWaitKind = iota
	ResetWaitNoFundamentalComChanges
	ResetWaitFundamentalComChanges
)

type ResetWaitBus int

const (
	ResetWaitCAN ResetWaitBus = iota
	ResetWaitEthernet
)

const minResetWaitFloor = 500 * time.Millisecond

// Target is one active node's static configuration (spec §4.3 "builds
// per-active-node protocol instances").
type Target struct {
	ServerID         string
	Protocol         ProtocolKind
	Route            model.Route
	ResetWaitMs      map[ResetWaitBus]map[ResetWaitKind]int
}

// routingDispatcher is the Bus an STW target's dispatcher is pointed at
// while the target is reached through an openSYDE gateway (spec §4.3
// "legacy-routing dispatcher"). Send accepts only frames whose ID has the
// reset ID 0x52 in its low byte and answers each one by issuing a routing
// activation on the last hop's openSYDE client; the frame itself is not
// forwarded. Connect, Disconnect and Subscribe do nothing, so no frame is
// ever delivered back to the STW client, and outInterface is stored but
// not used.
type routingDispatcher struct {
	lastHopClient *opensyde.Client
	outInterface  int
}

const legacyRoutingResetID = 0x52

func (r *routingDispatcher) Connect(...any) error    { return nil }
func (r *routingDispatcher) Disconnect() error       { return nil }
func (r *routingDispatcher) Subscribe(flashdrv.FrameListener) error { return nil }

func (r *routingDispatcher) Send(frame flashdrv.Frame) error {
	if frame.ID&0xFF != legacyRoutingResetID {
		return fmt.Errorf("legacy routing dispatcher only tunnels reset-ID x%x frames", legacyRoutingResetID)
	}
	return r.lastHopClient.RoutingActivation(2 * time.Second)
}

// Orchestrator owns the shared dispatcher, every active target's protocol
// instance, and the routing dispatchers inserted for STW-via-gateway
// targets (spec §4.3 "Ownership").
type Orchestrator struct {
	mu              sync.Mutex
	dispatcher      *flashdrv.Dispatcher
	stwClients      map[string]*stw.Client
	openSydeClients map[string]*opensyde.Client
	routingDisp     map[string]*routingDispatcher
	stopTester      chan struct{}
	testerPeriod    time.Duration
}

func New(disp *flashdrv.Dispatcher) *Orchestrator {
	return &Orchestrator{
		dispatcher:      disp,
		stwClients:      make(map[string]*stw.Client),
		openSydeClients: make(map[string]*opensyde.Client),
		routingDisp:     make(map[string]*routingDispatcher),
		testerPeriod:    1 * time.Second, // spec §4.3 "default poll: 1 s"
	}
}

func (o *Orchestrator) RegisterSTWTarget(serverID string, client *stw.Client) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stwClients[serverID] = client
	client.Attach(o.dispatcher)
}

func (o *Orchestrator) RegisterOpenSydeTarget(serverID string, client *opensyde.Client) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.openSydeClients[serverID] = client
}

func (o *Orchestrator) STWTarget(serverID string) (*stw.Client, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	c, ok := o.stwClients[serverID]
	return c, ok
}

func (o *Orchestrator) OpenSydeTarget(serverID string) (*opensyde.Client, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	c, ok := o.openSydeClients[serverID]
	return c, ok
}

// InstallLegacyRouting swaps an STW target's dispatcher pointer for a
// dispatcher over a routingDispatcher bound to lastHop (see
// routingDispatcher for what it carries) (spec §4.3, §9 DESIGN NOTES: "a
// strictly tree-shaped ownership held by the orchestrator").
// RemoveLegacyRouting restores the shared dispatcher.
func (o *Orchestrator) InstallLegacyRouting(serverID string, lastHop *opensyde.Client, outInterface int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	client, ok := o.stwClients[serverID]
	if !ok {
		return fmt.Errorf("orchestrator: no STW target registered for %q", serverID)
	}
	rd := &routingDispatcher{lastHopClient: lastHop, outInterface: outInterface}
	tunnel := flashdrv.NewDispatcher(rd)
	o.routingDisp[serverID] = rd
	client.Attach(tunnel)
	return nil
}

func (o *Orchestrator) RemoveLegacyRouting(serverID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	client, ok := o.stwClients[serverID]
	if !ok {
		return
	}
	delete(o.routingDisp, serverID)
	client.Attach(o.dispatcher)
}

// StartTesterPresent begins invoking tester_present on every router in
// the route once per testerPeriod (spec §4.3). The period is the fixed
// 1 s set by New; it is not derived from the session timeouts in the
// path. Failures are logged via reporter, not propagated (spec §7
// "Session-alive ticks are best-effort").
func (o *Orchestrator) StartTesterPresent(routers []*opensyde.Client, reporter flashdrv.Reporter) {
	if reporter == nil {
		reporter = flashdrv.NopReporter{}
	}
	o.mu.Lock()
	if o.stopTester != nil {
		close(o.stopTester)
	}
	o.stopTester = make(chan struct{})
	stop := o.stopTester
	period := o.testerPeriod
	o.mu.Unlock()

	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				for _, router := range routers {
					if err := router.TesterPresent(500 * time.Millisecond); err != nil {
						reporter.Warn("tester_present failed: %v", err)
					}
				}
			}
		}
	}()
}

func (o *Orchestrator) StopTesterPresent() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopTester != nil {
		close(o.stopTester)
		o.stopTester = nil
	}
}

// MinimumResetWaitTime is the maximum of per-node configured values
// across the active set for the given change kind and bus, floored at
// 500ms (spec §4.3).
func MinimumResetWaitTime(targets []Target, bus ResetWaitBus, kind ResetWaitKind) time.Duration {
	maxMs := 0
	for _, t := range targets {
		if byBus, ok := t.ResetWaitMs[bus]; ok {
			if ms, ok := byBus[kind]; ok && ms > maxMs {
				maxMs = ms
			}
		}
	}
	wait := time.Duration(maxMs) * time.Millisecond
	if wait < minResetWaitFloor {
		return minResetWaitFloor
	}
	return wait
}

func (o *Orchestrator) Close() error {
	o.StopTesterPresent()
	return o.dispatcher.Close()
}

package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flashdrv "github.com/openflashdrv/flashdrv"
	"github.com/openflashdrv/flashdrv/pkg/stw"
	can "github.com/openflashdrv/flashdrv/pkg/transport/can"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	bus, err := can.NewVirtualBus("test-orchestrator")
	require.NoError(t, err)
	disp := flashdrv.NewDispatcher(bus)
	require.NoError(t, disp.Open())
	return New(disp)
}

func TestRegisterAndLookupSTWTarget(t *testing.T) {
	o := newTestOrchestrator(t)
	client := stw.New(stw.Config{LocalID: 0x05, TxID: 0x101, RxID: 0x102})
	o.RegisterSTWTarget("node-5", client)

	found, ok := o.STWTarget("node-5")
	assert.True(t, ok)
	assert.Same(t, client, found)

	_, ok = o.STWTarget("missing")
	assert.False(t, ok)
}

func TestMinimumResetWaitTimeAppliesFloor(t *testing.T) {
	targets := []Target{
		{ResetWaitMs: map[ResetWaitBus]map[ResetWaitKind]int{
			ResetWaitCAN: {ResetWaitNoChanges: 100},
		}},
	}
	wait := MinimumResetWaitTime(targets, ResetWaitCAN, ResetWaitNoChanges)
	assert.Equal(t, minResetWaitFloor, wait)
}

func TestMinimumResetWaitTimeTakesMaxAcrossTargets(t *testing.T) {
	targets := []Target{
		{ResetWaitMs: map[ResetWaitBus]map[ResetWaitKind]int{
			ResetWaitCAN: {ResetWaitFundamentalComChanges: 700},
		}},
		{ResetWaitMs: map[ResetWaitBus]map[ResetWaitKind]int{
			ResetWaitCAN: {ResetWaitFundamentalComChanges: 1200},
		}},
	}
	wait := MinimumResetWaitTime(targets, ResetWaitCAN, ResetWaitFundamentalComChanges)
	assert.Equal(t, 1200*time.Millisecond, wait)
}

func TestInstallLegacyRoutingRequiresRegisteredTarget(t *testing.T) {
	o := newTestOrchestrator(t)
	err := o.InstallLegacyRouting("missing", nil, 0)
	assert.Error(t, err)
}

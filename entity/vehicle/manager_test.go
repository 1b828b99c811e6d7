package vehicle_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/emergency-response-oss/engine/local"
	"github.com/tsinghua-fib-lab/emergency-response-oss/entity"
	"github.com/tsinghua-fib-lab/emergency-response-oss/task"
	"github.com/tsinghua-fib-lab/emergency-response-oss/utils/config"
)

func newContext(t *testing.T, s *local.Scenario) (*task.Context, *local.Engine) {
	e, err := local.New(s, 1)
	require.Nil(t, err)
	ctx := task.NewContext("test", config.Config{}, e)
	ctx.Init()
	return ctx, e
}

func TestClassify(t *testing.T) {
	ctx, e := newContext(t, &local.Scenario{
		Edges: []local.EdgeSpec{{ID: "E", Lanes: []local.LaneSpec{{Length: 1000}}}},
		Vehicles: []local.VehicleSpec{
			{ID: "amb", Type: "ambulance", Edge: "E", Pos: 10},
			{ID: "fire", Type: "firetruck_large", Edge: "E", Pos: 20},
			{ID: "pol", Type: "POLICE_van", Edge: "E", Pos: 30},
			{ID: "reg", Edge: "E", Pos: 40},
		},
	})
	require.Nil(t, e.Step())
	vm := ctx.VehicleManager()

	class, err := vm.Class("amb")
	require.Nil(t, err)
	assert.Equal(t, entity.VehicleAmbulance, class)
	class, _ = vm.Class("fire")
	assert.Equal(t, entity.VehicleFiretruck, class)
	class, _ = vm.Class("pol")
	assert.Equal(t, entity.VehiclePolice, class)
	class, _ = vm.Class("reg")
	assert.Equal(t, entity.VehicleRegular, class)

	// test: only emergency vehicles are tracked

	assert.Equal(t, []string{"amb", "fire", "pol"}, vm.Tracked())
	assert.Equal(t, int32(1), vm.Priority("amb"))
	assert.Equal(t, int32(2), vm.Priority("fire"))
	assert.Equal(t, int32(3), vm.Priority("pol"))
	assert.Equal(t, entity.UnknownPriority, vm.Priority("reg"))

	_, err = vm.Class("ghost")
	assert.True(t, entity.IsEntityGone(err))
}

func TestEnsureConfigured(t *testing.T) {
	ctx, e := newContext(t, &local.Scenario{
		Edges: []local.EdgeSpec{{ID: "E", Lanes: []local.LaneSpec{{Length: 1000}}}},
		Vehicles: []local.VehicleSpec{
			{ID: "amb", Type: "ambulance", Edge: "E", Pos: 10},
			{ID: "reg", Edge: "E", Pos: 40},
		},
	})
	require.Nil(t, e.Step())
	vm := ctx.VehicleManager()

	assert.False(t, vm.IsConfigured("amb"))
	require.Nil(t, vm.EnsureConfigured("amb"))
	assert.True(t, vm.IsConfigured("amb"))

	// test: idempotent

	require.Nil(t, vm.EnsureConfigured("amb"))

	// 初始目标速度在下一步生效
	require.Nil(t, e.Step())
	speed, err := e.Speed("amb")
	require.Nil(t, err)
	assert.Equal(t, 15.0, speed)

	// test: regular vehicles are a no-op, gone vehicles are dropped silently

	require.Nil(t, vm.EnsureConfigured("reg"))
	assert.False(t, vm.IsConfigured("reg"))
	require.Nil(t, vm.EnsureConfigured("ghost"))
	assert.False(t, vm.IsConfigured("ghost"))
}

func TestProcessDeparted(t *testing.T) {
	ctx, e := newContext(t, &local.Scenario{
		Edges: []local.EdgeSpec{{ID: "E", Lanes: []local.LaneSpec{{Length: 1000}}}},
		Vehicles: []local.VehicleSpec{
			{ID: "amb", Type: "ambulance", Edge: "E", Pos: 10},
			{ID: "reg", Edge: "E", Pos: 40},
		},
	})
	require.Nil(t, e.Step())
	vm := ctx.VehicleManager()

	departed, err := e.DepartedVehicleIDs()
	require.Nil(t, err)
	vm.ProcessDeparted(departed)

	assert.True(t, vm.IsConfigured("amb"))
	assert.False(t, vm.IsConfigured("reg"))
	assert.Equal(t, []string{"amb"}, vm.Tracked())
}

func TestUnstickBookkeeping(t *testing.T) {
	ctx, e := newContext(t, &local.Scenario{
		Edges:    []local.EdgeSpec{{ID: "E", Lanes: []local.LaneSpec{{Length: 1000}}}},
		Vehicles: []local.VehicleSpec{{ID: "amb", Type: "ambulance", Edge: "E", Pos: 10}},
	})
	require.Nil(t, e.Step())
	vm := ctx.VehicleManager()
	_, err := vm.Class("amb")
	require.Nil(t, err)

	assert.Equal(t, 0.0, vm.LastUnstick("amb"))
	vm.MarkUnstick("amb", 12.5)
	assert.Equal(t, 12.5, vm.LastUnstick("amb"))

	// test: drop and purge

	vm.Drop("amb")
	assert.Empty(t, vm.Tracked())
	assert.Equal(t, 0.0, vm.LastUnstick("amb"))

	_, err = vm.Class("amb")
	require.Nil(t, err)
	assert.Equal(t, []string{"amb"}, vm.Tracked())
	vm.Purge(map[string]struct{}{})
	assert.Empty(t, vm.Tracked())
}

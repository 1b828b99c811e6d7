package local_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/emergency-response-oss/engine/local"
	"github.com/tsinghua-fib-lab/emergency-response-oss/entity"
)

func newEngine(t *testing.T, s *local.Scenario) *local.Engine {
	e, err := local.New(s, 1)
	require.Nil(t, err)
	return e
}

func TestScenarioValidation(t *testing.T) {
	_, err := local.New(&local.Scenario{}, 0)
	assert.NotNil(t, err)

	_, err = local.New(&local.Scenario{
		Edges: []local.EdgeSpec{
			{ID: "E", Lanes: []local.LaneSpec{{Length: 100}}},
			{ID: "E", Lanes: []local.LaneSpec{{Length: 100}}},
		},
	}, 1)
	assert.NotNil(t, err)

	_, err = local.New(&local.Scenario{
		Edges: []local.EdgeSpec{{ID: "E", Lanes: []local.LaneSpec{{Length: -1}}}},
	}, 1)
	assert.NotNil(t, err)

	_, err = local.New(&local.Scenario{
		Edges: []local.EdgeSpec{{ID: "E", Lanes: []local.LaneSpec{{Length: 100}}}},
		Signals: []local.SignalSpec{
			{ID: "X", Phases: []local.PhaseSpec{{Duration: 0, State: "rr"}}},
		},
	}, 1)
	assert.NotNil(t, err)

	_, err = local.New(&local.Scenario{
		Edges: []local.EdgeSpec{{ID: "E", Lanes: []local.LaneSpec{{Length: 100}}}},
		Signals: []local.SignalSpec{
			{ID: "X", Phases: []local.PhaseSpec{{Duration: 10, State: "rr"}, {Duration: 10, State: "G"}}},
		},
	}, 1)
	assert.NotNil(t, err)

	_, err = local.New(&local.Scenario{
		Edges:    []local.EdgeSpec{{ID: "E", Lanes: []local.LaneSpec{{Length: 100}}}},
		Vehicles: []local.VehicleSpec{{ID: "v1", Edge: "E", Lane: 2}},
	}, 1)
	assert.NotNil(t, err)
}

func TestVehicleLifecycle(t *testing.T) {
	e := newEngine(t, &local.Scenario{
		Edges: []local.EdgeSpec{{ID: "E", Lanes: []local.LaneSpec{{Length: 100}}}},
		Vehicles: []local.VehicleSpec{
			{ID: "v1", Edge: "E", Pos: 85, Speed: 10},
			{ID: "v2", Edge: "E", Depart: 3},
		},
	})

	// test: departure by time

	ids, err := e.VehicleIDs()
	require.Nil(t, err)
	assert.Empty(t, ids)

	require.Nil(t, e.Step()) // t=1
	ids, _ = e.VehicleIDs()
	assert.Equal(t, []string{"v1"}, ids)
	departed, _ := e.DepartedVehicleIDs()
	assert.Equal(t, []string{"v1"}, departed)

	// test: arrival at lane end

	require.Nil(t, e.Step()) // t=2, v1 at 85+10*2=105 > 100
	ids, _ = e.VehicleIDs()
	assert.Empty(t, ids)
	_, err = e.Speed("v1")
	assert.True(t, entity.IsEntityGone(err))

	require.Nil(t, e.Step()) // t=3
	departed, _ = e.DepartedVehicleIDs()
	assert.Equal(t, []string{"v2"}, departed)
	tm, _ := e.Time()
	assert.Equal(t, 3.0, tm)

	typeID, err := e.VehicleType("v2")
	require.Nil(t, err)
	assert.Equal(t, "passenger", typeID)
	laneID, _ := e.LaneID("v2")
	assert.Equal(t, "E_0", laneID)
	edgeID, _ := e.EdgeID("v2")
	assert.Equal(t, "E", edgeID)
}

func TestSpeedCommands(t *testing.T) {
	e := newEngine(t, &local.Scenario{
		Edges:    []local.EdgeSpec{{ID: "E", Lanes: []local.LaneSpec{{Length: 1000}}}},
		Vehicles: []local.VehicleSpec{{ID: "v1", Edge: "E", Speed: 4}},
	})
	require.Nil(t, e.Step())

	// test: SetSpeed takes effect at the next step

	require.Nil(t, e.SetSpeed("v1", 10))
	speed, _ := e.Speed("v1")
	assert.Equal(t, 4.0, speed)
	require.Nil(t, e.Step())
	speed, _ = e.Speed("v1")
	assert.Equal(t, 10.0, speed)

	// test: speed cap under default speed mode

	require.Nil(t, e.SetMaxSpeed("v1", 6))
	require.Nil(t, e.Step())
	speed, _ = e.Speed("v1")
	assert.Equal(t, 6.0, speed)

	// test: mode 0 lifts the cap

	require.Nil(t, e.SetSpeedMode("v1", 0))
	require.Nil(t, e.Step())
	speed, _ = e.Speed("v1")
	assert.Equal(t, 10.0, speed)

	// test: negative SetSpeed releases the hold, SlowDown ramps down

	require.Nil(t, e.SetSpeed("v1", -1))
	require.Nil(t, e.SlowDown("v1", 0.5, 2))
	require.Nil(t, e.Step())
	speed, _ = e.Speed("v1")
	assert.InDelta(t, 5.25, speed, 1e-9)
	require.Nil(t, e.Step())
	speed, _ = e.Speed("v1")
	assert.InDelta(t, 0.5, speed, 1e-9)
	_, _, slowing := e.SlowTarget("v1")
	assert.False(t, slowing)

	assert.True(t, entity.IsCommandRejected(e.SlowDown("v1", -1, 1)))
	assert.True(t, entity.IsCommandRejected(e.SetMaxSpeed("v1", 0)))
	assert.True(t, entity.IsEntityGone(e.SetSpeed("ghost", 1)))
}

func TestWaitingTimeAndHalting(t *testing.T) {
	e := newEngine(t, &local.Scenario{
		Edges: []local.EdgeSpec{{ID: "E", Lanes: []local.LaneSpec{{Length: 100}}}},
		Vehicles: []local.VehicleSpec{
			{ID: "v1", Edge: "E", Pos: 10, Waiting: 30},
			{ID: "v2", Edge: "E", Pos: 20, Speed: 5},
		},
	})
	require.Nil(t, e.Step())
	require.Nil(t, e.Step())

	waiting, err := e.WaitingTime("v1")
	require.Nil(t, err)
	assert.Equal(t, 32.0, waiting)
	waiting, _ = e.WaitingTime("v2")
	assert.Equal(t, 0.0, waiting)

	halting, err := e.LaneHaltingCount("E_0")
	require.Nil(t, err)
	assert.Equal(t, 1, halting)

	ids, err := e.LaneVehicleIDs("E_0")
	require.Nil(t, err)
	assert.Equal(t, []string{"v1", "v2"}, ids)
	ids, err = e.EdgeVehicleIDs("E")
	require.Nil(t, err)
	assert.Equal(t, []string{"v1", "v2"}, ids)
	_, err = e.LaneHaltingCount("nope")
	assert.True(t, entity.IsEntityGone(err))
}

func TestMoveAndLaneChange(t *testing.T) {
	e := newEngine(t, &local.Scenario{
		Edges: []local.EdgeSpec{
			{ID: "E", Lanes: []local.LaneSpec{{Length: 100}, {Length: 100}}},
			{ID: ":J", Lanes: []local.LaneSpec{{Length: 30}}},
		},
		Vehicles: []local.VehicleSpec{
			{ID: "v1", Edge: "E", Pos: 10},
			{ID: "v2", Edge: ":J", Pos: 5},
		},
	})
	require.Nil(t, e.Step())

	n, err := e.EdgeLaneCount("E")
	require.Nil(t, err)
	assert.Equal(t, 2, n)

	require.Nil(t, e.ChangeLane("v1", 1, 0))
	laneID, _ := e.LaneID("v1")
	assert.Equal(t, "E_1", laneID)
	assert.True(t, entity.IsCommandRejected(e.ChangeLane("v1", 5, 0)))
	assert.True(t, entity.IsCommandRejected(e.ChangeLane("v2", 0, 0)))

	require.Nil(t, e.MoveTo("v1", "E_0", 50))
	pos, _ := e.LanePosition("v1")
	assert.Equal(t, 50.0, pos)
	assert.True(t, entity.IsCommandRejected(e.MoveTo("v1", "E_0", 200)))
	assert.True(t, entity.IsCommandRejected(e.MoveTo("v1", "nope", 10)))

	p, err := e.Position("v1")
	require.Nil(t, err)
	assert.Equal(t, 50.0, p.X)
	assert.Equal(t, 0.0, p.Y)
}

func TestSignalProgram(t *testing.T) {
	e := newEngine(t, &local.Scenario{
		Edges: []local.EdgeSpec{{ID: "E", Lanes: []local.LaneSpec{{Length: 100}}}},
		Signals: []local.SignalSpec{{
			ID:      "X",
			Program: "P0",
			Phases:  []local.PhaseSpec{{Duration: 2, State: "rrrr"}, {Duration: 3, State: "GGrr"}},
			Links:   []local.LinkSpec{{Edge: "E", Index: 1}},
		}},
	})

	program, err := e.Program("X")
	require.Nil(t, err)
	assert.Equal(t, "P0", program)
	assert.Equal(t, "rrrr", e.RawState("X"))

	// test: phase countdown

	require.Nil(t, e.Step())
	require.Nil(t, e.Step())
	phase, _ := e.Phase("X")
	assert.Equal(t, 1, phase)
	assert.Equal(t, "GGrr", e.RawState("X"))

	// test: override pauses the countdown until a program is set

	require.Nil(t, e.SetSignalState("X", "rGrr"))
	assert.Equal(t, "rGrr", e.RawState("X"))
	for i := 0; i < 5; i++ {
		require.Nil(t, e.Step())
	}
	assert.Equal(t, "rGrr", e.RawState("X"))
	phase, _ = e.Phase("X")
	assert.Equal(t, 1, phase)

	assert.True(t, entity.IsCommandRejected(e.SetSignalState("X", "rG")))

	require.Nil(t, e.SetProgram("X", "P0"))
	phase, _ = e.Phase("X")
	assert.Equal(t, 0, phase)
	assert.Equal(t, "rrrr", e.RawState("X"))

	links, err := e.ControlledLinks("X")
	require.Nil(t, err)
	assert.Equal(t, []entity.SignalLink{{ApproachEdge: "E", Index: 1}}, links)
	phases, err := e.Phases("X")
	require.Nil(t, err)
	assert.Len(t, phases, 2)
	_, err = e.Program("nope")
	assert.True(t, entity.IsEntityGone(err))
}

func TestNextSignal(t *testing.T) {
	e := newEngine(t, &local.Scenario{
		Edges: []local.EdgeSpec{
			{ID: "E", Lanes: []local.LaneSpec{{Length: 100}}},
			{ID: "F", Lanes: []local.LaneSpec{{Length: 100}}},
		},
		Signals: []local.SignalSpec{{
			ID:     "X",
			X:      100,
			Phases: []local.PhaseSpec{{Duration: 60, State: "rGrr"}},
			Links:  []local.LinkSpec{{Edge: "E", Index: 1}},
		}},
		Vehicles: []local.VehicleSpec{
			{ID: "v1", Edge: "E", Pos: 80},
			{ID: "v2", Edge: "F", Pos: 80},
		},
	})
	require.Nil(t, e.Step())

	ahead, err := e.NextSignal("v1")
	require.Nil(t, err)
	require.NotNil(t, ahead)
	assert.Equal(t, "X", ahead.ID)
	assert.Equal(t, byte('G'), ahead.State)
	assert.Equal(t, 20.0, ahead.Distance)

	// test: no controlled link for the edge

	ahead, err = e.NextSignal("v2")
	require.Nil(t, err)
	assert.Nil(t, ahead)

	p, err := e.JunctionPosition("X")
	require.Nil(t, err)
	assert.Equal(t, 100.0, p.X)
}

func TestNextSignalBadIndex(t *testing.T) {
	e := newEngine(t, &local.Scenario{
		Edges: []local.EdgeSpec{{ID: "E", Lanes: []local.LaneSpec{{Length: 100}}}},
		Signals: []local.SignalSpec{{
			ID:     "X",
			Phases: []local.PhaseSpec{{Duration: 60, State: "GGGG"}},
			Links:  []local.LinkSpec{{Edge: "E", Index: 7}},
		}},
		Vehicles: []local.VehicleSpec{{ID: "v1", Edge: "E", Pos: 90}},
	})
	require.Nil(t, e.Step())

	// 信号位序号越界时按红灯报告
	ahead, err := e.NextSignal("v1")
	require.Nil(t, err)
	require.NotNil(t, ahead)
	assert.Equal(t, byte('r'), ahead.State)
}

func TestLaneGeometry(t *testing.T) {
	e := newEngine(t, &local.Scenario{
		Edges: []local.EdgeSpec{{ID: "F", Lanes: []local.LaneSpec{
			{ID: "F_0", Length: 100, X: 100, Y: 100, Heading: -math.Pi / 2},
		}}},
		Vehicles: []local.VehicleSpec{{ID: "v1", Edge: "F", Pos: 90}},
	})
	require.Nil(t, e.Step())

	length, err := e.LaneLength("F_0")
	require.Nil(t, err)
	assert.Equal(t, 100.0, length)

	p, err := e.Position("v1")
	require.Nil(t, err)
	assert.InDelta(t, 100.0, p.X, 1e-9)
	assert.InDelta(t, 10.0, p.Y, 1e-9)
}

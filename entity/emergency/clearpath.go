package emergency

import (
	"math"

	"git.fiblab.net/general/common/v2/mathutil"

	"github.com/tsinghua-fib-lab/emergency-response-oss/entity"
	"github.com/tsinghua-fib-lab/emergency-response-oss/utils/journal"
)

// 清障减速指令参数：1秒内减速到近停
const (
	clearTargetSpeed  = 0.5
	clearSlowDuration = 1.0
)

// ClearPath 为特种车辆清理前方路径
// 功能：找到阻挡特种车辆的车辆并将其移开或减速
// 参数：id-特种车辆ID，radius-清理半径
// 算法说明：
// 1. 路口内部：对半径内所有非特种车辆下发近停减速指令，不尝试变道
//（路口内部车道拓扑不可靠，按半径处理是有意的不对称）
// 2. 常规路段：只考虑同edge车辆；同车道且在前方半径内、
// 或异车道且沿车道位置差在半径内的视为阻挡；
// 多车道路段先尝试把阻挡车辆变道到第一个非本车道的序号，
// 无论变道成败都追加近停减速指令
// 说明：逐个候选尽力而为，单个候选的失败不影响其余候选
func (m *EmergencyManager) ClearPath(id string, radius float64) {
	engine := m.ctx.Engine()

	edgeID, err := engine.EdgeID(id)
	if err != nil {
		if !entity.IsEntityGone(err) {
			log.Errorf("clear path for %s: query edge: %v", id, err)
		}
		return
	}
	if entity.IsInternalEdge(edgeID) {
		m.clearJunction(id, radius)
		return
	}
	m.clearSegment(id, edgeID, radius)
}

// clearJunction 路口内部按半径清障
func (m *EmergencyManager) clearJunction(id string, radius float64) {
	engine := m.ctx.Engine()
	vm := m.ctx.VehicleManager()

	center, err := engine.Position(id)
	if err != nil {
		if !entity.IsEntityGone(err) {
			log.Errorf("clear path for %s: query position: %v", id, err)
		}
		return
	}
	ids, err := engine.VehicleIDs()
	if err != nil {
		log.Errorf("clear path for %s: list vehicles: %v", id, err)
		return
	}
	for _, other := range ids {
		if other == id {
			continue
		}
		class, err := vm.Class(other)
		if err != nil || class.IsEmergency() {
			continue
		}
		pos, err := engine.Position(other)
		if err != nil {
			continue
		}
		if math.Hypot(center.X-pos.X, center.Y-pos.Y) >= radius {
			continue
		}
		if err := engine.SlowDown(other, clearTargetSpeed, clearSlowDuration); err != nil {
			continue
		}
		log.Infof("slowing junction-blocking vehicle %s for %s", other, id)
		m.ctx.Journal().Eventf(journal.KindClearJunction, other, "slowed for %s", id)
	}
}

// clearSegment 常规路段上按车道清障
func (m *EmergencyManager) clearSegment(id, edgeID string, radius float64) {
	engine := m.ctx.Engine()
	vm := m.ctx.VehicleManager()

	laneID, err := engine.LaneID(id)
	if err != nil {
		if !entity.IsEntityGone(err) {
			log.Errorf("clear path for %s: query lane: %v", id, err)
		}
		return
	}
	laneIndex, err := entity.ParseLaneIndex(laneID)
	if err != nil {
		return // 车道序号不可解析，跳过
	}
	myPos, err := engine.LanePosition(id)
	if err != nil {
		return
	}
	candidates, err := engine.EdgeVehicleIDs(edgeID)
	if err != nil {
		log.Errorf("clear path for %s: list edge vehicles: %v", id, err)
		return
	}

	for _, other := range candidates {
		if other == id {
			continue
		}
		class, err := vm.Class(other)
		if err != nil || class.IsEmergency() {
			continue
		}
		// 以下查询失败只跳过该候选
		otherEdge, err := engine.EdgeID(other)
		if err != nil || otherEdge != edgeID {
			continue
		}
		otherLane, err := engine.LaneID(other)
		if err != nil {
			continue
		}
		otherPos, err := engine.LanePosition(other)
		if err != nil {
			continue
		}
		blocking := false
		if otherLane == laneID {
			blocking = otherPos > myPos && otherPos-myPos < radius
		} else {
			blocking = mathutil.Abs(otherPos-myPos) < radius
		}
		if !blocking {
			continue
		}
		m.displace(id, other, edgeID, laneIndex)
	}
}

// displace 移开单辆阻挡车辆
// 功能：多车道路段先尝试立即变道，成功与否都追加近停减速
func (m *EmergencyManager) displace(id, other, edgeID string, laneIndex int) {
	engine := m.ctx.Engine()

	laneCount, err := engine.EdgeLaneCount(edgeID)
	if err != nil {
		laneCount = 1
	}
	if laneCount > 1 {
		for target := 0; target < laneCount; target++ {
			if target == laneIndex {
				continue
			}
			if err := engine.ChangeLane(other, target, 0); err != nil {
				continue
			}
			log.Infof("moving vehicle %s to lane %d for %s", other, target, id)
			m.ctx.Journal().Eventf(journal.KindClearLaneChange, other, "changed to lane %d for %s", target, id)
			break
		}
	}
	if err := engine.SlowDown(other, clearTargetSpeed, clearSlowDuration); err != nil {
		return
	}
	log.Infof("slowing blocking vehicle %s for %s", other, id)
	m.ctx.Journal().Eventf(journal.KindClearSlow, other, "slowed for %s", id)
}

package emergency

import (
	"math"

	"github.com/samber/lo"

	"github.com/tsinghua-fib-lab/emergency-response-oss/entity"
	"github.com/tsinghua-fib-lab/emergency-response-oss/utils/journal"
)

// 脱困前移时与车道末端保持的安全距离
const snapEndGap = 5.0

// EmergencyManager 特种车辆强制行进控制器
// 功能：每tick保证被跟踪特种车辆的持续前进，
// 低于行进速度下限的车辆被强制提速并执行脱困流程
// 说明：仿真驾驶模型可能让特种车辆停在已清空的队列后面，
// 这里用牺牲真实性换取前进保证
type EmergencyManager struct {
	ctx entity.ITaskContext
}

// NewManager 创建特种车辆控制器实例
func NewManager(ctx entity.ITaskContext) *EmergencyManager {
	return &EmergencyManager{ctx: ctx}
}

// Update 每tick执行特种车辆的强制行进与脱困
// 算法说明：
// 1. 枚举当前在网车辆并清理注册表中已离网的记录
// 2. 对每辆特种车辆保证特权配置（幂等）
// 3. 速度低于行进下限时下发强制目标速度并执行脱困
// 说明：单个车辆的失败只影响该车辆，处理继续
func (m *EmergencyManager) Update() {
	engine := m.ctx.Engine()
	vm := m.ctx.VehicleManager()

	ids, err := engine.VehicleIDs()
	if err != nil {
		log.Errorf("list vehicles: %v", err)
		return
	}
	present := lo.SliceToMap(ids, func(id string) (string, struct{}) {
		return id, struct{}{}
	})
	vm.Purge(present)

	for _, id := range ids {
		class, err := vm.Class(id)
		if err != nil {
			if !entity.IsEntityGone(err) {
				log.Errorf("classify vehicle %s: %v", id, err)
			}
			continue
		}
		if !class.IsEmergency() {
			continue
		}
		m.process(id)
	}
}

// process 处理单辆特种车辆
func (m *EmergencyManager) process(id string) {
	engine := m.ctx.Engine()
	vm := m.ctx.VehicleManager()
	e := m.ctx.RuntimeConfig().E

	if err := vm.EnsureConfigured(id); err != nil {
		log.Errorf("configure vehicle %s: %v", id, err)
		return
	}
	speed, err := engine.Speed(id)
	if err != nil {
		if entity.IsEntityGone(err) {
			vm.Drop(id)
			return
		}
		log.Errorf("query speed of %s: %v", id, err)
		return
	}
	if speed >= e.MoveFloor {
		return
	}
	// 速度不足，强制提速并脱困
	if err := engine.SetSpeed(id, e.ForceSpeed); err != nil && !entity.IsEntityGone(err) {
		log.Warnf("force speed of %s: %v", id, err)
	}
	m.unstick(id)
}

// unstick 脱困流程
// 功能：对低速特种车辆重新解除规则限制、清理前方路径、
// 必要时沿车道前移一段固定距离，并重新下发强制目标速度
// 算法说明：
// 1. 重置速度与变道规则遵从模式
// 2. 以脱困半径调用路径清理
// 3. 不在路口内部且前方有余量时，前移固定增量并保证不越过车道末端
// 4. 重新下发强制目标速度，记录尝试时间
func (m *EmergencyManager) unstick(id string) {
	engine := m.ctx.Engine()
	vm := m.ctx.VehicleManager()
	e := m.ctx.RuntimeConfig().E

	edgeID, err := engine.EdgeID(id)
	if err != nil {
		if entity.IsEntityGone(err) {
			vm.Drop(id)
			return
		}
		log.Errorf("unstick %s: query edge: %v", id, err)
		return
	}
	laneID, err := engine.LaneID(id)
	if err != nil {
		if entity.IsEntityGone(err) {
			vm.Drop(id)
			return
		}
		log.Errorf("unstick %s: query lane: %v", id, err)
		return
	}
	log.Debugf("attempting to unstick emergency vehicle %s on %s", id, edgeID)

	if err := engine.SetSpeedMode(id, 0); err != nil && !entity.IsEntityGone(err) {
		log.Warnf("unstick %s: reset speed mode: %v", id, err)
	}
	if err := engine.SetLaneChangeMode(id, 0); err != nil && !entity.IsEntityGone(err) {
		log.Warnf("unstick %s: reset lane change mode: %v", id, err)
	}

	m.ClearPath(id, e.UnstickRadius)

	if !entity.IsInternalEdge(edgeID) {
		m.snapForward(id, laneID)
	}

	if err := engine.SetSpeed(id, e.ForceSpeed); err != nil && !entity.IsEntityGone(err) {
		log.Warnf("unstick %s: force speed: %v", id, err)
	}
	vm.MarkUnstick(id, m.ctx.Clock().T)
	m.ctx.Journal().Eventf(journal.KindUnstick, id, "unstick attempt on %s", edgeID)
}

// snapForward 沿车道前移
// 功能：前方余量充足时，把车辆沿当前车道前移固定增量，
// 上限为车道长度减去安全距离
func (m *EmergencyManager) snapForward(id, laneID string) {
	engine := m.ctx.Engine()
	e := m.ctx.RuntimeConfig().E

	pos, err := engine.LanePosition(id)
	if err != nil {
		return
	}
	length, err := engine.LaneLength(laneID)
	if err != nil {
		return
	}
	if pos >= length-2*snapEndGap {
		return // 前方余量不足
	}
	newPos := math.Min(pos+e.SnapAdvance, length-snapEndGap)
	if err := engine.MoveTo(id, laneID, newPos); err != nil {
		if !entity.IsEntityGone(err) {
			log.Warnf("failed to teleport %s: %v", id, err)
		}
		return
	}
	log.Infof("teleported %s forward on lane %s", id, laneID)
	m.ctx.Journal().Eventf(journal.KindTeleport, id, "moved forward to %.1f on lane %s", newPos, laneID)
}

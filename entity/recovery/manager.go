package recovery

import (
	"github.com/samber/lo"

	"github.com/tsinghua-fib-lab/emergency-response-oss/entity"
	"github.com/tsinghua-fib-lab/emergency-response-oss/utils/journal"
)

// RecoveryManager 普通车辆堵死恢复
// 功能：发现长时间无法移动的普通车辆并触发按旅行时间的重规划
// 说明：与特种车辆控制相互独立；同一车辆两次处理之间有最小间隔
type RecoveryManager struct {
	ctx entity.ITaskContext

	data map[string]float64 // 车辆ID→最近一次处理时间
}

// NewManager 创建堵死恢复管理器实例
func NewManager(ctx entity.ITaskContext) *RecoveryManager {
	return &RecoveryManager{
		ctx:  ctx,
		data: make(map[string]float64),
	}
}

// Update 每tick执行堵死检测与重规划
// 算法说明：
// 1. 清理已离网车辆的处理记录
// 2. 速度低于阈值且累计等待时间超限的普通车辆，
// 距上次处理超过冷却时间（从未处理视为0时刻）时触发重规划并记录时间
// 说明：单个车辆的失败只影响该车辆
func (m *RecoveryManager) Update() {
	engine := m.ctx.Engine()
	vm := m.ctx.VehicleManager()
	e := m.ctx.RuntimeConfig().E
	now := m.ctx.Clock().T

	ids, err := engine.VehicleIDs()
	if err != nil {
		log.Errorf("list vehicles: %v", err)
		return
	}
	present := lo.SliceToMap(ids, func(id string) (string, struct{}) {
		return id, struct{}{}
	})
	for id := range m.data {
		if _, ok := present[id]; !ok {
			delete(m.data, id)
		}
	}

	for _, id := range ids {
		class, err := vm.Class(id)
		if err != nil || class.IsEmergency() {
			continue
		}
		speed, err := engine.Speed(id)
		if err != nil {
			if entity.IsEntityGone(err) {
				delete(m.data, id)
			} else {
				log.Errorf("check stuck status for vehicle %s: %v", id, err)
			}
			continue
		}
		waiting, err := engine.WaitingTime(id)
		if err != nil {
			if entity.IsEntityGone(err) {
				delete(m.data, id)
			} else {
				log.Errorf("check stuck status for vehicle %s: %v", id, err)
			}
			continue
		}
		if speed >= e.StuckSpeed || waiting <= e.StuckWaiting {
			continue
		}
		if now-m.data[id] < e.StuckCooldown {
			continue
		}
		if err := engine.RerouteByTravelTime(id); err != nil {
			if entity.IsEntityGone(err) {
				delete(m.data, id)
			} else {
				log.Errorf("reroute stuck vehicle %s: %v", id, err)
			}
			continue
		}
		m.data[id] = now
		log.Infof("regular vehicle %s is stuck, attempting reroute", id)
		m.ctx.Journal().Eventf(journal.KindStuckReroute, id, "rerouted after waiting %.0fs", waiting)
	}
}

// LastHandled 车辆最近一次被处理的时间
func (m *RecoveryManager) LastHandled(id string) (float64, bool) {
	t, ok := m.data[id]
	return t, ok
}

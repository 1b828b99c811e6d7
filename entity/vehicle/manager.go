package vehicle

import (
	"sort"

	"github.com/samber/lo"

	"github.com/tsinghua-fib-lab/emergency-response-oss/entity"
	"github.com/tsinghua-fib-lab/emergency-response-oss/utils/journal"
)

// record 特种车辆跟踪记录
type record struct {
	class       entity.VehicleClass // 车辆类别
	priority    int32               // 抢占优先级
	configured  bool                // 是否已完成特权配置
	lastUnstick float64             // 最近一次脱困尝试时间
}

// VehicleManager 车辆注册表
// 功能：对车辆做类别划分，跟踪特种车辆并对其施加特权配置
type VehicleManager struct {
	ctx entity.ITaskContext

	data    map[string]*record             // 被跟踪的特种车辆
	classes map[string]entity.VehicleClass // 车辆类别缓存（含普通车辆）
}

// NewManager 创建车辆注册表实例
// 参数：ctx-任务上下文
// 返回：新创建的车辆注册表实例
func NewManager(ctx entity.ITaskContext) *VehicleManager {
	return &VehicleManager{
		ctx:     ctx,
		data:    make(map[string]*record),
		classes: make(map[string]entity.VehicleClass),
	}
}

// ProcessDeparted 处理新驶入的车辆
// 功能：对新驶入车辆做类别划分，特种车辆立即建立跟踪记录并施加特权配置
// 参数：ids-自上一步以来新驶入的车辆ID
// 说明：单个车辆的失败只影响该车辆，不中断其余车辆的处理
func (m *VehicleManager) ProcessDeparted(ids []string) {
	for _, id := range ids {
		class, err := m.Class(id)
		if err != nil {
			if !entity.IsEntityGone(err) {
				log.Errorf("classify departed vehicle %s: %v", id, err)
			}
			continue
		}
		if !class.IsEmergency() {
			continue
		}
		if err := m.EnsureConfigured(id); err != nil {
			log.Errorf("configure departed vehicle %s: %v", id, err)
		}
	}
}

// Class 获取车辆类别
// 功能：查询引擎的车辆类型并映射到类别，结果按车辆ID缓存；
// 首次观察到特种车辆时建立跟踪记录
// 返回：车辆类别与查询错误（实体消失时由调用方静默跳过）
func (m *VehicleManager) Class(id string) (entity.VehicleClass, error) {
	if class, ok := m.classes[id]; ok {
		return class, nil
	}
	typeID, err := m.ctx.Engine().VehicleType(id)
	if err != nil {
		return entity.VehicleRegular, err
	}
	class := entity.ClassOfType(typeID)
	m.classes[id] = class
	if class.IsEmergency() {
		if _, ok := m.data[id]; !ok {
			m.data[id] = &record{class: class, priority: class.Priority()}
		}
	}
	return class, nil
}

// EnsureConfigured 对特种车辆施加特权配置（幂等）
// 功能：首次调用时解除速度与变道规则限制、提升速度与加减速上限、
// 下发初始目标速度，并标记车辆已配置；之后调用为空操作
// 返回：配置错误；车辆已消失时将其从跟踪中删除并返回nil
func (m *VehicleManager) EnsureConfigured(id string) error {
	class, err := m.Class(id)
	if err != nil {
		if entity.IsEntityGone(err) {
			m.Drop(id)
			return nil
		}
		return err
	}
	if !class.IsEmergency() {
		return nil
	}
	rec := m.data[id]
	if rec.configured {
		return nil
	}

	engine := m.ctx.Engine()
	e := m.ctx.RuntimeConfig().E
	for _, cmd := range []struct {
		name string
		run  func() error
	}{
		{"speed mode", func() error { return engine.SetSpeedMode(id, 0) }},
		{"lane change mode", func() error { return engine.SetLaneChangeMode(id, 0) }},
		{"max speed", func() error { return engine.SetMaxSpeed(id, e.MaxSpeed) }},
		{"speed factor", func() error { return engine.SetSpeedFactor(id, e.SpeedFactor) }},
		{"initial speed", func() error { return engine.SetSpeed(id, e.ForceSpeed) }},
		{"accel", func() error { return engine.SetAccel(id, e.Accel) }},
		{"decel", func() error { return engine.SetDecel(id, e.Decel) }},
	} {
		if err := cmd.run(); err != nil {
			if entity.IsEntityGone(err) {
				m.Drop(id)
				return nil
			}
			return err
		}
	}
	rec.configured = true
	log.Infof("configured emergency vehicle %s (%s) with unrestricted movement", id, class)
	m.ctx.Journal().Eventf(journal.KindConfigure, id, "%s granted unrestricted movement", class)
	return nil
}

// Tracked 被跟踪的特种车辆ID（升序）
func (m *VehicleManager) Tracked() []string {
	ids := lo.Keys(m.data)
	sort.Strings(ids)
	return ids
}

// Priority 车辆的抢占优先级，未跟踪车辆返回兜底优先级
func (m *VehicleManager) Priority(id string) int32 {
	if rec, ok := m.data[id]; ok {
		return rec.priority
	}
	return entity.UnknownPriority
}

// IsConfigured 车辆是否已完成特权配置
func (m *VehicleManager) IsConfigured(id string) bool {
	rec, ok := m.data[id]
	return ok && rec.configured
}

// LastUnstick 最近一次脱困尝试时间，未尝试过返回0
func (m *VehicleManager) LastUnstick(id string) float64 {
	if rec, ok := m.data[id]; ok {
		return rec.lastUnstick
	}
	return 0
}

// MarkUnstick 记录脱困尝试时间
func (m *VehicleManager) MarkUnstick(id string, t float64) {
	if rec, ok := m.data[id]; ok {
		rec.lastUnstick = t
	}
}

// Drop 从跟踪中删除车辆
func (m *VehicleManager) Drop(id string) {
	delete(m.data, id)
	delete(m.classes, id)
}

// Purge 清理已不在网的车辆记录
// 参数：present-当前在网车辆ID集合
func (m *VehicleManager) Purge(present map[string]struct{}) {
	for id := range m.data {
		if _, ok := present[id]; !ok {
			delete(m.data, id)
		}
	}
	for id := range m.classes {
		if _, ok := present[id]; !ok {
			delete(m.classes, id)
		}
	}
}

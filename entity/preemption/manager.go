package preemption

import (
	"math"
	"sort"
	"strings"

	"git.fiblab.net/general/common/v2/parallel"
	"github.com/samber/lo"

	"github.com/tsinghua-fib-lab/emergency-response-oss/entity"
	"github.com/tsinghua-fib-lab/emergency-response-oss/utils/journal"
)

// intersection 路口信控静态信息缓存
type intersection struct {
	id      string
	links   []entity.SignalLink // 受控连接表
	signals int                 // 状态字符串长度（信号位数量）
}

// record 抢占记录
// 说明：每个路口至多一条；持有者优先级只会变为更小（更紧急）的值
type record struct {
	program  string  // 被保存的信控程序ID
	phase    int     // 被保存的相位序号
	holder   string  // 持有抢占的车辆ID
	priority int32   // 持有者优先级
	at       float64 // 激活或刷新时间
	passed   bool    // 持有者是否已通过
}

// candidate 单tick内某路口的抢占候选
type candidate struct {
	vehicle  string  // 车辆ID
	priority int32   // 优先级
	edge     string  // 进入edge
	distance float64 // 到停止线的距离
}

// PreemptionManager 信号抢占状态机
// 功能：发现在红灯长队中等待的特种车辆，为其抢占路口信号，
// 保存原信控程序并在车辆通过后恢复
type PreemptionManager struct {
	ctx entity.ITaskContext

	data          map[string]*record       // 路口ID→抢占记录
	intersections map[string]*intersection // 路口信控静态信息缓存
}

// NewManager 创建信号抢占管理器实例
func NewManager(ctx entity.ITaskContext) *PreemptionManager {
	return &PreemptionManager{
		ctx:           ctx,
		data:          make(map[string]*record),
		intersections: make(map[string]*intersection),
	}
}

// Init 初始化受控连接表缓存
// 功能：枚举全部信号灯并并行拉取其受控连接表与信号位数量
// 说明：缓存在运行中对缺失的路口做惰性补拉
func (m *PreemptionManager) Init() {
	engine := m.ctx.Engine()
	ids, err := engine.SignalIDs()
	if err != nil {
		log.Errorf("list signals: %v", err)
		return
	}
	built := parallel.GoMap(ids, func(id string) *intersection {
		return m.loadIntersection(id)
	})
	m.intersections = lo.SliceToMap(
		lo.Filter(built, func(in *intersection, _ int) bool { return in != nil }),
		func(in *intersection) (string, *intersection) { return in.id, in },
	)
	log.Infof("cached controlled links for %d signals", len(m.intersections))
}

// loadIntersection 从引擎拉取单个路口的信控静态信息
func (m *PreemptionManager) loadIntersection(id string) *intersection {
	engine := m.ctx.Engine()
	links, err := engine.ControlledLinks(id)
	if err != nil {
		log.Errorf("query controlled links of %s: %v", id, err)
		return nil
	}
	phases, err := engine.Phases(id)
	if err != nil || len(phases) == 0 {
		log.Errorf("query phases of %s: %v", id, err)
		return nil
	}
	return &intersection{id: id, links: links, signals: len(phases[0].State)}
}

// Update 每tick执行检测、抢占与释放
// 算法说明：
// 1. 检测：低速特种车辆查询前方信号，红灯、距离近且本车道排队够长的成为候选
// 2. 聚合：按路口保留优先级数值最小的候选
// 3. 迁移：按路口执行新建/接管/刷新
// 4. 释放：独立检查所有抢占记录的通过与宽限条件
func (m *PreemptionManager) Update() {
	byIntersection := m.detect()
	ids := lo.Keys(byIntersection)
	sort.Strings(ids)
	for _, sigID := range ids {
		m.preempt(sigID, byIntersection[sigID])
	}
	m.checkRelease()
}

// detect 检测抢占候选
// 返回：路口ID→该tick优先级最高（数值最小）的候选
func (m *PreemptionManager) detect() map[string]candidate {
	engine := m.ctx.Engine()
	vm := m.ctx.VehicleManager()
	e := m.ctx.RuntimeConfig().E

	byIntersection := make(map[string]candidate)
	for _, id := range vm.Tracked() {
		speed, err := engine.Speed(id)
		if err != nil {
			if entity.IsEntityGone(err) {
				vm.Drop(id)
			} else {
				log.Errorf("check vehicle %s for signal preemption: %v", id, err)
			}
			continue
		}
		if speed >= 1.0 {
			continue // 只考虑停驶或接近停驶的车辆
		}
		ahead, err := engine.NextSignal(id)
		if err != nil || ahead == nil {
			continue
		}
		if ahead.State != 'r' && ahead.State != 'R' {
			continue
		}
		if ahead.Distance >= e.RedLightDistance {
			continue
		}
		laneID, err := engine.LaneID(id)
		if err != nil {
			continue
		}
		halting, err := engine.LaneHaltingCount(laneID)
		if err != nil || halting < e.MinQueue {
			continue
		}
		edgeID, err := engine.EdgeID(id)
		if err != nil {
			continue
		}
		cand := candidate{
			vehicle:  id,
			priority: vm.Priority(id),
			edge:     edgeID,
			distance: ahead.Distance,
		}
		if best, ok := byIntersection[ahead.ID]; !ok || cand.priority < best.priority {
			byIntersection[ahead.ID] = cand
		}
	}
	return byIntersection
}

// preempt 对单个路口执行抢占迁移
// 算法说明：
// 1. 未抢占→新建：先解析状态字符串，解析失败不建立记录；
// 之后保存当前程序与相位并写入覆盖状态
// 2. 已抢占且候选优先级严格更小→接管：重置持有者与时间，
// 无条件按新持有者的进入edge重新解析并写入状态
// 3. 已抢占且候选为当前持有者→仅刷新时间戳
// 4. 其余到达一律忽略
// 5. 写入状态失败时立即删除记录（不回写信号，回写同样可能失败）
func (m *PreemptionManager) preempt(sigID string, cand candidate) {
	engine := m.ctx.Engine()
	now := m.ctx.Clock().T

	rec, exists := m.data[sigID]
	if exists {
		switch {
		case cand.priority < rec.priority:
			// 接管，继续执行下方的解析与写入
		case cand.vehicle == rec.holder:
			rec.at = now
			return
		default:
			return
		}
	}

	state, ok := m.resolveState(sigID, cand.edge)
	if !ok {
		return
	}

	if !exists {
		program, err := engine.Program(sigID)
		if err != nil {
			log.Errorf("preempt %s: query program: %v", sigID, err)
			return
		}
		phase, err := engine.Phase(sigID)
		if err != nil {
			log.Errorf("preempt %s: query phase: %v", sigID, err)
			return
		}
		rec = &record{
			program:  program,
			phase:    phase,
			holder:   cand.vehicle,
			priority: cand.priority,
			at:       now,
		}
		m.data[sigID] = rec
		log.Infof("preempting traffic light %s for %s approaching from %s", sigID, cand.vehicle, cand.edge)
		m.ctx.Journal().Eventf(
			journal.KindPreempt, sigID,
			"preempted for %s (priority %d) from %s at %.1fm", cand.vehicle, cand.priority, cand.edge, cand.distance,
		)
	} else {
		rec.holder = cand.vehicle
		rec.priority = cand.priority
		rec.at = now
		rec.passed = false
		log.Infof("updating preemption at %s for higher priority %s from %s", sigID, cand.vehicle, cand.edge)
		m.ctx.Journal().Eventf(
			journal.KindPreemptUpgrade, sigID,
			"taken over by %s (priority %d) from %s", cand.vehicle, cand.priority, cand.edge,
		)
	}

	if err := engine.SetSignalState(sigID, state); err != nil {
		delete(m.data, sigID)
		log.Errorf("preempt %s for %s: set state: %v", sigID, cand.vehicle, err)
		return
	}
	m.ctx.Journal().Eventf(journal.KindPreemptSetState, sigID, "state set to %q for %s", state, cand.vehicle)
}

// resolveState 为进入edge解析抢占状态字符串
// 功能：在受控连接表中找到进入edge对应的信号位，
// 生成仅这些信号位为绿、其余全红的状态字符串
// 返回：状态字符串与是否解析成功；失败时记录配置不匹配事件
func (m *PreemptionManager) resolveState(sigID, approachEdge string) (string, bool) {
	in := m.intersections[sigID]
	if in == nil {
		if in = m.loadIntersection(sigID); in == nil {
			return "", false
		}
		m.intersections[sigID] = in
	}
	state := []byte(strings.Repeat("r", in.signals))
	found := false
	for _, link := range in.links {
		if link.ApproachEdge != approachEdge {
			continue
		}
		if link.Index < 0 || link.Index >= in.signals {
			log.Warnf(
				"signal index %d out of bounds for state string length %d at %s",
				link.Index, in.signals, sigID,
			)
			continue
		}
		state[link.Index] = 'G'
		found = true
	}
	if !found {
		log.Warnf("could not find signal index for approach edge %q at %s, state not changed", approachEdge, sigID)
		m.ctx.Journal().Eventf(journal.KindPreemptMismatch, sigID, "no signal index for approach edge %q", approachEdge)
		return "", false
	}
	return string(state), true
}

// checkRelease 检查并释放可以恢复的抢占
// 算法说明：
// 1. 持有者离网，或仍在网但到路口的直线距离超过检测距离的1.1倍时，
// 首次标记passed并重置时间戳
// 2. passed后经过宽限时间，恢复保存的信控程序并删除记录
// 3. 恢复指令失败同样删除记录
func (m *PreemptionManager) checkRelease() {
	engine := m.ctx.Engine()
	e := m.ctx.RuntimeConfig().E
	now := m.ctx.Clock().T

	ids, err := engine.VehicleIDs()
	if err != nil {
		log.Errorf("list vehicles for release check: %v", err)
		return
	}
	present := lo.SliceToMap(ids, func(id string) (string, struct{}) {
		return id, struct{}{}
	})

	sigIDs := lo.Keys(m.data)
	sort.Strings(sigIDs)
	for _, sigID := range sigIDs {
		rec := m.data[sigID]
		if _, ok := present[rec.holder]; !ok {
			if !rec.passed {
				rec.passed = true
				rec.at = now
				m.ctx.Journal().Eventf(journal.KindPassed, sigID, "holder %s left the simulation", rec.holder)
			}
		} else if !rec.passed {
			vehPos, err := engine.Position(rec.holder)
			if err != nil {
				if entity.IsEntityGone(err) {
					rec.passed = true
					rec.at = now
				}
				continue
			}
			juncPos, err := engine.JunctionPosition(sigID)
			if err != nil {
				log.Errorf("query position of junction %s: %v", sigID, err)
				continue
			}
			dist := math.Hypot(vehPos.X-juncPos.X, vehPos.Y-juncPos.Y)
			if dist > e.DetectionDistance*1.1 {
				rec.passed = true
				rec.at = now
				log.Infof("vehicle %s has passed traffic light %s", rec.holder, sigID)
				m.ctx.Journal().Eventf(journal.KindPassed, sigID, "holder %s passed at %.1fm", rec.holder, dist)
			}
		}
		if !rec.passed || now-rec.at < e.GreenExtension {
			continue
		}
		if err := engine.SetProgram(sigID, rec.program); err != nil {
			log.Errorf("release preemption for %s: %v", sigID, err)
			m.ctx.Journal().Eventf(journal.KindReleaseFailed, sigID, "restore program %q failed: %v", rec.program, err)
		} else {
			log.Infof("released preemption for traffic light %s", sigID)
			m.ctx.Journal().Eventf(journal.KindRelease, sigID, "program %q restored after %s", rec.program, rec.holder)
		}
		delete(m.data, sigID)
	}
}

// Active 当前全部抢占记录的快照（按路口ID升序）
func (m *PreemptionManager) Active() []entity.PreemptionState {
	ids := lo.Keys(m.data)
	sort.Strings(ids)
	return lo.Map(ids, func(id string, _ int) entity.PreemptionState {
		rec := m.data[id]
		return entity.PreemptionState{
			SignalID: id,
			Program:  rec.program,
			Phase:    rec.phase,
			Holder:   rec.holder,
			Priority: rec.priority,
			At:       rec.at,
			Passed:   rec.passed,
		}
	})
}

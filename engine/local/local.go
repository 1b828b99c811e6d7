// 本地仿真引擎：entity.IEngine的内存实现
// 功能：在一张场景描述的最小路网上推进车辆与信号灯，
// 供控制器独立运行与测试使用；语义对齐外部引擎的查询/指令接口，
// 包括实体消失与指令被拒的结构化错误
package local

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/samber/lo"

	"github.com/tsinghua-fib-lab/emergency-response-oss/entity"
	"github.com/tsinghua-fib-lab/emergency-response-oss/utils/randengine"
)

// 停驶判定速度上限，与引擎的halting统计口径一致
const haltingSpeed = 0.1

type lane struct {
	id     string
	index  int
	edge   *edge
	length float64
	origin geometry.Point
	dir    geometry.Point // 单位方向向量
}

type edge struct {
	id    string
	lanes []*lane
}

type signal struct {
	id       string
	pos      geometry.Point
	program  string
	phases   []entity.Phase
	phaseIdx int
	remain   float64
	links    []entity.SignalLink
	override string // 直接覆盖的状态字符串，""表示跟随程序
}

type vehicle struct {
	id     string
	typeID string

	lane *lane
	pos  float64

	speed       float64
	maxSpeed    float64
	speedFactor float64
	accel       float64
	decel       float64
	speedMode   int
	lcMode      int

	hold        *float64 // SetSpeed指令保持的速度，nil表示未设定
	slowTarget  float64
	slowRemain  float64
	waiting     float64
	departTime  float64
	active      bool
	arrived     bool
	rerouteSeqs int

	rng *randengine.Engine
}

// Engine 本地仿真引擎
type Engine struct {
	dt float64
	t  float64

	lanes    map[string]*lane
	edges    map[string]*edge
	signals  map[string]*signal
	vehicles map[string]*vehicle

	jitter   float64
	departed []string // 上一步新驶入的车辆ID
}

// New 根据场景创建本地引擎
// 功能：构建路网、信号灯与待驶入车辆
// 参数：s-场景描述，dt-每步时间间隔（秒）
// 返回：引擎实例与场景校验错误
// 算法说明：
// 1. 为每条edge按顺序编号车道，车道ID缺省为{edge}_{序号}
// 2. 信号灯校验各相位状态字符串长度一致
// 3. 车辆初始未激活，由Step按驶入时间激活
func New(s *Scenario, dt float64) (*Engine, error) {
	if dt <= 0 {
		return nil, fmt.Errorf("local: dt must be positive, got %v", dt)
	}
	e := &Engine{
		dt:       dt,
		lanes:    make(map[string]*lane),
		edges:    make(map[string]*edge),
		signals:  make(map[string]*signal),
		vehicles: make(map[string]*vehicle),
		jitter:   s.Jitter,
	}
	for _, es := range s.Edges {
		if _, ok := e.edges[es.ID]; ok {
			return nil, fmt.Errorf("local: duplicated edge %q", es.ID)
		}
		ed := &edge{id: es.ID}
		for i, ls := range es.Lanes {
			id := ls.ID
			if id == "" {
				id = fmt.Sprintf("%s_%d", es.ID, i)
			}
			if _, ok := e.lanes[id]; ok {
				return nil, fmt.Errorf("local: duplicated lane %q", id)
			}
			if ls.Length <= 0 {
				return nil, fmt.Errorf("local: lane %q has non-positive length", id)
			}
			l := &lane{
				id:     id,
				index:  i,
				edge:   ed,
				length: ls.Length,
				origin: geometry.Point{X: ls.X, Y: ls.Y},
				dir:    geometry.Point{X: math.Cos(ls.Heading), Y: math.Sin(ls.Heading)},
			}
			ed.lanes = append(ed.lanes, l)
			e.lanes[id] = l
		}
		e.edges[es.ID] = ed
	}
	for _, ss := range s.Signals {
		if len(ss.Phases) == 0 {
			return nil, fmt.Errorf("local: signal %q has no phases", ss.ID)
		}
		n := len(ss.Phases[0].State)
		for _, p := range ss.Phases {
			if len(p.State) != n {
				return nil, fmt.Errorf("local: signal %q has inconsistent state lengths", ss.ID)
			}
			if p.Duration <= 0 {
				return nil, fmt.Errorf("local: signal %q has non-positive phase duration", ss.ID)
			}
		}
		program := ss.Program
		if program == "" {
			program = "0"
		}
		sig := &signal{
			id:      ss.ID,
			pos:     geometry.Point{X: ss.X, Y: ss.Y},
			program: program,
			phases: lo.Map(ss.Phases, func(p PhaseSpec, _ int) entity.Phase {
				return entity.Phase{Duration: p.Duration, State: p.State}
			}),
			links: lo.Map(ss.Links, func(l LinkSpec, _ int) entity.SignalLink {
				return entity.SignalLink{ApproachEdge: l.Edge, Index: l.Index}
			}),
			remain: ss.Phases[0].Duration,
		}
		e.signals[ss.ID] = sig
	}
	for _, vs := range s.Vehicles {
		ed, ok := e.edges[vs.Edge]
		if !ok {
			return nil, fmt.Errorf("local: vehicle %q departs on unknown edge %q", vs.ID, vs.Edge)
		}
		if vs.Lane < 0 || vs.Lane >= len(ed.lanes) {
			return nil, fmt.Errorf("local: vehicle %q departs on invalid lane %d of edge %q", vs.ID, vs.Lane, vs.Edge)
		}
		typeID := vs.Type
		if typeID == "" {
			typeID = "passenger"
		}
		h := fnv.New64a()
		h.Write([]byte(vs.ID))
		e.vehicles[vs.ID] = &vehicle{
			id:          vs.ID,
			typeID:      typeID,
			lane:        ed.lanes[vs.Lane],
			pos:         vs.Pos,
			speed:       vs.Speed,
			maxSpeed:    math.Inf(1),
			speedFactor: 1,
			accel:       2.6,
			decel:       4.5,
			speedMode:   31,
			lcMode:      1621,
			waiting:     vs.Waiting,
			departTime:  vs.Depart,
			rng:         randengine.New(h.Sum64()),
		}
	}
	return e, nil
}

// Time 当前仿真时间
func (e *Engine) Time() (float64, error) {
	return e.t, nil
}

// Step 推进一个仿真步
// 算法说明：
// 1. 时间前移一个dt，按驶入时间激活车辆并记入departed
// 2. 车辆速度按保持指令>减速指令>自由行驶的优先级更新，位置沿车道前移
// 3. 驶出车道末端的车辆视为到达并离网
// 4. 低于停驶速度累计等待时间，否则清零
// 5. 未被覆盖的信号灯按相位倒计时切换
func (e *Engine) Step() error {
	e.t += e.dt
	e.departed = e.departed[:0]
	for _, id := range e.sortedVehicleIDs(false) {
		v := e.vehicles[id]
		if !v.active && !v.arrived && v.departTime <= e.t {
			v.active = true
			e.departed = append(e.departed, id)
		}
	}
	for _, id := range e.sortedVehicleIDs(true) {
		v := e.vehicles[id]
		switch {
		case v.hold != nil:
			v.speed = *v.hold
		case v.slowRemain > 0:
			step := math.Min(e.dt, v.slowRemain)
			v.speed += (v.slowTarget - v.speed) * step / v.slowRemain
			v.slowRemain -= step
		case e.jitter > 0:
			v.speed = math.Max(0, v.speed+v.rng.Jitter(e.jitter))
		}
		if v.speedMode != 0 {
			v.speed = math.Min(v.speed, v.maxSpeed*v.speedFactor)
		}
		v.pos += v.speed * e.dt
		if v.pos > v.lane.length {
			v.active = false
			v.arrived = true
			continue
		}
		if v.speed < haltingSpeed {
			v.waiting += e.dt
		} else {
			v.waiting = 0
		}
	}
	for _, sig := range e.signals {
		if sig.override != "" {
			continue
		}
		sig.remain -= e.dt
		for sig.remain <= 0 {
			sig.phaseIdx = (sig.phaseIdx + 1) % len(sig.phases)
			sig.remain += sig.phases[sig.phaseIdx].Duration
		}
	}
	return nil
}

// VehicleIDs 当前在网车辆ID列表（升序）
func (e *Engine) VehicleIDs() ([]string, error) {
	return e.sortedVehicleIDs(true), nil
}

// DepartedVehicleIDs 上一步新驶入的车辆ID
func (e *Engine) DepartedVehicleIDs() ([]string, error) {
	out := make([]string, len(e.departed))
	copy(out, e.departed)
	return out, nil
}

func (e *Engine) sortedVehicleIDs(activeOnly bool) []string {
	ids := lo.Keys(e.vehicles)
	sort.Strings(ids)
	if !activeOnly {
		return ids
	}
	return lo.Filter(ids, func(id string, _ int) bool {
		return e.vehicles[id].active
	})
}

func (e *Engine) vehicle(op, id string) (*vehicle, error) {
	v, ok := e.vehicles[id]
	if !ok || !v.active {
		return nil, entity.NewEntityGone(op, id)
	}
	return v, nil
}

func (e *Engine) VehicleType(id string) (string, error) {
	v, err := e.vehicle("VehicleType", id)
	if err != nil {
		return "", err
	}
	return v.typeID, nil
}

func (e *Engine) Speed(id string) (float64, error) {
	v, err := e.vehicle("Speed", id)
	if err != nil {
		return 0, err
	}
	return v.speed, nil
}

// Position 车辆平面坐标
// 说明：由车道起点沿方向向量平移沿车道位置得到
func (e *Engine) Position(id string) (geometry.Point, error) {
	v, err := e.vehicle("Position", id)
	if err != nil {
		return geometry.Point{}, err
	}
	return geometry.Point{
		X: v.lane.origin.X + v.lane.dir.X*v.pos,
		Y: v.lane.origin.Y + v.lane.dir.Y*v.pos,
	}, nil
}

func (e *Engine) LaneID(id string) (string, error) {
	v, err := e.vehicle("LaneID", id)
	if err != nil {
		return "", err
	}
	return v.lane.id, nil
}

func (e *Engine) EdgeID(id string) (string, error) {
	v, err := e.vehicle("EdgeID", id)
	if err != nil {
		return "", err
	}
	return v.lane.edge.id, nil
}

func (e *Engine) LanePosition(id string) (float64, error) {
	v, err := e.vehicle("LanePosition", id)
	if err != nil {
		return 0, err
	}
	return v.pos, nil
}

func (e *Engine) WaitingTime(id string) (float64, error) {
	v, err := e.vehicle("WaitingTime", id)
	if err != nil {
		return 0, err
	}
	return v.waiting, nil
}

// NextSignal 车辆前方最近信号灯
// 功能：在受控连接表中查找以车辆所在edge为进入edge的信号灯，
// 返回其对应信号位的当前状态与到停止线（车道末端）的距离；无则返回nil
func (e *Engine) NextSignal(id string) (*entity.SignalAhead, error) {
	v, err := e.vehicle("NextSignal", id)
	if err != nil {
		return nil, err
	}
	sigIDs := lo.Keys(e.signals)
	sort.Strings(sigIDs)
	for _, sigID := range sigIDs {
		sig := e.signals[sigID]
		for _, link := range sig.links {
			if link.ApproachEdge != v.lane.edge.id {
				continue
			}
			state := e.currentState(sig)
			// 信号位序号配置错误时仍报告信号灯存在，状态按红灯处理
			st := byte('r')
			if link.Index >= 0 && link.Index < len(state) {
				st = state[link.Index]
			}
			return &entity.SignalAhead{
				ID:       sig.id,
				State:    st,
				Distance: v.lane.length - v.pos,
			}, nil
		}
	}
	return nil, nil
}

func (e *Engine) currentState(sig *signal) string {
	if sig.override != "" {
		return sig.override
	}
	return sig.phases[sig.phaseIdx].State
}

func (e *Engine) SetSpeed(id string, speed float64) error {
	v, err := e.vehicle("SetSpeed", id)
	if err != nil {
		return err
	}
	if speed < 0 {
		v.hold = nil // 负值表示交还速度控制权
		return nil
	}
	// 命令在下一次 Step 生效，与引擎的同步往返语义一致
	v.hold = &speed
	return nil
}

func (e *Engine) SetMaxSpeed(id string, speed float64) error {
	v, err := e.vehicle("SetMaxSpeed", id)
	if err != nil {
		return err
	}
	if speed <= 0 {
		return entity.NewCommandRejected("SetMaxSpeed", id, "non-positive max speed")
	}
	v.maxSpeed = speed
	return nil
}

func (e *Engine) SetSpeedFactor(id string, factor float64) error {
	v, err := e.vehicle("SetSpeedFactor", id)
	if err != nil {
		return err
	}
	if factor <= 0 {
		return entity.NewCommandRejected("SetSpeedFactor", id, "non-positive speed factor")
	}
	v.speedFactor = factor
	return nil
}

func (e *Engine) SetAccel(id string, accel float64) error {
	v, err := e.vehicle("SetAccel", id)
	if err != nil {
		return err
	}
	v.accel = accel
	return nil
}

func (e *Engine) SetDecel(id string, decel float64) error {
	v, err := e.vehicle("SetDecel", id)
	if err != nil {
		return err
	}
	v.decel = decel
	return nil
}

func (e *Engine) SetSpeedMode(id string, mode int) error {
	v, err := e.vehicle("SetSpeedMode", id)
	if err != nil {
		return err
	}
	v.speedMode = mode
	return nil
}

func (e *Engine) SetLaneChangeMode(id string, mode int) error {
	v, err := e.vehicle("SetLaneChangeMode", id)
	if err != nil {
		return err
	}
	v.lcMode = mode
	return nil
}

// MoveTo 将车辆移动到指定车道位置
func (e *Engine) MoveTo(id string, laneID string, pos float64) error {
	v, err := e.vehicle("MoveTo", id)
	if err != nil {
		return err
	}
	l, ok := e.lanes[laneID]
	if !ok {
		return entity.NewCommandRejected("MoveTo", id, fmt.Sprintf("unknown lane %q", laneID))
	}
	if pos < 0 || pos > l.length {
		return entity.NewCommandRejected("MoveTo", id, fmt.Sprintf("position %v out of lane %q", pos, laneID))
	}
	v.lane = l
	v.pos = pos
	return nil
}

// ChangeLane 变道到同edge的指定车道序号
func (e *Engine) ChangeLane(id string, index int, duration float64) error {
	v, err := e.vehicle("ChangeLane", id)
	if err != nil {
		return err
	}
	ed := v.lane.edge
	if entity.IsInternalEdge(ed.id) {
		return entity.NewCommandRejected("ChangeLane", id, "lane change inside junction")
	}
	if index < 0 || index >= len(ed.lanes) {
		return entity.NewCommandRejected("ChangeLane", id, fmt.Sprintf("invalid lane index %d", index))
	}
	target := ed.lanes[index]
	v.lane = target
	v.pos = math.Min(v.pos, target.length)
	return nil
}

// SlowDown 在duration内线性减速到target
func (e *Engine) SlowDown(id string, target, duration float64) error {
	v, err := e.vehicle("SlowDown", id)
	if err != nil {
		return err
	}
	if target < 0 {
		return entity.NewCommandRejected("SlowDown", id, "negative target speed")
	}
	if duration <= 0 {
		v.speed = target
		v.slowRemain = 0
		return nil
	}
	v.slowTarget = target
	v.slowRemain = duration
	return nil
}

func (e *Engine) RerouteByTravelTime(id string) error {
	v, err := e.vehicle("RerouteByTravelTime", id)
	if err != nil {
		return err
	}
	v.rerouteSeqs++
	return nil
}

func (e *Engine) laneByID(op, id string) (*lane, error) {
	l, ok := e.lanes[id]
	if !ok {
		return nil, entity.NewEntityGone(op, id)
	}
	return l, nil
}

func (e *Engine) LaneLength(id string) (float64, error) {
	l, err := e.laneByID("LaneLength", id)
	if err != nil {
		return 0, err
	}
	return l.length, nil
}

// LaneHaltingCount 车道上停驶车辆数
func (e *Engine) LaneHaltingCount(id string) (int, error) {
	l, err := e.laneByID("LaneHaltingCount", id)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, v := range e.vehicles {
		if v.active && v.lane == l && v.speed < haltingSpeed {
			count++
		}
	}
	return count, nil
}

func (e *Engine) LaneVehicleIDs(id string) ([]string, error) {
	l, err := e.laneByID("LaneVehicleIDs", id)
	if err != nil {
		return nil, err
	}
	return lo.Filter(e.sortedVehicleIDs(true), func(vid string, _ int) bool {
		return e.vehicles[vid].lane == l
	}), nil
}

func (e *Engine) edgeByID(op, id string) (*edge, error) {
	ed, ok := e.edges[id]
	if !ok {
		return nil, entity.NewEntityGone(op, id)
	}
	return ed, nil
}

func (e *Engine) EdgeLaneCount(id string) (int, error) {
	ed, err := e.edgeByID("EdgeLaneCount", id)
	if err != nil {
		return 0, err
	}
	return len(ed.lanes), nil
}

func (e *Engine) EdgeVehicleIDs(id string) ([]string, error) {
	ed, err := e.edgeByID("EdgeVehicleIDs", id)
	if err != nil {
		return nil, err
	}
	return lo.Filter(e.sortedVehicleIDs(true), func(vid string, _ int) bool {
		return e.vehicles[vid].lane.edge == ed
	}), nil
}

func (e *Engine) signalByID(op, id string) (*signal, error) {
	sig, ok := e.signals[id]
	if !ok {
		return nil, entity.NewEntityGone(op, id)
	}
	return sig, nil
}

// SignalIDs 全部信号灯ID（升序）
func (e *Engine) SignalIDs() ([]string, error) {
	ids := lo.Keys(e.signals)
	sort.Strings(ids)
	return ids, nil
}

func (e *Engine) Program(id string) (string, error) {
	sig, err := e.signalByID("Program", id)
	if err != nil {
		return "", err
	}
	return sig.program, nil
}

// SetProgram 切换信控程序
// 说明：清除状态覆盖并从第0相位重新开始倒计时
func (e *Engine) SetProgram(id string, program string) error {
	sig, err := e.signalByID("SetProgram", id)
	if err != nil {
		return err
	}
	sig.program = program
	sig.override = ""
	sig.phaseIdx = 0
	sig.remain = sig.phases[0].Duration
	return nil
}

func (e *Engine) Phase(id string) (int, error) {
	sig, err := e.signalByID("Phase", id)
	if err != nil {
		return 0, err
	}
	return sig.phaseIdx, nil
}

func (e *Engine) ControlledLinks(id string) ([]entity.SignalLink, error) {
	sig, err := e.signalByID("ControlledLinks", id)
	if err != nil {
		return nil, err
	}
	out := make([]entity.SignalLink, len(sig.links))
	copy(out, sig.links)
	return out, nil
}

func (e *Engine) Phases(id string) ([]entity.Phase, error) {
	sig, err := e.signalByID("Phases", id)
	if err != nil {
		return nil, err
	}
	out := make([]entity.Phase, len(sig.phases))
	copy(out, sig.phases)
	return out, nil
}

// SetSignalState 直接覆盖信号状态字符串
// 说明：覆盖期间信控程序倒计时暂停，直到SetProgram恢复
func (e *Engine) SetSignalState(id string, state string) error {
	sig, err := e.signalByID("SetSignalState", id)
	if err != nil {
		return err
	}
	if len(state) != len(sig.phases[0].State) {
		return entity.NewCommandRejected(
			"SetSignalState", id,
			fmt.Sprintf("state length %d does not match signal count %d", len(state), len(sig.phases[0].State)),
		)
	}
	sig.override = state
	return nil
}

func (e *Engine) JunctionPosition(id string) (geometry.Point, error) {
	sig, err := e.signalByID("JunctionPosition", id)
	if err != nil {
		return geometry.Point{}, err
	}
	return sig.pos, nil
}

// RemoveVehicle 立即将车辆移出仿真（测试辅助，模拟车辆到达或消失）
func (e *Engine) RemoveVehicle(id string) {
	if v, ok := e.vehicles[id]; ok {
		v.active = false
		v.arrived = true
	}
}

// RerouteCount 车辆被重规划的次数（测试辅助）
func (e *Engine) RerouteCount(id string) int {
	if v, ok := e.vehicles[id]; ok {
		return v.rerouteSeqs
	}
	return 0
}

// SlowTarget 车辆当前的减速指令（测试辅助）
// 返回：目标速度、剩余时长、是否存在未完成的减速指令
func (e *Engine) SlowTarget(id string) (float64, float64, bool) {
	if v, ok := e.vehicles[id]; ok && v.slowRemain > 0 {
		return v.slowTarget, v.slowRemain, true
	}
	return 0, 0, false
}

// RawState 信号灯当前对外呈现的状态字符串（测试辅助）
func (e *Engine) RawState(id string) string {
	if sig, ok := e.signals[id]; ok {
		return e.currentState(sig)
	}
	return ""
}

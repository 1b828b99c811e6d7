package entity

import (
	"git.fiblab.net/general/common/v2/geometry"
	"github.com/tsinghua-fib-lab/emergency-response-oss/clock"
	"github.com/tsinghua-fib-lab/emergency-response-oss/utils/config"
)

// IEngine 外部微观交通仿真引擎的查询/指令接口
// 功能：控制器对引擎的全部访问都经过本接口，每次调用都是一次同步往返，
// 返回的错误携带EngineErrorKind以区分实体消失、指令被拒与引擎内部错误
type IEngine interface {
	// 全局

	Time() (float64, error)                // 当前仿真时间（秒）
	Step() error                           // 推进一个仿真步（阻塞）
	VehicleIDs() ([]string, error)         // 当前在网车辆ID列表
	DepartedVehicleIDs() ([]string, error) // 自上一步以来新驶入的车辆ID

	// 车辆查询

	VehicleType(id string) (string, error)      // 车辆类型ID
	Speed(id string) (float64, error)           // 当前速度
	Position(id string) (geometry.Point, error) // 平面坐标
	LaneID(id string) (string, error)           // 所在车道ID
	EdgeID(id string) (string, error)           // 所在edge ID
	LanePosition(id string) (float64, error)    // 沿车道位置
	WaitingTime(id string) (float64, error)     // 累计等待时间
	NextSignal(id string) (*SignalAhead, error) // 前方最近信号灯，无则返回nil

	// 车辆指令

	SetSpeed(id string, v float64) error                     // 设定目标速度
	SetMaxSpeed(id string, v float64) error                  // 设定最大速度
	SetSpeedFactor(id string, f float64) error               // 设定速度因子
	SetAccel(id string, a float64) error                     // 设定最大加速度
	SetDecel(id string, d float64) error                     // 设定最大减速度
	SetSpeedMode(id string, mode int) error                  // 设定速度规则遵从模式（0为完全不受限）
	SetLaneChangeMode(id string, mode int) error             // 设定变道规则遵从模式（0为完全不受限）
	MoveTo(id string, laneID string, pos float64) error      // 将车辆移动到指定车道位置
	ChangeLane(id string, index int, duration float64) error // 变道到指定车道序号
	SlowDown(id string, target, duration float64) error      // 在duration内减速到target
	RerouteByTravelTime(id string) error                     // 按当前旅行时间重新规划路径

	// 车道

	LaneLength(id string) (float64, error)      // 车道长度
	LaneHaltingCount(id string) (int, error)    // 车道上停驶车辆数
	LaneVehicleIDs(id string) ([]string, error) // 车道上的车辆ID

	// edge

	EdgeLaneCount(id string) (int, error)       // edge的车道数
	EdgeVehicleIDs(id string) ([]string, error) // edge上的车辆ID

	// 信号灯/路口

	SignalIDs() ([]string, error)                       // 全部信号灯ID
	Program(id string) (string, error)                  // 当前信控程序ID
	SetProgram(id string, program string) error         // 切换信控程序
	Phase(id string) (int, error)                       // 当前相位序号
	ControlledLinks(id string) ([]SignalLink, error)    // 受控连接表（进入edge→信号位序号）
	Phases(id string) ([]Phase, error)                  // 完整相位/状态定义
	SetSignalState(id string, state string) error       // 直接覆盖信号状态字符串
	JunctionPosition(id string) (geometry.Point, error) // 路口中心坐标
}

// IJournal 事件日志接口
// 功能：控制器产生带时间戳的人类可读事件流，持久化由协作方完成
type IJournal interface {
	// 记录一条事件，kind为事件类别，subject为相关实体ID
	Eventf(kind, subject, format string, args ...any)
	// 将缓冲中的事件落盘，每tick末尾由控制循环调用
	Flush() error
	Close() error
}

// entity/vehicle/manager.go的依赖倒置
type IVehicleManager interface {
	// 对新驶入车辆做分类，并对特种车辆建立跟踪记录与初始配置
	ProcessDeparted(ids []string)
	// 获取车辆类别（带缓存），首次观察到特种车辆时建立跟踪记录
	Class(id string) (VehicleClass, error)
	// 对特种车辆施加特权配置（幂等）
	EnsureConfigured(id string) error
	// 被跟踪的特种车辆ID（升序）
	Tracked() []string
	// 车辆的抢占优先级
	Priority(id string) int32
	// 车辆是否已完成特权配置
	IsConfigured(id string) bool
	// 最近一次脱困尝试时间
	LastUnstick(id string) float64
	// 记录脱困尝试时间
	MarkUnstick(id string, t float64)
	// 从跟踪中删除车辆
	Drop(id string)
	// 清理已不在网的车辆记录
	Purge(present map[string]struct{})
}

// entity/emergency/manager.go的依赖倒置
type IEmergencyManager interface {
	// 每tick执行特种车辆的强制行进与脱困
	Update()
	// 为特种车辆清理前方路径
	ClearPath(id string, radius float64)
}

// PreemptionState 信号抢占记录快照（用于检视与输出）
type PreemptionState struct {
	SignalID string  // 信号灯ID
	Program  string  // 被保存的信控程序ID
	Phase    int     // 被保存的相位序号
	Holder   string  // 持有抢占的车辆ID
	Priority int32   // 持有者优先级
	At       float64 // 激活或刷新时间
	Passed   bool    // 持有者是否已通过
}

// entity/preemption/manager.go的依赖倒置
type IPreemptionManager interface {
	// 初始化受控连接表缓存
	Init()
	// 每tick执行检测、抢占与释放
	Update()
	// 当前全部抢占记录的快照（按信号灯ID升序）
	Active() []PreemptionState
}

// entity/recovery/manager.go的依赖倒置
type IRecoveryManager interface {
	// 每tick执行普通车辆的堵死检测与重规划
	Update()
	// 车辆最近一次被处理的时间，未处理过则第二个返回值为false
	LastHandled(id string) (float64, bool)
}

type ITaskContext interface {
	Clock() *clock.Clock
	Engine() IEngine
	Journal() IJournal
	VehicleManager() IVehicleManager
	EmergencyManager() IEmergencyManager
	PreemptionManager() IPreemptionManager
	RecoveryManager() IRecoveryManager
	RuntimeConfig() *config.RuntimeConfig
}

package task

import (
	"sync/atomic"

	"github.com/tsinghua-fib-lab/emergency-response-oss/clock"
	"github.com/tsinghua-fib-lab/emergency-response-oss/entity"
	"github.com/tsinghua-fib-lab/emergency-response-oss/entity/emergency"
	"github.com/tsinghua-fib-lab/emergency-response-oss/entity/preemption"
	"github.com/tsinghua-fib-lab/emergency-response-oss/entity/recovery"
	"github.com/tsinghua-fib-lab/emergency-response-oss/entity/vehicle"
	"github.com/tsinghua-fib-lab/emergency-response-oss/utils/config"
	"github.com/tsinghua-fib-lab/emergency-response-oss/utils/journal"
)

// Context 控制任务上下文
// 功能：包含一次控制任务的所有变量和状态，替代全局变量
// 说明：持有引擎、时钟、事件日志与各管理器；
// 所有控制器状态只被控制循环这一个写者修改，无需加锁
type Context struct {

	// 任务名
	job string
	// 关闭指令
	closed atomic.Bool

	// 时钟
	clock *clock.Clock

	// 外部仿真引擎
	engine entity.IEngine
	// 事件日志
	journal entity.IJournal

	// 车辆注册表
	vehicleManager entity.IVehicleManager
	// 特种车辆控制器
	emergencyManager entity.IEmergencyManager
	// 信号抢占管理器
	preemptionManager entity.IPreemptionManager
	// 堵死恢复管理器
	recoveryManager entity.IRecoveryManager

	// 运行时配置文件
	runtimeConfig *config.RuntimeConfig
}

// NewContext 创建新的控制任务上下文
// 功能：初始化控制器的所有组件
// 参数：
//   - job: 任务名称
//   - c: 配置对象
//   - engine: 外部仿真引擎
//
// 返回：初始化完成的Context实例
// 说明：事件日志内部创建（持有时钟），打开失败时panic
func NewContext(
	job string,
	c config.Config,
	engine entity.IEngine,
) *Context {
	ctx := &Context{
		job:    job,
		engine: engine,
	}
	ctx.runtimeConfig = config.NewRuntimeConfig(c)
	ctx.clock = clock.New(ctx.runtimeConfig.C.Step)

	j, err := journal.New(ctx.clock, c.Journal)
	if err != nil {
		log.Panicf("failed to open journal: %v", err)
	}
	ctx.journal = j

	// 新建各管理器
	ctx.vehicleManager = vehicle.NewManager(ctx)
	ctx.emergencyManager = emergency.NewManager(ctx)
	ctx.preemptionManager = preemption.NewManager(ctx)
	ctx.recoveryManager = recovery.NewManager(ctx)

	return ctx
}

func (ctx *Context) Clock() *clock.Clock {
	return ctx.clock
}

func (ctx *Context) Engine() entity.IEngine {
	return ctx.engine
}

func (ctx *Context) Journal() entity.IJournal {
	return ctx.journal
}

func (ctx *Context) VehicleManager() entity.IVehicleManager {
	return ctx.vehicleManager
}

func (ctx *Context) EmergencyManager() entity.IEmergencyManager {
	return ctx.emergencyManager
}

func (ctx *Context) PreemptionManager() entity.IPreemptionManager {
	return ctx.preemptionManager
}

func (ctx *Context) RecoveryManager() entity.IRecoveryManager {
	return ctx.recoveryManager
}

func (ctx *Context) RuntimeConfig() *config.RuntimeConfig {
	return ctx.runtimeConfig
}

// Init 初始化
// 功能：重置时钟并构建路口信控静态信息缓存
func (ctx *Context) Init() {
	ctx.clock.Init()
	ctx.preemptionManager.Init()
}

// Close 关闭任务
func (ctx *Context) Close() {
	if ctx.closed.Load() {
		return
	}
	if err := ctx.journal.Close(); err != nil {
		log.Errorf("close journal: %v", err)
	}
	ctx.closed.Store(true)
}

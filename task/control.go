package task

import (
	"flag"
)

var (
	heartBeatInterval = flag.Int("log.heartbeat_interval", 100, "心跳日志间隔步数")
)

// prepare 准备阶段，每步执行一次
// 功能：推进引擎一个仿真步并同步时钟
// 算法说明：
// 1. 引擎阻塞式推进一个仿真步
// 2. 以引擎上报的时间回写时钟（引擎是时间权威），失败时退化为按步长累加
// 3. 心跳日志：定期输出当前步数与仿真时间
// 返回：引擎推进是否成功，失败意味着协作方不可用，控制循环应停止
func (ctx *Context) prepare() bool {
	if err := ctx.engine.Step(); err != nil {
		log.Errorf("engine step failed: %v", err)
		return false
	}
	ctx.clock.InternalStep++
	if t, err := ctx.engine.Time(); err == nil {
		ctx.clock.T = t
	} else {
		ctx.clock.T += ctx.clock.DT
	}

	if ctx.clock.InternalStep%int32(*heartBeatInterval) == 0 {
		hour, minute, second := ctx.clock.GetHourMinuteSecond()
		log.Infof(
			"STEP: %d(%d:%d:%.2f)",
			ctx.clock.InternalStep,
			hour, minute, second,
		)
	}
	return true
}

// update 更新阶段，每步执行一次
// 功能：按固定顺序执行各控制器
// 算法说明：
// 1. 对新驶入车辆做分类与特权配置
// 2. 特种车辆强制行进与脱困（内部调用路径清理）
// 3. 信号抢占检测、迁移与释放
// 4. 普通车辆堵死恢复
// 5. 事件日志落盘
// 说明：固定的同步顺序，各阶段无内部并发，
// 单个实体的失败不会中断同tick内其余实体的处理
func (ctx *Context) update() {
	departed, err := ctx.engine.DepartedVehicleIDs()
	if err != nil {
		log.Errorf("query departed vehicles: %v", err)
	} else {
		ctx.vehicleManager.ProcessDeparted(departed)
	}

	ctx.emergencyManager.Update()
	ctx.preemptionManager.Update()
	ctx.recoveryManager.Update()

	if err := ctx.journal.Flush(); err != nil {
		log.Errorf("flush journal: %v", err)
	}
}

// RunOnce 执行一个完整tick
// 返回：是否可以继续运行
func (ctx *Context) RunOnce() bool {
	if !ctx.prepare() {
		return false
	}
	ctx.update()
	if !ctx.clock.Unbounded() && ctx.clock.InternalStep >= ctx.clock.END_STEP {
		return false
	}
	return !ctx.closed.Load()
}

// Run 运行
func (ctx *Context) Run() {
	ctx.Init()
	for ctx.RunOnce() {
	}
	log.Infof("controller complete at step %d", ctx.clock.InternalStep)
	ctx.Close()
}

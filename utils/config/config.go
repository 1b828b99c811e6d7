package config

// RuntimeConfig 运行时配置
// 功能：在原始配置的基础上填充全部默认阈值，为控制器运行提供有效配置
type RuntimeConfig struct {
	All Config    // 全部配置
	C   Control   // 全局控制配置
	E   Emergency // 特种车辆控制参数（已填充默认值）
}

// NewRuntimeConfig 根据配置初始化运行时配置
// 功能：复制配置并为未指定的阈值填充默认值
// 参数：config-原始配置对象
// 返回：初始化的运行时配置指针
func NewRuntimeConfig(config Config) *RuntimeConfig {
	rc := &RuntimeConfig{}

	rc.All = config
	rc.C = config.Control
	rc.E = config.Emergency

	if rc.C.Step.Interval <= 0 {
		rc.C.Step.Interval = 1
	}
	e := &rc.E
	setDefault(&e.MaxSpeed, 50)
	setDefault(&e.SpeedFactor, 2.5)
	setDefault(&e.Accel, 5)
	setDefault(&e.Decel, 7)
	setDefault(&e.ForceSpeed, 15)
	setDefault(&e.MoveFloor, 5)
	setDefault(&e.ClearRadius, 30)
	setDefault(&e.UnstickRadius, 50)
	setDefault(&e.SnapAdvance, 10)
	setDefault(&e.DetectionDistance, 50)
	setDefault(&e.RedLightDistance, 20)
	if e.MinQueue <= 0 {
		e.MinQueue = 8
	}
	setDefault(&e.GreenExtension, 5)
	setDefault(&e.StuckSpeed, 0.1)
	setDefault(&e.StuckWaiting, 120)
	setDefault(&e.StuckCooldown, 60)

	return rc
}

func setDefault(v *float64, d float64) {
	if *v <= 0 {
		*v = d
	}
}

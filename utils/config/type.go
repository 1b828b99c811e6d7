package config

// ControlStep 指定控制器模拟时间范围和间隔的配置项
// 功能：定义仿真时间控制参数
type ControlStep struct {
	Start    int32   `yaml:"start"`    // 开始步数
	Total    int32   `yaml:"total"`    // 总步数，0表示跟随引擎一直运行
	Interval float64 `yaml:"interval"` // 每步的时间间隔（秒）
}

// Control 控制器控制配置
type Control struct {
	Step ControlStep `yaml:"step"`
}

// Emergency 特种车辆控制参数
// 功能：定义特权配置、强制行进、路径清理与信号抢占的全部阈值
// 说明：零值字段在RuntimeConfig中填充默认值
type Emergency struct {
	MaxSpeed      float64 `yaml:"max_speed,omitempty"`      // 特种车辆最大速度
	SpeedFactor   float64 `yaml:"speed_factor,omitempty"`   // 特种车辆速度因子
	Accel         float64 `yaml:"accel,omitempty"`          // 特种车辆最大加速度
	Decel         float64 `yaml:"decel,omitempty"`          // 特种车辆最大减速度
	ForceSpeed    float64 `yaml:"force_speed,omitempty"`    // 强制行进目标速度
	MoveFloor     float64 `yaml:"move_floor,omitempty"`     // 触发强制行进的速度下限
	ClearRadius   float64 `yaml:"clear_radius,omitempty"`   // 常规路径清理半径
	UnstickRadius float64 `yaml:"unstick_radius,omitempty"` // 脱困时的路径清理半径
	SnapAdvance   float64 `yaml:"snap_advance,omitempty"`   // 脱困前移距离

	DetectionDistance float64 `yaml:"detection_distance,omitempty"` // 路口检测距离（释放判定基准）
	RedLightDistance  float64 `yaml:"red_light_distance,omitempty"` // 红灯前触发抢占的距离
	MinQueue          int     `yaml:"min_queue,omitempty"`          // 触发抢占的最小排队长度
	GreenExtension    float64 `yaml:"green_extension,omitempty"`    // 通过后维持绿灯的宽限时间（秒）

	StuckSpeed    float64 `yaml:"stuck_speed,omitempty"`    // 普通车辆堵死判定速度上限
	StuckWaiting  float64 `yaml:"stuck_waiting,omitempty"`  // 普通车辆堵死判定等待时间下限（秒）
	StuckCooldown float64 `yaml:"stuck_cooldown,omitempty"` // 同一车辆两次处理的最小间隔（秒）
}

// MongoSink 事件日志的MongoDB持久化配置
type MongoSink struct {
	URI string `yaml:"uri"`           // MongoDB连接字符串
	DB  string `yaml:"db"`            // 数据库名
	Col string `yaml:"col,omitempty"` // 集合名，为空则使用"events"
}

// Journal 事件日志配置
type Journal struct {
	File  string     `yaml:"file,omitempty"`  // 追加写入的日志文件路径，为空则仅输出到运行日志
	Mongo *MongoSink `yaml:"mongo,omitempty"` // 可选的MongoDB镜像
}

// Config YAML配置文件的根结构
type Config struct {
	Scenario  string    `yaml:"scenario"`            // 本地引擎场景文件路径
	Control   Control   `yaml:"control"`             // 模拟过程控制
	Emergency Emergency `yaml:"emergency,omitempty"` // 特种车辆控制参数
	Journal   Journal   `yaml:"journal,omitempty"`   // 事件日志
}

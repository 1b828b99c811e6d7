package local

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// LaneSpec 车道定义
type LaneSpec struct {
	ID      string  `yaml:"id,omitempty"`      // 车道ID，为空则使用{edge}_{序号}
	Length  float64 `yaml:"length"`            // 车道长度
	X       float64 `yaml:"x,omitempty"`       // 车道起点X坐标
	Y       float64 `yaml:"y,omitempty"`       // 车道起点Y坐标
	Heading float64 `yaml:"heading,omitempty"` // 车道方向（弧度，0为+X方向）
}

// EdgeSpec edge定义
// 说明：以":"开头的ID表示路口内部edge
type EdgeSpec struct {
	ID    string     `yaml:"id"`    // edge ID
	Lanes []LaneSpec `yaml:"lanes"` // 车道列表，序号按出现顺序从0开始
}

// LinkSpec 信号灯受控连接定义
type LinkSpec struct {
	Edge  string `yaml:"edge"`  // 进入edge
	Index int    `yaml:"index"` // 状态字符串中的信号位序号
}

// PhaseSpec 信号灯相位定义
type PhaseSpec struct {
	Duration float64 `yaml:"duration"` // 相位持续时间（秒）
	State    string  `yaml:"state"`    // 相位状态字符串
}

// SignalSpec 信号灯（路口）定义
type SignalSpec struct {
	ID      string      `yaml:"id"`                // 信号灯ID
	X       float64     `yaml:"x,omitempty"`       // 路口中心X坐标
	Y       float64     `yaml:"y,omitempty"`       // 路口中心Y坐标
	Program string      `yaml:"program,omitempty"` // 初始信控程序ID，为空则为"0"
	Phases  []PhaseSpec `yaml:"phases"`            // 相位列表
	Links   []LinkSpec  `yaml:"links"`             // 受控连接表
}

// VehicleSpec 车辆定义
type VehicleSpec struct {
	ID      string  `yaml:"id"`                // 车辆ID
	Type    string  `yaml:"type,omitempty"`    // 车辆类型ID，为空则为"passenger"
	Depart  float64 `yaml:"depart,omitempty"`  // 驶入时间（秒）
	Edge    string  `yaml:"edge"`              // 初始edge
	Lane    int     `yaml:"lane,omitempty"`    // 初始车道序号
	Pos     float64 `yaml:"pos,omitempty"`     // 初始沿车道位置
	Speed   float64 `yaml:"speed,omitempty"`   // 初始速度
	Waiting float64 `yaml:"waiting,omitempty"` // 初始累计等待时间（秒）
}

// Scenario 本地引擎场景
// 功能：描述一张最小路网及其上的信号灯与车辆，驱动本地引擎独立运行
type Scenario struct {
	Edges    []EdgeSpec    `yaml:"edges"`              // 路网edge
	Signals  []SignalSpec  `yaml:"signals,omitempty"`  // 信号灯
	Vehicles []VehicleSpec `yaml:"vehicles,omitempty"` // 车辆
	Jitter   float64       `yaml:"jitter,omitempty"`   // 无指令车辆的速度扰动幅度，0则关闭
}

// LoadScenario 从YAML文件加载场景
// 参数：path-场景文件路径
// 返回：场景对象与错误
func LoadScenario(path string) (*Scenario, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: read %s: %w", path, err)
	}
	var s Scenario
	if err := yaml.UnmarshalStrict(file, &s); err != nil {
		return nil, fmt.Errorf("scenario: parse %s: %w", path, err)
	}
	return &s, nil
}

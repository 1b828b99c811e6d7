package entity

import (
	"fmt"
	"strconv"
	"strings"
)

// VehicleClass 车辆类别
// 功能：区分普通车辆与三类特种车辆（救护车、消防车、警车）
type VehicleClass int32

const (
	VehicleRegular   VehicleClass = iota // 普通车辆
	VehicleAmbulance                     // 救护车
	VehicleFiretruck                     // 消防车
	VehiclePolice                        // 警车
)

// 未知特种车辆的兜底优先级
const UnknownPriority int32 = 99

func (c VehicleClass) String() string {
	switch c {
	case VehicleAmbulance:
		return "ambulance"
	case VehicleFiretruck:
		return "firetruck"
	case VehiclePolice:
		return "police"
	default:
		return "regular"
	}
}

// IsEmergency 判断是否为特种车辆
func (c VehicleClass) IsEmergency() bool {
	return c == VehicleAmbulance || c == VehicleFiretruck || c == VehiclePolice
}

// Priority 获取车辆类别的抢占优先级
// 功能：数值越小优先级越高，救护车=1、消防车=2、警车=3，其余为99
func (c VehicleClass) Priority() int32 {
	switch c {
	case VehicleAmbulance:
		return 1
	case VehicleFiretruck:
		return 2
	case VehiclePolice:
		return 3
	default:
		return UnknownPriority
	}
}

// ClassOfType 根据引擎返回的车辆类型ID推断车辆类别
// 功能：按类型ID中包含的关键字（大小写不敏感）判断特种车辆类别
// 参数：typeID-引擎中的车辆类型标识
// 返回：推断出的车辆类别，无匹配则为普通车辆
func ClassOfType(typeID string) VehicleClass {
	t := strings.ToLower(typeID)
	switch {
	case strings.Contains(t, "ambulance"):
		return VehicleAmbulance
	case strings.Contains(t, "firetruck"):
		return VehicleFiretruck
	case strings.Contains(t, "police"):
		return VehiclePolice
	default:
		return VehicleRegular
	}
}

// IsInternalEdge 判断edge是否为路口内部edge
// 说明：引擎约定路口内部edge以":"开头，内部edge上的车道拓扑不可靠
func IsInternalEdge(edgeID string) bool {
	return strings.HasPrefix(edgeID, ":")
}

// ParseLaneIndex 从车道ID中解析车道序号
// 功能：取车道ID最后一个"_"之后的数字部分作为该车道在edge内的序号
// 参数：laneID-车道标识，如"E12_2"
// 返回：车道序号与解析错误，无法解析时调用方应跳过该车道
func ParseLaneIndex(laneID string) (int, error) {
	i := strings.LastIndex(laneID, "_")
	if i < 0 || i+1 >= len(laneID) {
		return 0, fmt.Errorf("lane id %q has no index suffix", laneID)
	}
	index, err := strconv.Atoi(laneID[i+1:])
	if err != nil {
		return 0, fmt.Errorf("lane id %q has non-numeric index suffix: %w", laneID, err)
	}
	return index, nil
}

// SignalLink 信号灯受控连接
// 功能：描述一个进入edge与状态字符串中信号位序号的对应关系
type SignalLink struct {
	ApproachEdge string // 进入edge
	Index        int    // 状态字符串中的信号位序号
}

// Phase 信号灯相位定义
type Phase struct {
	Duration float64 // 相位持续时间（秒）
	State    string  // 相位状态字符串，每个字符对应一个信号位
}

// SignalAhead 车辆前方最近信号灯的观测结果
type SignalAhead struct {
	ID       string  // 信号灯（路口）ID
	State    byte    // 该车对应信号位的当前状态字符
	Distance float64 // 车辆到停止线的距离
}

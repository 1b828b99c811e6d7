package entity

import (
	"errors"
	"fmt"
)

// EngineErrorKind 引擎错误类别
// 功能：用结构化的错误类别取代对错误文本的字符串匹配，
// 控制器据此决定是静默丢弃实体、跳过单条指令还是放弃本tick的处理单元
type EngineErrorKind int32

const (
	// ErrEngineInternal 引擎内部错误（放弃当前实体本tick的处理）
	ErrEngineInternal EngineErrorKind = iota
	// ErrEntityGone 实体在枚举与使用之间消失（静默从跟踪中删除）
	ErrEntityGone
	// ErrCommandRejected 引擎拒绝执行指令，如非法车道序号、状态字符串长度不符（仅跳过该指令）
	ErrCommandRejected
)

func (k EngineErrorKind) String() string {
	switch k {
	case ErrEntityGone:
		return "entity_gone"
	case ErrCommandRejected:
		return "command_rejected"
	default:
		return "engine_internal"
	}
}

// EngineError 引擎查询/指令错误
type EngineError struct {
	Kind EngineErrorKind // 错误类别
	Op   string          // 失败的操作名
	ID   string          // 相关实体ID
	Msg  string          // 补充说明
}

func (e *EngineError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %s %q", e.Kind, e.Op, e.ID)
	}
	return fmt.Sprintf("%s: %s %q: %s", e.Kind, e.Op, e.ID, e.Msg)
}

// NewEntityGone 构造实体消失错误
func NewEntityGone(op, id string) *EngineError {
	return &EngineError{Kind: ErrEntityGone, Op: op, ID: id}
}

// NewCommandRejected 构造指令被拒绝错误
func NewCommandRejected(op, id, msg string) *EngineError {
	return &EngineError{Kind: ErrCommandRejected, Op: op, ID: id, Msg: msg}
}

// IsEntityGone 判断错误是否为实体消失
func IsEntityGone(err error) bool {
	var e *EngineError
	return errors.As(err, &e) && e.Kind == ErrEntityGone
}

// IsCommandRejected 判断错误是否为指令被拒绝
func IsCommandRejected(err error) bool {
	var e *EngineError
	return errors.As(err, &e) && e.Kind == ErrCommandRejected
}

package journal

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tsinghua-fib-lab/emergency-response-oss/clock"
	"github.com/tsinghua-fib-lab/emergency-response-oss/utils/config"
)

var log = logrus.WithField("module", "journal")

// 常用事件类别
const (
	KindConfigure       = "configure"         // 特种车辆完成特权配置
	KindUnstick         = "unstick"           // 脱困尝试
	KindTeleport        = "teleport"          // 脱困前移
	KindClearJunction   = "clear_junction"    // 路口内减速清障
	KindClearLaneChange = "clear_lane_change" // 路段上变道清障
	KindClearSlow       = "clear_slow"        // 路段上减速清障
	KindPreempt         = "preempt"           // 新建信号抢占
	KindPreemptUpgrade  = "preempt_upgrade"   // 更高优先级接管抢占
	KindPreemptSetState = "preempt_set_state" // 写入抢占状态字符串
	KindPreemptMismatch = "preempt_mismatch"  // 进入edge无法解析到信号位
	KindPassed          = "passed"            // 持有者已通过路口
	KindRelease         = "release"           // 释放抢占并恢复信控程序
	KindReleaseFailed   = "release_failed"    // 释放时指令失败
	KindStuckReroute    = "stuck_reroute"     // 普通车辆堵死重规划
)

// Journal 事件日志
// 功能：产生追加写入的带时间戳人类可读事件流
// 说明：始终写入文本流（文件或运行日志），配置了MongoDB时同步镜像为结构化文档
type Journal struct {
	clock *clock.Clock

	file *os.File
	w    *bufio.Writer

	client *mongo.Client
	coll   *mongo.Collection
}

// New 创建事件日志
// 功能：按配置打开追加写入的日志文件与可选的MongoDB连接
// 参数：c-仿真时钟（提供事件的仿真时间与步数），cfg-日志配置
// 返回：事件日志实例与错误
func New(c *clock.Clock, cfg config.Journal) (*Journal, error) {
	j := &Journal{clock: c}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("journal: open %s: %w", cfg.File, err)
		}
		j.file = f
		j.w = bufio.NewWriter(f)
	}
	if cfg.Mongo != nil && cfg.Mongo.URI != "" {
		client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return nil, fmt.Errorf("journal: connect mongo: %w", err)
		}
		col := cfg.Mongo.Col
		if col == "" {
			col = "events"
		}
		j.client = client
		j.coll = client.Database(cfg.Mongo.DB).Collection(col)
	}
	return j, nil
}

// Eventf 记录一条事件
// 参数：kind-事件类别，subject-相关实体ID，format/args-事件内容
func (j *Journal) Eventf(kind, subject, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if j.w != nil {
		fmt.Fprintf(
			j.w, "%s t=%.1f step=%d [%s] %s %s\n",
			time.Now().Format("2006-01-02 15:04:05.0000"),
			j.clock.T, j.clock.InternalStep, kind, subject, msg,
		)
	} else {
		log.Infof("t=%.1f [%s] %s %s", j.clock.T, kind, subject, msg)
	}
	if j.coll != nil {
		_, err := j.coll.InsertOne(context.Background(), bson.M{
			"time":    j.clock.T,
			"step":    j.clock.InternalStep,
			"kind":    kind,
			"subject": subject,
			"msg":     msg,
		})
		if err != nil {
			log.Warnf("mongo insert failed: %v", err)
		}
	}
}

// Flush 将缓冲中的事件落盘
func (j *Journal) Flush() error {
	if j.w == nil {
		return nil
	}
	return j.w.Flush()
}

// Close 关闭事件日志
func (j *Journal) Close() error {
	if err := j.Flush(); err != nil {
		return err
	}
	if j.file != nil {
		if err := j.file.Close(); err != nil {
			return err
		}
		j.file = nil
		j.w = nil
	}
	if j.client != nil {
		if err := j.client.Disconnect(context.Background()); err != nil {
			return err
		}
		j.client = nil
		j.coll = nil
	}
	return nil
}

package journal_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/emergency-response-oss/clock"
	"github.com/tsinghua-fib-lab/emergency-response-oss/utils/config"
	"github.com/tsinghua-fib-lab/emergency-response-oss/utils/journal"
)

func TestJournalFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	c := clock.New(config.ControlStep{Interval: 1})
	j, err := journal.New(c, config.Journal{File: path})
	require.Nil(t, err)

	c.T = 1
	c.InternalStep = 1
	j.Eventf(journal.KindConfigure, "amb_1", "%s granted unrestricted movement", "ambulance")
	c.T = 2
	c.InternalStep = 2
	j.Eventf(journal.KindPreempt, "J1", "preempted for %s", "amb_1")
	require.Nil(t, j.Flush())

	data, err := os.ReadFile(path)
	require.Nil(t, err)
	text := string(data)
	assert.Contains(t, text, "t=1.0 step=1 [configure] amb_1 ambulance granted unrestricted movement")
	assert.Contains(t, text, "t=2.0 step=2 [preempt] J1 preempted for amb_1")

	require.Nil(t, j.Close())

	// test: append on reopen

	j2, err := journal.New(c, config.Journal{File: path})
	require.Nil(t, err)
	j2.Eventf(journal.KindRelease, "J1", "program %q restored", "0")
	require.Nil(t, j2.Close())

	data, err = os.ReadFile(path)
	require.Nil(t, err)
	assert.Contains(t, string(data), "[configure]")
	assert.Contains(t, string(data), "[release]")
}

func TestJournalWithoutFile(t *testing.T) {
	c := clock.New(config.ControlStep{Interval: 1})
	j, err := journal.New(c, config.Journal{})
	require.Nil(t, err)

	// 无文件时事件进入运行日志，不应报错
	j.Eventf(journal.KindUnstick, "amb_1", "unstick attempt on %s", "E1")
	assert.Nil(t, j.Flush())
	assert.Nil(t, j.Close())
}

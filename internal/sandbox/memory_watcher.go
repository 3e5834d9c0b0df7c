package sandbox

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// pollInterval 是读取进程内存占用的周期。
const pollInterval = 50 * time.Millisecond

// memoryWatcher 周期性读取 /proc/<pid>/status 中的 VmRSS,
// 超过上限时通知调用方终止进程。在没有 procfs 的平台上
// 读取会一直失败, 监视自然退化为空操作。
type memoryWatcher struct {
	pid      int
	limit    uint64
	breached atomic.Bool
}

func newMemoryWatcher(pid int, limit uint64) *memoryWatcher {
	return &memoryWatcher{pid: pid, limit: limit}
}

// watch 阻塞轮询直到超限或 ctx 结束, 返回是否超限。
func (w *memoryWatcher) watch(ctx context.Context) bool {
	if w.limit == 0 {
		<-ctx.Done()
		return false
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			rss, err := residentBytes(w.pid)
			if err != nil {
				// 进程已退出或平台不支持 procfs。
				continue
			}
			if rss > w.limit {
				w.breached.Store(true)
				return true
			}
		}
	}
}

// exceeded 报告是否观测到超限。
func (w *memoryWatcher) exceeded() bool {
	return w.breached.Load()
}

// residentBytes 解析 VmRSS 行, 单位为 kB。
func residentBytes(pid int) (uint64, error) {
	file, err := os.Open(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, err
		}
		return kb * 1024, nil
	}
	return 0, fmt.Errorf("pid %d 的状态中没有 VmRSS", pid)
}

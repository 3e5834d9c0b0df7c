package manifest

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	xerrors "EdgeAgent/internal/errors"
	"EdgeAgent/pkg/logger"
)

// 健康探测拉起进程即算通过, 不关心退出码:
// 工具对空参数报错退出也说明二进制本身可运行。
const probeTimeout = 5 * time.Second

// HealthCheck 逐一探测工具可执行文件, 返回只含健康工具的新 Store。
// 探测方式是用空 JSON 对象作为输入拉起一次进程; 无法启动的工具
// 会被从规划菜单中剔除。所有工具都不健康时返回 MANIFEST_FAILURE。
func HealthCheck(ctx context.Context, store *Store) (*Store, error) {
	log := logger.Named("manifest")

	healthy := &Store{}
	for _, desc := range store.Descriptors() {
		if err := probe(ctx, desc.Binary); err != nil {
			log.Warn("工具健康检查未通过", "name", desc.Name, "binary", desc.Binary, "error", err)
			continue
		}
		kept := *desc
		kept.Order = len(healthy.descriptors)
		healthy.descriptors = append(healthy.descriptors, &kept)
	}

	if len(healthy.descriptors) == 0 {
		return nil, xerrors.New(xerrors.CodeManifestFailure, "健康检查后没有可用的工具")
	}
	if healthy.Len() < store.Len() {
		log.Warn("部分工具被健康检查剔除",
			"loaded", store.Len(),
			"healthy", healthy.Len(),
		)
	}
	return healthy, nil
}

func probe(ctx context.Context, binary string) error {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, binary)
	cmd.Stdin = bytes.NewReader([]byte("{}"))
	cmd.WaitDelay = time.Second
	if err := cmd.Start(); err != nil {
		return err
	}
	_ = cmd.Wait()
	return probeCtx.Err()
}

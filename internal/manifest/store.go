package manifest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "EdgeAgent/internal/errors"
	"EdgeAgent/pkg/capability"
	"EdgeAgent/pkg/logger"
)

// Store 保存一次目录扫描得到的全部工具描述符。
// 加载完成后即为只读, 可以被多个 goroutine 并发读取。
type Store struct {
	descriptors []*Descriptor
}

// LoadAll 递归扫描 dir 下的 YAML 清单并逐一校验。
// 单个清单损坏只记录告警并跳过, 目录整体不可用或
// 一个可用工具都没有时返回 MANIFEST_FAILURE。
func LoadAll(dir string) (*Store, error) {
	log := logger.Named("manifest")

	info, err := os.Stat(dir)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeManifestFailure, err, "工具目录不可访问")
	}
	if !info.IsDir() {
		return nil, xerrors.New(xerrors.CodeManifestFailure, fmt.Sprintf("%s 不是目录", dir))
	}

	store := &Store{}
	seen := map[string]string{}

	walkErr := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		desc, err := loadOne(path)
		if err != nil {
			log.Warn("跳过损坏的工具清单", "path", path, "error", err)
			return nil
		}

		// 同名工具以发现顺序靠前者为准。
		if previous, dup := seen[desc.Name]; dup {
			log.Warn("忽略重复的工具名",
				"name", desc.Name,
				"kept", previous,
				"ignored", path,
			)
			return nil
		}

		desc.Order = len(store.descriptors)
		seen[desc.Name] = path
		store.descriptors = append(store.descriptors, desc)
		log.Info("加载工具清单", "name", desc.Name, "binary", desc.Binary)
		return nil
	})
	if walkErr != nil {
		return nil, xerrors.Wrap(xerrors.CodeManifestFailure, walkErr, "扫描工具目录失败")
	}

	if len(store.descriptors) == 0 {
		return nil, xerrors.New(xerrors.CodeManifestFailure, "工具目录中没有可用的清单")
	}

	return store, nil
}

// loadOne 解析并校验单份清单。任何不满足约束的情况都视为损坏。
func loadOne(path string) (*Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取清单失败: %w", err)
	}

	var desc Descriptor
	if err := yaml.Unmarshal(raw, &desc); err != nil {
		return nil, fmt.Errorf("解析 YAML 失败: %w", err)
	}

	if desc.Name == "" {
		return nil, fmt.Errorf("缺少工具名")
	}
	if desc.Binary == "" {
		return nil, fmt.Errorf("缺少工具可执行文件")
	}

	// 可执行文件路径相对于清单所在目录解析。
	if !filepath.IsAbs(desc.Binary) {
		desc.Binary = filepath.Join(filepath.Dir(path), desc.Binary)
	}
	if stat, err := os.Stat(desc.Binary); err != nil || stat.IsDir() {
		return nil, fmt.Errorf("工具可执行文件不存在: %s", desc.Binary)
	}

	for _, cap := range desc.Capabilities {
		if !capability.Known(cap) {
			return nil, fmt.Errorf("未知能力 %q", cap)
		}
	}

	desc.Source = path
	return &desc, nil
}

// Descriptors 按发现顺序返回全部描述符。
func (s *Store) Descriptors() []*Descriptor {
	return s.descriptors
}

// Len 返回加载成功的工具数量。
func (s *Store) Len() int {
	return len(s.descriptors)
}

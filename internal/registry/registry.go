// Package registry 提供工具描述符的只读索引。
// 注册表在清单加载完成后一次性构建, 任务执行期间不再变更,
// 因此按名解析无需加锁。
package registry

import (
	"EdgeAgent/internal/manifest"
)

// Registry 是一次清单扫描结果的不可变快照。
type Registry struct {
	byName []*manifest.Descriptor
	index  map[string]*manifest.Descriptor
}

// New 根据清单仓库构建注册表, 保留发现顺序。
func New(store *manifest.Store) *Registry {
	descriptors := store.Descriptors()
	reg := &Registry{
		byName: descriptors,
		index:  make(map[string]*manifest.Descriptor, len(descriptors)),
	}
	for _, desc := range descriptors {
		reg.index[desc.Name] = desc
	}
	return reg
}

// Resolve 按名称查找工具, 未注册时第二个返回值为 false。
func (r *Registry) Resolve(name string) (*manifest.Descriptor, bool) {
	desc, ok := r.index[name]
	return desc, ok
}

// List 按发现顺序返回全部工具。返回的切片不可修改。
func (r *Registry) List() []*manifest.Descriptor {
	return r.byName
}

// Len 返回已注册的工具数量。
func (r *Registry) Len() int {
	return len(r.byName)
}

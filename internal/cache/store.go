package cache

import (
	"context"
	"errors"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<StoragePath>/<key>    # 最近一次成功的上游正文
//
// 每个 key 至多对应一个文件，写入即整体覆盖，没有元数据、TTL 或删除操作。
type Store interface {
	// Probe 尝试读取完整条目；条目不存在时返回 exists=false 且 err 为 nil。
	Probe(ctx context.Context, key string) (exists bool, data []byte, err error)

	// Read 读取完整条目，用于失败回退。不存在时返回 ErrNotFound。
	Read(ctx context.Context, key string) ([]byte, error)

	// Write 以 data 覆盖 key 对应的条目。并发写同一 key 时以最后完成者为准。
	Write(ctx context.Context, key string, data []byte) error
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// ErrInvalidKey 表示 key 为空或包含路径分隔符，无法落在扁平目录中。
var ErrInvalidKey = errors.New("invalid cache key")

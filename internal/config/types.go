package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "3s"、"500ms" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述网关运行时行为，启动后只读，按值传递给各组件。
type GlobalConfig struct {
	ListenPort         int      `mapstructure:"ListenPort"`
	UpstreamHost       string   `mapstructure:"UpstreamHost"`
	UpstreamPort       int      `mapstructure:"UpstreamPort"`
	UpstreamH2C        bool     `mapstructure:"UpstreamH2C"`
	CachedTimeout      Duration `mapstructure:"CachedTimeout"`
	StoragePath        string   `mapstructure:"StoragePath"`
	CacheFilePrefix    string   `mapstructure:"CacheFilePrefix"`
	CacheFileSuffix    string   `mapstructure:"CacheFileSuffix"`
	ExclusionPattern   string   `mapstructure:"ExclusionPattern"`
	ErrorStatusPattern string   `mapstructure:"ErrorStatusPattern"`
	MaxInFlight        int      `mapstructure:"MaxInFlight"`
	CORSOrigins        []string `mapstructure:"CORSOrigins"`
	EnableMetrics      bool     `mapstructure:"EnableMetrics"`
	LogLevel           string   `mapstructure:"LogLevel"`
	LogFilePath        string   `mapstructure:"LogFilePath"`
	LogMaxSize         int      `mapstructure:"LogMaxSize"`
	LogMaxBackups      int      `mapstructure:"LogMaxBackups"`
	LogCompress        bool     `mapstructure:"LogCompress"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
}

// UpstreamAddr 返回 host:port 形式的上游地址。
func (g GlobalConfig) UpstreamAddr() string {
	return net.JoinHostPort(g.UpstreamHost, strconv.Itoa(g.UpstreamPort))
}

// UpstreamBaseURL 返回上游根地址，例如 http://127.0.0.1:38173。
func (g GlobalConfig) UpstreamBaseURL() string {
	return "http://" + g.UpstreamAddr()
}

// CORSEnabled 表示是否需要挂载 CORS 中间件。
func (g GlobalConfig) CORSEnabled() bool {
	return len(g.CORSOrigins) > 0
}

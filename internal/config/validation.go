package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if err := validatePort("Global.ListenPort", g.ListenPort); err != nil {
		return err
	}
	if err := validatePort("Global.UpstreamPort", g.UpstreamPort); err != nil {
		return err
	}
	if strings.ContainsAny(g.UpstreamHost, "/ ") {
		return invalidValue("Global.UpstreamHost", g.UpstreamHost, "只能是主机名或 IP")
	}
	if g.CachedTimeout.DurationValue() <= 0 {
		return invalidValue("Global.CachedTimeout", g.CachedTimeout.DurationValue(), "必须大于 0")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if strings.ContainsAny(g.CacheFilePrefix+g.CacheFileSuffix, `/\`) {
		return invalidValue("Global.CacheFilePrefix/CacheFileSuffix", g.CacheFilePrefix+" "+g.CacheFileSuffix, "缓存文件名不允许包含路径分隔符")
	}
	if err := validatePattern("Global.ExclusionPattern", g.ExclusionPattern); err != nil {
		return err
	}
	if strings.TrimSpace(g.ErrorStatusPattern) == "" {
		return newFieldError("Global.ErrorStatusPattern", "不能为空")
	}
	if err := validatePattern("Global.ErrorStatusPattern", g.ErrorStatusPattern); err != nil {
		return err
	}
	if g.MaxInFlight < 0 {
		return invalidValue("Global.MaxInFlight", g.MaxInFlight, "不能为负数，0 表示不限制")
	}
	for _, origin := range g.CORSOrigins {
		if origin == "*" {
			return invalidValue("Global.CORSOrigins", origin, "携带凭证时不允许使用通配符 *")
		}
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return invalidValue("Global.LogLevel", g.LogLevel, "无法识别的日志级别")
	}

	return nil
}

func validatePort(field string, port int) error {
	if port <= 0 || port > 65535 {
		return invalidValue(field, port, "端口必须在 1-65535")
	}
	return nil
}

func validatePattern(field, pattern string) error {
	if pattern == "" {
		return nil
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return invalidValue(field, pattern, fmt.Sprintf("正则无效: %v", err))
	}
	return nil
}

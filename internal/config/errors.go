package config

import (
	"fmt"
	"strings"
)

// FieldError 指出哪一个网关配置项无效，例如 Global.UpstreamPort。
// Value 为空时不输出取值。
type FieldError struct {
	Field  string
	Value  string
	Reason string
}

func (e FieldError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("配置项 %s 无效（%s）: %s", e.Field, e.EnvKey(), e.Reason)
	}
	return fmt.Sprintf("配置项 %s=%q 无效（%s）: %s", e.Field, e.Value, e.EnvKey(), e.Reason)
}

// EnvKey 返回可覆盖该字段的环境变量名，如 STALEGATE_UPSTREAMPORT。
// 组合字段（A/B）只取第一个。
func (e FieldError) EnvKey() string {
	name := strings.TrimPrefix(e.Field, "Global.")
	if idx := strings.IndexByte(name, '/'); idx >= 0 {
		name = name[:idx]
	}
	return envPrefix + "_" + strings.ToUpper(name)
}

func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

func invalidValue(field string, value interface{}, reason string) error {
	return FieldError{Field: field, Value: fmt.Sprint(value), Reason: reason}
}

package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 method/url/缓存结果字段，供网关请求日志复用。
func RequestFields(method, url, cacheKey, cacheOutcome, requestID string) logrus.Fields {
	fields := logrus.Fields{
		"method":        method,
		"url":           url,
		"cache_key":     cacheKey,
		"cache_outcome": cacheOutcome,
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}

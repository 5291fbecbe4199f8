package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if value, ok := payload[key].(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func payloadBool(payload map[string]any, key string) bool {
	if payload == nil {
		return false
	}
	switch value := payload[key].(type) {
	case bool:
		return value
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		return err == nil && parsed
	default:
		return false
	}
}

func payloadTime(payload map[string]any, key string) (time.Time, error) {
	if payload == nil {
		return time.Time{}, fmt.Errorf("core: payload is empty")
	}
	switch value := payload[key].(type) {
	case time.Time:
		return value.UTC(), nil
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return time.Time{}, fmt.Errorf("core: payload key %q is empty", key)
		}
		parsed, err := time.Parse(time.RFC3339, trimmed)
		if err != nil {
			return time.Time{}, fmt.Errorf("core: payload key %q is not RFC3339: %w", key, err)
		}
		return parsed.UTC(), nil
	case nil:
		return time.Time{}, fmt.Errorf("core: payload key %q is missing", key)
	default:
		return time.Time{}, fmt.Errorf("core: payload key %q has unsupported type %T", key, value)
	}
}

func payloadOptionalTime(payload map[string]any, key string) (*time.Time, error) {
	if payload == nil {
		return nil, nil
	}
	if raw, ok := payload[key]; !ok || raw == nil {
		return nil, nil
	}
	if text, ok := payload[key].(string); ok && strings.TrimSpace(text) == "" {
		return nil, nil
	}
	parsed, err := payloadTime(payload, key)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func formatPayloadTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339)
}

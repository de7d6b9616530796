package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Timestamp 兼容后端返回的多种时间格式，序列化时统一输出 RFC3339。
type Timestamp time.Time

// 后端（Python）可能返回带或不带时区、带空格分隔的时间。
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// Now 返回当前时间的 Timestamp。
func Now() Timestamp {
	return Timestamp(time.Now().UTC())
}

// Time 返回底层的 time.Time。
func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

// IsZero 判断时间是否为空。
func (t Timestamp) IsZero() bool {
	return time.Time(t).IsZero()
}

// MarshalJSON implements the json.Marshaler interface.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(time.Time(t).Format(time.RFC3339Nano))
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// 也接受 Unix 秒
		var secs float64
		if numErr := json.Unmarshal(data, &secs); numErr != nil {
			return fmt.Errorf("invalid timestamp %s", string(data))
		}
		*t = Timestamp(time.Unix(int64(secs), 0).UTC())
		return nil
	}
	if s == "" {
		*t = Timestamp{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = Timestamp(parsed)
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

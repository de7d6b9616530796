// Package model 包含了应用的数据模型定义。
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultConversationTitle 是新建对话在第一次问答前的占位标题。
const DefaultConversationTitle = "New Chat"

// TempIDPrefix 标记尚未被后端确认的乐观实体。
const TempIDPrefix = "tmp-"

// ID 是后端实体标识。后端可能返回数字或字符串，统一规范为字符串。
type ID string

// UnmarshalJSON implements the json.Unmarshaler interface.
func (id *ID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s", string(data))
	}
	*id = ID(n.String())
	return nil
}

// String 返回 id 的字符串形式。
func (id ID) String() string {
	return string(id)
}

// IsTemp 判断 id 是否为客户端生成的占位 id。
func (id ID) IsTemp() bool {
	return strings.HasPrefix(string(id), TempIDPrefix)
}

// Conversation 代表侧边栏中的一条对话。
type Conversation struct {
	ID        ID        `json:"id"`
	Title     string    `json:"title"`
	CreatedAt Timestamp `json:"created_at"`
}

// ConversationTitle 根据首条消息生成标题：最多 50 个字符，被截断时追加省略号。
func ConversationTitle(message string) string {
	const maxTitleRunes = 50
	runes := []rune(message)
	if len(runes) <= maxTitleRunes {
		return message
	}
	return string(runes[:maxTitleRunes]) + "..."
}

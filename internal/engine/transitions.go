package engine

import "agri-assist-go/internal/model"

// 以下均为纯函数：接收旧状态，返回新状态，不修改入参引用的切片。

func setUser(user *model.User) func(State) State {
	return func(s State) State {
		if user == nil {
			s.User = nil
			return s
		}
		u := *user
		s.User = &u
		return s
	}
}

func setLanguage(lang string) func(State) State {
	return func(s State) State {
		s.Language = lang
		return s
	}
}

func setLoading(loading bool) func(State) State {
	return func(s State) State {
		s.Loading = loading
		return s
	}
}

func setConversationLoading(loading bool) func(State) State {
	return func(s State) State {
		s.ConversationLoading = loading
		return s
	}
}

// resetSession 清空登录后产生的所有内存状态，保留语言偏好。
func resetSession(s State) State {
	return State{Language: s.Language}
}

// replaceHistory 整体替换对话列表，并重置当前对话与消息记录。
func replaceHistory(convs []model.Conversation) func(State) State {
	return func(s State) State {
		s.Conversations = dedupeConversations(convs)
		s.CurrentConversation = ""
		s.Messages = nil
		return s
	}
}

// dedupeConversations 保证每个 id 至多出现一次，保留第一次出现的位置。
func dedupeConversations(convs []model.Conversation) []model.Conversation {
	seen := make(map[model.ID]struct{}, len(convs))
	out := make([]model.Conversation, 0, len(convs))
	for _, c := range convs {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}

func appendMessage(msg model.Message) func(State) State {
	return func(s State) State {
		msgs := make([]model.Message, 0, len(s.Messages)+1)
		msgs = append(msgs, s.Messages...)
		s.Messages = append(msgs, msg)
		return s
	}
}

func removeMessage(id model.ID) func(State) State {
	return func(s State) State {
		s.Messages = filterMessages(s.Messages, func(m model.Message) bool { return m.ID != id })
		return s
	}
}

// commitExchange 用确认后的用户回显和助手回复替换乐观消息。
func commitExchange(tmpID model.ID, echo, reply model.Message, conv model.ID) func(State) State {
	return func(s State) State {
		msgs := filterMessages(s.Messages, func(m model.Message) bool { return m.ID != tmpID })
		s.Messages = append(msgs, echo, reply)
		if conv != "" {
			s.CurrentConversation = conv
		}
		return s
	}
}

// recordConversation 把后端返回的对话 id 合并进列表：未知的插到最前，
// 已知且仍是默认标题的改为消息的截断文本。
func recordConversation(id model.ID, message string, now model.Timestamp) func(State) State {
	return func(s State) State {
		title := model.ConversationTitle(message)
		for i, c := range s.Conversations {
			if c.ID != id {
				continue
			}
			if c.Title != model.DefaultConversationTitle {
				return s
			}
			convs := append([]model.Conversation(nil), s.Conversations...)
			convs[i].Title = title
			s.Conversations = convs
			return s
		}
		convs := make([]model.Conversation, 0, len(s.Conversations)+1)
		convs = append(convs, model.Conversation{ID: id, Title: title, CreatedAt: now})
		s.Conversations = append(convs, s.Conversations...)
		return s
	}
}

// insertPlaceholder 在列表头部插入占位对话并清空消息记录。
func insertPlaceholder(conv model.Conversation) func(State) State {
	return func(s State) State {
		convs := make([]model.Conversation, 0, len(s.Conversations)+1)
		convs = append(convs, conv)
		s.Conversations = append(convs, s.Conversations...)
		s.CurrentConversation = conv.ID
		s.Messages = nil
		s.ConversationLoading = false
		return s
	}
}

// confirmPlaceholder 原位替换占位 id，保持列表顺序。
// 若列表中已存在 confirmed，则丢弃占位以维持 id 唯一。
func confirmPlaceholder(tmpID, confirmed model.ID) func(State) State {
	return func(s State) State {
		exists := false
		for _, c := range s.Conversations {
			if c.ID == confirmed {
				exists = true
				break
			}
		}
		convs := make([]model.Conversation, 0, len(s.Conversations))
		for _, c := range s.Conversations {
			if c.ID == tmpID {
				if exists {
					continue
				}
				c.ID = confirmed
			}
			convs = append(convs, c)
		}
		s.Conversations = convs
		if s.CurrentConversation == tmpID {
			s.CurrentConversation = confirmed
		}
		return s
	}
}

// discardPlaceholder 移除占位对话，若它仍是当前对话则清空指针。
func discardPlaceholder(tmpID model.ID) func(State) State {
	return func(s State) State {
		s.Conversations = filterConversations(s.Conversations, tmpID)
		if s.CurrentConversation == tmpID {
			s.CurrentConversation = ""
		}
		return s
	}
}

// removeConversation 移除对话；若它是当前对话，同时清空消息记录和指针。
func removeConversation(id model.ID) func(State) State {
	return func(s State) State {
		s.Conversations = filterConversations(s.Conversations, id)
		if s.CurrentConversation == id {
			s.CurrentConversation = ""
			s.Messages = nil
		}
		return s
	}
}

// beginSwitch 选中对话并进入加载状态。命中缓存时直接展示缓存内容。
func beginSwitch(id model.ID, cached []model.Message, hit bool) func(State) State {
	return func(s State) State {
		s.CurrentConversation = id
		s.ConversationLoading = true
		if hit {
			s.Messages = cloneMessages(cached)
		} else {
			s.Messages = nil
		}
		return s
	}
}

// setMessages 替换消息记录，仍在发送中的乐观消息保留在末尾。
func setMessages(msgs []model.Message) func(State) State {
	return func(s State) State {
		pending := filterMessages(s.Messages, func(m model.Message) bool { return m.ID.IsTemp() })
		s.Messages = append(cloneMessages(msgs), pending...)
		return s
	}
}

func renameConversation(id model.ID, title string) func(State) State {
	return func(s State) State {
		convs := make([]model.Conversation, len(s.Conversations))
		copy(convs, s.Conversations)
		for i := range convs {
			if convs[i].ID == id {
				convs[i].Title = title
			}
		}
		s.Conversations = convs
		return s
	}
}

func filterMessages(msgs []model.Message, keep func(model.Message) bool) []model.Message {
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

func filterConversations(convs []model.Conversation, drop model.ID) []model.Conversation {
	out := make([]model.Conversation, 0, len(convs))
	for _, c := range convs {
		if c.ID != drop {
			out = append(out, c)
		}
	}
	return out
}

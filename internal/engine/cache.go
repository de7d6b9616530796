package engine

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"agri-assist-go/internal/model"
)

// DefaultCacheSize 是消息缓存保留的最近访问对话数。
const DefaultCacheSize = 20

// messageCache 按对话 id 缓存消息记录，超过容量时淘汰最久未访问的对话。
type messageCache struct {
	lru *lru.Cache[model.ID, []model.Message]
}

func newMessageCache(size int) *messageCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	// size > 0 时 lru.New 不会返回错误
	c, _ := lru.New[model.ID, []model.Message](size)
	return &messageCache{lru: c}
}

func (c *messageCache) Get(id model.ID) ([]model.Message, bool) {
	msgs, ok := c.lru.Get(id)
	if !ok {
		return nil, false
	}
	return cloneMessages(msgs), true
}

func (c *messageCache) Put(id model.ID, msgs []model.Message) {
	if msgs == nil {
		msgs = []model.Message{}
	}
	c.lru.Add(id, cloneMessages(msgs))
}

// Append 在已缓存的对话末尾追加消息，未缓存时不做任何事。
func (c *messageCache) Append(id model.ID, msgs ...model.Message) {
	cached, ok := c.lru.Peek(id)
	if !ok {
		return
	}
	next := make([]model.Message, 0, len(cached)+len(msgs))
	next = append(next, cached...)
	c.lru.Add(id, cloneMessages(append(next, msgs...)))
}

func (c *messageCache) Remove(id model.ID) {
	c.lru.Remove(id)
}

func (c *messageCache) Contains(id model.ID) bool {
	return c.lru.Contains(id)
}

func (c *messageCache) Len() int {
	return c.lru.Len()
}

func (c *messageCache) Purge() {
	c.lru.Purge()
}

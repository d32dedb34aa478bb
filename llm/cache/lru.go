package cache

import (
	"sync"
	"time"

	k8sclock "k8s.io/utils/clock"
)

// Config 本地缓存配置
type Config struct {
	MaxSize int           `yaml:"max_size" json:"max_size"` // 最大条目数
	TTL     time.Duration `yaml:"ttl" json:"ttl"`           // 默认 TTL
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MaxSize: 1000,
		TTL:     time.Hour,
	}
}

// Entry 缓存条目快照
type Entry[V any] struct {
	Key            string        `json:"key"`
	Value          V             `json:"value"`
	CreatedAt      time.Time     `json:"created_at"`
	TTL            time.Duration `json:"ttl"`
	LastAccessedAt time.Time     `json:"last_accessed_at"`
}

// Stats 缓存统计
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
	Size        int     `json:"size"`
	MaxSize     int     `json:"max_size"`
	HitRate     float64 `json:"hit_rate"`
}

// ============================================================
// LRU 本地缓存实现（使用双向链表实现 O(1) 操作）
// 头部为最近访问，尾部为最久未访问；同一时刻访问的条目按插入顺序排列。
// ============================================================

// LRU 是带 TTL 的严格 LRU 缓存，容量上限为 MaxSize
type LRU[V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	clock    k8sclock.PassiveClock
	items    map[string]*lruNode[V]
	head     *lruNode[V] // 最近使用
	tail     *lruNode[V] // 最久未使用

	hits        int64
	misses      int64
	evictions   int64
	expirations int64
}

type lruNode[V any] struct {
	key            string
	value          V
	createdAt      time.Time
	ttl            time.Duration
	lastAccessedAt time.Time
	prev           *lruNode[V]
	next           *lruNode[V]
}

// NewLRU 创建缓存；clk 为 nil 时使用系统时钟
func NewLRU[V any](config Config, clk k8sclock.PassiveClock) *LRU[V] {
	if config.MaxSize <= 0 {
		config.MaxSize = DefaultConfig().MaxSize
	}
	if config.TTL <= 0 {
		config.TTL = DefaultConfig().TTL
	}
	if clk == nil {
		clk = k8sclock.RealClock{}
	}
	return &LRU[V]{
		capacity: config.MaxSize,
		ttl:      config.TTL,
		clock:    clk,
		items:    make(map[string]*lruNode[V]),
	}
}

// Get 读取缓存；条目不存在或已过期时返回未命中，过期条目在此处删除
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	node, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}

	now := c.clock.Now()
	if node.expired(now) {
		c.unlink(node)
		c.expirations++
		c.misses++
		return zero, false
	}

	node.lastAccessedAt = now
	c.moveToHead(node)
	c.hits++

	return node.value, true
}

// Peek 读取缓存但不更新访问时间与统计
func (c *LRU[V]) Peek(key string) (Entry[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[key]
	if !ok || node.expired(c.clock.Now()) {
		return Entry[V]{}, false
	}
	return node.snapshot(), true
}

// Set 使用默认 TTL 写入
func (c *LRU[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, 0)
}

// SetWithTTL 写入缓存；ttl <= 0 时使用默认 TTL。
// 已存在的键覆盖值与时间戳；容量已满时先淘汰最久未访问的条目。
func (c *LRU[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()

	// 如果已存在，更新并移动到头部
	if node, ok := c.items[key]; ok {
		node.value = value
		node.createdAt = now
		node.lastAccessedAt = now
		node.ttl = ttl
		c.moveToHead(node)
		return
	}

	// 检查容量，淘汰最久未使用的
	if len(c.items) >= c.capacity {
		c.evictTail()
	}

	node := &lruNode[V]{
		key:            key,
		value:          value,
		createdAt:      now,
		ttl:            ttl,
		lastAccessedAt: now,
	}
	c.items[key] = node
	c.addToHead(node)
}

// Delete 删除缓存，返回键是否存在
func (c *LRU[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[key]
	if ok {
		c.unlink(node)
	}
	return ok
}

// Clear 清空缓存并重置统计
func (c *LRU[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*lruNode[V])
	c.head = nil
	c.tail = nil
	c.hits, c.misses, c.evictions, c.expirations = 0, 0, 0, 0
}

// PurgeExpired 从尾部开始扫描并删除所有过期条目，返回删除数量
func (c *LRU[V]) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for node := c.tail; node != nil; {
		prev := node.prev
		if node.expired(now) {
			c.unlink(node)
			c.expirations++
			removed++
		}
		node = prev
	}
	return removed
}

// Len 返回当前条目数（包含尚未被惰性检查删除的过期条目）
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys 按最近访问到最久未访问的顺序返回所有键
func (c *LRU[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.items))
	for node := c.head; node != nil; node = node.next {
		keys = append(keys, node.key)
	}
	return keys
}

// Stats 缓存统计
func (c *LRU[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		Size:        len(c.items),
		MaxSize:     c.capacity,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

func (n *lruNode[V]) expired(now time.Time) bool {
	return now.Sub(n.createdAt) > n.ttl
}

func (n *lruNode[V]) snapshot() Entry[V] {
	return Entry[V]{
		Key:            n.key,
		Value:          n.value,
		CreatedAt:      n.createdAt,
		TTL:            n.ttl,
		LastAccessedAt: n.lastAccessedAt,
	}
}

// addToHead 添加节点到头部 O(1)
func (c *LRU[V]) addToHead(node *lruNode[V]) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

// removeNode 从链表中移除节点 O(1)
func (c *LRU[V]) removeNode(node *lruNode[V]) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
	node.prev = nil
	node.next = nil
}

// unlink 同时从链表与索引中删除
func (c *LRU[V]) unlink(node *lruNode[V]) {
	c.removeNode(node)
	delete(c.items, node.key)
}

// moveToHead 移动节点到头部 O(1)
func (c *LRU[V]) moveToHead(node *lruNode[V]) {
	if node == c.head {
		return
	}
	c.removeNode(node)
	c.addToHead(node)
}

// evictTail 淘汰尾部节点 O(1)
func (c *LRU[V]) evictTail() {
	if c.tail == nil {
		return
	}
	c.unlink(c.tail)
	c.evictions++
}

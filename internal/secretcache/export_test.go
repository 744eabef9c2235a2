package secretcache

func (c *Cache) Get(chatID string) ([]byte, bool) {
	return c.get(chatID)
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

package mem

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"time"
)

type itemSt struct {
	data      []byte
	expiresAt time.Time
}

func (i itemSt) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

type St struct {
	data map[string]itemSt
	mu   sync.RWMutex

	now func() time.Time
}

func New() *St {
	return &St{
		data: map[string]itemSt{},
		now:  time.Now,
	}
}

func (c *St) Get(key string) ([]byte, bool, error) {
	c.mu.RLock()
	item, ok := c.data[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}

	if item.expired(c.now()) {
		c.mu.Lock()
		if cur, ok := c.data[key]; ok && cur.expired(c.now()) {
			delete(c.data, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}

	return item.data, true, nil
}

func (c *St) GetJsonObj(key string, dst interface{}) (bool, error) {
	dataRaw, ok, err := c.Get(key)
	if err != nil || !ok {
		return ok, err
	}

	err = json.Unmarshal(dataRaw, dst)
	if err != nil {
		return false, err
	}

	return true, nil
}

// Set stores value; a non-positive expiration keeps it until deleted.
func (c *St) Set(key string, value []byte, expiration time.Duration) error {
	item := itemSt{data: value}
	if expiration > 0 {
		item.expiresAt = c.now().Add(expiration)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = item

	return nil
}

func (c *St) SetJsonObj(key string, value interface{}, expiration time.Duration) error {
	dataRaw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return c.Set(key, dataRaw, expiration)
}

func (c *St) Del(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)

	return nil
}

func (c *St) Keys(pattern string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()

	var ok bool

	resKeys := make([]string, 0, len(c.data))
	for k, item := range c.data {
		if item.expired(now) {
			continue
		}
		if ok, _ = filepath.Match(pattern, k); ok {
			resKeys = append(resKeys, k)
		}
	}

	return resKeys
}

func (c *St) Clean() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = map[string]itemSt{}
}

func (c *St) Close() error {
	c.Clean()
	return nil
}

package cache

import "time"

// Cache is a byte-value store with per-key expiration.
type Cache interface {
	Get(key string) ([]byte, bool, error)
	GetJsonObj(key string, dst interface{}) (bool, error)
	Set(key string, value []byte, expiration time.Duration) error
	SetJsonObj(key string, value interface{}, expiration time.Duration) error
	Del(key string) error
	Keys(pattern string) []string
	Close() error
}

// None never stores anything.
type None struct{}

func (None) Get(string) ([]byte, bool, error)                    { return nil, false, nil }
func (None) GetJsonObj(string, interface{}) (bool, error)        { return false, nil }
func (None) Set(string, []byte, time.Duration) error             { return nil }
func (None) SetJsonObj(string, interface{}, time.Duration) error { return nil }
func (None) Del(string) error                                    { return nil }
func (None) Keys(string) []string                                { return nil }
func (None) Close() error                                        { return nil }

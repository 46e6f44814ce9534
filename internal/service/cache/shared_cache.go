package cache

import (
	"context"
	"errors"
	"time"

	pkgcache "TradeLoop/pkg/cache"
)

// SharedBytesCache puts a BytesCache on top of the shared cache service, so
// news results are reused across processes when Redis is configured.
type SharedBytesCache struct {
	svc    pkgcache.Service
	prefix string
}

func NewSharedBytesCache(svc pkgcache.Service, prefix string) *SharedBytesCache {
	return &SharedBytesCache{svc: svc, prefix: prefix}
}

func (s *SharedBytesCache) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	var b []byte
	err := s.svc.Get(ctx, pkgcache.Key(s.prefix, key), &b)
	switch {
	case errors.Is(err, pkgcache.ErrCacheMiss):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return b, true, nil
}

func (s *SharedBytesCache) SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.svc.Set(ctx, pkgcache.Key(s.prefix, key), value, ttl)
}

var (
	_ BytesCache = (*TTLCache)(nil)
	_ BytesCache = (*SharedBytesCache)(nil)
)

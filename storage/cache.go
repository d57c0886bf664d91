// Copyright The ColumnScan Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const (
	DefaultFileCacheCapacity = 512
	DefaultFileCacheTTL      = 10 * time.Minute
)

// SharedFile is a refcounted ParquetFile handle. The cache holds one
// reference; every caller that obtained the handle through GetOrOpen holds
// another. The underlying file closes when the last reference is released,
// so eviction never invalidates a handle that a scan is still using.
type SharedFile struct {
	*ParquetFile

	refs atomic.Int64
}

func newSharedFile(pf *ParquetFile) *SharedFile {
	sf := &SharedFile{ParquetFile: pf}
	sf.refs.Store(1)
	return sf
}

// tryAcquire takes a new reference unless the handle already dropped to zero.
func (s *SharedFile) tryAcquire() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops one reference and closes the underlying file when none
// remain. It is safe to call from the eviction callback and from scan close
// paths concurrently.
func (s *SharedFile) Release() error {
	if s.refs.Add(-1) > 0 {
		return nil
	}
	return s.ParquetFile.Close()
}

// FileCache keeps parquet file handles with parsed footers so repeated scans
// over the same file skip the footer read and decode. Entries are bounded by
// capacity and TTL.
type FileCache struct {
	cache *ttlcache.Cache[string, *SharedFile]

	mtx sync.Mutex
}

type fileCacheOptions struct {
	capacity uint64
	ttl      time.Duration
}

type FileCacheOption func(*fileCacheOptions)

func WithFileCacheCapacity(capacity uint64) FileCacheOption {
	return func(opts *fileCacheOptions) {
		opts.capacity = capacity
	}
}

func WithFileCacheTTL(ttl time.Duration) FileCacheOption {
	return func(opts *fileCacheOptions) {
		opts.ttl = ttl
	}
}

func NewFileCache(opts ...FileCacheOption) *FileCache {
	cfg := fileCacheOptions{
		capacity: DefaultFileCacheCapacity,
		ttl:      DefaultFileCacheTTL,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	cache := ttlcache.New(
		ttlcache.WithTTL[string, *SharedFile](cfg.ttl),
		ttlcache.WithCapacity[string, *SharedFile](cfg.capacity),
	)
	cache.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *ttlcache.Item[string, *SharedFile]) {
		_ = item.Value().Release()
	})
	go cache.Start()

	return &FileCache{cache: cache}
}

// GetOrOpen returns a shared handle for the given key, opening the file with
// open on a miss. Concurrent misses for the same key may open the file more
// than once; the extra handle is released and the cached one wins. The caller
// owns one reference on the returned handle and must Release it.
func (c *FileCache) GetOrOpen(ctx context.Context, key string, open func(ctx context.Context) (*ParquetFile, error)) (*SharedFile, error) {
	if item := c.cache.Get(key); item != nil {
		if sf := item.Value(); sf.tryAcquire() {
			return sf, nil
		}
	}

	pf, err := open(ctx)
	if err != nil {
		return nil, err
	}
	sf := newSharedFile(pf)

	c.mtx.Lock()
	defer c.mtx.Unlock()
	if item := c.cache.Get(key); item != nil {
		if cached := item.Value(); cached.tryAcquire() {
			// Lost the race; keep the cached handle.
			_ = sf.Release()
			return cached, nil
		}
		c.cache.Delete(key)
	}
	// One reference for the caller on top of the cache's own.
	sf.refs.Add(1)
	c.cache.Set(key, sf, ttlcache.DefaultTTL)
	return sf, nil
}

// Evict drops the cache's reference for the given key. Held handles stay
// valid until released.
func (c *FileCache) Evict(key string) {
	c.cache.Delete(key)
}

func (c *FileCache) Len() int {
	return c.cache.Len()
}

// Close stops the janitor and releases all cached handles.
func (c *FileCache) Close() {
	c.cache.Stop()
	c.cache.DeleteAll()
}

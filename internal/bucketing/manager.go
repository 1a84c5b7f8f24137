package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
)

// BucketingManager derives stable partition buckets from identifiers so
// the users table spreads evenly across Scylla partitions.
type BucketingManager struct {
	userBuckets int
	hasherPool  sync.Pool
}

func NewBucketingManager(userBuckets int) *BucketingManager {
	if userBuckets <= 0 {
		userBuckets = 64
	}

	bm := &BucketingManager{
		userBuckets: userBuckets,
	}

	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// UserBucket returns a consistent bucket for a user ID (0 to userBuckets-1).
func (bm *BucketingManager) UserBucket(userID string) int {
	return int(bm.hashKey(userID) % uint64(bm.userBuckets))
}

// DateBucket returns the UTC date partition used for audit archiving.
func (bm *BucketingManager) DateBucket(at time.Time) string {
	return at.UTC().Format("2006-01-02")
}

// UserBuckets returns the configured bucket count.
func (bm *BucketingManager) UserBuckets() int {
	return bm.userBuckets
}

func (bm *BucketingManager) hashKey(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}

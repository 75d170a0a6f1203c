package bucketing

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"recovery-service/internal/config"
)

func testManager() *BucketingManager {
	return NewBucketingManager(&config.Config{
		Bucketing: config.BucketingConfig{
			AccountBuckets: 64,
			EventBuckets:   16,
		},
	})
}

func TestBucketsAreStable(t *testing.T) {
	bm := testManager()

	for i := 0; i < 100; i++ {
		assert.Equal(t, bm.AccountBucket("phone-hash-a"), bm.AccountBucket("phone-hash-a"))
		assert.Equal(t, bm.EventBucket("event-1"), bm.EventBucket("event-1"))
	}
}

func TestBucketsStayInRange(t *testing.T) {
	bm := testManager()

	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("key-%d", i)

		ab := bm.AccountBucket(key)
		assert.GreaterOrEqual(t, ab, 0)
		assert.Less(t, ab, bm.AccountBuckets())

		eb := bm.EventBucket(key)
		assert.GreaterOrEqual(t, eb, 0)
		assert.Less(t, eb, bm.EventBuckets())
	}
}

func TestBucketsSpread(t *testing.T) {
	bm := testManager()

	seen := make(map[int]bool)
	for i := 0; i < 1000; i++ {
		seen[bm.AccountBucket(fmt.Sprintf("key-%d", i))] = true
	}
	// 1000 keys over 64 buckets should touch most of them
	assert.Greater(t, len(seen), 32)
}

func TestDateBucketUsesUTC(t *testing.T) {
	bm := testManager()

	loc := time.FixedZone("UTC+5", 5*3600)
	at := time.Date(2025, 6, 2, 2, 30, 0, 0, loc) // 2025-06-01 21:30 UTC
	assert.Equal(t, "2025-06-01", bm.DateBucket(at))
}

func TestBucketingConcurrentUse(t *testing.T) {
	bm := testManager()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("key-%d-%d", g, i)
				b := bm.AccountBucket(key)
				if b < 0 || b >= bm.AccountBuckets() {
					t.Errorf("bucket out of range: %d", b)
				}
			}
		}(g)
	}
	wg.Wait()
}

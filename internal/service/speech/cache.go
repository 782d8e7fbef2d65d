package speech

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/zhouzirui/spectra-communicator/internal/model/speech"
)

// AudioCache keeps the most recent synthesized clips so clients can fetch
// them by id. The least recently used clip is evicted once the capacity is
// reached, and clips older than the ttl expire.
type AudioCache struct {
	items *expirable.LRU[string, speech.SynthesisResult]
}

// NewAudioCache 创建音频缓存，ttl 为 0 时条目不过期
func NewAudioCache(capacity int, ttl time.Duration) *AudioCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &AudioCache{items: expirable.NewLRU[string, speech.SynthesisResult](capacity, nil, ttl)}
}

// Put stores audio and returns its result record with a fresh id.
func (c *AudioCache) Put(audio []byte, contentType string) speech.SynthesisResult {
	result := speech.SynthesisResult{
		ID:          uuid.NewString(),
		AudioData:   audio,
		ContentType: contentType,
		CreatedAt:   time.Now().UTC(),
	}
	c.items.Add(result.ID, result)
	return result
}

// Get returns the clip stored under id.
func (c *AudioCache) Get(id string) (speech.SynthesisResult, bool) {
	return c.items.Get(id)
}

// Len reports the number of cached clips.
func (c *AudioCache) Len() int {
	return c.items.Len()
}

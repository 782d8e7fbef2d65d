package speech

import "time"

// SpeechConfig 语音服务配置
type SpeechConfig struct {
	// 角色未指定 host/port 时使用的语音引擎地址
	DefaultHost string `json:"defaultHost"`
	DefaultPort string `json:"defaultPort"`

	// 缓存的合成音频条数上限
	AudioCacheSize int `json:"audioCacheSize"`
	// 缓存音频的保留秒数，0 表示不过期
	AudioCacheTTL int `json:"audioCacheTtl"`

	// 通用配置
	Timeout int `json:"timeout"` // seconds
}

// SynthesisRequest 语音合成请求
type SynthesisRequest struct {
	SessionID string  `json:"sessionId"`
	Text      string  `json:"text"`
	Options   Options `json:"options"`
}

// SynthesisResult 语音合成结果
type SynthesisResult struct {
	ID          string    `json:"id"`
	AudioData   []byte    `json:"-"`
	ContentType string    `json:"contentType"`
	CreatedAt   time.Time `json:"createdAt"`
}

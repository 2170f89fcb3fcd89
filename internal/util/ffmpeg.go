package util

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// MediaInfo 存储音视频信息
type MediaInfo struct {
	Duration   float64 `json:"duration"` // 时长（秒）
	Format     string  `json:"format"`
	Size       int64   `json:"size"`
	AudioCodec string  `json:"audioCodec"`
	HasAudio   bool    `json:"hasAudio"`
}

// ProbeFunc 便于测试替换
type ProbeFunc func(path string) (*MediaInfo, error)

// GetMediaInfo 使用ffmpeg-go库获取录音信息
func GetMediaInfo(mediaPath string) (*MediaInfo, error) {
	fileInfo, err := os.Stat(mediaPath)
	if err != nil {
		return nil, fmt.Errorf("media file not found: %w", err)
	}

	jsonOutput, err := ffmpeg.Probe(mediaPath)
	if err != nil {
		return nil, fmt.Errorf("probe media: %w", err)
	}

	return parseProbeOutput(jsonOutput, fileInfo.Size())
}

func parseProbeOutput(jsonOutput string, fallbackSize int64) (*MediaInfo, error) {
	var result struct {
		Streams []struct {
			CodecType string `json:"codec_type"`
			CodecName string `json:"codec_name"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
			Size     string `json:"size"`
			Format   string `json:"format_name"`
		} `json:"format"`
	}

	if err := json.Unmarshal([]byte(jsonOutput), &result); err != nil {
		return nil, fmt.Errorf("parse probe output: %w", err)
	}

	info := &MediaInfo{Format: "unknown"}
	for _, stream := range result.Streams {
		if stream.CodecType == "audio" {
			info.HasAudio = true
			info.AudioCodec = stream.CodecName
			break
		}
	}

	if d, err := strconv.ParseFloat(result.Format.Duration, 64); err == nil {
		info.Duration = d
	}

	size, err := strconv.ParseInt(result.Format.Size, 10, 64)
	if err != nil {
		size = fallbackSize
	}
	info.Size = size

	if parts := strings.Split(result.Format.Format, ","); len(parts) > 0 && parts[0] != "" {
		info.Format = parts[0]
	}

	return info, nil
}

package util

const (
	StorageLocal = "local"
	StorageMinio = "minio"
	StorageOSS   = "oss"
)

// 文件上传相关常量
const (
	MimeAudio       = "audio/"
	MimeVideo       = "video/"
	MimeWebM        = "video/webm"
	MimeOgg         = "application/ogg"
	MimeOctetStream = "application/octet-stream"
)

const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
)

var (
	AllowedMediaMimeTypes  = []string{MimeAudio, MimeVideo, MimeOgg}
	AllowedMediaExtensions = []string{".mp3", ".wav", ".m4a", ".ogg", ".oga", ".webm", ".mp4", ".aac", ".flac"}
)

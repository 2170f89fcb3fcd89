package model

// MediaUpload 口语录音的上传登记。
// 提交时只接受登记过且尚未被使用的 mediaRef，时长以上传时探测的结果为准。
// swagger:model MediaUpload
type MediaUpload struct {
	BaseModel
	UserID          uint    `gorm:"not null;index" json:"userId"`
	MediaRef        string  `gorm:"size:512;not null;uniqueIndex" json:"mediaRef"`
	ContentType     string  `gorm:"size:100" json:"contentType"`
	Size            int64   `json:"size"`
	DurationSeconds float64 `gorm:"default:0" json:"durationSeconds"`
	// RecordID 被提交引用后写入，空串表示尚未使用
	RecordID string `gorm:"size:36;not null;default:'';index" json:"recordId,omitempty"`

	URL string `gorm:"-" json:"url"`
}

func (MediaUpload) TableName() string {
	return "media_uploads"
}

func (m *MediaUpload) Attached() bool {
	return m.RecordID != ""
}

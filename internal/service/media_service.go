package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"lingo_assess_backend/internal/model"
	"lingo_assess_backend/internal/util"
	"lingo_assess_backend/pkg/logger"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const speakingMediaDir = "speaking"

type MediaService struct {
	Storage *StorageService
	Uploads MediaUploadStore
	MaxSize int64
	TempDir string
	Probe   util.ProbeFunc
}

func NewMediaService(storage *StorageService, uploads MediaUploadStore, maxSize int64, tempDir string) *MediaService {
	return &MediaService{
		Storage: storage,
		Uploads: uploads,
		MaxSize: maxSize,
		TempDir: tempDir,
		Probe:   util.GetMediaInfo,
	}
}

// UploadSpeakingMedia 校验录音文件后上传并登记，返回的 mediaRef 用于口语提交。
// 时长探测失败不影响上传。
func (s *MediaService) UploadSpeakingMedia(ctx context.Context, userID uint, file *multipart.FileHeader) (*model.MediaUpload, error) {
	if s.MaxSize > 0 && file.Size > s.MaxSize {
		return nil, util.ErrMediaTooLarge
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !util.HasAllowedExtension(file.Filename, util.AllowedMediaExtensions) {
		return nil, fmt.Errorf("extension %q: %w", ext, util.ErrUnsupportedMedia)
	}

	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	// 深度验证 MIME 类型，部分容器（flac、m4a）只能识别为 octet-stream，此时以扩展名为准
	mimeType, err := util.ValidateMimeType(src, util.AllowedMediaMimeTypes)
	if err != nil {
		if mimeType != util.MimeOctetStream {
			return nil, fmt.Errorf("content %q: %w", mimeType, util.ErrUnsupportedMedia)
		}
		if declared := file.Header.Get("Content-Type"); declared != "" && declared != util.MimeOctetStream {
			mimeType = declared
		}
	}
	if seeker, ok := src.(io.Seeker); ok {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
	}

	tempDir := s.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(tempDir, "speaking_*"+ext)
	if err != nil {
		return nil, err
	}
	tempPath := tmp.Name()
	defer os.Remove(tempPath) // 上传完成后立即清理

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return nil, err
	}
	tmp.Close()

	var duration float64
	if s.Probe != nil {
		info, err := s.Probe(tempPath)
		if err != nil {
			logger.Log.Warn("获取录音时长失败", zap.Uint("userId", userID), zap.Error(err))
		} else {
			duration = info.Duration
		}
	}

	mediaRef := fmt.Sprintf("%s%s%s", mediaPrefix(userID), uuid.NewString(), ext)
	url, err := s.Storage.UploadFile(ctx, mediaRef, tempPath, mimeType)
	if err != nil {
		return nil, fmt.Errorf("upload speaking media: %w", err)
	}

	upload := &model.MediaUpload{
		UserID:          userID,
		MediaRef:        mediaRef,
		ContentType:     mimeType,
		Size:            file.Size,
		DurationSeconds: duration,
		URL:             url,
	}
	if err := s.Uploads.Create(ctx, upload); err != nil {
		// 未登记的对象不会被任何提交引用
		s.deleteObject(ctx, mediaRef)
		return nil, err
	}
	return upload, nil
}

// Resolve 返回可用于提交的上传：必须属于该用户、尚未被使用且对象仍在存储中
func (s *MediaService) Resolve(ctx context.Context, userID uint, ref string) (*model.MediaUpload, error) {
	upload, err := s.Uploads.FindByRef(ctx, ref, userID)
	if err != nil {
		return nil, err
	}
	if upload.Attached() {
		return nil, util.ErrMediaAlreadyUsed
	}
	ok, err := s.Storage.Exists(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("stat speaking media: %w", err)
	}
	if !ok {
		return nil, util.ErrMediaNotFound
	}
	upload.URL = s.Storage.GetURL(ref)
	return upload, nil
}

func (s *MediaService) Attach(ctx context.Context, ref, recordID string) error {
	return s.Uploads.AttachRecord(ctx, ref, recordID)
}

// Discard 删除提交被拒绝后遗留的录音，已被记录引用或不属于该用户的上传保持不变
func (s *MediaService) Discard(ctx context.Context, userID uint, ref string) error {
	upload, err := s.Uploads.FindByRef(ctx, ref, userID)
	if errors.Is(err, util.ErrMediaNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if upload.Attached() {
		return nil
	}
	if err := s.Storage.Delete(ctx, ref); err != nil {
		return fmt.Errorf("delete speaking media: %w", err)
	}
	return s.Uploads.Delete(ctx, ref)
}

func (s *MediaService) URL(ref string) string {
	return s.Storage.GetURL(ref)
}

func (s *MediaService) deleteObject(ctx context.Context, ref string) {
	if err := s.Storage.Delete(ctx, ref); err != nil {
		logger.Log.Warn("删除录音失败", zap.String("mediaRef", ref), zap.Error(err))
	}
}

package controller

import (
	"errors"
	"lingo_assess_backend/internal/service"
	"lingo_assess_backend/internal/util"
	"net/http"

	"github.com/gin-gonic/gin"
)

type MediaController struct {
	Service *service.MediaService
}

func NewMediaController(svc *service.MediaService) *MediaController {
	return &MediaController{Service: svc}
}

// @Summary 上传口语录音
// @Description 返回的 mediaRef 用于口语测评提交
// @Tags 语言测评
// @Accept multipart/form-data
// @Produce json
// @Security ApiKeyAuth
// @Param file formData file true "录音文件"
// @Success 201 {object} util.Response{data=model.MediaUpload}
// @Failure 400 {object} util.Response "文件格式不支持"
// @Failure 413 {object} util.Response "文件过大"
// @Router /api/assessments/media/upload [post]
func (c *MediaController) Upload(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	file, err := ctx.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			util.HandleError(ctx, util.ErrMediaTooLarge)
			return
		}
		util.BadRequest(ctx, "file is required")
		return
	}

	upload, err := c.Service.UploadSpeakingMedia(ctx.Request.Context(), claims.UserID, file)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Created(ctx, upload)
}

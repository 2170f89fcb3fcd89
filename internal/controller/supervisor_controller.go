package controller

import (
	"lingo_assess_backend/internal/service"
	"lingo_assess_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type SupervisorController struct {
	Service *service.SupervisorService
}

func NewSupervisorController(svc *service.SupervisorService) *SupervisorController {
	return &SupervisorController{Service: svc}
}

// @Summary 待评估的口语测评
// @Tags 督导评估
// @Produce json
// @Security ApiKeyAuth
// @Param skill query string false "技能"
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Failure 403 {object} util.Response
// @Router /api/supervisor/assessments/pending [get]
func (c *SupervisorController) ListPending(ctx *gin.Context) {
	page, limit := util.ParsePage(ctx, util.DefaultLimit)

	records, total, err := c.Service.ListPending(ctx.Request.Context(), ctx.Query("skill"), page, limit)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, util.PageResponse{
		List:  records,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// @Summary 测评记录详情（督导）
// @Tags 督导评估
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "记录ID"
// @Success 200 {object} util.Response{data=model.AssessmentRecord}
// @Failure 404 {object} util.Response
// @Router /api/supervisor/assessments/{id} [get]
func (c *SupervisorController) GetRecord(ctx *gin.Context) {
	record, err := c.Service.GetRecord(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, record)
}

// @Summary 提交督导评分
// @Description 仅 pending 状态的记录可以评估，原始自动评分不会被修改
// @Tags 督导评估
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "记录ID"
// @Param body body service.EvaluateRequest true "评分"
// @Success 200 {object} util.Response{data=model.AssessmentRecord}
// @Failure 400 {object} util.Response
// @Failure 404 {object} util.Response
// @Failure 409 {object} util.Response "已评估"
// @Router /api/supervisor/assessments/{id}/evaluate [post]
func (c *SupervisorController) Evaluate(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.EvaluateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	record, err := c.Service.Evaluate(ctx.Request.Context(), claims.UserID, ctx.Param("id"), req)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, record)
}

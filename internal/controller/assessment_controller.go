package controller

import (
	"lingo_assess_backend/internal/model"
	"lingo_assess_backend/internal/service"
	"lingo_assess_backend/internal/util"
	"net/http"

	"github.com/gin-gonic/gin"
)

type AssessmentController struct {
	Service         *service.AssessmentService
	Stats           *service.StatisticsService
	HistoryPageSize int
}

func NewAssessmentController(svc *service.AssessmentService, stats *service.StatisticsService, historyPageSize int) *AssessmentController {
	return &AssessmentController{Service: svc, Stats: stats, HistoryPageSize: historyPageSize}
}

// parseFilter skill 非空时必须合法
func parseFilter(ctx *gin.Context) (model.RecordFilter, bool) {
	filter := model.RecordFilter{
		Level:    ctx.Query("level"),
		Language: ctx.Query("language"),
	}
	if s := ctx.Query("skill"); s != "" {
		skill, ok := model.ParseSkill(s)
		if !ok {
			util.HandleError(ctx, util.ErrInvalidSkill)
			return filter, false
		}
		filter.Skill = skill
	}
	return filter, true
}

// @Summary 查询测评是否可用
// @Description 同一 (技能, 等级, 语言) 两次测评之间需间隔 7 天
// @Tags 语言测评
// @Produce json
// @Security ApiKeyAuth
// @Param skill query string true "技能 reading|writing|speaking|listening"
// @Param level query string true "CEFR 等级 A1-C2"
// @Param language query string true "语言"
// @Success 200 {object} util.Response{data=model.AvailabilityDecision}
// @Failure 400 {object} util.Response "参数错误"
// @Router /api/assessments/availability [get]
func (c *AssessmentController) Availability(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	decision, err := c.Service.CheckAvailability(ctx.Request.Context(), claims.UserID, ctx.Query("skill"), ctx.Query("level"), ctx.Query("language"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, decision)
}

// @Summary 提交测评
// @Description 冷却期内返回 success=false 与下次可用时间，不会写入记录；口语提交进入督导评估队列
// @Tags 语言测评
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param skill path string true "技能 reading|writing|speaking|listening"
// @Param body body service.SubmitRequest true "作答内容"
// @Success 201 {object} util.Response{data=service.SubmissionResult} "提交成功"
// @Success 200 {object} util.Response{data=service.SubmissionResult} "冷却期内"
// @Failure 400 {object} util.Response "参数错误"
// @Failure 409 {object} util.Response "重复提交"
// @Router /api/assessments/{skill}/submit [post]
func (c *AssessmentController) Submit(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.SubmitRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	result, err := c.Service.Submit(ctx.Request.Context(), claims.UserID, ctx.Param("skill"), req)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	if !result.Success {
		ctx.JSON(http.StatusOK, util.Response{
			Code:      http.StatusOK,
			Message:   result.Denial.Message,
			ErrorCode: result.Denial.Reason,
			Data:      result,
		})
		return
	}
	util.Created(ctx, result)
}

// @Summary 测评历史
// @Tags 语言测评
// @Produce json
// @Security ApiKeyAuth
// @Param skill query string false "技能"
// @Param level query string false "等级"
// @Param language query string false "语言"
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /api/assessments/history [get]
func (c *AssessmentController) History(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	filter, ok := parseFilter(ctx)
	if !ok {
		return
	}
	page, limit := util.ParsePage(ctx, c.HistoryPageSize)

	records, total, err := c.Service.History(ctx.Request.Context(), claims.UserID, filter, page, limit)
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

// @Summary 测评统计
// @Description 平均/最高/最低分、分数趋势，以及按等级、语言、技能分组的汇总
// @Tags 语言测评
// @Produce json
// @Security ApiKeyAuth
// @Param skill query string false "技能"
// @Param level query string false "等级"
// @Param language query string false "语言"
// @Success 200 {object} util.Response{data=model.AssessmentStatistics}
// @Router /api/assessments/statistics [get]
func (c *AssessmentController) Statistics(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	filter, ok := parseFilter(ctx)
	if !ok {
		return
	}

	stats, err := c.Stats.Get(ctx.Request.Context(), claims.UserID, filter)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, stats)
}

// @Summary 测评记录详情
// @Tags 语言测评
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "记录ID"
// @Success 200 {object} util.Response{data=model.AssessmentRecord}
// @Failure 404 {object} util.Response
// @Router /api/assessments/records/{id} [get]
func (c *AssessmentController) GetRecord(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	record, err := c.Service.GetRecord(ctx.Request.Context(), claims.UserID, ctx.Param("id"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, record)
}

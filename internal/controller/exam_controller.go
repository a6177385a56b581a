package controller

import (
	"exam_portal_backend/internal/service"
	"exam_portal_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// ExamController 学生端考试列表、详情、开考和排行榜
type ExamController struct {
	ExamService    *service.ExamService
	AttemptService *service.AttemptService
	RankingService *service.RankingService
}

func NewExamController(examService *service.ExamService, attemptService *service.AttemptService, rankingService *service.RankingService) *ExamController {
	return &ExamController{ExamService: examService, AttemptService: attemptService, RankingService: rankingService}
}

// List godoc
// @Summary 可参加的考试
// @Tags 考试
// @Security ApiKeyAuth
// @Produce json
// @Success 200 {object} util.Response{data=[]model.Exam}
// @Router /exams [get]
func (c *ExamController) List(ctx *gin.Context) {
	exams, err := c.ExamService.ListActive()
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, exams)
}

// Get godoc
// @Summary 考试详情（不含答案）
// @Tags 考试
// @Security ApiKeyAuth
// @Produce json
// @Param id path string true "考试ID"
// @Success 200 {object} util.Response{data=service.ExamDetail}
// @Failure 404 {object} util.Response
// @Router /exams/{id} [get]
func (c *ExamController) Get(ctx *gin.Context) {
	detail, err := c.ExamService.GetDetail(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, detail)
}

// Start godoc
// @Summary 开始考试
// @Description 已交卷时返回 alreadyCompleted 和成绩记录ID；同一考试进行中时恢复答题
// @Tags 考试
// @Security ApiKeyAuth
// @Produce json
// @Param id path string true "考试ID"
// @Success 200 {object} util.Response{data=attempt.StartOutcome}
// @Failure 400 {object} util.Response "不在考试时间内或已过开考宽限期"
// @Failure 404 {object} util.Response
// @Router /exams/{id}/start [post]
func (c *ExamController) Start(ctx *gin.Context) {
	out, err := c.AttemptService.Start(ctx.Request.Context(), util.CurrentUserID(ctx), ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, out)
}

// Rankings godoc
// @Summary 考试排行榜（成绩发布后可见）
// @Tags 考试
// @Security ApiKeyAuth
// @Produce json
// @Param id path string true "考试ID"
// @Success 200 {object} util.Response{data=[]model.Ranking}
// @Failure 403 {object} util.Response "成绩未发布"
// @Router /exams/{id}/rankings [get]
func (c *ExamController) Rankings(ctx *gin.Context) {
	list, err := c.RankingService.List(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, list)
}

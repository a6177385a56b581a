package controller

import (
	"exam_portal_backend/internal/service"
	"exam_portal_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// AdminExamController 管理端考试、题目与成绩发布
type AdminExamController struct {
	ExamService    *service.ExamService
	RankingService *service.RankingService
	Hub            *service.AttemptHub
}

func NewAdminExamController(examService *service.ExamService, rankingService *service.RankingService, hub *service.AttemptHub) *AdminExamController {
	return &AdminExamController{ExamService: examService, RankingService: rankingService, Hub: hub}
}

// ListAll godoc
// @Summary 全部考试（分页）
// @Tags 管理-考试
// @Security ApiKeyAuth
// @Produce json
// @Param page query int false "页码" default(1)
// @Param limit query int false "每页数量" default(20)
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /admin/exams [get]
func (c *AdminExamController) ListAll(ctx *gin.Context) {
	page := util.QueryInt(ctx, "page", 1)
	limit := util.QueryInt(ctx, "limit", 20)
	exams, total, err := c.ExamService.ListAll(page, limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, util.PageResponse{List: exams, Total: total, Page: page, Limit: limit})
}

// Create godoc
// @Summary 创建考试
// @Tags 管理-考试
// @Security ApiKeyAuth
// @Accept json
// @Produce json
// @Param body body service.ExamReq true "考试"
// @Success 201 {object} util.Response{data=model.Exam}
// @Router /admin/exams [post]
func (c *AdminExamController) Create(ctx *gin.Context) {
	var req service.ExamReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	exam, err := c.ExamService.CreateExam(util.CurrentUserID(ctx), req)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Created(ctx, exam)
}

// Update godoc
// @Summary 修改考试
// @Tags 管理-考试
// @Security ApiKeyAuth
// @Accept json
// @Produce json
// @Param id path string true "考试ID"
// @Param body body service.ExamReq true "需要修改的字段"
// @Success 200 {object} util.Response{data=model.Exam}
// @Router /admin/exams/{id} [put]
func (c *AdminExamController) Update(ctx *gin.Context) {
	var req service.ExamReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	exam, err := c.ExamService.UpdateExam(ctx.Request.Context(), ctx.Param("id"), req)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, exam)
}

// Delete godoc
// @Summary 删除考试及其题目
// @Tags 管理-考试
// @Security ApiKeyAuth
// @Param id path string true "考试ID"
// @Success 200 {object} util.Response
// @Router /admin/exams/{id} [delete]
func (c *AdminExamController) Delete(ctx *gin.Context) {
	if err := c.ExamService.DeleteExam(ctx.Request.Context(), ctx.Param("id")); err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// Questions godoc
// @Summary 考试题目（含标准答案）
// @Tags 管理-考试
// @Security ApiKeyAuth
// @Produce json
// @Param id path string true "考试ID"
// @Success 200 {object} util.Response{data=[]model.Question}
// @Router /admin/exams/{id}/questions [get]
func (c *AdminExamController) Questions(ctx *gin.Context) {
	list, err := c.ExamService.AdminQuestions(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, list)
}

// AddQuestion godoc
// @Summary 添加题目
// @Tags 管理-考试
// @Security ApiKeyAuth
// @Accept json
// @Produce json
// @Param id path string true "考试ID"
// @Param body body service.QuestionReq true "题目"
// @Success 201 {object} util.Response{data=model.Question}
// @Router /admin/exams/{id}/questions [post]
func (c *AdminExamController) AddQuestion(ctx *gin.Context) {
	var req service.QuestionReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	q, err := c.ExamService.AddQuestion(ctx.Request.Context(), ctx.Param("id"), req)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Created(ctx, q)
}

// UpdateQuestion godoc
// @Summary 修改题目
// @Tags 管理-考试
// @Security ApiKeyAuth
// @Accept json
// @Produce json
// @Param questionId path string true "题目ID"
// @Param body body service.QuestionReq true "题目"
// @Success 200 {object} util.Response{data=model.Question}
// @Router /admin/questions/{questionId} [put]
func (c *AdminExamController) UpdateQuestion(ctx *gin.Context) {
	var req service.QuestionReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	q, err := c.ExamService.UpdateQuestion(ctx.Request.Context(), ctx.Param("questionId"), req)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, q)
}

// DeleteQuestion godoc
// @Summary 删除题目
// @Tags 管理-考试
// @Security ApiKeyAuth
// @Param questionId path string true "题目ID"
// @Success 200 {object} util.Response
// @Router /admin/questions/{questionId} [delete]
func (c *AdminExamController) DeleteQuestion(ctx *gin.Context) {
	if err := c.ExamService.DeleteQuestion(ctx.Request.Context(), ctx.Param("questionId")); err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// Complete godoc
// @Summary 结束考试（不再接受开考）
// @Tags 管理-考试
// @Security ApiKeyAuth
// @Param id path string true "考试ID"
// @Success 200 {object} util.Response
// @Router /admin/exams/{id}/complete [post]
func (c *AdminExamController) Complete(ctx *gin.Context) {
	if err := c.ExamService.CompleteExam(ctx.Param("id")); err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// Release godoc
// @Summary 发布成绩并生成排行榜
// @Tags 管理-考试
// @Security ApiKeyAuth
// @Produce json
// @Param id path string true "考试ID"
// @Success 200 {object} util.Response{data=service.ReleaseResult}
// @Router /admin/exams/{id}/release [post]
func (c *AdminExamController) Release(ctx *gin.Context) {
	result, err := c.RankingService.ReleaseResults(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

// Live godoc
// @Summary 监考：订阅考试内全部答题快照（websocket）
// @Tags 管理-考试
// @Param id path string true "考试ID"
// @Param token query string true "JWT"
// @Router /admin/exams/{id}/live [get]
func (c *AdminExamController) Live(ctx *gin.Context) {
	service.ServeWs(c.Hub, ctx.Writer, ctx.Request, service.ExamTopic(ctx.Param("id")))
}

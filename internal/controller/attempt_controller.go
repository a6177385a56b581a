package controller

import (
	"exam_portal_backend/internal/model"
	"exam_portal_backend/internal/service"
	"exam_portal_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type AttemptController struct {
	AttemptService *service.AttemptService
	Hub            *service.AttemptHub
}

func NewAttemptController(attemptService *service.AttemptService, hub *service.AttemptHub) *AttemptController {
	return &AttemptController{AttemptService: attemptService, Hub: hub}
}

// AnswerRequest swagger:model AnswerRequest
type AnswerRequest struct {
	QuestionID string       `json:"questionId" binding:"required"`
	Answer     model.Answer `json:"answer"`
}

// QuestionRefRequest swagger:model QuestionRefRequest
type QuestionRefRequest struct {
	QuestionID string `json:"questionId" binding:"required"`
	Marked     *bool  `json:"marked"`
}

// Current godoc
// @Summary 当前答题状态
// @Tags 答题
// @Security ApiKeyAuth
// @Produce json
// @Success 200 {object} util.Response{data=attempt.View}
// @Router /attempts/current [get]
func (c *AttemptController) Current(ctx *gin.Context) {
	util.Success(ctx, c.AttemptService.Current(ctx.Request.Context(), util.CurrentUserID(ctx)))
}

// Backup godoc
// @Summary 读取答题备份（刷新页面后恢复）
// @Tags 答题
// @Security ApiKeyAuth
// @Produce json
// @Success 200 {object} util.Response{data=attempt.BackupSnapshot}
// @Failure 409 {object} util.Response "没有进行中的答题"
// @Router /attempts/current/backup [get]
func (c *AttemptController) Backup(ctx *gin.Context) {
	b, err := c.AttemptService.Backup(ctx.Request.Context(), util.CurrentUserID(ctx))
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, b)
}

// Answer godoc
// @Summary 保存单题作答
// @Description 保存失败会在后台重试，接口本身不返回保存错误
// @Tags 答题
// @Security ApiKeyAuth
// @Accept json
// @Produce json
// @Param body body AnswerRequest true "作答"
// @Success 200 {object} util.Response
// @Failure 409 {object} util.Response "没有进行中的答题"
// @Router /attempts/current/answers [post]
func (c *AttemptController) Answer(ctx *gin.Context) {
	var req AnswerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	if err := c.AttemptService.Answer(ctx.Request.Context(), util.CurrentUserID(ctx), req.QuestionID, req.Answer); err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// Visited godoc
// @Summary 标记题目已浏览
// @Tags 答题
// @Security ApiKeyAuth
// @Accept json
// @Param body body QuestionRefRequest true "题目"
// @Success 200 {object} util.Response
// @Router /attempts/current/visited [post]
func (c *AttemptController) Visited(ctx *gin.Context) {
	var req QuestionRefRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	if err := c.AttemptService.MarkVisited(ctx.Request.Context(), util.CurrentUserID(ctx), req.QuestionID); err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// Review godoc
// @Summary 标记/取消待复查
// @Tags 答题
// @Security ApiKeyAuth
// @Accept json
// @Param body body QuestionRefRequest true "题目，marked 缺省为 true"
// @Success 200 {object} util.Response
// @Router /attempts/current/review [post]
func (c *AttemptController) Review(ctx *gin.Context) {
	var req QuestionRefRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	marked := req.Marked == nil || *req.Marked
	if err := c.AttemptService.MarkForReview(ctx.Request.Context(), util.CurrentUserID(ctx), req.QuestionID, marked); err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// Submit godoc
// @Summary 交卷
// @Tags 答题
// @Security ApiKeyAuth
// @Produce json
// @Success 200 {object} util.Response{data=model.ExamAttempt}
// @Failure 409 {object} util.Response "没有进行中的答题"
// @Failure 500 {object} util.Response "保存失败，可重试"
// @Router /attempts/current/submit [post]
func (c *AttemptController) Submit(ctx *gin.Context) {
	result, err := c.AttemptService.Submit(ctx.Request.Context(), util.CurrentUserID(ctx))
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

// End godoc
// @Summary 结束答题会话（不交卷）
// @Tags 答题
// @Security ApiKeyAuth
// @Success 200 {object} util.Response
// @Router /attempts/current [delete]
func (c *AttemptController) End(ctx *gin.Context) {
	c.AttemptService.End(util.CurrentUserID(ctx))
	util.Success(ctx, nil)
}

// History godoc
// @Summary 我的答题记录
// @Tags 答题
// @Security ApiKeyAuth
// @Produce json
// @Success 200 {object} util.Response{data=[]model.ExamAttempt}
// @Router /attempts [get]
func (c *AttemptController) History(ctx *gin.Context) {
	list, err := c.AttemptService.History(ctx.Request.Context(), util.CurrentUserID(ctx))
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, list)
}

// Result godoc
// @Summary 答题结果
// @Description 成绩发布前分数为 0
// @Tags 答题
// @Security ApiKeyAuth
// @Produce json
// @Param id path string true "答题记录ID"
// @Success 200 {object} util.Response{data=service.AttemptResult}
// @Failure 404 {object} util.Response
// @Router /attempts/{id} [get]
func (c *AttemptController) Result(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	isAdmin := claims != nil && claims.Role == model.Admin
	result, err := c.AttemptService.Result(ctx.Request.Context(), util.CurrentUserID(ctx), isAdmin, ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

// Live godoc
// @Summary 订阅本人答题快照（websocket）
// @Tags 答题
// @Param token query string true "JWT"
// @Router /attempts/live [get]
func (c *AttemptController) Live(ctx *gin.Context) {
	service.ServeWs(c.Hub, ctx.Writer, ctx.Request, service.UserTopic(util.CurrentUserID(ctx)))
}

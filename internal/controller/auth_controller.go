package controller

import (
	"exam_portal_backend/internal/service"
	"exam_portal_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type AuthController struct {
	AuthService    *service.AuthService
	AttemptService *service.AttemptService
}

func NewAuthController(authService *service.AuthService, attemptService *service.AttemptService) *AuthController {
	return &AuthController{AuthService: authService, AttemptService: attemptService}
}

// LoginRequest swagger:model LoginRequest
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Register godoc
// @Summary 注册学生账号
// @Tags 认证
// @Accept  json
// @Produce  json
// @Param   body body service.RegisterReq true "用户注册信息"
// @Success 201 {object} util.Response{data=object} "创建成功"
// @Failure 400 {object} util.Response "请求参数错误"
// @Failure 409 {object} util.Response "邮箱已被注册"
// @Router /register [post]
func (c *AuthController) Register(ctx *gin.Context) {
	var req service.RegisterReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	user, err := c.AuthService.Register(req)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Created(ctx, gin.H{"id": user.ID})
}

// Login godoc
// @Summary 登录
// @Tags 认证
// @Accept  json
// @Produce  json
// @Param   body body LoginRequest true "登录信息"
// @Success 200 {object} util.Response{data=service.LoginResult}
// @Failure 401 {object} util.Response "账号或密码错误"
// @Router /login [post]
func (c *AuthController) Login(ctx *gin.Context) {
	var req LoginRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	result, err := c.AuthService.Login(req.Email, req.Password)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

// Logout godoc
// @Summary 退出登录并结束答题会话
// @Tags 认证
// @Security ApiKeyAuth
// @Success 200 {object} util.Response
// @Router /logout [post]
func (c *AuthController) Logout(ctx *gin.Context) {
	c.AttemptService.End(util.CurrentUserID(ctx))
	util.Success(ctx, nil)
}

// Profile godoc
// @Summary 当前用户信息
// @Tags 认证
// @Security ApiKeyAuth
// @Produce json
// @Success 200 {object} util.Response{data=model.User}
// @Router /profile [get]
func (c *AuthController) Profile(ctx *gin.Context) {
	user, err := c.AuthService.Profile(util.CurrentUserID(ctx))
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, user)
}

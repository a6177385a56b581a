package util

import "errors"

var (
	ErrUserNotFound       = errors.New("用户不存在")
	ErrEmailRegistered    = errors.New("该邮箱已被注册")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserDisabled       = errors.New("account disabled")
	ErrQuestionNotFound   = errors.New("question not found")
	ErrInvalidExam        = errors.New("invalid exam")
	ErrResultsNotReleased = errors.New("results have not been released yet")
)

package repository

import "errors"

var (
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrAttemptFrozen 已交卷的答题记录不允许再写入
	ErrAttemptFrozen = errors.New("attempt already submitted")
	// ErrAttemptIDTaken 答题记录 ID 已被其他用户或考试占用
	ErrAttemptIDTaken = errors.New("attempt id already in use")
)

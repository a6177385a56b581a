package attempt

import "errors"

// 前置条件错误：直接展示给用户，不做重试
var (
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrExamNotFound       = errors.New("exam not found")
	ErrInvalidWindow      = errors.New("exam is not open")
	ErrGracePeriodExpired = errors.New("grace period for joining has expired")
	ErrNoActiveAttempt    = errors.New("no active attempt")
	ErrTimeUp             = errors.New("time for this attempt is up")
)

// IsPrecondition 判断错误是否属于前置条件错误
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrNotAuthenticated) ||
		errors.Is(err, ErrExamNotFound) ||
		errors.Is(err, ErrInvalidWindow) ||
		errors.Is(err, ErrGracePeriodExpired) ||
		errors.Is(err, ErrNoActiveAttempt) ||
		errors.Is(err, ErrTimeUp)
}

package attempt

import (
	"context"
	"time"

	"exam_portal_backend/internal/model"
)

// ExamGateway 读取考试及题目，考试不存在时返回 ErrExamNotFound
type ExamGateway interface {
	GetExam(ctx context.Context, examID string) (*model.Exam, error)
	ListQuestions(ctx context.Context, examID string) ([]model.Question, error)
}

// AttemptGateway 是答题记录的持久化入口，写成功后即为最终数据来源
type AttemptGateway interface {
	// FindSubmittedAttempt 没有已提交记录时返回 (nil, nil)
	FindSubmittedAttempt(ctx context.Context, userID uint, examID string) (*model.ExamAttempt, error)
	CreateAttempt(ctx context.Context, attempt *model.ExamAttempt) error
	SaveAnswers(ctx context.Context, attemptID string, answers []model.UserAnswer) error
	FinalizeAttempt(ctx context.Context, attempt *model.ExamAttempt) error
}

// BackupStore 简单的 key -> string 存储，只用于崩溃恢复，不是主存储
type BackupStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, keys ...string) error
}

// ExamSnapshot 缓存的考试信息和完整题目
type ExamSnapshot struct {
	Exam      model.Exam       `json:"exam"`
	Questions []model.Question `json:"questions"`
	FetchedAt time.Time        `json:"fetchedAt"`
}

// SnapshotCache 只负责存取，新鲜度由 Manager 判断
type SnapshotCache interface {
	Get(ctx context.Context, examID string) (*ExamSnapshot, bool)
	Put(ctx context.Context, snap *ExamSnapshot)
}

// Snapshot 是答题记录变更的实时推送，PendingWrites 表示尚未被服务端确认
type Snapshot struct {
	AttemptID     string    `json:"attemptId"`
	ExamID        string    `json:"examId"`
	UserID        uint      `json:"userId"`
	Answered      int       `json:"answered"`
	Submitted     bool      `json:"submitted"`
	PendingWrites bool      `json:"pendingWrites"`
	At            time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, snap Snapshot)
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

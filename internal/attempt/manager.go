// Package attempt 管理一个用户一次考试作答的完整生命周期：
// 开考校验、题目快照缓存、逐题保存（含本地备份与重试）以及最终交卷评分。
//
// Manager 是显式的会话上下文对象，每个登录用户一个，由调用方负责创建和 Reset。
package attempt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"exam_portal_backend/internal/model"
	"exam_portal_backend/internal/scoring"
	"exam_portal_backend/pkg/retry"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type Policy struct {
	GracePeriod time.Duration `mapstructure:"grace_period"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	AnswerRetry retry.Policy  `mapstructure:"answer_retry"`
	SubmitRetry retry.Policy  `mapstructure:"submit_retry"`
}

func DefaultPolicy() Policy {
	return Policy{
		GracePeriod: 3 * time.Minute,
		CacheTTL:    30 * time.Minute,
		AnswerRetry: retry.Policy{MaxAttempts: 3, InitialDelay: 500 * time.Millisecond, Multiplier: 1.5, Timeout: 8 * time.Second},
		SubmitRetry: retry.Policy{MaxAttempts: 5, InitialDelay: time.Second, Multiplier: 1.5, Timeout: 20 * time.Second},
	}
}

type Deps struct {
	Exams     ExamGateway
	Attempts  AttemptGateway
	Backup    BackupStore
	Cache     SnapshotCache // 为空时使用会话内缓存
	Publisher Publisher
	Clock     Clock
	Logger    *zap.Logger
	OnRetry   retry.OnRetry
}

type Manager struct {
	mu sync.Mutex

	userID   uint
	exams    ExamGateway
	attempts AttemptGateway
	backup   BackupStore
	cache    SnapshotCache
	ownCache *MemoryCache
	pub      Publisher
	clock    Clock
	log      *zap.Logger
	onRetry  retry.OnRetry
	policy   Policy

	state      State
	attempting bool

	confirmedAnswered int
	confirmedAt       time.Time
}

// StartOutcome 开考结果；AlreadyCompleted 时调用方应跳转到成绩页
type StartOutcome struct {
	AlreadyCompleted bool               `json:"alreadyCompleted"`
	ResultAttemptID  string             `json:"resultAttemptId,omitempty"`
	Resumed          bool               `json:"resumed"`
	Attempt          *model.ExamAttempt `json:"attempt,omitempty"`
}

// NewManager userID 为 0 表示未登录，所有答题操作都会返回 ErrNotAuthenticated
func NewManager(userID uint, deps Deps, policy Policy) *Manager {
	m := &Manager{
		userID:   userID,
		exams:    deps.Exams,
		attempts: deps.Attempts,
		backup:   deps.Backup,
		cache:    deps.Cache,
		pub:      deps.Publisher,
		clock:    deps.Clock,
		log:      deps.Logger,
		onRetry:  deps.OnRetry,
		policy:   policy,
		state:    NotStarted{},
	}
	if m.cache == nil {
		m.ownCache = NewMemoryCache()
		m.cache = m.ownCache
	}
	if m.backup == nil {
		m.backup = NewMemoryBackup()
	}
	if m.clock == nil {
		m.clock = systemClock{}
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	m.log = m.log.With(zap.Uint("userId", userID))
	return m
}

func (m *Manager) UserID() uint { return m.userID }

func (m *Manager) SetPolicy(p Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy = p
}

// Attempting 为 true 时前端应隐藏导航
func (m *Manager) Attempting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempting
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reset 结束会话，清空内存状态和会话缓存（备份数据保留，供恢复使用）
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = NotStarted{}
	m.attempting = false
	m.confirmedAnswered = 0
	m.confirmedAt = time.Time{}
	if m.ownCache != nil {
		m.ownCache.Clear()
	}
}

func (m *Manager) StartExam(ctx context.Context, examID string) (StartOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.userID == 0 {
		return StartOutcome{}, ErrNotAuthenticated
	}

	done, err := m.attempts.FindSubmittedAttempt(ctx, m.userID, examID)
	if err != nil {
		return StartOutcome{}, fmt.Errorf("check submitted attempts: %w", err)
	}
	if done != nil {
		return StartOutcome{AlreadyCompleted: true, ResultAttemptID: done.ID}, nil
	}

	if st, ok := m.state.(*InProgress); ok && st.Exam.ID == examID {
		a := st.Attempt
		a.Answers = st.orderedAnswers()
		return StartOutcome{Resumed: true, Attempt: &a}, nil
	}

	exam, err := m.exams.GetExam(ctx, examID)
	if err != nil {
		return StartOutcome{}, err
	}
	now := m.clock.Now()
	if err := checkWindow(exam, now, m.policy.GracePeriod); err != nil {
		return StartOutcome{}, err
	}

	snap, err := m.snapshot(ctx, exam, now)
	if err != nil {
		return StartOutcome{}, err
	}

	a := model.ExamAttempt{
		ID:        newAttemptID(now),
		ExamID:    examID,
		UserID:    m.userID,
		StartTime: now,
	}
	err = retry.Do(ctx, m.policy.AnswerRetry, func(ctx context.Context) error {
		created := a
		return m.attempts.CreateAttempt(ctx, &created)
	}, m.retryHook("create_attempt"))
	if err != nil {
		return StartOutcome{}, fmt.Errorf("create attempt: %w", err)
	}

	m.state = newInProgress(a, snap)
	m.attempting = true
	m.confirmedAnswered = 0
	m.log.Info("Exam attempt started", zap.String("examId", examID), zap.String("attemptId", a.ID))
	m.publish(ctx, m.state.(*InProgress), false)

	return StartOutcome{Attempt: &a}, nil
}

// checkWindow 依次校验：时间窗口完整、已开始、未结束、未超过开考宽限期
func checkWindow(exam *model.Exam, now time.Time, grace time.Duration) error {
	if !exam.HasWindow() {
		return fmt.Errorf("%w: exam has no start or end time", ErrInvalidWindow)
	}
	if now.Before(*exam.StartAt) {
		return fmt.Errorf("%w: exam has not started yet", ErrInvalidWindow)
	}
	if now.After(*exam.EndAt) {
		return fmt.Errorf("%w: exam has already ended", ErrInvalidWindow)
	}
	if now.After(exam.StartAt.Add(grace)) {
		return fmt.Errorf("%w: joining closes %s after the start", ErrGracePeriodExpired, grace)
	}
	return nil
}

func newAttemptID(start time.Time) string {
	return fmt.Sprintf("%d-%s", start.UnixMilli(), uuid.NewString()[:8])
}

func (m *Manager) snapshot(ctx context.Context, exam *model.Exam, now time.Time) (*ExamSnapshot, error) {
	if snap, ok := m.cache.Get(ctx, exam.ID); ok && now.Sub(snap.FetchedAt) < m.policy.CacheTTL {
		return snap, nil
	}

	questions, err := m.exams.ListQuestions(ctx, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	snap := &ExamSnapshot{Exam: *exam, Questions: questions, FetchedAt: now}
	m.cache.Put(ctx, snap)
	return snap, nil
}

// SubmitAnswer 保存单题作答。只返回前置条件错误（无进行中的答题、已超时）；
// 持久化失败只记录日志，备份存储中的数据可用于恢复
func (m *Manager) SubmitAnswer(ctx context.Context, questionID string, answer model.Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.state.(*InProgress)
	if !ok {
		return ErrNoActiveAttempt
	}
	if m.timeUp(st) {
		return ErrTimeUp
	}
	q, ok := st.question(questionID)
	if !ok {
		m.log.Warn("Answer for unknown question ignored", zap.String("attemptId", st.Attempt.ID), zap.String("questionId", questionID))
		return nil
	}

	st.Answers[questionID] = model.UserAnswer{
		AttemptID:   st.Attempt.ID,
		QuestionID:  questionID,
		Answer:      datatypes.NewJSONType(answer),
		MarksEarned: scoring.Score(q, answer),
		UpdatedAt:   m.clock.Now(),
	}
	answers := st.orderedAnswers()

	if raw, err := json.Marshal(answers); err != nil {
		m.log.Error("Failed to encode answer backup", zap.Error(err))
	} else if err := m.backup.Set(ctx, answersKey(st.Attempt.ID), string(raw)); err != nil {
		m.log.Warn("Failed to write answer backup", zap.String("attemptId", st.Attempt.ID), zap.Error(err))
	}

	m.publish(ctx, st, true)
	err := retry.Do(ctx, m.policy.AnswerRetry, func(ctx context.Context) error {
		return m.attempts.SaveAnswers(ctx, st.Attempt.ID, answers)
	}, m.retryHook("save_answers"))
	if err != nil {
		m.log.Error("Failed to save answer",
			zap.String("attemptId", st.Attempt.ID),
			zap.String("questionId", questionID),
			zap.Error(err))
		return nil
	}
	m.publish(ctx, st, false)
	return nil
}

// MarkVisited 记录已浏览的题目
func (m *Manager) MarkVisited(ctx context.Context, questionID string) error {
	return m.updateSet(ctx, questionID, visitedKey, true)
}

// MarkForReview 标记或取消标记待复查
func (m *Manager) MarkForReview(ctx context.Context, questionID string, marked bool) error {
	return m.updateSet(ctx, questionID, reviewKey, marked)
}

func (m *Manager) updateSet(ctx context.Context, questionID string, keyFn func(string) string, add bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.state.(*InProgress)
	if !ok {
		return ErrNoActiveAttempt
	}
	if m.timeUp(st) {
		return ErrTimeUp
	}
	if _, ok := st.question(questionID); !ok {
		return fmt.Errorf("question %s is not part of exam %s", questionID, st.Exam.ID)
	}

	key := keyFn(st.Attempt.ID)
	set, err := readIDSet(ctx, m.backup, key)
	if err != nil {
		m.log.Warn("Failed to read question set, starting fresh", zap.String("key", key), zap.Error(err))
	}
	if add {
		set[questionID] = true
	} else {
		delete(set, questionID)
	}
	raw, err := encodeIDSet(set)
	if err != nil {
		return err
	}
	return m.backup.Set(ctx, key, raw)
}

// Backup 读取当前答题的备份数据
func (m *Manager) Backup(ctx context.Context) (BackupSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.state.(*InProgress)
	if !ok {
		return BackupSnapshot{}, ErrNoActiveAttempt
	}
	id := st.Attempt.ID
	out := BackupSnapshot{AttemptID: id, Answers: []model.UserAnswer{}}

	raw, found, err := m.backup.Get(ctx, answersKey(id))
	if err != nil {
		return out, err
	}
	if found && raw != "" {
		if err := json.Unmarshal([]byte(raw), &out.Answers); err != nil {
			return out, fmt.Errorf("decode answer backup: %w", err)
		}
	}
	visited, err := readIDSet(ctx, m.backup, visitedKey(id))
	if err != nil {
		return out, err
	}
	review, err := readIDSet(ctx, m.backup, reviewKey(id))
	if err != nil {
		return out, err
	}
	out.Visited = setKeys(visited)
	out.Review = setKeys(review)
	return out, nil
}

// View 当前会话的只读视图，不包含标准答案
type View struct {
	State             string                 `json:"state"`
	Attempting        bool                   `json:"attempting"`
	Exam              *model.Exam            `json:"exam,omitempty"`
	Questions         []model.PublicQuestion `json:"questions,omitempty"`
	Attempt           *model.ExamAttempt     `json:"attempt,omitempty"`
	RemainingSeconds  int                    `json:"remainingSeconds"`
	ConfirmedAnswered int                    `json:"confirmedAnswered"`
}

func (m *Manager) Current() View {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := View{State: m.state.Name(), Attempting: m.attempting}
	switch st := m.state.(type) {
	case *InProgress:
		exam := st.Exam
		a := st.Attempt
		a.Answers = st.orderedAnswers()
		v.Exam = &exam
		v.Attempt = &a
		v.Questions = make([]model.PublicQuestion, len(st.Questions))
		for i := range st.Questions {
			v.Questions[i] = st.Questions[i].Public()
		}
		v.RemainingSeconds = remaining(&exam, a.StartTime, m.clock.Now())
		v.ConfirmedAnswered = m.confirmedAnswered
	case *Submitted:
		a := st.Attempt
		v.Attempt = &a
	}
	return v
}

// deadline 开考时间加考试时长，且不晚于考试结束时间；未设置时长时以结束时间为准
func deadline(exam *model.Exam, start time.Time) (time.Time, bool) {
	if exam.DurationMinutes <= 0 {
		if exam.EndAt == nil {
			return time.Time{}, false
		}
		return *exam.EndAt, true
	}
	d := start.Add(time.Duration(exam.DurationMinutes) * time.Minute)
	if exam.EndAt != nil && exam.EndAt.Before(d) {
		d = *exam.EndAt
	}
	return d, true
}

func remaining(exam *model.Exam, start, now time.Time) int {
	d, ok := deadline(exam, start)
	if !ok {
		return 0
	}
	left := int(d.Sub(now).Seconds())
	if left < 0 {
		return 0
	}
	return left
}

// timeUp 到达截止时间后不再接受作答，交卷不受影响
func (m *Manager) timeUp(st *InProgress) bool {
	d, ok := deadline(&st.Exam, st.Attempt.StartTime)
	return ok && !m.clock.Now().Before(d)
}

// ApplySnapshot 处理实时推送；仍带有本地待写标记的快照直接忽略，避免回环
func (m *Manager) ApplySnapshot(snap Snapshot) {
	if snap.PendingWrites {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.state.(*InProgress)
	if !ok || st.Attempt.ID != snap.AttemptID {
		return
	}
	if snap.At.Before(m.confirmedAt) {
		return
	}
	m.confirmedAnswered = snap.Answered
	m.confirmedAt = snap.At
}

func (m *Manager) publish(ctx context.Context, st *InProgress, pending bool) {
	if m.pub == nil {
		return
	}
	m.pub.Publish(ctx, Snapshot{
		AttemptID:     st.Attempt.ID,
		ExamID:        st.Exam.ID,
		UserID:        m.userID,
		Answered:      len(st.Answers),
		PendingWrites: pending,
		At:            m.clock.Now(),
	})
}

func (m *Manager) retryHook(op string) retry.OnRetry {
	return func(attempt int, err error) {
		m.log.Warn("Persistence attempt failed", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
		if m.onRetry != nil {
			m.onRetry(attempt, err)
		}
	}
}

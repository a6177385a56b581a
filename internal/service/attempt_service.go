package service

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"exam_portal_backend/internal/attempt"
	"exam_portal_backend/internal/model"
	"exam_portal_backend/internal/repository"
	"exam_portal_backend/pkg/logger"
	"exam_portal_backend/pkg/monitoring"
	"exam_portal_backend/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// AttemptDeps 会话依赖；Cache 为空时每个会话使用自己的内存缓存
type AttemptDeps struct {
	Exams    *repository.ExamRepository
	Attempts *repository.AttemptRepository
	Backup   attempt.BackupStore
	Cache    attempt.SnapshotCache
	Hub      *AttemptHub
	Clock    attempt.Clock
}

// AttemptService 每个登录用户持有一个 attempt.Manager
type AttemptService struct {
	deps AttemptDeps
	log  *zap.Logger

	mu       sync.Mutex
	sessions map[uint]*attempt.Manager
	policy   attempt.Policy
}

func NewAttemptService(deps AttemptDeps, policy attempt.Policy) *AttemptService {
	s := &AttemptService{
		deps:     deps,
		log:      logger.Named("attempt"),
		sessions: make(map[uint]*attempt.Manager),
		policy:   policy,
	}
	if deps.Hub != nil {
		deps.Hub.OnSnapshot = s.ApplySnapshot
	}
	return s
}

func (s *AttemptService) session(userID uint) *attempt.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.sessions[userID]; ok {
		return m
	}
	deps := attempt.Deps{
		Exams:    s.deps.Exams,
		Attempts: s.deps.Attempts,
		Backup:   s.deps.Backup,
		Cache:    s.deps.Cache,
		Clock:    s.deps.Clock,
		Logger:   s.log,
		OnRetry: func(int, error) {
			monitoring.PersistRetries.WithLabelValues("attempt").Inc()
		},
	}
	if s.deps.Hub != nil {
		deps.Publisher = s.deps.Hub
	}
	m := attempt.NewManager(userID, deps, s.policy)
	s.sessions[userID] = m
	monitoring.ActiveSessions.Inc()
	return m
}

func (s *AttemptService) existing(userID uint) (*attempt.Manager, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.sessions[userID]
	return m, ok
}

func (s *AttemptService) Start(ctx context.Context, userID uint, examID string) (out attempt.StartOutcome, err error) {
	ctx, span := tracing.StartSpan(ctx, "attempt.start",
		attribute.String("exam.id", examID),
		attribute.Int64("user.id", int64(userID)))
	defer func() { tracing.EndSpan(span, err) }()

	if userID == 0 {
		monitoring.AttemptsStarted.WithLabelValues("rejected").Inc()
		return out, attempt.ErrNotAuthenticated
	}

	out, err = s.session(userID).StartExam(ctx, examID)
	if out.Attempt != nil {
		redact(out.Attempt)
	}
	switch {
	case err != nil && attempt.IsPrecondition(err):
		monitoring.AttemptsStarted.WithLabelValues("rejected").Inc()
	case err != nil:
		monitoring.AttemptsStarted.WithLabelValues("error").Inc()
	case out.AlreadyCompleted:
		monitoring.AttemptsStarted.WithLabelValues("completed").Inc()
	case out.Resumed:
		monitoring.AttemptsStarted.WithLabelValues("resumed").Inc()
	default:
		monitoring.AttemptsStarted.WithLabelValues("started").Inc()
	}
	return out, err
}

// inProgress 只有正在答题的会话才允许写入
func (s *AttemptService) inProgress(userID uint) (*attempt.Manager, error) {
	m, ok := s.existing(userID)
	if !ok {
		return nil, attempt.ErrNoActiveAttempt
	}
	if _, ok := m.State().(*attempt.InProgress); !ok {
		return nil, attempt.ErrNoActiveAttempt
	}
	return m, nil
}

// Answer 保存作答；持久化失败不会返回错误，备份数据可用于恢复
func (s *AttemptService) Answer(ctx context.Context, userID uint, questionID string, answer model.Answer) error {
	m, err := s.inProgress(userID)
	if err != nil {
		return err
	}
	ctx, span := tracing.StartSpan(ctx, "attempt.answer", attribute.String("question.id", questionID))
	defer span.End()

	if err := m.SubmitAnswer(ctx, questionID, answer); err != nil {
		monitoring.AnswersSaved.WithLabelValues("rejected").Inc()
		return err
	}
	monitoring.AnswersSaved.WithLabelValues("accepted").Inc()
	return nil
}

func (s *AttemptService) MarkVisited(ctx context.Context, userID uint, questionID string) error {
	m, err := s.inProgress(userID)
	if err != nil {
		return err
	}
	return m.MarkVisited(ctx, questionID)
}

func (s *AttemptService) MarkForReview(ctx context.Context, userID uint, questionID string, marked bool) error {
	m, err := s.inProgress(userID)
	if err != nil {
		return err
	}
	return m.MarkForReview(ctx, questionID, marked)
}

// Submit 交卷成功后结束会话
func (s *AttemptService) Submit(ctx context.Context, userID uint) (result *model.ExamAttempt, err error) {
	m, err := s.inProgress(userID)
	if err != nil {
		return nil, err
	}
	ctx, span := tracing.StartSpan(ctx, "attempt.submit", attribute.Int64("user.id", int64(userID)))
	defer func() { tracing.EndSpan(span, err) }()

	start := time.Now()
	result, err = m.SubmitExam(ctx)
	monitoring.SubmitDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		monitoring.Submissions.WithLabelValues("failed").Inc()
		return nil, err
	}
	monitoring.Submissions.WithLabelValues("submitted").Inc()
	s.End(userID)

	released, err := s.released(ctx, result.ExamID)
	if err != nil {
		s.log.Warn("Result release state unknown, hiding score", zap.String("examId", result.ExamID), zap.Error(err))
	}
	if !released {
		redact(result)
	}
	return result, nil
}

// Current 作答中的逐题得分始终隐藏，交卷后按成绩发布状态决定
func (s *AttemptService) Current(ctx context.Context, userID uint) attempt.View {
	m, ok := s.existing(userID)
	if !ok {
		return attempt.View{State: attempt.NotStarted{}.Name()}
	}
	v := m.Current()
	if v.Attempt == nil {
		return v
	}
	if v.Attempt.IsSubmitted {
		if released, err := s.released(ctx, v.Attempt.ExamID); err == nil && released {
			return v
		}
	}
	redact(v.Attempt)
	return v
}

func (s *AttemptService) Backup(ctx context.Context, userID uint) (attempt.BackupSnapshot, error) {
	m, ok := s.existing(userID)
	if !ok {
		return attempt.BackupSnapshot{}, attempt.ErrNoActiveAttempt
	}
	b, err := m.Backup(ctx)
	for i := range b.Answers {
		b.Answers[i].MarksEarned = 0
	}
	return b, err
}

// End 结束会话（退出登录或交卷后）
func (s *AttemptService) End(userID uint) {
	s.mu.Lock()
	m, ok := s.sessions[userID]
	delete(s.sessions, userID)
	s.mu.Unlock()

	if ok {
		m.Reset()
		monitoring.ActiveSessions.Dec()
	}
}

// ApplySnapshot 把实时快照交给对应用户的会话
func (s *AttemptService) ApplySnapshot(snap attempt.Snapshot) {
	if m, ok := s.existing(snap.UserID); ok {
		m.ApplySnapshot(snap)
	}
}

// UpdatePolicy 配置热更新时调用，对已有会话立即生效
func (s *AttemptService) UpdatePolicy(p attempt.Policy) {
	s.mu.Lock()
	s.policy = p
	sessions := make([]*attempt.Manager, 0, len(s.sessions))
	for _, m := range s.sessions {
		sessions = append(sessions, m)
	}
	s.mu.Unlock()

	for _, m := range sessions {
		m.SetPolicy(p)
	}
	s.log.Info("Attempt policy updated",
		zap.Duration("gracePeriod", p.GracePeriod),
		zap.Duration("cacheTTL", p.CacheTTL),
		zap.Int("sessions", len(sessions)))
}

// History 成绩未发布的考试不返回分数
func (s *AttemptService) History(ctx context.Context, userID uint) ([]model.ExamAttempt, error) {
	list, err := s.deps.Attempts.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	releasedByExam := make(map[string]bool)
	for i := range list {
		examID := list[i].ExamID
		released, ok := releasedByExam[examID]
		if !ok {
			if released, err = s.released(ctx, examID); err != nil {
				return nil, err
			}
			releasedByExam[examID] = released
		}
		if !released || !list[i].IsSubmitted {
			redact(&list[i])
		}
	}
	return list, nil
}

// AttemptResult 成绩未发布时隐藏分数
type AttemptResult struct {
	Attempt        *model.ExamAttempt `json:"attempt"`
	ResultReleased bool               `json:"resultReleased"`
}

func (s *AttemptService) Result(ctx context.Context, userID uint, isAdmin bool, attemptID string) (*AttemptResult, error) {
	a, err := s.deps.Attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.UserID != userID && !isAdmin {
		return nil, repository.ErrAttemptNotFound
	}

	released, err := s.released(ctx, a.ExamID)
	if err != nil {
		return nil, err
	}
	if !released && !isAdmin {
		redact(a)
	}
	return &AttemptResult{Attempt: a, ResultReleased: released}, nil
}

// released 考试已删除时按未发布处理
func (s *AttemptService) released(ctx context.Context, examID string) (bool, error) {
	exam, err := s.deps.Exams.GetExam(ctx, examID)
	switch {
	case err == nil:
		return exam.ResultReleased, nil
	case errors.Is(err, attempt.ErrExamNotFound):
		return false, nil
	default:
		return false, err
	}
}

// redact 清除总分和逐题得分；Answers 先复制，避免改动会话内的状态
func redact(a *model.ExamAttempt) {
	a.Score = 0
	a.TotalMarks = 0
	a.Answers = slices.Clone(a.Answers)
	for i := range a.Answers {
		a.Answers[i].MarksEarned = 0
	}
}

// ActiveSessions 当前内存中的会话数
func (s *AttemptService) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

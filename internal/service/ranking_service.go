package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"sort"
	"strconv"

	"exam_portal_backend/internal/model"
	"exam_portal_backend/internal/repository"
	"exam_portal_backend/internal/util"
	"exam_portal_backend/pkg/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type RankingService struct {
	Exams    *repository.ExamRepository
	Attempts *repository.AttemptRepository
	Rankings *repository.RankingRepository
	Users    *repository.UserRepository
	Storage  *StorageService
}

func NewRankingService(exams *repository.ExamRepository, attempts *repository.AttemptRepository, rankings *repository.RankingRepository, users *repository.UserRepository, storage *StorageService) *RankingService {
	return &RankingService{Exams: exams, Attempts: attempts, Rankings: rankings, Users: users, Storage: storage}
}

type ReleaseResult struct {
	Rankings   []model.Ranking `json:"rankings"`
	ArchiveURL string          `json:"archiveUrl,omitempty"`
}

func rankingArchiveName(examID string) string {
	return "rankings/" + examID + ".csv"
}

// ReleaseResults 生成排行榜并发布成绩，可重复调用（覆盖之前的排名）
func (s *RankingService) ReleaseResults(ctx context.Context, examID string) (*ReleaseResult, error) {
	if _, err := s.Exams.GetExam(ctx, examID); err != nil {
		return nil, err
	}
	attempts, err := s.Attempts.ListSubmittedByExam(ctx, examID)
	if err != nil {
		return nil, err
	}

	ids := make([]uint, len(attempts))
	for i, a := range attempts {
		ids[i] = a.UserID
	}
	names, err := s.Users.NamesByIDs(ids)
	if err != nil {
		return nil, err
	}

	rankings := Rank(examID, attempts, names)
	if err := s.Rankings.Replace(ctx, examID, rankings); err != nil {
		return nil, err
	}
	logger.Log.Info("Exam results released", zap.String("examId", examID), zap.Int("ranked", len(rankings)))

	out := &ReleaseResult{Rankings: rankings}
	if s.Storage != nil {
		url, err := s.archive(ctx, examID, rankings)
		if err != nil {
			logger.Log.Warn("Failed to archive rankings", zap.String("examId", examID), zap.Error(err))
		} else {
			out.ArchiveURL = url
		}
	}
	return out, nil
}

func (s *RankingService) List(ctx context.Context, examID string) ([]model.Ranking, error) {
	exam, err := s.Exams.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	if !exam.ResultReleased {
		return nil, util.ErrResultsNotReleased
	}
	return s.Rankings.ListByExam(ctx, examID)
}

// Rank 每个用户取最高分；按得分降序、交卷时间升序排序，同分同名次（1,1,3）
func Rank(examID string, attempts []model.ExamAttempt, names map[uint]string) []model.Ranking {
	best := make(map[uint]model.ExamAttempt, len(attempts))
	for _, a := range attempts {
		cur, ok := best[a.UserID]
		if !ok || a.Score > cur.Score {
			best[a.UserID] = a
		}
	}

	list := make([]model.ExamAttempt, 0, len(best))
	for _, a := range best {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Score != list[j].Score {
			return list[i].Score > list[j].Score
		}
		ei, ej := list[i].EndTime, list[j].EndTime
		if ei != nil && ej != nil && !ei.Equal(*ej) {
			return ei.Before(*ej)
		}
		return list[i].UserID < list[j].UserID
	})

	out := make([]model.Ranking, len(list))
	for i, a := range list {
		rank := i + 1
		if i > 0 && decimal.NewFromFloat(a.Score).Equal(decimal.NewFromFloat(list[i-1].Score)) {
			rank = out[i-1].Rank
		}
		out[i] = model.Ranking{
			ExamID:      examID,
			UserID:      a.UserID,
			DisplayName: names[a.UserID],
			Score:       a.Score,
			Rank:        rank,
		}
	}
	return out
}

func (s *RankingService) archive(ctx context.Context, examID string, rankings []model.Ranking) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"rank", "user_id", "name", "score"})
	for _, r := range rankings {
		w.Write([]string{
			strconv.Itoa(r.Rank),
			strconv.FormatUint(uint64(r.UserID), 10),
			r.DisplayName,
			strconv.FormatFloat(r.Score, 'f', 2, 64),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return s.Storage.Upload(ctx, rankingArchiveName(examID), bytes.NewReader(buf.Bytes()), int64(buf.Len()), util.MimeCSV)
}

package repository

import (
	"context"
	"errors"
	"time"

	"exam_portal_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AttemptRepository 答题记录的主存储，实现 attempt.AttemptGateway
type AttemptRepository struct {
	DB *gorm.DB
}

func NewAttemptRepository(db *gorm.DB) *AttemptRepository {
	return &AttemptRepository{DB: db}
}

// CreateAttempt 主键已存在且属于同一用户同一考试时视为成功（上一次写入已提交但调用方超时重试）
func (r *AttemptRepository) CreateAttempt(ctx context.Context, a *model.ExamAttempt) error {
	res := r.DB.WithContext(ctx).Omit("Answers").Clauses(clause.OnConflict{DoNothing: true}).Create(a)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var cur model.ExamAttempt
	if err := r.DB.WithContext(ctx).Select("id", "user_id", "exam_id", "is_submitted").First(&cur, "id = ?", a.ID).Error; err != nil {
		return err
	}
	if cur.UserID != a.UserID || cur.ExamID != a.ExamID {
		return ErrAttemptIDTaken
	}
	if cur.IsSubmitted {
		return ErrAttemptFrozen
	}
	return nil
}

func (r *AttemptRepository) FindSubmittedAttempt(ctx context.Context, userID uint, examID string) (*model.ExamAttempt, error) {
	var a model.ExamAttempt
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND exam_id = ? AND is_submitted = ?", userID, examID, true).
		Order("end_time desc").
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// SaveAnswers 以 (attempt_id, question_id) 为键整体 upsert
func (r *AttemptRepository) SaveAnswers(ctx context.Context, attemptID string, answers []model.UserAnswer) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureOpen(tx, attemptID); err != nil {
			return err
		}
		if len(answers) == 0 {
			return nil
		}

		rows := make([]model.UserAnswer, len(answers))
		for i, a := range answers {
			a.ID = 0
			a.AttemptID = attemptID
			rows[i] = a
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "attempt_id"}, {Name: "question_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"answer", "marks_earned", "status", "updated_at"}),
		}).Create(&rows).Error
	})
}

// FinalizeAttempt 交卷。只有未提交的记录会被更新；
// 若同一次交卷已经提交成功（例如超时后重试），视为成功。
func (r *AttemptRepository) FinalizeAttempt(ctx context.Context, a *model.ExamAttempt) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.ExamAttempt{}).
			Where("id = ? AND is_submitted = ?", a.ID, false).
			Updates(map[string]interface{}{
				"is_submitted": true,
				"end_time":     a.EndTime,
				"score":        a.Score,
				"total_marks":  a.TotalMarks,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var cur model.ExamAttempt
			if err := tx.First(&cur, "id = ?", a.ID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrAttemptNotFound
				}
				return err
			}
			if cur.IsSubmitted && sameInstant(cur.EndTime, a.EndTime) {
				return nil
			}
			return ErrAttemptFrozen
		}

		if err := tx.Where("attempt_id = ?", a.ID).Delete(&model.UserAnswer{}).Error; err != nil {
			return err
		}
		if len(a.Answers) == 0 {
			return nil
		}
		rows := make([]model.UserAnswer, len(a.Answers))
		for i, ans := range a.Answers {
			ans.ID = 0
			ans.AttemptID = a.ID
			rows[i] = ans
		}
		return tx.CreateInBatches(&rows, 100).Error
	})
}

func (r *AttemptRepository) GetAttempt(ctx context.Context, id string) (*model.ExamAttempt, error) {
	var a model.ExamAttempt
	err := r.DB.WithContext(ctx).
		Preload("Answers", func(db *gorm.DB) *gorm.DB { return db.Order("id asc") }).
		First(&a, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAttemptNotFound
	}
	return &a, err
}

func (r *AttemptRepository) ListByUser(ctx context.Context, userID uint) ([]model.ExamAttempt, error) {
	var list []model.ExamAttempt
	err := r.DB.WithContext(ctx).Where("user_id = ?", userID).Order("start_time desc").Find(&list).Error
	return list, err
}

func (r *AttemptRepository) ListSubmittedByExam(ctx context.Context, examID string) ([]model.ExamAttempt, error) {
	var list []model.ExamAttempt
	err := r.DB.WithContext(ctx).
		Where("exam_id = ? AND is_submitted = ?", examID, true).
		Order("score desc, end_time asc").
		Find(&list).Error
	return list, err
}

func ensureOpen(tx *gorm.DB, attemptID string) error {
	var a model.ExamAttempt
	err := tx.Select("id", "is_submitted").First(&a, "id = ?", attemptID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrAttemptNotFound
	}
	if err != nil {
		return err
	}
	if a.IsSubmitted {
		return ErrAttemptFrozen
	}
	return nil
}

// sameInstant 数据库时间精度可能低于内存，比较到秒
func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	d := a.Sub(*b)
	if d < 0 {
		d = -d
	}
	return d < time.Second
}

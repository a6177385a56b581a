package repository

import (
	"context"

	"exam_portal_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RankingRepository struct {
	DB *gorm.DB
}

func NewRankingRepository(db *gorm.DB) *RankingRepository {
	return &RankingRepository{DB: db}
}

// Replace 重新发布成绩时整体覆盖，并在同一事务内标记成绩已发布
func (r *RankingRepository) Replace(ctx context.Context, examID string, rankings []model.Ranking) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("exam_id = ?", examID).Delete(&model.Ranking{}).Error; err != nil {
			return err
		}
		if len(rankings) > 0 {
			if err := tx.CreateInBatches(&rankings, 200).Error; err != nil {
				return err
			}
		}
		return tx.Model(&model.Exam{}).Where("id = ?", examID).Update("result_released", true).Error
	})
}

func (r *RankingRepository) ListByExam(ctx context.Context, examID string) ([]model.Ranking, error) {
	var list []model.Ranking
	err := r.DB.WithContext(ctx).Where("exam_id = ?", examID).Clauses(clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: "rank"}},
		{Column: clause.Column{Name: "user_id"}},
	}}).Find(&list).Error
	return list, err
}

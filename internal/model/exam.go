package model

import (
	"time"

	"gorm.io/datatypes"
)

// swagger:model Exam
type Exam struct {
	UUIDBase
	Title           string                      `gorm:"size:255;not null" json:"title"`
	Description     string                      `gorm:"type:text" json:"description"`
	DurationMinutes int                         `gorm:"default:0" json:"durationMinutes"`
	StartAt         *time.Time                  `gorm:"index" json:"startAt,omitempty"`
	EndAt           *time.Time                  `json:"endAt,omitempty"`
	IsActive        bool                        `gorm:"default:false;index" json:"isActive"`
	IsCompleted     bool                        `gorm:"default:false" json:"isCompleted"`
	ResultReleased  bool                        `gorm:"default:false" json:"resultReleased"`
	Subjects        datatypes.JSONSlice[string] `json:"subjects"`
	QuestionCount   int                         `gorm:"default:0" json:"questionCount"`
	CreatorID       uint                        `gorm:"index" json:"creatorId"`
}

func (Exam) TableName() string {
	return "exams"
}

// HasWindow 考试必须同时声明开始和结束时间
func (e *Exam) HasWindow() bool {
	return e.StartAt != nil && e.EndAt != nil
}

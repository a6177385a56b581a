package model

// swagger:model Ranking
type Ranking struct {
	BaseModel
	ExamID      string  `gorm:"index;type:varchar(36)" json:"examId"`
	UserID      uint    `gorm:"index" json:"userId"`
	DisplayName string  `gorm:"size:100" json:"displayName"`
	Score       float64 `json:"score"`
	Rank        int     `json:"rank"`
}

func (Ranking) TableName() string {
	return "rankings"
}

package database

import "time"

// EvaluationSettings controls the background evaluation sweep
type EvaluationSettings struct {
	ID                       uint      `gorm:"primaryKey" json:"id"`
	SweepEnabled             bool      `gorm:"default:true" json:"sweep_enabled"`
	SweepIntervalMinutes     int       `gorm:"default:5" json:"sweep_interval_minutes"`
	SweepBatchLimit          int       `gorm:"default:200" json:"sweep_batch_limit"`
	EvaluationConcurrency    int       `gorm:"default:10" json:"evaluation_concurrency"`
	EvaluationTimeoutSeconds int       `gorm:"default:30" json:"evaluation_timeout_seconds"`
	NotifyReviews            bool      `gorm:"default:true" json:"notify_reviews"`
	CreatedAt                time.Time `json:"created_at"`
	UpdatedAt                time.Time `json:"updated_at"`
}

func (EvaluationSettings) TableName() string {
	return "evaluation_settings"
}

// NewDefaultEvaluationSettings returns settings with default values
func NewDefaultEvaluationSettings() *EvaluationSettings {
	return &EvaluationSettings{
		SweepEnabled:             true,
		SweepIntervalMinutes:     5,
		SweepBatchLimit:          200,
		EvaluationConcurrency:    10,
		EvaluationTimeoutSeconds: 30,
		NotifyReviews:            true,
	}
}

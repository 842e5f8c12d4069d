package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// JobStatus 任务执行状态
type JobStatus string

const (
	JobStatusRunning JobStatus = "running"
	JobStatusSuccess JobStatus = "success"
	JobStatusFailed  JobStatus = "failed"
	JobStatusSkipped JobStatus = "skipped"
)

// JobExecution 任务执行记录
type JobExecution struct {
	ID           int64      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	JobName      string     `gorm:"column:job_name;type:varchar(100);index;not null" json:"job_name"`
	Status       JobStatus  `gorm:"column:status;type:varchar(20);not null" json:"status"`
	StartedAt    int64      `gorm:"column:started_at;not null" json:"started_at"`
	FinishedAt   *int64     `gorm:"column:finished_at" json:"finished_at,omitempty"`
	DurationMs   *int       `gorm:"column:duration_ms" json:"duration_ms,omitempty"`
	ErrorMessage *string    `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	Result       JSONResult `gorm:"column:result;type:text" json:"result,omitempty"`
	CreatedAt    int64      `gorm:"column:created_at;index;not null" json:"created_at"`
}

// TableName 表名
func (JobExecution) TableName() string {
	return "job_executions"
}

// JSONResult 任务结果, 以 JSON 文本存储
type JSONResult map[string]interface{}

// Value 实现 driver.Valuer
func (j JSONResult) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner
func (j *JSONResult) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("unsupported JSONResult source type")
	}
	return json.Unmarshal(raw, j)
}

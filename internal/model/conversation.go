// Package model 包含了应用的数据模型定义。
package model

import "time"

// ChatMessage 代表对话窗口中的单条消息。
type ChatMessage struct {
	Role      string    `json:"role"` // "user" 或 "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// QA 日志中的日期与时间格式。
const (
	QADateLayout = "2006-01-02"
	QATimeLayout = "15:04:05"
)

// QARecord 代表一次问答，JSON 形态即问答日志数组中的一项。
// gorm 字段用于可选的 MySQL 镜像表。
type QARecord struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	Workspace string    `gorm:"type:varchar(64);index;not null" json:"-"`
	Date      string    `gorm:"type:varchar(10);not null" json:"date"`
	Time      string    `gorm:"type:varchar(8);not null" json:"time"`
	Question  string    `gorm:"type:text;not null" json:"question"`
	Answer    string    `gorm:"type:text;not null" json:"answer"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"-"`
}

func (QARecord) TableName() string {
	return "qa_records"
}

// NewQARecord 按本地时间生成日期与时间字段。
func NewQARecord(now time.Time, question, answer string) QARecord {
	return QARecord{
		Date:     now.Format(QADateLayout),
		Time:     now.Format(QATimeLayout),
		Question: question,
		Answer:   answer,
	}
}

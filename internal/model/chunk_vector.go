package model

import "time"

// ChunkVector 对应本地向量库中的 chunks 表，向量以小端 float32 字节存储。
type ChunkVector struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	ChunkID     string `gorm:"type:varchar(64);not null;uniqueIndex"`
	Source      string `gorm:"type:text;not null;index"`
	Language    string `gorm:"type:varchar(32)"`
	ContentType string `gorm:"type:varchar(32)"`
	ChunkIndex  int    `gorm:"not null"`
	Content     string `gorm:"type:text;not null"`
	Vector      []byte `gorm:"not null"`
}

func (ChunkVector) TableName() string {
	return "chunks"
}

// StoreMeta 记录一次构建使用的 embedding 模型与维度。
type StoreMeta struct {
	ID         uint      `gorm:"primaryKey"`
	Model      string    `gorm:"type:varchar(128)"`
	Dimensions int       `gorm:"not null"`
	Chunks     int       `gorm:"not null"`
	BuiltAt    time.Time `gorm:"not null"`
}

func (StoreMeta) TableName() string {
	return "store_meta"
}

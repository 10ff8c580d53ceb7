package model

import (
	"errors"
	"fmt"
)

// Stage 标识流水线中出错的阶段。
type Stage string

const (
	StageIngestion  Stage = "ingestion"
	StageIndexing   Stage = "indexing"
	StageGeneration Stage = "generation"
)

// 阶段哨兵错误，用 errors.Is 判断 StageError 属于哪个阶段。
var (
	ErrIngestion  = errors.New("ingestion failed")
	ErrIndexing   = errors.New("indexing failed")
	ErrGeneration = errors.New("generation failed")
)

// 业务哨兵错误。
var (
	ErrInvalidURL    = errors.New("invalid repository url")
	ErrEmptyQuestion = errors.New("question is empty")
	ErrEmptyStore    = errors.New("vector store is empty, process a repository first")
	ErrNoDocuments   = errors.New("no source documents matched the language filter")
	ErrBusy          = errors.New("workspace is being processed")
	ErrMalformedLog  = errors.New("qa log is not a json array")
)

// StageError 包装某个阶段的底层错误，同时保留原始错误链。
type StageError struct {
	Stage Stage
	Op    string
	Err   error
}

func (e *StageError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Op, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Is 让 errors.Is(err, ErrIndexing) 这类判断按阶段匹配。
func (e *StageError) Is(target error) bool {
	switch target {
	case ErrIngestion:
		return e.Stage == StageIngestion
	case ErrIndexing:
		return e.Stage == StageIndexing
	case ErrGeneration:
		return e.Stage == StageGeneration
	}
	return false
}

// NewStageError 构造阶段错误，err 为 nil 时返回 nil。
// 已经是同阶段的 StageError 不再重复包装。
func NewStageError(stage Stage, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) && se.Stage == stage {
		return err
	}
	return &StageError{Stage: stage, Op: op, Err: err}
}

// StageOf 返回错误所属阶段，非 StageError 返回空串。
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

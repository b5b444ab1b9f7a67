package models

import "errors"

var (
	// ErrNotFound 引用的报警/报告/用户不存在
	ErrNotFound = errors.New("not found")
	// ErrValidation 缺少必填字段或字段非法，写入前拒绝
	ErrValidation = errors.New("validation failed")
	// ErrAlreadyResolved 报警已处理，不允许再次处理
	ErrAlreadyResolved = errors.New("alert already resolved")
	// ErrDuplicateOpenAlert 同一 (source_id, type) 已存在未处理报警
	ErrDuplicateOpenAlert = errors.New("open alert already exists for source")
)

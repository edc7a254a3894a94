package repository

import "errors"

// ErrNotFound 记录不存在，由各仓储把 gorm.ErrRecordNotFound 转换而来
var ErrNotFound = errors.New("record not found")

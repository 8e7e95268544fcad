package db

import (
	"time"

	"gorm.io/gorm"
)

// 任务类型标签，路由层按此分发
// preset 为预留类型，当前不支持任何操作
const (
	TaskKindOneOff    = "one_off"
	TaskKindPermanent = "permanent"
	TaskKindPreset    = "preset"
)

// Task 是所有任务类型的权威列表行
// 一次性任务、模板、模板实例都会在这里占一行，UI 层只读这张表
// Notes 为 Markdown 备注，渲染时经过净化
// Kind 区分任务类型；permanent 行需结合 templates/template_instances 判断角色
type Task struct {
	gorm.Model
	Title     string `gorm:"not null"`
	Notes     string
	Completed bool   `gorm:"not null;default:false"`
	Location  string
	Kind      string `gorm:"not null;default:one_off;index"`
	DueDate   *time.Time
}

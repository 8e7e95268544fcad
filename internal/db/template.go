package db

import "time"

// Template 定义了周期任务模板
// PermanentID 与模板在 tasks 表中的行 ID 一致，模板本身永远不会被标记完成
// AutoRepeat 存放序列化后的重复配置（见 service.Recurrence），为空表示不自动续期
// InstanceCount 记录当前存活实例数，删除实例时递减且不会小于零
type Template struct {
	PermanentID   uint   `gorm:"primaryKey;autoIncrement:false"`
	TemplateTitle string `gorm:"not null"`
	IsTemplate    bool   `gorm:"not null;default:true"`
	InstanceCount int    `gorm:"not null;default:0"`
	AutoRepeat    *string
	Location      string
	CreatedAt     time.Time
}

// TemplateInstance 是模板与其实例任务行之间的关联记录
// InstanceID 即实例在 tasks 表中的行 ID，与 TemplateID 组成联合主键
// DueDate 冗余存一份，供续期计算使用
type TemplateInstance struct {
	InstanceID uint `gorm:"primaryKey;autoIncrement:false"`
	TemplateID uint `gorm:"primaryKey;autoIncrement:false;index"`
	CreatedAt  time.Time
	DueDate    *time.Time
}

// TableName 保持与既有库表名一致
func (TemplateInstance) TableName() string {
	return "template_instances"
}

// TemplateStats 按模板聚合完成情况
// 每个模板至多一条，由完成操作惰性创建，随模板级联删除
// CompletionMon..Sun 是周一到周日的完成次数直方图
type TemplateStats struct {
	TemplateID      uint `gorm:"primaryKey;autoIncrement:false"`
	CompletionCount int
	CompletionRate  float64
	CurrentStreak   int
	MaxStreak       int
	CompletionMon   int
	CompletionTue   int
	CompletionWed   int
	CompletionThu   int
	CompletionFri   int
	CompletionSat   int
	CompletionSun   int
	LastUpdatedAt   time.Time
}

// TableName 统计表使用复数形式之外的固定名称
func (TemplateStats) TableName() string {
	return "template_stats"
}

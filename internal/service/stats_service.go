package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/tasklog/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StatsService 维护模板维度的完成统计
// 每个模板至多一条记录，首次完成时惰性建零值行
type StatsService struct {
	db        *gorm.DB
	templates *TemplateService
}

// NewStatsService 构造 StatsService
func NewStatsService(gdb *gorm.DB, templates *TemplateService) *StatsService {
	return &StatsService{db: gdb, templates: templates}
}

// RecordCompletion 记录一次完成并返回更新后的统计。
// 连胜按"连续完成事件"计数：中间删掉没完成的实例不会中断连胜，
// 这是沿用的简化口径，不检测被跳过的排期。
// 该写入与实例完成的写入不在同一事务内，调用顺序由 TaskService 保证。
func (s *StatsService) RecordCompletion(templateID uint, completedAt time.Time) (*db.TemplateStats, error) {
	tpl, err := s.templates.Get(templateID)
	if err != nil {
		return nil, err
	}

	stats, err := s.loadOrInit(templateID)
	if err != nil {
		return nil, err
	}

	stats.CompletionCount++
	stats.CurrentStreak++
	if stats.CurrentStreak > stats.MaxStreak {
		stats.MaxStreak = stats.CurrentStreak
	}
	bumpWeekday(stats, completedAt)

	if tpl.InstanceCount > 0 {
		stats.CompletionRate = float64(stats.CompletionCount) / float64(tpl.InstanceCount)
	} else {
		stats.CompletionRate = 0
	}
	stats.LastUpdatedAt = time.Now()

	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "template_id"}},
		UpdateAll: true,
	}).Create(stats).Error; err != nil {
		return nil, fmt.Errorf("save template stats: %w", err)
	}

	return stats, nil
}

func (s *StatsService) loadOrInit(templateID uint) (*db.TemplateStats, error) {
	var stats db.TemplateStats
	err := s.db.First(&stats, "template_id = ?", templateID).Error
	if err == nil {
		return &stats, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &db.TemplateStats{TemplateID: templateID}, nil
	}
	return nil, fmt.Errorf("load template stats: %w", err)
}

func bumpWeekday(stats *db.TemplateStats, at time.Time) {
	switch at.Weekday() {
	case time.Monday:
		stats.CompletionMon++
	case time.Tuesday:
		stats.CompletionTue++
	case time.Wednesday:
		stats.CompletionWed++
	case time.Thursday:
		stats.CompletionThu++
	case time.Friday:
		stats.CompletionFri++
	case time.Saturday:
		stats.CompletionSat++
	case time.Sunday:
		stats.CompletionSun++
	}
}

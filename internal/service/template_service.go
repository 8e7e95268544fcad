package service

import (
	"errors"
	"fmt"

	"github.com/tasklog/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrTemplateNotFound 在指定模板不存在时返回
var ErrTemplateNotFound = errors.New("template not found")

// TemplateService 负责模板记录的持久化
// 模板在 tasks 表中占一行（PermanentID 即该行 ID），删除时级联清理
// 实例关联与统计记录，保证调用方视角下的原子性
type TemplateService struct {
	db *gorm.DB
}

// NewTemplateService 构造 TemplateService
func NewTemplateService(gdb *gorm.DB) *TemplateService {
	return &TemplateService{db: gdb}
}

// Save 写入模板记录，已存在时整行覆盖，重复保存同一内容等价于无操作
func (s *TemplateService) Save(tpl *db.Template) error {
	if tpl == nil || tpl.PermanentID == 0 {
		return fmt.Errorf("%w: template requires a permanent id", ErrValidation)
	}

	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "permanent_id"}},
		UpdateAll: true,
	}).Create(tpl).Error; err != nil {
		return fmt.Errorf("save template: %w", err)
	}
	return nil
}

// Get 根据 PermanentID 获取模板
func (s *TemplateService) Get(id uint) (*db.Template, error) {
	var tpl db.Template
	if err := s.db.First(&tpl, "permanent_id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	return &tpl, nil
}

// List 返回全部模板，按创建时间倒序
func (s *TemplateService) List() ([]db.Template, error) {
	var templates []db.Template
	if err := s.db.Order("created_at DESC").Find(&templates).Error; err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return templates, nil
}

// Stats 返回模板的统计记录，尚未产生完成记录时为 nil
func (s *TemplateService) Stats(id uint) (*db.TemplateStats, error) {
	var stats db.TemplateStats
	if err := s.db.First(&stats, "template_id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get template stats: %w", err)
	}
	return &stats, nil
}

// Delete 级联删除模板：所有实例的任务行、实例关联、统计记录、
// 模板记录及模板自身的任务行在同一事务内一并移除。
// 不会回算统计（统计记录整条删除），也不保留任何孤儿行。
func (s *TemplateService) Delete(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var tpl db.Template
		if err := tx.First(&tpl, "permanent_id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTemplateNotFound
			}
			return fmt.Errorf("find template: %w", err)
		}

		var links []db.TemplateInstance
		if err := tx.Where("template_id = ?", id).Find(&links).Error; err != nil {
			return fmt.Errorf("find template instances: %w", err)
		}

		if len(links) > 0 {
			instanceIDs := make([]uint, 0, len(links))
			for _, link := range links {
				instanceIDs = append(instanceIDs, link.InstanceID)
			}
			if err := tx.Delete(&db.Task{}, instanceIDs).Error; err != nil {
				return fmt.Errorf("delete instance tasks: %w", err)
			}
		}

		if err := tx.Where("template_id = ?", id).Delete(&db.TemplateInstance{}).Error; err != nil {
			return fmt.Errorf("delete template instances: %w", err)
		}
		if err := tx.Where("template_id = ?", id).Delete(&db.TemplateStats{}).Error; err != nil {
			return fmt.Errorf("delete template stats: %w", err)
		}
		if err := tx.Where("permanent_id = ?", id).Delete(&db.Template{}).Error; err != nil {
			return fmt.Errorf("delete template: %w", err)
		}
		if err := tx.Delete(&db.Task{}, id).Error; err != nil {
			return fmt.Errorf("delete template task: %w", err)
		}

		return nil
	})
}

// IncrementInstanceCount 在创建实例后调用
func (s *TemplateService) IncrementInstanceCount(tx *gorm.DB, id uint) error {
	if tx == nil {
		tx = s.db
	}
	if err := tx.Model(&db.Template{}).
		Where("permanent_id = ?", id).
		UpdateColumn("instance_count", gorm.Expr("instance_count + 1")).Error; err != nil {
		return fmt.Errorf("increment instance count: %w", err)
	}
	return nil
}

// DecrementInstanceCount 在删除实例后调用，计数到零后不再下降
func (s *TemplateService) DecrementInstanceCount(tx *gorm.DB, id uint) error {
	if tx == nil {
		tx = s.db
	}
	if err := tx.Model(&db.Template{}).
		Where("permanent_id = ? AND instance_count > 0", id).
		UpdateColumn("instance_count", gorm.Expr("instance_count - 1")).Error; err != nil {
		return fmt.Errorf("decrement instance count: %w", err)
	}
	return nil
}

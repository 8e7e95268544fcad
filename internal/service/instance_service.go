package service

import (
	"errors"
	"fmt"

	"github.com/tasklog/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInstanceNotFound 在指定实例不存在时返回
var ErrInstanceNotFound = errors.New("template instance not found")

// InstanceService 负责模板实例关联记录的持久化
// 实例在 tasks 表中另有一行（InstanceID 即该行 ID），这里只管理
// 实例与模板之间的关联及到期时间副本
type InstanceService struct {
	db        *gorm.DB
	templates *TemplateService
}

// NewInstanceService 构造 InstanceService
func NewInstanceService(gdb *gorm.DB, templates *TemplateService) *InstanceService {
	return &InstanceService{db: gdb, templates: templates}
}

// Save 写入实例关联，已存在时整行覆盖，重复保存同一内容等价于无操作。
// 创建时要求模板必须存在，实例永远不会反过来变成模板。
func (s *InstanceService) Save(inst *db.TemplateInstance) error {
	if inst == nil || inst.InstanceID == 0 || inst.TemplateID == 0 {
		return fmt.Errorf("%w: instance requires instance and template ids", ErrValidation)
	}

	if _, err := s.templates.Get(inst.TemplateID); err != nil {
		return err
	}

	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "instance_id"}, {Name: "template_id"}},
		UpdateAll: true,
	}).Create(inst).Error; err != nil {
		return fmt.Errorf("save template instance: %w", err)
	}
	return nil
}

// Get 根据实例任务行 ID 获取关联记录
func (s *InstanceService) Get(instanceID uint) (*db.TemplateInstance, error) {
	var inst db.TemplateInstance
	if err := s.db.First(&inst, "instance_id = ?", instanceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInstanceNotFound
		}
		return nil, fmt.Errorf("get template instance: %w", err)
	}
	return &inst, nil
}

// ListByTemplate 返回指定模板的全部实例关联，按创建时间升序
func (s *InstanceService) ListByTemplate(templateID uint) ([]db.TemplateInstance, error) {
	var instances []db.TemplateInstance
	if err := s.db.Where("template_id = ?", templateID).
		Order("created_at ASC").
		Find(&instances).Error; err != nil {
		return nil, fmt.Errorf("list template instances: %w", err)
	}
	return instances, nil
}

// Delete 删除单个实例：移除关联与任务行，并将模板存活计数减一。
// 完成次数等历史统计不回算，删除已完成实例不影响 completion_count。
func (s *InstanceService) Delete(instanceID uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var inst db.TemplateInstance
		if err := tx.First(&inst, "instance_id = ?", instanceID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInstanceNotFound
			}
			return fmt.Errorf("find template instance: %w", err)
		}

		if err := tx.Where("instance_id = ?", instanceID).Delete(&db.TemplateInstance{}).Error; err != nil {
			return fmt.Errorf("delete template instance: %w", err)
		}
		if err := tx.Delete(&db.Task{}, instanceID).Error; err != nil {
			return fmt.Errorf("delete instance task: %w", err)
		}

		return s.templates.DecrementInstanceCount(tx, inst.TemplateID)
	})
}

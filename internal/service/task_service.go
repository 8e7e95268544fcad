package service

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/tasklog/internal/db"
	"gorm.io/gorm"
)

var (
	// ErrValidation 在必填字段缺失或取值非法时返回
	ErrValidation = errors.New("invalid task input")
	// ErrTaskNotFound 在任务行不存在时返回
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvariantViolation 在操作违反任务类型约束时返回，例如完成一个模板
	ErrInvariantViolation = errors.New("operation not allowed for this task")
	// ErrUnsupportedKind preset 类型预留未实现，所有操作显式拒绝而不是静默跳过
	ErrUnsupportedKind = errors.New("preset tasks are not implemented yet")
)

// TaskService 是所有任务操作的唯一入口
// 按任务类型分发：one_off 走内联增删改，permanent 走模板/实例流水线，
// 跨类型的约束（模板不可完成、身份字段不可变）也在这里兜底
type TaskService struct {
	db        *gorm.DB
	templates *TemplateService
	instances *InstanceService
	stats     *StatsService
}

// NewTaskService 构造 TaskService，存储层显式注入，便于测试替换
func NewTaskService(gdb *gorm.DB, templates *TemplateService, instances *InstanceService, stats *StatsService) *TaskService {
	return &TaskService{db: gdb, templates: templates, instances: instances, stats: stats}
}

// CreateTaskInput 定义创建任务时可配置字段
// TemplateID 非空表示基于既有模板生成实例，否则 permanent 类型创建新模板
type CreateTaskInput struct {
	Title      string
	Kind       string
	Notes      string
	Location   string
	DueDate    *time.Time
	TemplateID *uint
	Recurrence *Recurrence
}

// ReassignInput 定义可变更字段，nil 表示保持原值
// 模板与实例的关联关系、任务角色不在其中，身份字段不可变更
type ReassignInput struct {
	Title           *string
	Notes           *string
	Location        *string
	DueDate         *time.Time
	Recurrence      *Recurrence
	ClearRecurrence bool
}

// CompletionResult 汇总一次完成操作的全部产物
// SpawnWarning 非空表示自动续期失败，完成本身依然成功
type CompletionResult struct {
	Task         *db.Task
	Stats        *db.TemplateStats
	Next         *db.Task
	SpawnWarning string
}

// Create 按类型创建任务
func (s *TaskService) Create(input CreateTaskInput) (*db.Task, error) {
	kind := strings.TrimSpace(strings.ToLower(input.Kind))
	if kind == "" {
		kind = db.TaskKindOneOff
	}

	switch kind {
	case db.TaskKindOneOff:
		title := strings.TrimSpace(input.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: title is required", ErrValidation)
		}
		if input.Recurrence != nil {
			return nil, fmt.Errorf("%w: one-off tasks cannot carry a recurrence", ErrValidation)
		}
		task := &db.Task{
			Title:    title,
			Notes:    input.Notes,
			Location: strings.TrimSpace(input.Location),
			Kind:     db.TaskKindOneOff,
			DueDate:  input.DueDate,
		}
		if err := s.db.Create(task).Error; err != nil {
			return nil, fmt.Errorf("create task: %w", err)
		}
		return task, nil

	case db.TaskKindPermanent:
		if input.TemplateID != nil {
			tpl, err := s.templates.Get(*input.TemplateID)
			if err != nil {
				return nil, err
			}
			return s.spawnInstance(tpl, input.Title, input.Notes, input.Location, input.DueDate)
		}
		return s.createTemplate(input)

	case db.TaskKindPreset:
		return nil, ErrUnsupportedKind
	}

	return nil, fmt.Errorf("%w: unknown task kind %q", ErrValidation, input.Kind)
}

// createTemplate 在同一事务里写任务行与模板记录
func (s *TaskService) createTemplate(input CreateTaskInput) (*db.Task, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: template title is required", ErrValidation)
	}

	var autoRepeat *string
	if input.Recurrence != nil {
		encoded, err := EncodeRecurrence(*input.Recurrence)
		if err != nil {
			return nil, err
		}
		autoRepeat = &encoded
	}

	// 模板行没有到期时间，到期只属于实例
	task := &db.Task{
		Title:    title,
		Notes:    input.Notes,
		Location: strings.TrimSpace(input.Location),
		Kind:     db.TaskKindPermanent,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(task).Error; err != nil {
			return fmt.Errorf("create template task: %w", err)
		}
		tpl := &db.Template{
			PermanentID:   task.ID,
			TemplateTitle: title,
			IsTemplate:    true,
			Location:      task.Location,
			AutoRepeat:    autoRepeat,
			CreatedAt:     task.CreatedAt,
		}
		if err := tx.Create(tpl).Error; err != nil {
			return fmt.Errorf("create template: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// spawnInstance 基于模板生成实例：任务行、关联行、存活计数一并落库。
// 标题与地点未指定时继承模板。
func (s *TaskService) spawnInstance(tpl *db.Template, title, notes, location string, due *time.Time) (*db.Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = tpl.TemplateTitle
	}
	location = strings.TrimSpace(location)
	if location == "" {
		location = tpl.Location
	}

	task := &db.Task{
		Title:    title,
		Notes:    notes,
		Location: location,
		Kind:     db.TaskKindPermanent,
		DueDate:  due,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(task).Error; err != nil {
			return fmt.Errorf("create instance task: %w", err)
		}
		link := &db.TemplateInstance{
			InstanceID: task.ID,
			TemplateID: tpl.PermanentID,
			CreatedAt:  task.CreatedAt,
			DueDate:    due,
		}
		if err := tx.Create(link).Error; err != nil {
			return fmt.Errorf("create template instance: %w", err)
		}
		return s.templates.IncrementInstanceCount(tx, tpl.PermanentID)
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Complete 完成一个任务。
// permanent 实例的写入顺序固定：先落完成状态，再更新统计，最后按需续期。
// 续期失败只记警告并体现在结果里，不回滚前两步。
func (s *TaskService) Complete(taskID uint) (*CompletionResult, error) {
	task, err := s.getTask(taskID)
	if err != nil {
		return nil, err
	}

	switch task.Kind {
	case db.TaskKindPreset:
		return nil, ErrUnsupportedKind

	case db.TaskKindOneOff:
		if task.Completed {
			return nil, fmt.Errorf("%w: task is already completed", ErrInvariantViolation)
		}
		task.Completed = true
		if err := s.db.Save(task).Error; err != nil {
			return nil, fmt.Errorf("complete task: %w", err)
		}
		return &CompletionResult{Task: task}, nil

	case db.TaskKindPermanent:
		isTpl, err := s.isTemplate(taskID)
		if err != nil {
			return nil, err
		}
		if isTpl {
			return nil, fmt.Errorf("%w: a template cannot be completed", ErrInvariantViolation)
		}

		link, err := s.instances.Get(taskID)
		if err != nil {
			return nil, err
		}
		if task.Completed {
			return nil, fmt.Errorf("%w: instance is already completed", ErrInvariantViolation)
		}

		// (1) 实例完成状态落库
		task.Completed = true
		if err := s.db.Save(task).Error; err != nil {
			return nil, fmt.Errorf("complete instance: %w", err)
		}

		// (2) 更新统计
		completedAt := time.Now()
		stats, err := s.stats.RecordCompletion(link.TemplateID, completedAt)
		if err != nil {
			return nil, err
		}

		result := &CompletionResult{Task: task, Stats: stats}

		// (3) 自动续期，尽力而为
		next, err := s.spawnNext(link, completedAt)
		if err != nil {
			log.Printf("warning: auto-repeat spawn failed for template %d: %v", link.TemplateID, err)
			result.SpawnWarning = err.Error()
			return result, nil
		}
		result.Next = next
		return result, nil
	}

	return nil, fmt.Errorf("%w: unknown task kind %q", ErrValidation, task.Kind)
}

// spawnNext 在完成后生成下一个实例；模板未配置续期时静默返回 nil
func (s *TaskService) spawnNext(link *db.TemplateInstance, completedAt time.Time) (*db.Task, error) {
	tpl, err := s.templates.Get(link.TemplateID)
	if err != nil {
		return nil, err
	}
	if tpl.AutoRepeat == nil {
		return nil, nil
	}

	rec, err := DecodeRecurrence(*tpl.AutoRepeat)
	if err != nil {
		return nil, err
	}

	// 以被完成实例的到期时间为基准，没有到期时间时退回完成时间
	ref := completedAt
	if link.DueDate != nil {
		ref = *link.DueDate
	}

	nextDue, err := NextDueDate(rec, ref)
	if err != nil {
		return nil, err
	}

	return s.spawnInstance(tpl, "", "", "", &nextDue)
}

// Delete 按类型删除任务：模板级联，实例单删并递减计数
func (s *TaskService) Delete(taskID uint) error {
	task, err := s.getTask(taskID)
	if err != nil {
		return err
	}

	switch task.Kind {
	case db.TaskKindPreset:
		return ErrUnsupportedKind

	case db.TaskKindPermanent:
		isTpl, err := s.isTemplate(taskID)
		if err != nil {
			return err
		}
		if isTpl {
			return s.templates.Delete(taskID)
		}
		if _, err := s.instances.Get(taskID); err == nil {
			return s.instances.Delete(taskID)
		} else if !errors.Is(err, ErrInstanceNotFound) {
			return err
		}
		// 关联行缺失的孤儿任务行，直接删行兜底
	}

	if err := s.db.Delete(&db.Task{}, taskID).Error; err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// Reassign 按类型应用字段更新，不允许的字段组合显式拒绝
func (s *TaskService) Reassign(taskID uint, updates ReassignInput) (*db.Task, error) {
	task, err := s.getTask(taskID)
	if err != nil {
		return nil, err
	}

	if task.Kind == db.TaskKindPreset {
		return nil, ErrUnsupportedKind
	}

	if updates.Title != nil && strings.TrimSpace(*updates.Title) == "" {
		return nil, fmt.Errorf("%w: title cannot be empty", ErrValidation)
	}

	if task.Kind == db.TaskKindPermanent {
		isTpl, err := s.isTemplate(taskID)
		if err != nil {
			return nil, err
		}
		if isTpl {
			return s.reassignTemplate(task, updates)
		}
		return s.reassignInstance(task, updates)
	}

	// one_off：标题/备注/到期/地点可改，重复配置不存在
	if updates.Recurrence != nil || updates.ClearRecurrence {
		return nil, fmt.Errorf("%w: one-off tasks have no recurrence", ErrInvariantViolation)
	}
	applyTaskFields(task, updates)
	if err := s.db.Save(task).Error; err != nil {
		return nil, fmt.Errorf("reassign task: %w", err)
	}
	return task, nil
}

// reassignTemplate 允许变更标题/地点/重复配置，到期时间属于实例，显式拒绝
func (s *TaskService) reassignTemplate(task *db.Task, updates ReassignInput) (*db.Task, error) {
	if updates.DueDate != nil {
		return nil, fmt.Errorf("%w: a template has no due date", ErrInvariantViolation)
	}

	tpl, err := s.templates.Get(task.ID)
	if err != nil {
		return nil, err
	}

	applyTaskFields(task, updates)
	if updates.Title != nil {
		tpl.TemplateTitle = strings.TrimSpace(*updates.Title)
	}
	if updates.Location != nil {
		tpl.Location = strings.TrimSpace(*updates.Location)
	}
	if updates.ClearRecurrence {
		tpl.AutoRepeat = nil
	} else if updates.Recurrence != nil {
		encoded, err := EncodeRecurrence(*updates.Recurrence)
		if err != nil {
			return nil, err
		}
		tpl.AutoRepeat = &encoded
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(task).Error; err != nil {
			return fmt.Errorf("reassign template task: %w", err)
		}
		if err := tx.Save(tpl).Error; err != nil {
			return fmt.Errorf("reassign template: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// reassignInstance 允许变更标题/备注/到期/地点，重复配置只属于模板
func (s *TaskService) reassignInstance(task *db.Task, updates ReassignInput) (*db.Task, error) {
	if updates.Recurrence != nil || updates.ClearRecurrence {
		return nil, fmt.Errorf("%w: recurrence belongs to the template", ErrInvariantViolation)
	}

	link, err := s.instances.Get(task.ID)
	if err != nil {
		return nil, err
	}

	applyTaskFields(task, updates)
	if updates.DueDate != nil {
		link.DueDate = updates.DueDate
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(task).Error; err != nil {
			return fmt.Errorf("reassign instance task: %w", err)
		}
		if err := tx.Save(link).Error; err != nil {
			return fmt.Errorf("reassign instance link: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// PushForward 将到期时间向后推 days 天，未设置到期时以当天为基准。
// 只对一次性任务和实例合法，推模板直接拒绝。
func (s *TaskService) PushForward(taskID uint, days int) (*db.Task, error) {
	if days < 1 {
		return nil, fmt.Errorf("%w: days must be at least 1", ErrValidation)
	}

	task, err := s.getTask(taskID)
	if err != nil {
		return nil, err
	}

	switch task.Kind {
	case db.TaskKindPreset:
		return nil, ErrUnsupportedKind

	case db.TaskKindOneOff:
		pushDue(task, days)
		if err := s.db.Save(task).Error; err != nil {
			return nil, fmt.Errorf("push task forward: %w", err)
		}
		return task, nil

	case db.TaskKindPermanent:
		isTpl, err := s.isTemplate(taskID)
		if err != nil {
			return nil, err
		}
		if isTpl {
			return nil, fmt.Errorf("%w: a template cannot be pushed forward", ErrInvariantViolation)
		}

		link, err := s.instances.Get(taskID)
		if err != nil {
			return nil, err
		}

		pushDue(task, days)
		link.DueDate = task.DueDate

		err = s.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Save(task).Error; err != nil {
				return fmt.Errorf("push instance forward: %w", err)
			}
			if err := tx.Save(link).Error; err != nil {
				return fmt.Errorf("push instance link forward: %w", err)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return task, nil
	}

	return nil, fmt.Errorf("%w: unknown task kind %q", ErrValidation, task.Kind)
}

// List 返回权威任务列表，UI 层所有类型都从这里读
func (s *TaskService) List() ([]db.Task, error) {
	var tasks []db.Task
	if err := s.db.Order("created_at DESC, id DESC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// Get 返回单个任务行
func (s *TaskService) Get(taskID uint) (*db.Task, error) {
	return s.getTask(taskID)
}

func (s *TaskService) getTask(taskID uint) (*db.Task, error) {
	var task db.Task
	if err := s.db.First(&task, taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &task, nil
}

func (s *TaskService) isTemplate(taskID uint) (bool, error) {
	_, err := s.templates.Get(taskID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrTemplateNotFound) {
		return false, nil
	}
	return false, err
}

func applyTaskFields(task *db.Task, updates ReassignInput) {
	if updates.Title != nil {
		task.Title = strings.TrimSpace(*updates.Title)
	}
	if updates.Notes != nil {
		task.Notes = *updates.Notes
	}
	if updates.Location != nil {
		task.Location = strings.TrimSpace(*updates.Location)
	}
	if updates.DueDate != nil {
		task.DueDate = updates.DueDate
	}
}

func pushDue(task *db.Task, days int) {
	base := time.Now()
	if task.DueDate != nil {
		base = *task.DueDate
	}
	next := base.AddDate(0, 0, days)
	task.DueDate = &next
}

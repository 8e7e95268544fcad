package service

import (
	"errors"
	"testing"
	"time"

	"github.com/tasklog/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTaskTestDB(t *testing.T) (*gorm.DB, func()) {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := gdb.AutoMigrate(&db.Task{}, &db.Template{}, &db.TemplateInstance{}, &db.TemplateStats{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return gdb, func() {
		sqlDB, err := gdb.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
}

func TestOneOffLifecycle(t *testing.T) {
	gdb, cleanup := setupTaskTestDB(t)
	defer cleanup()

	_, _, _, tasks := newTestServices(gdb)

	created, err := tasks.Create(CreateTaskInput{Title: "买菜"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if created.Kind != db.TaskKindOneOff {
		t.Fatalf("expected one_off kind, got %s", created.Kind)
	}

	result, err := tasks.Complete(created.ID)
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if !result.Task.Completed {
		t.Fatal("expected task to be completed")
	}
	if result.Next != nil || result.Stats != nil {
		t.Fatal("one-off completion must not touch templates or stats")
	}

	// 重复完成被拒绝，状态保持不变
	if _, err := tasks.Complete(created.ID); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}

	if err := tasks.Delete(created.ID); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, err := tasks.Get(created.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	gdb, cleanup := setupTaskTestDB(t)
	defer cleanup()

	_, _, _, tasks := newTestServices(gdb)

	if _, err := tasks.Create(CreateTaskInput{Title: "   "}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for blank title, got %v", err)
	}

	if _, err := tasks.Create(CreateTaskInput{Title: "x", Kind: "weird"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown kind, got %v", err)
	}

	rec := Recurrence{Interval: IntervalDaily}
	if _, err := tasks.Create(CreateTaskInput{Title: "x", Recurrence: &rec}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for recurrence on one-off, got %v", err)
	}

	missing := uint(404)
	if _, err := tasks.Create(CreateTaskInput{Kind: db.TaskKindPermanent, TemplateID: &missing}); !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
}

func TestCompleteTemplateRejected(t *testing.T) {
	gdb, cleanup := setupTaskTestDB(t)
	defer cleanup()

	_, _, _, tasks := newTestServices(gdb)

	tpl, err := tasks.Create(CreateTaskInput{Title: "健身", Kind: db.TaskKindPermanent})
	if err != nil {
		t.Fatalf("failed to create template: %v", err)
	}

	if _, err := tasks.Complete(tpl.ID); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}

	if _, err := tasks.PushForward(tpl.ID, 1); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation for push-forward, got %v", err)
	}
}

func TestWaterPlantsScenario(t *testing.T) {
	gdb, cleanup := setupTaskTestDB(t)
	defer cleanup()

	templates, instances, _, tasks := newTestServices(gdb)

	rec := Recurrence{Interval: IntervalWeekly, Weekday: intPtr(1)}
	tpl, err := tasks.Create(CreateTaskInput{
		Title:      "Water plants",
		Kind:       db.TaskKindPermanent,
		Recurrence: &rec,
	})
	if err != nil {
		t.Fatalf("failed to create template: %v", err)
	}

	due := time.Date(2024, 1, 8, 9, 0, 0, 0, time.Local) // 周一
	tplID := tpl.ID
	inst, err := tasks.Create(CreateTaskInput{Kind: db.TaskKindPermanent, TemplateID: &tplID, DueDate: &due})
	if err != nil {
		t.Fatalf("failed to create instance: %v", err)
	}
	if inst.Title != "Water plants" {
		t.Fatalf("expected instance to inherit title, got %s", inst.Title)
	}

	result, err := tasks.Complete(inst.ID)
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if result.SpawnWarning != "" {
		t.Fatalf("unexpected spawn warning: %s", result.SpawnWarning)
	}
	if result.Next == nil || result.Next.DueDate == nil {
		t.Fatal("expected a new instance with a due date")
	}

	wantNext := time.Date(2024, 1, 15, 9, 0, 0, 0, time.Local)
	if !result.Next.DueDate.Equal(wantNext) {
		t.Fatalf("expected next due %v, got %v", wantNext, result.Next.DueDate)
	}

	if result.Stats == nil || result.Stats.CompletionCount != 1 || result.Stats.CurrentStreak != 1 {
		t.Fatalf("unexpected stats: %+v", result.Stats)
	}

	links, err := instances.ListByTemplate(tplID)
	if err != nil {
		t.Fatalf("ListByTemplate returned error: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("expected 2 instances after auto-repeat, got %d", len(links))
	}

	updated, err := templates.Get(tplID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if updated.InstanceCount != 2 {
		t.Fatalf("expected instance count 2, got %d", updated.InstanceCount)
	}
}

func TestCompleteWithoutRecurrenceSpawnsNothing(t *testing.T) {
	gdb, cleanup := setupTaskTestDB(t)
	defer cleanup()

	_, _, _, tasks := newTestServices(gdb)

	tpl, err := tasks.Create(CreateTaskInput{Title: "报销", Kind: db.TaskKindPermanent})
	if err != nil {
		t.Fatalf("failed to create template: %v", err)
	}

	tplID := tpl.ID
	inst, err := tasks.Create(CreateTaskInput{Kind: db.TaskKindPermanent, TemplateID: &tplID})
	if err != nil {
		t.Fatalf("failed to create instance: %v", err)
	}

	result, err := tasks.Complete(inst.ID)
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if result.Next != nil {
		t.Fatal("expected no auto-repeat instance")
	}
	if result.SpawnWarning != "" {
		t.Fatalf("unexpected spawn warning: %s", result.SpawnWarning)
	}

	// 完成后再次完成同一实例被拒绝
	if _, err := tasks.Complete(inst.ID); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
}

func TestCompleteSpawnFailureIsNonFatal(t *testing.T) {
	gdb, cleanup := setupTaskTestDB(t)
	defer cleanup()

	templates, _, _, tasks := newTestServices(gdb)

	rec := Recurrence{Interval: IntervalDaily}
	tpl, err := tasks.Create(CreateTaskInput{Title: "背单词", Kind: db.TaskKindPermanent, Recurrence: &rec})
	if err != nil {
		t.Fatalf("failed to create template: %v", err)
	}

	tplID := tpl.ID
	inst, err := tasks.Create(CreateTaskInput{Kind: db.TaskKindPermanent, TemplateID: &tplID})
	if err != nil {
		t.Fatalf("failed to create instance: %v", err)
	}

	// 存储层写入坏配置，续期解析必然失败
	broken := `{"interval":"hourly"}`
	record, err := templates.Get(tplID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	record.AutoRepeat = &broken
	if err := templates.Save(record); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	result, err := tasks.Complete(inst.ID)
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if result.SpawnWarning == "" {
		t.Fatal("expected a spawn warning")
	}
	if result.Next != nil {
		t.Fatal("expected no spawned instance")
	}

	// 完成与统计不受续期失败影响
	if !result.Task.Completed {
		t.Fatal("expected instance to stay completed")
	}
	if result.Stats == nil || result.Stats.CompletionCount != 1 {
		t.Fatalf("unexpected stats: %+v", result.Stats)
	}
}

func TestReassignFieldRules(t *testing.T) {
	gdb, cleanup := setupTaskTestDB(t)
	defer cleanup()

	templates, _, _, tasks := newTestServices(gdb)

	tpl, err := tasks.Create(CreateTaskInput{Title: "遛狗", Kind: db.TaskKindPermanent, Location: "小区"})
	if err != nil {
		t.Fatalf("failed to create template: %v", err)
	}

	tplID := tpl.ID
	inst, err := tasks.Create(CreateTaskInput{Kind: db.TaskKindPermanent, TemplateID: &tplID})
	if err != nil {
		t.Fatalf("failed to create instance: %v", err)
	}
	if inst.Location != "小区" {
		t.Fatalf("expected instance to inherit location, got %s", inst.Location)
	}

	// 模板：标题/地点/重复配置可改
	title := "遛狗两次"
	rec := Recurrence{Interval: IntervalDaily}
	if _, err := tasks.Reassign(tpl.ID, ReassignInput{Title: &title, Recurrence: &rec}); err != nil {
		t.Fatalf("Reassign template returned error: %v", err)
	}

	record, err := templates.Get(tplID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if record.TemplateTitle != "遛狗两次" || record.AutoRepeat == nil {
		t.Fatalf("unexpected template after reassign: %+v", record)
	}

	// 模板不接受到期时间
	due := time.Now()
	if _, err := tasks.Reassign(tpl.ID, ReassignInput{DueDate: &due}); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}

	// 实例不接受重复配置
	if _, err := tasks.Reassign(inst.ID, ReassignInput{Recurrence: &rec}); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}

	// 实例：到期时间可改
	newDue := time.Date(2024, 3, 1, 8, 0, 0, 0, time.Local)
	updated, err := tasks.Reassign(inst.ID, ReassignInput{DueDate: &newDue})
	if err != nil {
		t.Fatalf("Reassign instance returned error: %v", err)
	}
	if updated.DueDate == nil || !updated.DueDate.Equal(newDue) {
		t.Fatalf("expected due date %v, got %v", newDue, updated.DueDate)
	}

	// 一次性任务不接受重复配置
	oneOff, err := tasks.Create(CreateTaskInput{Title: "取快递"})
	if err != nil {
		t.Fatalf("failed to create one-off: %v", err)
	}
	if _, err := tasks.Reassign(oneOff.ID, ReassignInput{Recurrence: &rec}); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
}

func TestPushForward(t *testing.T) {
	gdb, cleanup := setupTaskTestDB(t)
	defer cleanup()

	_, instances, _, tasks := newTestServices(gdb)

	due := time.Date(2024, 2, 1, 10, 0, 0, 0, time.Local)
	oneOff, err := tasks.Create(CreateTaskInput{Title: "交房租", DueDate: &due})
	if err != nil {
		t.Fatalf("failed to create one-off: %v", err)
	}

	pushed, err := tasks.PushForward(oneOff.ID, 3)
	if err != nil {
		t.Fatalf("PushForward returned error: %v", err)
	}
	if want := due.AddDate(0, 0, 3); pushed.DueDate == nil || !pushed.DueDate.Equal(want) {
		t.Fatalf("expected due %v, got %v", want, pushed.DueDate)
	}

	if _, err := tasks.PushForward(oneOff.ID, 0); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for non-positive days, got %v", err)
	}

	// 实例推迟时关联记录同步更新
	tpl, err := tasks.Create(CreateTaskInput{Title: "浇花", Kind: db.TaskKindPermanent})
	if err != nil {
		t.Fatalf("failed to create template: %v", err)
	}
	tplID := tpl.ID
	inst, err := tasks.Create(CreateTaskInput{Kind: db.TaskKindPermanent, TemplateID: &tplID, DueDate: &due})
	if err != nil {
		t.Fatalf("failed to create instance: %v", err)
	}

	if _, err := tasks.PushForward(inst.ID, 1); err != nil {
		t.Fatalf("PushForward returned error: %v", err)
	}

	link, err := instances.Get(inst.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if want := due.AddDate(0, 0, 1); link.DueDate == nil || !link.DueDate.Equal(want) {
		t.Fatalf("expected link due %v, got %v", want, link.DueDate)
	}
}

func TestPresetKindRejected(t *testing.T) {
	gdb, cleanup := setupTaskTestDB(t)
	defer cleanup()

	_, _, _, tasks := newTestServices(gdb)

	if _, err := tasks.Create(CreateTaskInput{Title: "x", Kind: db.TaskKindPreset}); !errors.Is(err, ErrUnsupportedKind) {
		t.Fatalf("expected ErrUnsupportedKind on create, got %v", err)
	}

	// 预埋一行 preset 任务，逐个操作验证显式拒绝
	row := db.Task{Title: "预设", Kind: db.TaskKindPreset}
	if err := gdb.Create(&row).Error; err != nil {
		t.Fatalf("failed to seed preset row: %v", err)
	}

	if _, err := tasks.Complete(row.ID); !errors.Is(err, ErrUnsupportedKind) {
		t.Fatalf("expected ErrUnsupportedKind on complete, got %v", err)
	}
	if err := tasks.Delete(row.ID); !errors.Is(err, ErrUnsupportedKind) {
		t.Fatalf("expected ErrUnsupportedKind on delete, got %v", err)
	}
	if _, err := tasks.Reassign(row.ID, ReassignInput{}); !errors.Is(err, ErrUnsupportedKind) {
		t.Fatalf("expected ErrUnsupportedKind on reassign, got %v", err)
	}
	if _, err := tasks.PushForward(row.ID, 1); !errors.Is(err, ErrUnsupportedKind) {
		t.Fatalf("expected ErrUnsupportedKind on push-forward, got %v", err)
	}
}

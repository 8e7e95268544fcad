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

func setupStatsTestDB(t *testing.T) (*gorm.DB, func()) {
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

func TestRecordCompletionStreaks(t *testing.T) {
	gdb, cleanup := setupStatsTestDB(t)
	defer cleanup()

	templates := NewTemplateService(gdb)
	instances := NewInstanceService(gdb, templates)
	stats := NewStatsService(gdb, templates)
	tasks := NewTaskService(gdb, templates, instances, stats)

	tpl, err := tasks.Create(CreateTaskInput{Title: "晨跑", Kind: db.TaskKindPermanent})
	if err != nil {
		t.Fatalf("failed to create template: %v", err)
	}

	// 三次连续完成事件，日期各不相同
	base := time.Date(2024, 5, 6, 20, 0, 0, 0, time.Local) // 周一
	for i := 0; i < 3; i++ {
		if _, err := stats.RecordCompletion(tpl.ID, base.AddDate(0, 0, i)); err != nil {
			t.Fatalf("RecordCompletion returned error: %v", err)
		}
	}

	record, err := templates.Stats(tpl.ID)
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if record == nil {
		t.Fatal("expected stats record to exist")
	}

	if record.CompletionCount != 3 {
		t.Fatalf("expected completion count 3, got %d", record.CompletionCount)
	}
	if record.CurrentStreak != 3 || record.MaxStreak != 3 {
		t.Fatalf("unexpected streaks: current=%d max=%d", record.CurrentStreak, record.MaxStreak)
	}

	sum := record.CompletionMon + record.CompletionTue + record.CompletionWed +
		record.CompletionThu + record.CompletionFri + record.CompletionSat + record.CompletionSun
	if sum != 3 {
		t.Fatalf("expected weekday buckets to sum to 3, got %d", sum)
	}
	if record.CompletionMon != 1 || record.CompletionTue != 1 || record.CompletionWed != 1 {
		t.Fatalf("unexpected weekday distribution: %+v", record)
	}
}

func TestRecordCompletionRate(t *testing.T) {
	gdb, cleanup := setupStatsTestDB(t)
	defer cleanup()

	templates := NewTemplateService(gdb)
	instances := NewInstanceService(gdb, templates)
	stats := NewStatsService(gdb, templates)
	tasks := NewTaskService(gdb, templates, instances, stats)

	tpl, err := tasks.Create(CreateTaskInput{Title: "读书", Kind: db.TaskKindPermanent})
	if err != nil {
		t.Fatalf("failed to create template: %v", err)
	}

	// 没有存活实例时完成率保持为零
	record, err := stats.RecordCompletion(tpl.ID, time.Now())
	if err != nil {
		t.Fatalf("RecordCompletion returned error: %v", err)
	}
	if record.CompletionRate != 0 {
		t.Fatalf("expected zero rate without instances, got %f", record.CompletionRate)
	}

	tplID := tpl.ID
	for i := 0; i < 2; i++ {
		if _, err := tasks.Create(CreateTaskInput{Kind: db.TaskKindPermanent, TemplateID: &tplID}); err != nil {
			t.Fatalf("failed to create instance: %v", err)
		}
	}

	record, err = stats.RecordCompletion(tpl.ID, time.Now())
	if err != nil {
		t.Fatalf("RecordCompletion returned error: %v", err)
	}
	if record.CompletionCount != 2 {
		t.Fatalf("expected completion count 2, got %d", record.CompletionCount)
	}
	if record.CompletionRate != 1.0 {
		t.Fatalf("expected rate 1.0 with 2 completions over 2 instances, got %f", record.CompletionRate)
	}
}

func TestRecordCompletionUnknownTemplate(t *testing.T) {
	gdb, cleanup := setupStatsTestDB(t)
	defer cleanup()

	templates := NewTemplateService(gdb)
	stats := NewStatsService(gdb, templates)

	if _, err := stats.RecordCompletion(999, time.Now()); !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
}

package main

import (
	"fmt"
	"log"
	"time"

	"github.com/tasklog/internal/config"
	"github.com/tasklog/internal/db"
	"github.com/tasklog/internal/service"
)

// 测试数据生成器
func main() {
	// 初始化数据库
	cfg := config.Load()
	if err := db.Init(cfg.DatabasePath); err != nil {
		log.Fatal("数据库初始化失败:", err)
	}

	if err := db.EnsureAdmin("admin", "admin123"); err != nil {
		log.Fatal("创建管理员失败:", err)
	}

	fmt.Println("开始生成测试数据...")

	templates := service.NewTemplateService(db.DB)
	instances := service.NewInstanceService(db.DB, templates)
	stats := service.NewStatsService(db.DB, templates)
	tasks := service.NewTaskService(db.DB, templates, instances, stats)

	createOneOffTasks(tasks)
	createTemplates(tasks)

	fmt.Println("测试数据生成完成！")
	fmt.Println("用户: admin (密码: admin123)")
}

func createOneOffTasks(tasks *service.TaskService) {
	due := time.Now().AddDate(0, 0, 2)
	samples := []service.CreateTaskInput{
		{Title: "取快递", Notes: "驿站 **18 点前** 关门"},
		{Title: "交房租", DueDate: &due},
		{Title: "给家里打电话"},
	}

	for _, input := range samples {
		if _, err := tasks.Create(input); err != nil {
			log.Printf("创建一次性任务失败: %v", err)
		}
	}
}

func createTemplates(tasks *service.TaskService) {
	monday := 1
	payday := 25
	samples := []service.CreateTaskInput{
		{
			Title:      "浇花",
			Kind:       db.TaskKindPermanent,
			Location:   "阳台",
			Recurrence: &service.Recurrence{Interval: service.IntervalWeekly, Weekday: &monday},
		},
		{
			Title:      "晨跑",
			Kind:       db.TaskKindPermanent,
			Recurrence: &service.Recurrence{Interval: service.IntervalDaily},
		},
		{
			Title:      "整理账单",
			Kind:       db.TaskKindPermanent,
			Recurrence: &service.Recurrence{Interval: service.IntervalMonthly, MonthDay: &payday},
		},
	}

	for _, input := range samples {
		tpl, err := tasks.Create(input)
		if err != nil {
			log.Printf("创建模板失败: %v", err)
			continue
		}

		// 每个模板挂一个待办实例，其中一个直接完成以产生统计
		tplID := tpl.ID
		due := time.Now().AddDate(0, 0, 1)
		inst, err := tasks.Create(service.CreateTaskInput{
			Kind:       db.TaskKindPermanent,
			TemplateID: &tplID,
			DueDate:    &due,
		})
		if err != nil {
			log.Printf("创建实例失败: %v", err)
			continue
		}

		if tpl.Title == "晨跑" {
			if _, err := tasks.Complete(inst.ID); err != nil {
				log.Printf("完成实例失败: %v", err)
			}
		}
	}
}

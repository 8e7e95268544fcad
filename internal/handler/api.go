package handler

import (
	"github.com/tasklog/internal/service"
	"gorm.io/gorm"
)

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db        *gorm.DB
	tasks     *service.TaskService
	templates *service.TemplateService
	instances *service.InstanceService
	stats     *service.StatsService
}

// NewAPI constructs a handler set with shared services.
func NewAPI(gdb *gorm.DB) *API {
	templates := service.NewTemplateService(gdb)
	instances := service.NewInstanceService(gdb, templates)
	stats := service.NewStatsService(gdb, templates)
	tasks := service.NewTaskService(gdb, templates, instances, stats)

	return &API{
		db:        gdb,
		tasks:     tasks,
		templates: templates,
		instances: instances,
		stats:     stats,
	}
}

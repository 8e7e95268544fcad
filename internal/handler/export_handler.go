package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tasklog/internal/db"
)

// ExportBackup 导出全量数据为 JSON 附件，供用户自行备份
func (a *API) ExportBackup(c *gin.Context) {
	var (
		tasks     []db.Task
		templates []db.Template
		instances []db.TemplateInstance
		stats     []db.TemplateStats
	)

	if err := a.db.Find(&tasks).Error; err != nil {
		respondError(c, http.StatusInternalServerError, "导出任务失败")
		return
	}
	if err := a.db.Find(&templates).Error; err != nil {
		respondError(c, http.StatusInternalServerError, "导出模板失败")
		return
	}
	if err := a.db.Find(&instances).Error; err != nil {
		respondError(c, http.StatusInternalServerError, "导出实例失败")
		return
	}
	if err := a.db.Find(&stats).Error; err != nil {
		respondError(c, http.StatusInternalServerError, "导出统计失败")
		return
	}

	filename := fmt.Sprintf("tasklog-%s-%s.json", time.Now().Format("20060102"), uuid.New().String())
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	c.JSON(http.StatusOK, gin.H{
		"exported_at": time.Now().Format(time.RFC3339),
		"tasks":       tasks,
		"templates":   templates,
		"instances":   instances,
		"stats":       stats,
	})
}

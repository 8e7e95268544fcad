package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tasklog/internal/db"
	"github.com/tasklog/internal/service"
)

// ListTemplates 返回全部模板 JSON
func (a *API) ListTemplates(c *gin.Context) {
	templates, err := a.templates.List()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取模板列表失败")
		return
	}

	items := make([]gin.H, 0, len(templates))
	for _, tpl := range templates {
		items = append(items, templateToPayload(tpl))
	}

	c.JSON(http.StatusOK, gin.H{"templates": items})
}

// GetTemplate 返回单个模板详情，附带统计记录（若有）
func (a *API) GetTemplate(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的模板ID")
		return
	}

	tpl, err := a.templates.Get(id)
	if err != nil {
		handleTaskError(c, err)
		return
	}

	payload := gin.H{"template": templateToPayload(*tpl)}

	stats, err := a.templates.Stats(id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取模板统计失败")
		return
	}
	if stats != nil {
		payload["stats"] = statsToPayload(*stats)
	}

	c.JSON(http.StatusOK, payload)
}

// ListTemplateInstances 返回模板的实例关联记录
func (a *API) ListTemplateInstances(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的模板ID")
		return
	}

	if _, err := a.templates.Get(id); err != nil {
		handleTaskError(c, err)
		return
	}

	instances, err := a.instances.ListByTemplate(id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取实例列表失败")
		return
	}

	items := make([]gin.H, 0, len(instances))
	for _, inst := range instances {
		item := gin.H{
			"instance_id": inst.InstanceID,
			"template_id": inst.TemplateID,
			"created_at":  inst.CreatedAt.Format(time.RFC3339),
		}
		if inst.DueDate != nil {
			item["due_date"] = inst.DueDate.Format(time.RFC3339)
		}
		items = append(items, item)
	}

	c.JSON(http.StatusOK, gin.H{"instances": items})
}

func templateToPayload(tpl db.Template) gin.H {
	payload := gin.H{
		"id":             tpl.PermanentID,
		"title":          tpl.TemplateTitle,
		"is_template":    tpl.IsTemplate,
		"instance_count": tpl.InstanceCount,
		"location":       tpl.Location,
		"created_at":     tpl.CreatedAt.Format(time.RFC3339),
	}

	if tpl.AutoRepeat != nil {
		if rec, err := service.DecodeRecurrence(*tpl.AutoRepeat); err == nil {
			payload["recurrence"] = recurrencePayload{
				Interval: rec.Interval,
				Weekday:  rec.Weekday,
				MonthDay: rec.MonthDay,
			}
		}
	}

	return payload
}

func statsToPayload(stats db.TemplateStats) gin.H {
	return gin.H{
		"template_id":      stats.TemplateID,
		"completion_count": stats.CompletionCount,
		"completion_rate":  stats.CompletionRate,
		"current_streak":   stats.CurrentStreak,
		"max_streak":       stats.MaxStreak,
		"weekdays": gin.H{
			"mon": stats.CompletionMon,
			"tue": stats.CompletionTue,
			"wed": stats.CompletionWed,
			"thu": stats.CompletionThu,
			"fri": stats.CompletionFri,
			"sat": stats.CompletionSat,
			"sun": stats.CompletionSun,
		},
		"last_updated_at": stats.LastUpdatedAt.Format(time.RFC3339),
	}
}

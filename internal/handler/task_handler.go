package handler

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"github.com/tasklog/internal/db"
	"github.com/tasklog/internal/service"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	markdownEngine = goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Linkify),
		goldmark.WithRendererOptions(html.WithHardWraps(), html.WithXHTML()),
	)
	sanitizer = bluemonday.UGCPolicy()
)

type recurrencePayload struct {
	Interval string `json:"interval"`
	Weekday  *int   `json:"weekday,omitempty"`
	MonthDay *int   `json:"month_day,omitempty"`
}

type createTaskPayload struct {
	Title      string             `json:"title"`
	Kind       string             `json:"kind"`
	Notes      string             `json:"notes"`
	Location   string             `json:"location"`
	DueDate    string             `json:"due_date"` // RFC3339，可选
	TemplateID *uint              `json:"template_id"`
	Recurrence *recurrencePayload `json:"recurrence"`
}

type reassignTaskPayload struct {
	Title           *string            `json:"title"`
	Notes           *string            `json:"notes"`
	Location        *string            `json:"location"`
	DueDate         *string            `json:"due_date"`
	Recurrence      *recurrencePayload `json:"recurrence"`
	ClearRecurrence bool               `json:"clear_recurrence"`
}

// ListTasks 返回权威任务列表 JSON
func (a *API) ListTasks(c *gin.Context) {
	tasks, err := a.tasks.List()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取任务列表失败")
		return
	}

	items := make([]gin.H, 0, len(tasks))
	for _, task := range tasks {
		items = append(items, taskToPayload(task))
	}

	c.JSON(http.StatusOK, gin.H{"tasks": items})
}

// GetTask 返回单个任务详情，备注渲染为净化后的 HTML
func (a *API) GetTask(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的任务ID")
		return
	}

	task, err := a.tasks.Get(id)
	if err != nil {
		handleTaskError(c, err)
		return
	}

	payload := taskToPayload(*task)
	payload["notes_html"] = renderNotes(task.Notes)

	c.JSON(http.StatusOK, gin.H{"task": payload})
}

// CreateTask 创建任务，类型由请求体里的 kind 决定
func (a *API) CreateTask(c *gin.Context) {
	var payload createTaskPayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	input := service.CreateTaskInput{
		Title:      payload.Title,
		Kind:       payload.Kind,
		Notes:      payload.Notes,
		Location:   payload.Location,
		TemplateID: payload.TemplateID,
	}

	if payload.DueDate != "" {
		due, err := time.Parse(time.RFC3339, payload.DueDate)
		if err != nil {
			respondError(c, http.StatusBadRequest, "无效的到期时间")
			return
		}
		input.DueDate = &due
	}

	if payload.Recurrence != nil {
		input.Recurrence = &service.Recurrence{
			Interval: payload.Recurrence.Interval,
			Weekday:  payload.Recurrence.Weekday,
			MonthDay: payload.Recurrence.MonthDay,
		}
	}

	task, err := a.tasks.Create(input)
	if err != nil {
		handleTaskError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"task": taskToPayload(*task)})
}

// CompleteTask 完成任务；实例完成时附带统计与可能的续期实例
func (a *API) CompleteTask(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的任务ID")
		return
	}

	result, err := a.tasks.Complete(id)
	if err != nil {
		handleTaskError(c, err)
		return
	}

	payload := gin.H{"task": taskToPayload(*result.Task)}
	if result.Stats != nil {
		payload["stats"] = statsToPayload(*result.Stats)
	}
	if result.Next != nil {
		payload["next"] = taskToPayload(*result.Next)
	}
	if result.SpawnWarning != "" {
		payload["warning"] = result.SpawnWarning
	}

	c.JSON(http.StatusOK, payload)
}

// DeleteTask 删除任务，模板走级联
func (a *API) DeleteTask(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的任务ID")
		return
	}

	if err := a.tasks.Delete(id); err != nil {
		handleTaskError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// ReassignTask 按类型更新允许的字段
func (a *API) ReassignTask(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的任务ID")
		return
	}

	var payload reassignTaskPayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	updates := service.ReassignInput{
		Title:           payload.Title,
		Notes:           payload.Notes,
		Location:        payload.Location,
		ClearRecurrence: payload.ClearRecurrence,
	}

	if payload.DueDate != nil {
		due, err := time.Parse(time.RFC3339, *payload.DueDate)
		if err != nil {
			respondError(c, http.StatusBadRequest, "无效的到期时间")
			return
		}
		updates.DueDate = &due
	}

	if payload.Recurrence != nil {
		updates.Recurrence = &service.Recurrence{
			Interval: payload.Recurrence.Interval,
			Weekday:  payload.Recurrence.Weekday,
			MonthDay: payload.Recurrence.MonthDay,
		}
	}

	task, err := a.tasks.Reassign(id, updates)
	if err != nil {
		handleTaskError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"task": taskToPayload(*task)})
}

// PushTaskForward 将到期时间后移，默认一天
func (a *API) PushTaskForward(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的任务ID")
		return
	}

	var payload struct {
		Days int `json:"days"`
	}
	if c.Request.ContentLength > 0 {
		if !bindJSON(c, &payload, "请求参数不合法") {
			return
		}
	}
	if payload.Days == 0 {
		payload.Days = 1
	}

	task, err := a.tasks.PushForward(id, payload.Days)
	if err != nil {
		handleTaskError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"task": taskToPayload(*task)})
}

func taskToPayload(task db.Task) gin.H {
	payload := gin.H{
		"id":         task.ID,
		"title":      task.Title,
		"kind":       task.Kind,
		"completed":  task.Completed,
		"location":   task.Location,
		"created_at": task.CreatedAt.Format(time.RFC3339),
	}
	if task.DueDate != nil {
		payload["due_date"] = task.DueDate.Format(time.RFC3339)
	}
	if task.Notes != "" {
		payload["notes"] = task.Notes
	}
	return payload
}

func renderNotes(notes string) string {
	if strings.TrimSpace(notes) == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := markdownEngine.Convert([]byte(notes), &buf); err != nil {
		return ""
	}
	return sanitizer.Sanitize(buf.String())
}

func handleTaskError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrInvalidRecurrence),
		errors.Is(err, service.ErrUnsupportedRecurrence):
		respondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrTaskNotFound),
		errors.Is(err, service.ErrTemplateNotFound),
		errors.Is(err, service.ErrInstanceNotFound):
		respondError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInvariantViolation):
		respondError(c, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrUnsupportedKind):
		respondError(c, http.StatusNotImplemented, err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "操作失败")
	}
}

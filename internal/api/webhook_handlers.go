package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func webhookID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "Неверный ID webhook'а")
		return 0, false
	}
	return id, true
}

func (rs *RestServer) handleGetOutboundWebhooks(c *gin.Context) {
	webhooks := rs.outboundWebhooks.GetWebhooks()
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Список webhook'ов получен",
		Data: gin.H{
			"webhooks": webhooks,
			"total":    len(webhooks),
		},
	})
}

func (rs *RestServer) handleCreateOutboundWebhook(c *gin.Context) {
	var webhook OutboundWebhook
	if err := c.ShouldBindJSON(&webhook); err != nil {
		badRequest(c, "Неверный формат webhook'а: "+err.Error())
		return
	}
	if len(webhook.Events) == 0 {
		badRequest(c, "Обязательные поля: name, url, events")
		return
	}

	created := rs.outboundWebhooks.AddWebhook(webhook)
	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Webhook создан",
		Data:    created,
	})
}

func (rs *RestServer) handleGetOutboundWebhook(c *gin.Context) {
	id, ok := webhookID(c)
	if !ok {
		return
	}
	webhook, found := rs.outboundWebhooks.GetWebhook(id)
	if !found {
		notFound(c, "Webhook не найден")
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Webhook найден",
		Data:    webhook,
	})
}

func (rs *RestServer) handleUpdateOutboundWebhook(c *gin.Context) {
	id, ok := webhookID(c)
	if !ok {
		return
	}

	// binding:"required" у полей не нужен при частичном обновлении
	var updates struct {
		Name       string   `json:"name"`
		URL        string   `json:"url"`
		Secret     string   `json:"secret"`
		Events     []string `json:"events"`
		Layers     []string `json:"layers"`
		Active     bool     `json:"active"`
		Timeout    int      `json:"timeout"`
		RetryCount int      `json:"retry_count"`
	}
	if err := c.ShouldBindJSON(&updates); err != nil {
		badRequest(c, "Неверный формат обновлений: "+err.Error())
		return
	}

	updated, found := rs.outboundWebhooks.UpdateWebhook(id, OutboundWebhook{
		Name:       updates.Name,
		URL:        updates.URL,
		Secret:     updates.Secret,
		Events:     updates.Events,
		Layers:     updates.Layers,
		Active:     updates.Active,
		Timeout:    updates.Timeout,
		RetryCount: updates.RetryCount,
	})
	if !found {
		notFound(c, "Webhook не найден")
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Webhook обновлён",
		Data:    updated,
	})
}

func (rs *RestServer) handleDeleteOutboundWebhook(c *gin.Context) {
	id, ok := webhookID(c)
	if !ok {
		return
	}
	if !rs.outboundWebhooks.DeleteWebhook(id) {
		notFound(c, "Webhook не найден")
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Webhook удалён",
	})
}

func (rs *RestServer) handleGetWebhookEventTypes(c *gin.Context) {
	eventTypes := rs.outboundWebhooks.GetEventTypes()
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Типы событий получены",
		Data: gin.H{
			"event_types": eventTypes,
			"total":       len(eventTypes),
		},
	})
}

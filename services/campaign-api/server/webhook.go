package server

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Mutter0815/tenantcast/internal/dispatch"
	"github.com/Mutter0815/tenantcast/internal/gateway"
	"github.com/Mutter0815/tenantcast/pkg/logx"
)

const maxWebhookBody = 1 << 20

// VerifyWebhook answers the gateway's subscription handshake.
func (h *Handlers) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	if mode == "subscribe" && h.Webhook.VerifyToken != "" && token == h.Webhook.VerifyToken {
		c.String(http.StatusOK, c.Query("hub.challenge"))
		return
	}
	c.JSON(http.StatusForbidden, gin.H{"error": "verification failed"})
}

// ReceiveWebhook applies delivery callbacks. Once the signature checks out
// it always answers 200 so the gateway does not redeliver.
func (h *Handlers) ReceiveWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if err := gateway.VerifySignature(h.Webhook.AppSecret, body, c.GetHeader(gateway.SignatureHeader)); err != nil {
		logx.L().Warnw("webhook_bad_signature", "client_ip", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	events, parseErr := gateway.ParseCallback(body)

	var eventID int64
	if parseErr == nil {
		if eventID, err = h.Webhooks.SaveWebhookEvent(ctx, body); err != nil {
			logx.L().Errorw("webhook_audit_error", "error", err)
		}
	} else {
		logx.L().Warnw("webhook_parse_error", "error", parseErr)
	}

	var notes []string
	applied := 0
	for _, ev := range events {
		out, err := h.Ingest.Apply(ctx, ev)
		if err != nil {
			logx.L().Errorw("webhook_apply_error", "external_id", ev.ExternalID, "status", ev.RawStatus, "error", err)
			notes = append(notes, ev.ExternalID+": "+err.Error())
			continue
		}
		if out == dispatch.IngestApplied {
			applied++
		}
	}

	if eventID > 0 {
		if err := h.Webhooks.MarkWebhookProcessed(ctx, eventID, strings.Join(notes, "; "), time.Now().UTC()); err != nil {
			logx.L().Warnw("webhook_mark_error", "event_id", eventID, "error", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "events": len(events), "applied": applied})
}

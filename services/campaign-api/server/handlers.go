package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Mutter0815/tenantcast/docs"
	"github.com/Mutter0815/tenantcast/internal/campaign"
	"github.com/Mutter0815/tenantcast/internal/dispatch"
	"github.com/Mutter0815/tenantcast/internal/gateway"
	"github.com/Mutter0815/tenantcast/internal/otp"
	"github.com/Mutter0815/tenantcast/internal/store"
	"github.com/Mutter0815/tenantcast/pkg/config"
	"github.com/Mutter0815/tenantcast/pkg/logx"
	"github.com/Mutter0815/tenantcast/pkg/model"
)

type lifecycleAPI interface {
	Activate(ctx context.Context, tenantID, id int64) error
	Pause(ctx context.Context, tenantID, id int64) error
	Resume(ctx context.Context, tenantID, id int64) error
	Retrigger(ctx context.Context, tenantID, campaignID int64, now time.Time) (*model.CampaignRun, error)
}

type runsAPI interface {
	GetCampaign(ctx context.Context, tenantID, id int64) (model.Campaign, error)
	ListRuns(ctx context.Context, tenantID, campaignID int64, limit int) ([]model.CampaignRun, error)
}

type authAPI interface {
	Issue(ctx context.Context, address string, purpose model.OTPPurpose) (otp.Issued, error)
	Verify(ctx context.Context, address string, purpose model.OTPPurpose, code string) error
}

type sessionAPI interface {
	sessionParser
	Issue(address string, purpose model.OTPPurpose, now time.Time) (string, time.Time, error)
}

type ingestAPI interface {
	Apply(ctx context.Context, ev gateway.StatusEvent) (dispatch.IngestOutcome, error)
}

type webhookLogAPI interface {
	SaveWebhookEvent(ctx context.Context, payload []byte) (int64, error)
	MarkWebhookProcessed(ctx context.Context, id int64, note string, at time.Time) error
}

type Handlers struct {
	Campaigns lifecycleAPI
	Runs      runsAPI
	Auth      authAPI
	Sessions  sessionAPI
	Ingest    ingestAPI
	Webhooks  webhookLogAPI

	Webhook        config.Webhook
	RequireSession bool
}

func NewHandlers(st *store.Store, orch *campaign.Orchestrator, auth *otp.Authenticator,
	sessions *otp.Sessions, ingester *dispatch.Ingester, cfg config.APIConfig) *Handlers {
	return &Handlers{
		Campaigns:      orch,
		Runs:           st,
		Auth:           auth,
		Sessions:       sessions,
		Ingest:         ingester,
		Webhooks:       st,
		Webhook:        cfg.Webhook,
		RequireSession: cfg.OTP.RequireSession,
	}
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (h *Handlers) SwaggerUI(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", docs.CampaignSwaggerHTML)
}

func (h *Handlers) OpenAPI(c *gin.Context) {
	c.Data(http.StatusOK, "application/yaml", docs.CampaignOpenAPI)
}

type runView struct {
	ID                int64      `json:"id"`
	CampaignID        int64      `json:"campaign_id"`
	PeriodKey         string     `json:"period_key"`
	ScheduledAt       time.Time  `json:"scheduled_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	Status            string     `json:"status"`
	ErrorNote         string     `json:"error_note,omitempty"`
	TotalContacts     int        `json:"total_contacts"`
	EligibleContacts  int        `json:"eligible_contacts"`
	MessagesQueued    int        `json:"messages_queued"`
	MessagesSent      int        `json:"messages_sent"`
	MessagesDelivered int        `json:"messages_delivered"`
	MessagesRead      int        `json:"messages_read"`
	MessagesFailed    int        `json:"messages_failed"`
}

func toRunView(r model.CampaignRun) runView {
	return runView{
		ID:                r.ID,
		CampaignID:        r.CampaignID,
		PeriodKey:         r.PeriodKey,
		ScheduledAt:       r.ScheduledAt,
		StartedAt:         r.StartedAt,
		CompletedAt:       r.CompletedAt,
		Status:            string(r.Status),
		ErrorNote:         r.ErrorNote,
		TotalContacts:     r.TotalContacts,
		EligibleContacts:  r.EligibleContacts,
		MessagesQueued:    r.MessagesQueued,
		MessagesSent:      r.MessagesSent,
		MessagesDelivered: r.MessagesDelivered,
		MessagesRead:      r.MessagesRead,
		MessagesFailed:    r.MessagesFailed,
	}
}

func campaignID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func (h *Handlers) ActivateCampaign(c *gin.Context) { h.lifecycle(c, "activate", h.Campaigns.Activate) }
func (h *Handlers) PauseCampaign(c *gin.Context)    { h.lifecycle(c, "pause", h.Campaigns.Pause) }
func (h *Handlers) ResumeCampaign(c *gin.Context)   { h.lifecycle(c, "resume", h.Campaigns.Resume) }

func (h *Handlers) lifecycle(c *gin.Context, op string, fn func(ctx context.Context, tenantID, id int64) error) {
	id, ok := campaignID(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := fn(ctx, tenantID(c), id); err != nil {
		writeCampaignError(c, op, id, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "result": op})
}

func (h *Handlers) RetriggerCampaign(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()

	run, err := h.Campaigns.Retrigger(ctx, tenantID(c), id, time.Now().UTC())
	if err != nil && run == nil {
		writeCampaignError(c, "retrigger", id, err)
		return
	}
	if err != nil {
		logx.L().Errorw("retrigger_run_failed", "campaign_id", id, "run_id", run.ID, "error", err)
	}
	c.JSON(http.StatusOK, toRunView(*run))
}

func (h *Handlers) ListRuns(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if _, err := h.Runs.GetCampaign(ctx, tenantID(c), id); err != nil {
		writeCampaignError(c, "list_runs", id, err)
		return
	}
	runs, err := h.Runs.ListRuns(ctx, tenantID(c), id, limit)
	if err != nil {
		writeCampaignError(c, "list_runs", id, err)
		return
	}
	out := make([]runView, 0, len(runs))
	for _, r := range runs {
		out = append(out, toRunView(r))
	}
	c.JSON(http.StatusOK, out)
}

func writeCampaignError(c *gin.Context, op string, id int64, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
	case errors.Is(err, campaign.ErrInvalidTransition),
		errors.Is(err, campaign.ErrNotRetriggerable),
		errors.Is(err, campaign.ErrRunExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrSubSegmentRequired):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		logx.L().Errorw("campaign_"+op+"_error", "campaign_id", id, "tenant_id", tenantID(c), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": op + " error"})
	}
}

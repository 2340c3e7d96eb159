package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/vaibhavij20/Welldoc/internal/activity"
	"github.com/vaibhavij20/Welldoc/internal/middleware"
)

// ActivityServiceInterface はイベント・同意記録ハンドラーが必要とするサービスインターフェース。
type ActivityServiceInterface interface {
	RecordEvent(ctx context.Context, in activity.EventInput) (int64, error)
	RecordConsent(ctx context.Context, in activity.ConsentInput) (int64, error)
}

// ActivityHandler はイベントと同意記録のHTTPハンドラー。
// どちらのエンドポイントも認証不要で、Bearerトークンがあればユーザーを補完する。
type ActivityHandler struct {
	service ActivityServiceInterface
}

// NewActivityHandler はActivityHandlerを生成する。
func NewActivityHandler(service ActivityServiceInterface) *ActivityHandler {
	return &ActivityHandler{service: service}
}

type eventRequest struct {
	UserID    *string         `json:"userId"`
	SessionID *string         `json:"sessionId"`
	EventType string          `json:"eventType"`
	Scenario  *string         `json:"scenario"`
	Timestamp *time.Time      `json:"timestamp"`
	Details   json.RawMessage `json:"details"`
}

type consentRequest struct {
	UserID    *string         `json:"userId"`
	Consent   json.RawMessage `json:"consent"`
	Timestamp *time.Time      `json:"timestamp"`
}

type recordedResponse struct {
	Status string `json:"status"`
	ID     int64  `json:"id"`
}

// RecordEvent はクライアントのイベントを記録する。
// POST /api/events
func (h *ActivityHandler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id, err := h.service.RecordEvent(r.Context(), activity.EventInput{
		UserID:    callerOr(r, req.UserID),
		SessionID: req.SessionID,
		EventType: req.EventType,
		Scenario:  req.Scenario,
		Timestamp: req.Timestamp,
		Details:   req.Details,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, recordedResponse{Status: "ok", ID: id})
}

// RecordConsent は同意を記録する。
// POST /api/consent
func (h *ActivityHandler) RecordConsent(w http.ResponseWriter, r *http.Request) {
	var req consentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id, err := h.service.RecordConsent(r.Context(), activity.ConsentInput{
		UserID:    callerOr(r, req.UserID),
		Consent:   req.Consent,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, recordedResponse{Status: "ok", ID: id})
}

// callerOr はボディのuserIdを優先し、未指定ならBearerトークンのユーザーIDを返す。
func callerOr(r *http.Request, bodyUserID *string) *string {
	if bodyUserID != nil && *bodyUserID != "" {
		return bodyUserID
	}
	if userID, err := middleware.UserIDFromContext(r.Context()); err == nil {
		return &userID
	}
	return bodyUserID
}

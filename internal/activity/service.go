// Package activity はクライアントの操作イベントと同意記録の保存を提供する。
package activity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/vaibhavij20/Welldoc/internal/model"
	"github.com/vaibhavij20/Welldoc/internal/repository"
)

// Sanitizer は自由入力テキストの無害化インターフェース。
type Sanitizer interface {
	Sanitize(raw string) string
}

// EventInput はイベント記録の入力。nilの項目は未指定として扱う。
type EventInput struct {
	UserID    *string
	SessionID *string
	EventType string
	Scenario  *string
	Timestamp *time.Time
	Details   json.RawMessage
}

// ConsentInput は同意記録の入力。
type ConsentInput struct {
	UserID    *string
	Consent   json.RawMessage
	Timestamp *time.Time
}

// Service はイベントと同意の記録を行う。
type Service struct {
	events    repository.EventRepository
	consents  repository.ConsentRepository
	sanitizer Sanitizer
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(events repository.EventRepository, consents repository.ConsentRepository, sanitizer Sanitizer) *Service {
	return &Service{
		events:    events,
		consents:  consents,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// RecordEvent はイベントを保存し、採番されたIDを返す。
// タイムスタンプ未指定の場合は現在時刻、detailsが未指定の場合は空オブジェクトを保存する。
func (s *Service) RecordEvent(ctx context.Context, in EventInput) (int64, error) {
	if in.EventType == "" {
		return 0, model.NewEventTypeRequiredError()
	}

	event := &model.Event{
		UserID:    blankToNil(in.UserID),
		SessionID: blankToNil(in.SessionID),
		EventType: in.EventType,
		Timestamp: s.timestampOrNow(in.Timestamp),
		Details:   in.Details,
	}
	if in.Scenario != nil {
		scenario := s.sanitizer.Sanitize(*in.Scenario)
		event.Scenario = blankToNil(&scenario)
	}
	if isAbsentJSON(event.Details) {
		event.Details = json.RawMessage(`{}`)
	}

	id, err := s.events.Create(ctx, event)
	if err != nil {
		return 0, fmt.Errorf("failed to record event: %w", err)
	}

	slog.Debug("event recorded",
		slog.Int64("id", id),
		slog.String("event_type", event.EventType),
	)
	return id, nil
}

// RecordConsent は同意記録を保存し、採番されたIDを返す。
// consentはnull、false、空文字の場合も未指定として扱う。
func (s *Service) RecordConsent(ctx context.Context, in ConsentInput) (int64, error) {
	if isFalsyJSON(in.Consent) {
		return 0, model.NewConsentRequiredError()
	}

	consent := &model.Consent{
		UserID:    blankToNil(in.UserID),
		Consent:   in.Consent,
		GrantedAt: s.timestampOrNow(in.Timestamp),
	}

	id, err := s.consents.Create(ctx, consent)
	if err != nil {
		return 0, fmt.Errorf("failed to record consent: %w", err)
	}

	slog.Info("consent recorded", slog.Int64("id", id))
	return id, nil
}

func (s *Service) timestampOrNow(ts *time.Time) time.Time {
	if ts == nil || ts.IsZero() {
		return s.now()
	}
	return *ts
}

func blankToNil(v *string) *string {
	if v == nil || *v == "" {
		return nil
	}
	return v
}

func isAbsentJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func isFalsyJSON(raw json.RawMessage) bool {
	if isAbsentJSON(raw) {
		return true
	}
	switch string(bytes.TrimSpace(raw)) {
	case "false", `""`, "0":
		return true
	}
	return false
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lacolombe/portal-notify/internal/models"
	"github.com/lacolombe/portal-notify/internal/notification"
	"github.com/lacolombe/portal-notify/internal/repository"
)

type fakeService struct {
	outcome notification.Outcome
	err     error
	stats   models.Stats
	last    models.NotificationRequest
}

func (f *fakeService) Dispatch(_ context.Context, req models.NotificationRequest) (notification.Outcome, error) {
	f.last = req
	return f.outcome, f.err
}

func (f *fakeService) SendTest(_ context.Context, token, title, body string) (notification.Outcome, error) {
	f.last = models.NotificationRequest{Title: title, Body: body, Data: models.NotificationData{EntityID: token}}
	return f.outcome, f.err
}

func (f *fakeService) Stats(context.Context, string, int) (models.Stats, error) {
	return f.stats, f.err
}

func (f *fakeService) ListRecent(context.Context, string, int) ([]models.NotificationRecord, error) {
	return nil, f.err
}

type fakeParentRepo struct {
	tokenErr error
}

func (f *fakeParentRepo) GetByID(context.Context, string) (models.Parent, error) {
	return models.Parent{}, repository.ErrNotFound
}

func (f *fakeParentRepo) Authenticate(context.Context, string, string) (models.Parent, error) {
	return models.Parent{}, repository.ErrNotFound
}

func (f *fakeParentRepo) SetFCMToken(context.Context, string, string) error { return f.tokenErr }

func (f *fakeParentRepo) ListChildren(context.Context, string) ([]models.Child, error) {
	return nil, nil
}

type fakeDeviceRepo struct {
	upserts []models.DeviceRegistration
}

func (f *fakeDeviceRepo) Upsert(_ context.Context, reg models.DeviceRegistration) error {
	f.upserts = append(f.upserts, reg)
	return nil
}

func (f *fakeDeviceRepo) Touch(context.Context, string) error { return nil }

func (f *fakeDeviceRepo) DeactivateStale(context.Context, time.Time) (int64, error) { return 0, nil }

func (f *fakeDeviceRepo) ListActiveByParent(context.Context, string) ([]models.DeviceRegistration, error) {
	return nil, nil
}

func newTestHandler(svc *fakeService, parents *fakeParentRepo) (*NotificationHandler, *fakeDeviceRepo) {
	devices := &fakeDeviceRepo{}
	return NewNotificationHandler(svc, parents, devices, zerolog.Nop()), devices
}

func postJSON(t *testing.T, handler http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestSendParentNotificationSuccess(t *testing.T) {
	svc := &fakeService{outcome: notification.Outcome{Delivered: true, Tier: notification.TierTransport, MessageID: "msg-1"}}
	h, _ := newTestHandler(svc, &fakeParentRepo{})

	rec := postJSON(t, h.SendParentNotification, "/sendParentNotification",
		`{"parentId":"P1","title":"📊 Nouvelle note publiée","body":"Awa a une nouvelle note","data":{"type":"grades","page":"grades"},"priority":"high"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out notification.Outcome
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Delivered || out.MessageID != "msg-1" {
		t.Errorf("outcome = %+v", out)
	}
	if svc.last.ParentID != "P1" || svc.last.Data.Type != models.CategoryGrades {
		t.Errorf("service received %+v", svc.last)
	}
}

func TestSendParentNotificationValidation(t *testing.T) {
	h, _ := newTestHandler(&fakeService{}, &fakeParentRepo{})

	cases := []string{
		`not json`,
		`{"title":"t","body":"b"}`,
		`{"parentId":"P1","body":"b"}`,
		`{"parentId":"P1","title":"t"}`,
	}
	for _, body := range cases {
		rec := postJSON(t, h.SendParentNotification, "/sendParentNotification", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestSendParentNotificationNotFound(t *testing.T) {
	svc := &fakeService{err: notification.ErrNotFound}
	h, _ := newTestHandler(svc, &fakeParentRepo{})

	rec := postJSON(t, h.SendParentNotification, "/sendParentNotification",
		`{"parentId":"missing","title":"t","body":"b"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSendParentNotificationSuppressedIsOK(t *testing.T) {
	svc := &fakeService{outcome: notification.Outcome{Delivered: false, Reason: "suppressed"}}
	h, _ := newTestHandler(svc, &fakeParentRepo{})

	rec := postJSON(t, h.SendParentNotification, "/sendParentNotification",
		`{"parentId":"P1","title":"t","body":"b"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("suppression must be 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"suppressed"`) {
		t.Errorf("body = %s, want suppressed reason", rec.Body.String())
	}
}

func TestSaveFCMToken(t *testing.T) {
	h, devices := newTestHandler(&fakeService{}, &fakeParentRepo{})

	rec := postJSON(t, h.SaveFCMToken, "/saveFCMToken", `{"token":"tok-1","parentId":"P1","platform":"web"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(devices.upserts) != 1 || devices.upserts[0].Token != "tok-1" {
		t.Errorf("upserts = %+v", devices.upserts)
	}

	rec = postJSON(t, h.SaveFCMToken, "/saveFCMToken", `{"token":"tok-1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing parentId: status = %d, want 400", rec.Code)
	}
}

func TestSaveFCMTokenUnknownParent(t *testing.T) {
	h, devices := newTestHandler(&fakeService{}, &fakeParentRepo{tokenErr: repository.ErrNotFound})

	rec := postJSON(t, h.SaveFCMToken, "/saveFCMToken", `{"token":"tok-1","parentId":"missing"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if len(devices.upserts) != 0 {
		t.Error("no device row for an unknown parent")
	}
}

func TestNotificationStats(t *testing.T) {
	svc := &fakeService{stats: models.Stats{
		Total:    3,
		ByType:   map[string]int{"grades": 2, "presence": 1},
		ByStatus: map[string]int{"sent": 3},
		ByDay:    map[string]int{"2026-03-01": 3},
	}}
	h, _ := newTestHandler(svc, &fakeParentRepo{})

	req := httptest.NewRequest(http.MethodGet, "/getNotificationStats?parentId=P1&days=30", nil)
	rec := httptest.NewRecorder()
	h.NotificationStats(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out struct {
		Success  bool         `json:"success"`
		Stats    models.Stats `json:"stats"`
		ParentID string       `json:"parentId"`
		Period   string       `json:"period"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Success || out.Stats.Total != 3 || out.Period != "30d" {
		t.Errorf("response = %+v", out)
	}
}

func TestNotificationStatsValidation(t *testing.T) {
	h, _ := newTestHandler(&fakeService{}, &fakeParentRepo{})

	req := httptest.NewRequest(http.MethodGet, "/getNotificationStats", nil)
	rec := httptest.NewRecorder()
	h.NotificationStats(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing parentId: status = %d, want 400", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/getNotificationStats?parentId=P1&days=zero", nil)
	rec = httptest.NewRecorder()
	h.NotificationStats(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad days: status = %d, want 400", rec.Code)
	}
}

func TestSendTestNotification(t *testing.T) {
	svc := &fakeService{outcome: notification.Outcome{Delivered: true, Tier: notification.TierTransport}}
	h, _ := newTestHandler(svc, &fakeParentRepo{})

	rec := postJSON(t, h.SendTest, "/sendTestNotification", `{"token":"tok-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if svc.last.Data.EntityID != "tok-1" {
		t.Errorf("service received %+v", svc.last)
	}

	rec = postJSON(t, h.SendTest, "/sendTestNotification", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing token: status = %d, want 400", rec.Code)
	}
}

package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lacolombe/portal-notify/internal/models"
	"github.com/lacolombe/portal-notify/internal/push"
	"github.com/lacolombe/portal-notify/internal/repository"
)

type fakeParents struct {
	parents map[string]models.Parent
}

func (f *fakeParents) GetByID(_ context.Context, id string) (models.Parent, error) {
	p, ok := f.parents[id]
	if !ok {
		return models.Parent{}, repository.ErrNotFound
	}
	return p, nil
}

func (f *fakeParents) Authenticate(context.Context, string, string) (models.Parent, error) {
	return models.Parent{}, repository.ErrNotFound
}

func (f *fakeParents) SetFCMToken(context.Context, string, string) error { return nil }

func (f *fakeParents) ListChildren(context.Context, string) ([]models.Child, error) {
	return nil, nil
}

type fakeDevices struct {
	touched []string
}

func (f *fakeDevices) Upsert(context.Context, models.DeviceRegistration) error { return nil }

func (f *fakeDevices) Touch(_ context.Context, token string) error {
	f.touched = append(f.touched, token)
	return nil
}

func (f *fakeDevices) DeactivateStale(context.Context, time.Time) (int64, error) { return 0, nil }

func (f *fakeDevices) ListActiveByParent(context.Context, string) ([]models.DeviceRegistration, error) {
	return nil, nil
}

type fakeNotifications struct {
	records []models.NotificationRecord
}

func (f *fakeNotifications) Create(_ context.Context, rec models.NotificationRecord) (string, error) {
	f.records = append(f.records, rec)
	return "rec-1", nil
}

func (f *fakeNotifications) Stats(context.Context, string, time.Time) (models.Stats, error) {
	return models.Stats{}, nil
}

func (f *fakeNotifications) ListRecent(context.Context, string, int) ([]models.NotificationRecord, error) {
	return nil, nil
}

type fakeTransport struct {
	sends []string
	err   error
}

func (f *fakeTransport) Send(_ context.Context, token string, _ push.Message) (string, error) {
	f.sends = append(f.sends, token)
	if f.err != nil {
		return "", f.err
	}
	return "msg-123", nil
}

func newTestService(parents *fakeParents, transport *fakeTransport) (Service, *fakeDevices, *fakeNotifications) {
	devices := &fakeDevices{}
	notifications := &fakeNotifications{}
	svc := NewService(parents, devices, notifications, transport, zerolog.Nop())
	return svc, devices, notifications
}

func request(parentID string) models.NotificationRequest {
	return models.NotificationRequest{
		ParentID: parentID,
		Title:    "📊 Nouvelle note publiée",
		Body:     "Awa a une nouvelle note en Mathématiques",
		Data: models.NotificationData{
			Type:     models.CategoryGrades,
			Page:     "grades",
			EntityID: "g1",
		},
		Priority: models.PriorityHigh,
	}
}

func TestDispatchSuccess(t *testing.T) {
	parents := &fakeParents{parents: map[string]models.Parent{
		"P1": {ID: "P1", NotificationEnabled: true, FCMToken: "tok-1"},
	}}
	transport := &fakeTransport{}
	svc, devices, notifications := newTestService(parents, transport)

	outcome, err := svc.Dispatch(context.Background(), request("P1"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !outcome.Delivered || outcome.Tier != TierTransport {
		t.Errorf("outcome = %+v, want delivered via transport", outcome)
	}
	if outcome.MessageID != "msg-123" {
		t.Errorf("messageId = %q, want msg-123", outcome.MessageID)
	}
	if len(notifications.records) != 1 || notifications.records[0].Status != models.NotificationStatusSent {
		t.Fatalf("expected one sent record, got %+v", notifications.records)
	}
	if len(devices.touched) != 1 || devices.touched[0] != "tok-1" {
		t.Errorf("expected device touch for tok-1, got %v", devices.touched)
	}
}

func TestDispatchSuppressedNeverTouchesTransport(t *testing.T) {
	parents := &fakeParents{parents: map[string]models.Parent{
		"P1": {ID: "P1", NotificationEnabled: false, FCMToken: "tok-1"},
	}}
	transport := &fakeTransport{}
	svc, _, notifications := newTestService(parents, transport)

	outcome, err := svc.Dispatch(context.Background(), request("P1"))
	if err != nil {
		t.Fatalf("suppression must not be an error, got %v", err)
	}
	if outcome.Delivered || outcome.Reason != "suppressed" {
		t.Errorf("outcome = %+v, want suppressed", outcome)
	}
	if len(transport.sends) != 0 {
		t.Error("transport must not be called for suppressed notifications")
	}
	if len(notifications.records) != 0 {
		t.Error("suppressed notifications must not be audited as sends")
	}
}

func TestDispatchUnknownParent(t *testing.T) {
	svc, _, notifications := newTestService(&fakeParents{parents: map[string]models.Parent{}}, &fakeTransport{})

	_, err := svc.Dispatch(context.Background(), request("missing"))
	if err == nil || !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(notifications.records) != 0 {
		t.Error("no record should be written for an unknown parent")
	}
}

func TestDispatchMissingToken(t *testing.T) {
	parents := &fakeParents{parents: map[string]models.Parent{
		"P1": {ID: "P1", NotificationEnabled: true},
	}}
	svc, _, notifications := newTestService(parents, &fakeTransport{})

	_, err := svc.Dispatch(context.Background(), request("P1"))
	if err == nil || !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(notifications.records) != 0 {
		t.Error("no record should be written without a token")
	}
}

func TestDispatchTransportFailureIsAudited(t *testing.T) {
	parents := &fakeParents{parents: map[string]models.Parent{
		"P1": {ID: "P1", NotificationEnabled: true, FCMToken: "tok-1"},
	}}
	transport := &fakeTransport{err: push.ErrInvalidToken}
	svc, devices, notifications := newTestService(parents, transport)

	outcome, err := svc.Dispatch(context.Background(), request("P1"))
	if err == nil {
		t.Fatal("expected transport failure to surface")
	}
	if outcome.Delivered {
		t.Error("failed dispatch must not report delivery")
	}
	if len(notifications.records) != 1 {
		t.Fatalf("expected one failed record, got %d", len(notifications.records))
	}
	rec := notifications.records[0]
	if rec.Status != models.NotificationStatusFailed || rec.Error == nil {
		t.Errorf("record = %+v, want failed with error message", rec)
	}
	if len(devices.touched) != 0 {
		t.Error("failed sends must not refresh the device registration")
	}
}

func TestSendTestSkipsParentResolutionAndAudit(t *testing.T) {
	transport := &fakeTransport{}
	svc, _, notifications := newTestService(&fakeParents{parents: map[string]models.Parent{}}, transport)

	outcome, err := svc.SendTest(context.Background(), "tok-test", "", "")
	if err != nil {
		t.Fatalf("send test: %v", err)
	}
	if !outcome.Delivered || outcome.Tier != TierTransport {
		t.Errorf("outcome = %+v, want delivered via transport", outcome)
	}
	if len(transport.sends) != 1 || transport.sends[0] != "tok-test" {
		t.Errorf("sends = %v, want the raw token", transport.sends)
	}
	if len(notifications.records) != 0 {
		t.Error("test sends must not write audit records")
	}
}

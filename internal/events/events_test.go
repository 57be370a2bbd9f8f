package events

import (
	"testing"
	"time"
)

func TestDecodeGrade(t *testing.T) {
	published := time.Date(2026, 2, 14, 9, 30, 0, 0, time.UTC)
	grade, err := DecodeGrade("g1", map[string]any{
		"className":   "3B",
		"subject":     "Mathématiques",
		"publishedAt": published.Format(time.RFC3339),
		"grades": []any{
			map[string]any{"studentMatricule": "M100", "value": "15"},
			map[string]any{"studentMatricule": "M200", "value": "12"},
		},
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if grade.ClassName != "3B" || grade.Subject != "Mathématiques" {
		t.Errorf("unexpected grade: %+v", grade)
	}
	if !grade.PublishedAt.Equal(published) {
		t.Errorf("publishedAt = %v, want %v", grade.PublishedAt, published)
	}
	if !grade.Contains("M100") || !grade.Contains("M200") {
		t.Error("expected both students in the batch")
	}
	if grade.Contains("M999") {
		t.Error("unexpected student in the batch")
	}
}

func TestDecodeGradeMissingClass(t *testing.T) {
	if _, err := DecodeGrade("g2", map[string]any{"subject": "Anglais"}); err == nil {
		t.Fatal("expected error for missing className")
	}
}

func TestDecodeIncidentDefaults(t *testing.T) {
	incident, err := DecodeIncident("i1", map[string]any{"studentMatricule": "M100"})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if incident.Kind != "Incident scolaire" {
		t.Errorf("kind = %q, want default", incident.Kind)
	}
	if incident.Severity != "moyen" {
		t.Errorf("severity = %q, want default", incident.Severity)
	}

	if _, err := DecodeIncident("i2", map[string]any{}); err == nil {
		t.Fatal("expected error for missing studentMatricule")
	}
}

func TestDecodePresence(t *testing.T) {
	p, err := DecodePresence("p1", map[string]any{
		"studentId": "M100",
		"date":      "2026-02-14",
		"status":    "late",
		"published": true,
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Status != PresenceLate || !p.Published {
		t.Errorf("unexpected presence: %+v", p)
	}
}

func TestTimestampEpochMillis(t *testing.T) {
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	hw, err := DecodeHomework("h1", map[string]any{
		"className": "4A",
		"createdAt": float64(at.UnixMilli()),
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !hw.CreatedAt.Equal(at) {
		t.Errorf("createdAt = %v, want %v", hw.CreatedAt, at)
	}
}

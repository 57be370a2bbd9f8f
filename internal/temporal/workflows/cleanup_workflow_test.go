package workflows

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"

	"github.com/lacolombe/portal-notify/internal/models"
	"github.com/lacolombe/portal-notify/internal/temporal/activities"
)

type fakeDeviceRepo struct {
	cutoffs     []time.Time
	deactivated int64
}

func (f *fakeDeviceRepo) Upsert(context.Context, models.DeviceRegistration) error { return nil }

func (f *fakeDeviceRepo) Touch(context.Context, string) error { return nil }

func (f *fakeDeviceRepo) DeactivateStale(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.deactivated, nil
}

func (f *fakeDeviceRepo) ListActiveByParent(context.Context, string) ([]models.DeviceRegistration, error) {
	return nil, nil
}

func TestTokenCleanupWorkflow(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	repo := &fakeDeviceRepo{deactivated: 4}
	acts := activities.New(repo, zerolog.Nop())
	env.RegisterActivityWithOptions(acts.DeactivateStaleTokensActivity, activity.RegisterOptions{
		Name: "DeactivateStaleTokensActivity",
	})

	env.ExecuteWorkflow(TokenCleanupWorkflow, TokenCleanupParams{RetentionDays: 30})

	if !env.IsWorkflowCompleted() {
		t.Fatal("workflow did not complete")
	}
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}

	if len(repo.cutoffs) != 1 {
		t.Fatalf("expected one sweep, got %d", len(repo.cutoffs))
	}
	wantCutoff := time.Now().UTC().AddDate(0, 0, -30)
	if diff := wantCutoff.Sub(repo.cutoffs[0]); diff > time.Hour || diff < -time.Hour {
		t.Errorf("cutoff = %v, want about %v", repo.cutoffs[0], wantCutoff)
	}
}

func TestTokenCleanupWorkflowDefaultsRetention(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	repo := &fakeDeviceRepo{}
	acts := activities.New(repo, zerolog.Nop())
	env.RegisterActivityWithOptions(acts.DeactivateStaleTokensActivity, activity.RegisterOptions{
		Name: "DeactivateStaleTokensActivity",
	})

	env.ExecuteWorkflow(TokenCleanupWorkflow, TokenCleanupParams{})

	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}
	if len(repo.cutoffs) != 1 {
		t.Fatalf("expected one sweep, got %d", len(repo.cutoffs))
	}
	wantCutoff := time.Now().UTC().AddDate(0, 0, -models.DeviceRetentionDays)
	if diff := wantCutoff.Sub(repo.cutoffs[0]); diff > time.Hour || diff < -time.Hour {
		t.Errorf("cutoff = %v, want about %v", repo.cutoffs[0], wantCutoff)
	}
}

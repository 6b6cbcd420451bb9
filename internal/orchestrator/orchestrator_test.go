package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/autoagent/core/internal/provider"
	"github.com/autoagent/core/internal/resilience"
)

func TestRunRegistryAbortCancelsAndDequeues(t *testing.T) {
	registry := NewRunRegistry()
	_, cancel := context.WithCancel(context.Background())
	registry.Register("run-1", cancel)

	if !registry.Abort("run-1") {
		t.Fatalf("Abort on a registered run should report true")
	}
	if registry.Abort("run-1") {
		t.Errorf("Abort on an already-dequeued run should report false")
	}
}

func TestRunRegistryAbortUnknownRun(t *testing.T) {
	registry := NewRunRegistry()
	if registry.Abort("missing") {
		t.Errorf("Abort on an unregistered run should report false")
	}
}

func TestRunRegistryCancelPropagates(t *testing.T) {
	registry := NewRunRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	registry.Register("run-1", cancel)

	registry.Abort("run-1")
	select {
	case <-ctx.Done():
	default:
		t.Errorf("context should be cancelled after Abort")
	}
}

func TestBaselineStoreUpdateMaxNeverDecreases(t *testing.T) {
	store := NewBaselineStore()

	if got := store.UpdateMax("balanced", 0.7); got != 0.7 {
		t.Errorf("UpdateMax = %v, want 0.7", got)
	}
	if got := store.UpdateMax("balanced", 0.5); got != 0.7 {
		t.Errorf("UpdateMax should not decrease: got %v, want 0.7", got)
	}
	if got := store.UpdateMax("balanced", 0.9); got != 0.9 {
		t.Errorf("UpdateMax should advance on a higher aggregate: got %v, want 0.9", got)
	}
	if got := store.Get("other-mode"); got != 0 {
		t.Errorf("Get on an unseen routing mode should be the zero value, got %v", got)
	}
}

func TestNewFillsDefaults(t *testing.T) {
	o := New(Deps{})
	if o.deps.Policies == nil {
		t.Error("Policies default not applied")
	}
	if o.deps.Breakers == nil {
		t.Error("Breakers default not applied")
	}
	if o.deps.Resolver == nil {
		t.Error("Resolver default not applied")
	}
	if o.deps.Registry == nil {
		t.Error("Registry default not applied")
	}
	if o.deps.Baselines == nil {
		t.Error("Baselines default not applied")
	}
	if o.deps.Logger == nil {
		t.Error("Logger default not applied")
	}
	if o.deps.Now == nil {
		t.Error("Now default not applied")
	}
	if o.deps.RNG == nil {
		t.Error("RNG default not applied")
	}
	if o.deps.Metrics == nil {
		t.Error("Metrics default not applied")
	}
}

func TestClassifyProviderFailureRetriesServerErrors(t *testing.T) {
	for _, status := range []int{500, 502, 503, 504, 429} {
		err := classifyProviderFailure(provider.NewHTTPError("openai", "gpt-test", status, nil))
		if resilience.IsPermanent(err) {
			t.Errorf("status %d must stay retryable", status)
		}
	}
}

func TestClassifyProviderFailureStopsOnClientErrors(t *testing.T) {
	for _, status := range []int{400, 401, 403, 404} {
		err := classifyProviderFailure(provider.NewHTTPError("openai", "gpt-test", status, nil))
		if !resilience.IsPermanent(err) {
			t.Errorf("status %d must not be retried", status)
		}
		if resilience.Classify(err) != resilience.ClassProvider {
			t.Errorf("status %d should classify as a provider error", status)
		}
	}
}

func TestClassifyProviderFailureNetworkErrorsRetry(t *testing.T) {
	err := classifyProviderFailure(errors.New("read tcp: connection reset by peer"))
	if resilience.IsPermanent(err) {
		t.Error("connection resets must stay retryable")
	}
}

func TestClassifyProviderFailureCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := classifyProviderFailure(fmt.Errorf("provider: openai request: %w", ctx.Err()))
	if !resilience.IsPermanent(err) || resilience.Classify(err) != resilience.ClassCancelled {
		t.Error("cancellation must be permanent and classified as cancelled")
	}
}

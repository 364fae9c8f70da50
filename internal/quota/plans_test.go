package quota

import (
	"os"
	"path/filepath"
	"testing"

	"pressroom/internal/domain"
)

func TestLoadPlanLimitsEmptyPath(t *testing.T) {
	plans, err := LoadPlanLimits("")
	if err != nil {
		t.Fatalf("LoadPlanLimits error: %v", err)
	}
	if plans.LimitsFor(domain.PlanFree)[domain.ResourceReport] != 10 {
		t.Fatalf("expected built-in free report limit 10, got %d", plans.LimitsFor(domain.PlanFree)[domain.ResourceReport])
	}
}

func TestLoadPlanLimitsMergesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.json")
	contents := `{"pro": {"article": 80}, "agency": {"report": 1000, "article": 400}}`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write plans file: %v", err)
	}

	plans, err := LoadPlanLimits(path)
	if err != nil {
		t.Fatalf("LoadPlanLimits error: %v", err)
	}

	pro := plans.LimitsFor(domain.PlanPro)
	if pro[domain.ResourceArticle] != 80 {
		t.Fatalf("pro article = %d, want override 80", pro[domain.ResourceArticle])
	}
	if pro[domain.ResourceReport] != 100 {
		t.Fatalf("pro report = %d, want default 100 preserved", pro[domain.ResourceReport])
	}

	// Unknown tiers in the file become new tiers.
	agency := plans[domain.PlanTier("agency")]
	if agency[domain.ResourceReport] != 1000 || agency[domain.ResourceArticle] != 400 {
		t.Fatalf("unexpected agency limits: %v", agency)
	}
}

func TestLoadPlanLimitsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write plans file: %v", err)
	}
	if _, err := LoadPlanLimits(path); err == nil {
		t.Fatal("expected decode error")
	}

	if _, err := LoadPlanLimits(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected read error")
	}
}

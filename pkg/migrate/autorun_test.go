package migrate

import (
	"context"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/angelmondragon/storefront-checkout/pkg/config"
)

func TestMaybeRunDevSkipsOutsideDev(t *testing.T) {
	cases := map[string]config.Config{
		"prod with flag":   {App: config.AppConfig{Env: "prod"}, FeatureFlags: config.FeatureFlagsConfig{AutoMigrate: true}},
		"dev without flag": {App: config.AppConfig{Env: "dev"}},
	}
	for name, cfg := range cases {
		if err := MaybeRunDev(context.Background(), &cfg, nil, nil); err != nil {
			t.Fatalf("%s: expected no-op, got %v", name, err)
		}
	}
}

func TestAutorunRejectsMalformedMigrationsBeforeConnecting(t *testing.T) {
	src := Source{
		FS: fstest.MapFS{
			"migrations/20260301000000_payment_intents.sql": {Data: []byte("-- +goose Up\nSELECT 1;\n")},
		},
		Dir: "migrations",
	}
	err := autorun(context.Background(), nil, src, nil)
	if err == nil || !strings.Contains(err.Error(), "-- +goose Down") {
		t.Fatalf("expected missing down section error, got %v", err)
	}
}

func TestAutorunRequiresDatabase(t *testing.T) {
	err := autorun(context.Background(), nil, Embedded(), nil)
	if err == nil || !strings.Contains(err.Error(), "db is required") {
		t.Fatalf("expected db required error, got %v", err)
	}
}

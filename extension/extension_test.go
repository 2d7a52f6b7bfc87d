package extension_test

import (
	"context"
	"testing"
	"time"

	forgetesting "github.com/xraph/forge/testing"

	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/engine"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/extension"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/job"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/store/memory"
)

// ──────────────────────────────────────────────────
// Metadata
// ──────────────────────────────────────────────────

func TestExtension_Metadata(t *testing.T) {
	ext := extension.New()

	if ext.Name() != extension.ExtensionName {
		t.Errorf("Name() = %q, want %q", ext.Name(), extension.ExtensionName)
	}
	if ext.Description() != extension.ExtensionDescription {
		t.Errorf("Description() = %q, want %q", ext.Description(), extension.ExtensionDescription)
	}
	if ext.Version() != extension.ExtensionVersion {
		t.Errorf("Version() = %q, want %q", ext.Version(), extension.ExtensionVersion)
	}
}

// ──────────────────────────────────────────────────
// Register → engine initialized
// ──────────────────────────────────────────────────

func TestExtension_Register(t *testing.T) {
	ext := extension.New(
		extension.WithStore(memory.New()),
	)

	fapp := forgetesting.NewTestApp("test-app", "0.1.0")

	if err := ext.Register(fapp); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if ext.Engine() == nil {
		t.Fatal("expected engine to be initialized after Register")
	}
	if ext.Service() == nil {
		t.Fatal("expected service to be initialized after Register")
	}
	if ext.Store() == nil {
		t.Fatal("expected store to be initialized after Register")
	}
}

// With no explicit store or config the extension defaults to the
// in-memory backend.
func TestExtension_RegisterDefaultsToMemory(t *testing.T) {
	ext := extension.New()
	fapp := forgetesting.NewTestApp("default-app", "0.1.0")

	if err := ext.Register(fapp); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if ext.Store() == nil {
		t.Fatal("expected a default memory store")
	}
}

// ──────────────────────────────────────────────────
// Full lifecycle: Register → Start → Health → Stop
// ──────────────────────────────────────────────────

func TestExtension_Lifecycle(t *testing.T) {
	ext := extension.New(
		extension.WithStore(memory.New()),
		extension.WithConcurrency(2),
	)

	fapp := forgetesting.NewTestApp("lifecycle-app", "0.1.0")

	if err := ext.Register(fapp); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx := context.Background()
	if err := ext.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := ext.Health(ctx); err != nil {
		t.Errorf("Health: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := ext.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Register + enqueue via engine
// ──────────────────────────────────────────────────

func TestExtension_RegisterAndEnqueue(t *testing.T) {
	ext := extension.New(
		extension.WithStore(memory.New()),
	)

	fapp := forgetesting.NewTestApp("enqueue-app", "0.1.0")

	if err := ext.Register(fapp); err != nil {
		t.Fatalf("Register: %v", err)
	}

	eng := ext.Engine()
	engine.Register(eng, job.NewProcessor("test-job",
		func(_ context.Context, _ *job.Execution, _ struct{}) (*job.Result, error) {
			return nil, nil
		},
	))

	j, err := engine.Enqueue(context.Background(), eng, "test-job", struct{}{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if j.Type != "test-job" {
		t.Errorf("job.Type = %q, want %q", j.Type, "test-job")
	}
	if j.Status != job.StatusPending {
		t.Errorf("job.Status = %q, want %q", j.Status, job.StatusPending)
	}
}

// ──────────────────────────────────────────────────
// Lifecycle calls before Register
// ──────────────────────────────────────────────────

func TestExtension_StartBeforeRegister(t *testing.T) {
	ext := extension.New()

	if err := ext.Start(context.Background()); err == nil {
		t.Fatal("expected error when starting before Register")
	}
}

func TestExtension_HealthBeforeRegister(t *testing.T) {
	ext := extension.New()

	if err := ext.Health(context.Background()); err == nil {
		t.Fatal("expected error when checking health before Register")
	}
}

func TestExtension_StopBeforeRegister(t *testing.T) {
	ext := extension.New()

	if err := ext.Stop(context.Background()); err != nil {
		t.Fatalf("Stop before Register should be no-op, got: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Backend validation
// ──────────────────────────────────────────────────

func TestExtension_UnsupportedBackend(t *testing.T) {
	ext := extension.New(
		extension.WithConfig(extension.Config{Backend: "cassandra"}),
	)
	fapp := forgetesting.NewTestApp("bad-backend-app", "0.1.0")

	if err := ext.Register(fapp); err == nil {
		t.Fatal("expected error for unsupported backend")
	}
}

func TestExtension_RedisBackendRequiresAddr(t *testing.T) {
	ext := extension.New(
		extension.WithConfig(extension.Config{Backend: "redis"}),
	)
	fapp := forgetesting.NewTestApp("redis-app", "0.1.0")

	if err := ext.Register(fapp); err == nil {
		t.Fatal("expected error for redis backend without redis_addr")
	}
}

func TestExtension_PostgresBackendRequiresDSN(t *testing.T) {
	ext := extension.New(
		extension.WithConfig(extension.Config{Backend: "postgres"}),
	)
	fapp := forgetesting.NewTestApp("pg-app", "0.1.0")

	if err := ext.Register(fapp); err == nil {
		t.Fatal("expected error for postgres backend without postgres_dsn")
	}
}

// ──────────────────────────────────────────────────
// Options
// ──────────────────────────────────────────────────

func TestExtension_DisableMigrate(t *testing.T) {
	ext := extension.New(
		extension.WithStore(memory.New()),
		extension.WithDisableMigrate(),
	)

	fapp := forgetesting.NewTestApp("no-migrate-app", "0.1.0")

	if err := ext.Register(fapp); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx := context.Background()
	if err := ext.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := ext.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestExtension_WithConcurrency(t *testing.T) {
	ext := extension.New(
		extension.WithStore(memory.New()),
		extension.WithConcurrency(8),
	)

	fapp := forgetesting.NewTestApp("concurrency-app", "0.1.0")

	if err := ext.Register(fapp); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if got := ext.Service().Config().Concurrency; got != 8 {
		t.Errorf("Concurrency = %d, want 8", got)
	}
}

func TestExtension_RequireConfigFailsWithoutFile(t *testing.T) {
	ext := extension.New(
		extension.WithRequireConfig(true),
	)
	fapp := forgetesting.NewTestApp("require-config-app", "0.1.0")

	if err := ext.Register(fapp); err == nil {
		t.Fatal("expected error when config is required but absent")
	}
}

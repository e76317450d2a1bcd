package firestore

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
)

func TestNewTxConfigAppliesOptions(t *testing.T) {
	cfg := newTxConfig()
	if cfg.attempts != defaultTxAttempts || cfg.timeout != defaultTxTimeout {
		t.Fatalf("unexpected defaults %+v", cfg)
	}

	cfg = newTxConfig(WithTxAttempts(2), WithTxTimeout(3*time.Second), nil)
	if cfg.attempts != 2 || cfg.timeout != 3*time.Second {
		t.Fatalf("expected overrides, got %+v", cfg)
	}

	cfg = newTxConfig(WithTxAttempts(0), WithTxTimeout(-time.Second))
	if cfg.attempts != defaultTxAttempts || cfg.timeout != defaultTxTimeout {
		t.Fatalf("expected non-positive values to keep defaults, got %+v", cfg)
	}
}

func TestRunTransactionRequiresClient(t *testing.T) {
	var fn TxFunc = func(context.Context, *firestore.Transaction) error { return nil }
	if err := RunTransaction(context.Background(), nil, fn); err == nil {
		t.Fatalf("expected error without a client")
	}
}

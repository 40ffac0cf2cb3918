package rate

import (
	"context"
	"testing"
	"time"

	"github.com/skygenesisenterprise/aether-broker/internal/cache"
)

func TestAllowUntilLimit(t *testing.T) {
	l := New(cache.NewMemory(""), 3, time.Minute, true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !l.Allow(ctx, "k1") {
			t.Fatalf("hit %d rechazado dentro del límite", i+1)
		}
	}
	if l.Allow(ctx, "k1") {
		t.Fatal("cuarto hit permitido, el límite es 3")
	}

	// otra key no comparte contador
	if !l.Allow(ctx, "k2") {
		t.Fatal("key distinta rechazada")
	}
}

func TestResetClearsCounter(t *testing.T) {
	l := New(cache.NewMemory(""), 1, time.Minute, true)
	ctx := context.Background()

	if !l.Allow(ctx, "k1") {
		t.Fatal("primer hit rechazado")
	}
	if l.Allow(ctx, "k1") {
		t.Fatal("segundo hit permitido")
	}

	l.Reset(ctx, "k1")
	if !l.Allow(ctx, "k1") {
		t.Fatal("hit post-reset rechazado")
	}
}

func TestDisabledIsPassthrough(t *testing.T) {
	ctx := context.Background()

	for _, l := range []*Limiter{
		New(cache.NewMemory(""), 1, time.Minute, false),
		New(cache.NewMemory(""), 0, time.Minute, true),
	} {
		for i := 0; i < 10; i++ {
			if !l.Allow(ctx, "k1") {
				t.Fatal("limiter deshabilitado rechazó un hit")
			}
		}
	}
}

func TestKeyComposition(t *testing.T) {
	if got := Key("mfa_verify", "10.0.0.1", "u-1"); got != "mfa_verify:10.0.0.1:u-1" {
		t.Fatalf("Key = %q", got)
	}
}

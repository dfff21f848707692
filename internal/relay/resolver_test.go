package relay

import (
	"errors"
	"strings"
	"testing"
)

func TestResolveImage(t *testing.T) {
	t.Run("pointer token delegates to store take", func(t *testing.T) {
		store := NewPointerStore()
		id := store.Put("AAAA", "image/png")

		got, err := ResolveImage(store, TokenPrefix+id)
		if err != nil {
			t.Fatalf("ResolveImage failed: %v", err)
		}
		if got != "AAAA" {
			t.Errorf("expected AAAA, got %q", got)
		}
		// Token is spent now.
		if _, err := ResolveImage(store, TokenPrefix+id); err == nil {
			t.Error("expected error for consumed token")
		}
	})

	t.Run("unknown pointer is a hard error naming the pointer", func(t *testing.T) {
		store := NewPointerStore()
		_, err := ResolveImage(store, "image:xyz")
		if err == nil {
			t.Fatal("expected error")
		}
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound in chain, got %v", err)
		}
		if !strings.Contains(err.Error(), "xyz") {
			t.Errorf("error should name the pointer: %v", err)
		}
	})

	t.Run("data URL strips through first comma", func(t *testing.T) {
		got, err := ResolveImage(NewPointerStore(), "data:image/png;base64,AAAA")
		if err != nil {
			t.Fatalf("ResolveImage failed: %v", err)
		}
		if got != "AAAA" {
			t.Errorf("expected AAAA, got %q", got)
		}
	})

	t.Run("raw base64 passes through", func(t *testing.T) {
		got, err := ResolveImage(NewPointerStore(), "AAAA")
		if err != nil {
			t.Fatalf("ResolveImage failed: %v", err)
		}
		if got != "AAAA" {
			t.Errorf("expected AAAA, got %q", got)
		}
	})

	t.Run("empty value means image search not requested", func(t *testing.T) {
		got, err := ResolveImage(NewPointerStore(), "")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got != "" {
			t.Errorf("expected empty result, got %q", got)
		}
	})
}

package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/convai/dialog-router/internal/store"
)

func TestSampleProfile_EmptyReturnsErrNoProfiles(t *testing.T) {
	s := openTestStore(t)
	_, err := s.SampleProfile(context.Background())
	if !errors.Is(err, store.ErrNoProfiles) {
		t.Fatalf("expected ErrNoProfiles, got %v", err)
	}
}

func TestSampleProfile_ReturnsRegisteredProfile(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	p := store.PersonProfile{ID: "p1", Sentences: []string{"I like tea.", "I live in Kazan."}}
	if err := s.RegisterProfile(ctx, p); err != nil {
		t.Fatalf("register: %v", err)
	}
	got, err := s.SampleProfile(ctx)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if got.ID != "p1" || len(got.Sentences) != 2 {
		t.Fatalf("unexpected profile: %+v", got)
	}
}

func TestSampleProfileDistinctFrom(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	p1 := store.PersonProfile{ID: "p1", Sentences: []string{"A"}}
	p2 := store.PersonProfile{ID: "p2", Sentences: []string{"B"}}
	if err := s.RegisterProfile(ctx, p1); err != nil {
		t.Fatalf("register p1: %v", err)
	}
	if err := s.RegisterProfile(ctx, p2); err != nil {
		t.Fatalf("register p2: %v", err)
	}
	got, err := s.SampleProfileDistinctFrom(ctx, p1)
	if err != nil {
		t.Fatalf("sample distinct: %v", err)
	}
	if got.ID != "p2" {
		t.Fatalf("expected p2, got %s", got.ID)
	}
}

func TestSampleProfileDistinctFrom_FallsBackToErrNoProfiles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	p1 := store.PersonProfile{ID: "p1", Sentences: []string{"A"}}
	if err := s.RegisterProfile(ctx, p1); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := s.SampleProfileDistinctFrom(ctx, p1)
	if !errors.Is(err, store.ErrNoProfiles) {
		t.Fatalf("expected ErrNoProfiles, got %v", err)
	}
}

func TestSampleProfileInLinkGroup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	p1 := store.PersonProfile{ID: "p1", Sentences: []string{"A"}, LinkGroupID: "g1"}
	p2 := store.PersonProfile{ID: "p2", Sentences: []string{"B"}, LinkGroupID: "g1"}
	p3 := store.PersonProfile{ID: "p3", Sentences: []string{"C"}, LinkGroupID: "g2"}
	for _, p := range []store.PersonProfile{p1, p2, p3} {
		if err := s.RegisterProfile(ctx, p); err != nil {
			t.Fatalf("register %s: %v", p.ID, err)
		}
	}
	got, err := s.SampleProfileInLinkGroup(ctx, "g1", "p1")
	if err != nil {
		t.Fatalf("sample linked: %v", err)
	}
	if got.ID != "p2" {
		t.Fatalf("expected p2, got %s", got.ID)
	}
}

func TestProfile_Description(t *testing.T) {
	p := store.PersonProfile{Sentences: []string{"I like tea.", "I live in Kazan."}}
	want := "I like tea.\nI live in Kazan."
	if got := p.Description(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

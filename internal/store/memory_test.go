package store

import (
	"context"
	"strings"
	"testing"

	"github.com/xela07ax/toolgate/internal/domain"
)

func samplePolicy() domain.Policy {
	return domain.Policy{
		Version:  1,
		Profiles: map[string]domain.Profile{"default": {}},
	}
}

func TestPublishAssignsSequentialVersions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	v1, err := s.Publish(ctx, samplePolicy())
	if err != nil {
		t.Fatal(err)
	}
	v2, err := s.Publish(ctx, samplePolicy())
	if err != nil {
		t.Fatal(err)
	}

	if v1.Version != 1 || v2.Version != 2 {
		t.Errorf("versions = %d, %d; want 1, 2", v1.Version, v2.Version)
	}
	if !strings.HasPrefix(v1.ID, "pv_") {
		t.Errorf("id = %q, want pv_ prefix", v1.ID)
	}
	if v1.Active || v2.Active {
		t.Error("published versions must start inactive")
	}
}

func TestSingleActiveInvariant(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	v1, _ := s.Publish(ctx, samplePolicy())
	v2, _ := s.Publish(ctx, samplePolicy())

	if _, err := s.Activate(ctx, v1.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Activate(ctx, v2.ID); err != nil {
		t.Fatal(err)
	}

	active, err := s.GetActive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if active == nil || active.ID != v2.ID {
		t.Fatalf("active = %+v, want %s", active, v2.ID)
	}

	versions, _ := s.ListVersions(ctx)
	activeCount := 0
	for _, v := range versions {
		if v.Active {
			activeCount++
		}
	}
	if activeCount != 1 {
		t.Fatalf("active versions = %d, want exactly 1", activeCount)
	}
}

func TestActivateUnknownID(t *testing.T) {
	s := NewMemoryStore()

	if _, err := s.Activate(context.Background(), "pv_nope"); err != ErrVersionNotFound {
		t.Fatalf("err = %v, want ErrVersionNotFound", err)
	}
}

func TestGetActiveEmptyStore(t *testing.T) {
	s := NewMemoryStore()

	v, err := s.GetActive(context.Background())
	if err != nil || v != nil {
		t.Fatalf("empty store: v=%+v err=%v, want nil, nil", v, err)
	}
}

func TestListVersionsNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.Publish(ctx, samplePolicy()); err != nil {
			t.Fatal(err)
		}
	}

	versions, err := s.ListVersions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 3 {
		t.Fatalf("len = %d, want 3", len(versions))
	}
	for i, v := range versions {
		if want := 3 - i; v.Version != want {
			t.Errorf("versions[%d] = %d, want %d", i, v.Version, want)
		}
	}
}

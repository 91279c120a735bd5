package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"mealcore/internal/blob"
	"mealcore/pkg/domain"
)

func seedIngredient(t *testing.T, svc *Service) domain.Ingredient {
	t.Helper()
	ing := domain.Ingredient{Base: domain.Base{ID: "ing-1"}, Name: "Apple", NutritionPer100g: domain.Nutrition{Calories: 52, Protein: 0.3}}
	if err := svc.Store().Ingredients().Save(context.Background(), ing); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return ing
}

func TestPatchIngredient(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	seedIngredient(t, svc)

	name := "Green apple"
	got, err := svc.PatchIngredient(ctx, "ing-1", domain.IngredientPatch{Name: &name})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if got.Name != name || !got.UpdatedAt.Equal(fixedNow) {
		t.Fatalf("unexpected patched ingredient %+v", got)
	}
	bad := domain.Nutrition{Calories: -1}
	if _, err := svc.PatchIngredient(ctx, "ing-1", domain.IngredientPatch{NutritionPer100g: &bad}); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	stored, _ := svc.GetIngredient(ctx, "ing-1")
	if stored.Name != name || stored.NutritionPer100g.Calories != 52 {
		t.Fatalf("rejected patch must leave ingredient untouched: %+v", stored)
	}
	if _, err := svc.PatchIngredient(ctx, "nope", domain.IngredientPatch{Name: &name}); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUploadIngredientImage(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemory()
	svc, _ := newTestService(WithBlobStore(blobs))
	seedIngredient(t, svc)

	got, err := svc.UploadIngredientImage(ctx, "ing-1", "../photo.png", "image/png", strings.NewReader("png-bytes"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if got.ImageURL != "memory://ingredients/ing-1/photo.png" {
		t.Fatalf("unexpected image url %q", got.ImageURL)
	}
	info, rc, err := blobs.Get(ctx, "ingredients/ing-1/photo.png")
	if err != nil {
		t.Fatalf("get blob: %v", err)
	}
	defer func() { _ = rc.Close() }()
	body, _ := io.ReadAll(rc)
	if string(body) != "png-bytes" || info.ContentType != "image/png" {
		t.Fatalf("unexpected blob %+v %q", info, body)
	}

	if _, err := svc.UploadIngredientImage(ctx, "ing-1", "photo.png", "image/png", bytes.NewReader(nil)); !domain.IsValidation(err) {
		t.Fatalf("expected duplicate image rejection, got %v", err)
	}
	if _, err := svc.UploadIngredientImage(ctx, "ghost", "x.png", "image/png", bytes.NewReader(nil)); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if list, _ := blobs.List(ctx, "ingredients/ghost/"); len(list) != 0 {
		t.Fatalf("no blob may be written for a missing ingredient")
	}
}

func TestUploadIngredientImageRequiresBlobStore(t *testing.T) {
	svc, _ := newTestService()
	seedIngredient(t, svc)
	_, err := svc.UploadIngredientImage(context.Background(), "ing-1", "a.png", "image/png", strings.NewReader("x"))
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

type stubLookup struct {
	query string
	items []domain.ExternalIngredient
	err   error
}

func (s *stubLookup) Search(_ context.Context, query string) ([]domain.ExternalIngredient, error) {
	s.query = query
	return s.items, s.err
}

func TestSearchExternalIngredients(t *testing.T) {
	ctx := context.Background()
	lookup := &stubLookup{items: []domain.ExternalIngredient{external("e1", 1, 1, 100)}}
	log := &captureLogger{}
	svc, _ := newTestService(WithIngredientLookup(lookup), WithLogger(log))

	items, err := svc.SearchExternalIngredients(ctx, "  oat milk ")
	if err != nil || len(items) != 1 || lookup.query != "oat milk" {
		t.Fatalf("search: %v %v %q", items, err, lookup.query)
	}
	if _, err := svc.SearchExternalIngredients(ctx, " "); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	lookup.err = domain.InfrastructureError{Op: "food api search", Err: domain.ErrRateLimited}
	if _, err := svc.SearchExternalIngredients(ctx, "oats"); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if !log.has("w:") || !log.has("e:") {
		t.Fatalf("expected warn and error logs, got %v", log.calls)
	}

	bare, _ := newTestService()
	if _, err := bare.SearchExternalIngredients(ctx, "oats"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

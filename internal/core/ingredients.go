package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"mealcore/internal/blob"
	"mealcore/pkg/domain"
)

// GetIngredient returns an ingredient by id.
func (s *Service) GetIngredient(ctx context.Context, id string) (domain.Ingredient, error) {
	var ing domain.Ingredient
	err := s.run(ctx, "get_ingredient", func(ctx context.Context) error {
		var err error
		ing, err = s.store.Ingredients().GetByID(ctx, id)
		return storeFailure("load ingredient", err)
	})
	return ing, err
}

// PatchIngredient applies an explicit patch. Resolution never updates stored
// ingredients; this is the only path that does.
func (s *Service) PatchIngredient(ctx context.Context, id string, patch domain.IngredientPatch) (domain.Ingredient, error) {
	var ing domain.Ingredient
	err := s.run(ctx, "patch_ingredient", func(ctx context.Context) error {
		return s.uow.RunInTransaction(ctx, func(txCtx context.Context) error {
			var err error
			ing, err = s.patchIngredient(txCtx, id, patch)
			return err
		})
	})
	if err != nil {
		return domain.Ingredient{}, err
	}
	return ing, nil
}

func (s *Service) patchIngredient(txCtx context.Context, id string, patch domain.IngredientPatch) (domain.Ingredient, error) {
	ing, err := s.store.Ingredients().GetByID(txCtx, id)
	if err != nil {
		return domain.Ingredient{}, storeFailure("load ingredient", err)
	}
	if err := ing.ApplyPatch(patch); err != nil {
		return domain.Ingredient{}, err
	}
	ing.UpdatedAt = s.now()
	if err := s.store.Ingredients().Save(txCtx, ing); err != nil {
		return domain.Ingredient{}, storeFailure("save ingredient", err)
	}
	return ing, nil
}

// UploadIngredientImage stores the image in the blob store and points the
// ingredient's image URL at it. The blob is removed again when the ingredient
// update fails.
func (s *Service) UploadIngredientImage(ctx context.Context, ingredientID, fileName, contentType string, body io.Reader) (domain.Ingredient, error) {
	var ing domain.Ingredient
	err := s.run(ctx, "upload_ingredient_image", func(ctx context.Context) error {
		if s.blobs == nil {
			return fmt.Errorf("upload ingredient image: blob store: %w", ErrNotConfigured)
		}
		if _, err := s.store.Ingredients().GetByID(ctx, ingredientID); err != nil {
			return err
		}
		key, err := blob.ImageKey(ingredientID, fileName)
		if err != nil {
			return domain.ValidationError{Field: "file_name", Reason: err.Error()}
		}
		if _, err := s.blobs.Put(ctx, key, body, blob.PutOptions{ContentType: contentType}); err != nil {
			if errors.Is(err, blob.ErrExists) {
				return domain.ValidationError{Field: "file_name", Reason: fmt.Sprintf("image %s already exists", key)}
			}
			return domain.InfrastructureError{Op: "store ingredient image", Err: err}
		}
		url, err := s.blobs.URL(ctx, key)
		if err == nil {
			err = s.uow.RunInTransaction(ctx, func(txCtx context.Context) error {
				var perr error
				ing, perr = s.patchIngredient(txCtx, ingredientID, domain.IngredientPatch{ImageURL: &url})
				return perr
			})
		}
		if err != nil {
			if _, delErr := s.blobs.Delete(ctx, key); delErr != nil {
				return errors.Join(err, delErr)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return domain.Ingredient{}, err
	}
	return ing, nil
}

// SearchExternalIngredients queries the configured food database.
func (s *Service) SearchExternalIngredients(ctx context.Context, query string) ([]domain.ExternalIngredient, error) {
	var out []domain.ExternalIngredient
	err := s.run(ctx, "search_external_ingredients", func(ctx context.Context) error {
		if s.lookup == nil {
			return fmt.Errorf("search external ingredients: lookup: %w", ErrNotConfigured)
		}
		if strings.TrimSpace(query) == "" {
			return domain.ValidationError{Field: "query", Reason: "must not be empty"}
		}
		var err error
		out, err = s.lookup.Search(ctx, strings.TrimSpace(query))
		return err
	})
	return out, err
}

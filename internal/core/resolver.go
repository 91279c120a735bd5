package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mealcore/pkg/domain"
)

// ResolvedQuantity is the internal ingredient an external id resolved to and
// the total quantity requested for it.
type ResolvedQuantity struct {
	IngredientID    string
	QuantityInGrams float64
}

// Resolution is the outcome of resolving one batch of external descriptors.
// Nothing is persisted by the resolver; callers save the staged records.
type Resolution struct {
	Source string
	// Order lists distinct external ids in first-seen order.
	Order             []string
	Quantities        map[string]ResolvedQuantity
	StagedIngredients []domain.Ingredient
	StagedRefs        []domain.ExternalIngredientRef
}

// IngredientIDs returns the resolved ingredient ids in batch order.
func (r Resolution) IngredientIDs() []string {
	out := make([]string, 0, len(r.Order))
	for _, id := range r.Order {
		out = append(out, r.Quantities[id].IngredientID)
	}
	return out
}

// IngredientResolver maps external ingredient descriptors onto internal
// ingredient ids, reusing stored references and staging new ones.
type IngredientResolver struct {
	refs domain.ExternalIngredientRefsRepo
	ids  domain.IDGenerator
	now  func() time.Time
}

// NewIngredientResolver builds a resolver reading refs.
func NewIngredientResolver(refs domain.ExternalIngredientRefsRepo, ids domain.IDGenerator, now func() time.Time) *IngredientResolver {
	if ids == nil {
		ids = UUIDGenerator{}
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &IngredientResolver{refs: refs, ids: ids, now: now}
}

// Resolve validates the batch and partitions it into known and unknown
// external ids. Known ids keep their stored ingredient; incoming data never
// overwrites it. Repeated external ids in one batch have their quantities
// summed onto a single entry.
func (r *IngredientResolver) Resolve(ctx context.Context, batch []domain.ExternalIngredient) (Resolution, error) {
	if err := validateBatch(batch); err != nil {
		return Resolution{}, err
	}
	res := Resolution{
		Source:     batch[0].Source,
		Quantities: make(map[string]ResolvedQuantity, len(batch)),
	}
	first := make(map[string]domain.ExternalIngredient, len(batch))
	totals := make(map[string]float64, len(batch))
	for _, item := range batch {
		if _, seen := first[item.ExternalID]; !seen {
			first[item.ExternalID] = item
			res.Order = append(res.Order, item.ExternalID)
		}
		totals[item.ExternalID] += item.QuantityInGrams
	}

	known, err := r.refs.GetByExternalIDsAndSource(ctx, res.Order, res.Source)
	if err != nil {
		return Resolution{}, domain.InfrastructureError{Op: "lookup external ingredient refs", Err: err}
	}
	byExternal := make(map[string]string, len(known))
	for _, ref := range known {
		byExternal[ref.ExternalID] = ref.IngredientID
	}

	now := r.now()
	for _, extID := range res.Order {
		ingredientID, ok := byExternal[extID]
		if !ok {
			item := first[extID]
			if strings.TrimSpace(item.Name) == "" {
				return Resolution{}, domain.ValidationError{Field: "name", Reason: fmt.Sprintf("external ingredient %s/%s is unknown and has no name", item.Source, extID)}
			}
			ingredientID = r.ids.NewID()
			res.StagedIngredients = append(res.StagedIngredients, domain.Ingredient{
				Base:             domain.Base{ID: ingredientID, CreatedAt: now, UpdatedAt: now},
				Name:             strings.TrimSpace(item.Name),
				NutritionPer100g: item.NutritionPer100g,
				ImageURL:         item.ImageURL,
			})
			res.StagedRefs = append(res.StagedRefs, domain.ExternalIngredientRef{
				Source:       res.Source,
				ExternalID:   extID,
				IngredientID: ingredientID,
				CreatedAt:    now,
			})
		}
		res.Quantities[extID] = ResolvedQuantity{IngredientID: ingredientID, QuantityInGrams: totals[extID]}
	}
	return res, nil
}

func validateBatch(batch []domain.ExternalIngredient) error {
	if len(batch) == 0 {
		return domain.ValidationError{Field: "ingredients", Reason: "at least one external ingredient is required"}
	}
	source := batch[0].Source
	for i, item := range batch {
		if strings.TrimSpace(item.Source) == "" {
			return domain.ValidationError{Field: fmt.Sprintf("ingredients[%d].source", i), Reason: "must not be empty"}
		}
		if item.Source != source {
			return domain.ValidationError{Field: "ingredients", Reason: fmt.Sprintf("mixed sources %q and %q in one batch", source, item.Source)}
		}
		if strings.TrimSpace(item.ExternalID) == "" {
			return domain.ValidationError{Field: fmt.Sprintf("ingredients[%d].external_id", i), Reason: "must not be empty"}
		}
		if err := domain.ValidateQuantity(item.QuantityInGrams); err != nil {
			return err
		}
		if err := item.NutritionPer100g.Validate(fmt.Sprintf("ingredients[%d].nutrition_per_100g", i)); err != nil {
			return err
		}
	}
	return nil
}

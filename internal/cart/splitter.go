package cart

import (
	"fmt"

	"marketplace-be/internal/apperr"

	"github.com/google/uuid"
)

// SplitByStore partitions a flat cart into one group per distinct store.
// Groups come out in order of first appearance and every group keeps the
// relative order of its lines. A product listed twice for the same store is
// merged into its first line.
func SplitByStore(lines []Line) ([]Group, error) {
	if len(lines) == 0 {
		return nil, apperr.Validation("items", ErrCartEmpty.Error())
	}

	for i, l := range lines {
		field := fmt.Sprintf("items[%d]", i)
		switch {
		case l.StoreID == uuid.Nil:
			return nil, apperr.Validation(field+".store_id", ErrMissingStore.Error())
		case l.ProductID == uuid.Nil:
			return nil, apperr.Validation(field+".product_id", ErrMissingProduct.Error())
		case l.Quantity <= 0:
			return nil, apperr.Validation(field+".quantity", ErrInvalidQuantity.Error())
		case l.Quantity > MaxQuantity:
			return nil, apperr.Validation(field+".quantity", ErrQuantityTooLarge.Error())
		}
	}

	groupIdx := make(map[uuid.UUID]int)
	lineIdx := make(map[uuid.UUID]map[uuid.UUID]int)
	groups := make([]Group, 0, 1)

	for i, l := range lines {
		gi, ok := groupIdx[l.StoreID]
		if !ok {
			gi = len(groups)
			groupIdx[l.StoreID] = gi
			lineIdx[l.StoreID] = make(map[uuid.UUID]int)
			groups = append(groups, Group{StoreID: l.StoreID})
		}

		if li, dup := lineIdx[l.StoreID][l.ProductID]; dup {
			merged := &groups[gi].Lines[li]
			if merged.Quantity > MaxQuantity-l.Quantity {
				return nil, apperr.Validation(fmt.Sprintf("items[%d].quantity", i), ErrQuantityTooLarge.Error())
			}
			merged.Quantity += l.Quantity
			continue
		}

		lineIdx[l.StoreID][l.ProductID] = len(groups[gi].Lines)
		groups[gi].Lines = append(groups[gi].Lines, l)
	}

	return groups, nil
}

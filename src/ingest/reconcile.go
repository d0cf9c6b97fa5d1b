package ingest

import (
	"fmt"

	"github.com/username/sellerhub/src/models"
)

// Reconcile collapses duplicate events for the same order id into a single
// event per order. Exports commonly repeat an order when they carry separate
// "listed" and "sold" rows for one item, or when overlapping exports are
// concatenated. The later event in file order wins, mirroring the
// last-write-wins policy of the fact store; contradictory duplicates are
// reported as warnings, not errors.
//
// Output preserves first-seen order of order ids, which keeps ingestion
// deterministic for a given file.
func Reconcile(events []models.SaleEvent) ([]models.SaleEvent, []models.ConflictWarning) {
	byOrder := make(map[string]models.SaleEvent, len(events))
	order := make([]string, 0, len(events))
	var warnings []models.ConflictWarning

	for _, event := range events {
		prev, seen := byOrder[event.OrderID]
		if !seen {
			byOrder[event.OrderID] = event
			order = append(order, event.OrderID)
			continue
		}

		if reason := describeConflict(prev, event); reason != "" {
			warnings = append(warnings, models.ConflictWarning{OrderID: event.OrderID, Reason: reason})
		}

		// A sold row always supersedes a listed row for the same order:
		// that pair is the normal listed-then-sold lifecycle, not a
		// contradiction. Otherwise the later row wins outright.
		if prev.Status == models.StatusSold && event.Status == models.StatusListed {
			continue
		}
		byOrder[event.OrderID] = merge(prev, event)
	}

	resolved := make([]models.SaleEvent, 0, len(order))
	for _, orderID := range order {
		resolved = append(resolved, byOrder[orderID])
	}
	return resolved, warnings
}

// merge keeps fields from the winning (later) event, backfilling listing
// details the sold row typically omits.
func merge(prev, next models.SaleEvent) models.SaleEvent {
	if next.ListPriceCents == 0 {
		next.ListPriceCents = prev.ListPriceCents
	}
	if next.ItemID == "" {
		next.ItemID = prev.ItemID
	}
	if next.Category == models.UncategorizedCategory && prev.Category != models.UncategorizedCategory {
		next.Category = prev.Category
	}
	if next.Title == "Item" && prev.Title != "Item" {
		next.Title = prev.Title
	}
	return next
}

func describeConflict(prev, next models.SaleEvent) string {
	switch {
	case prev.Status == models.StatusSold && next.Status == models.StatusSold && prev.SalePriceCents != next.SalePriceCents:
		return fmt.Sprintf("duplicate sold rows with different sale prices (%d vs %d cents), keeping the later row",
			prev.SalePriceCents, next.SalePriceCents)
	case prev.Status == models.StatusSold && next.Status == models.StatusCancelled:
		return "order reported both sold and cancelled, keeping cancelled"
	case prev.Status == models.StatusCancelled && next.Status == models.StatusSold:
		return "order reported both cancelled and sold, keeping sold"
	default:
		return ""
	}
}

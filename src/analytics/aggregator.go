package analytics

import (
	"sort"

	"github.com/username/sellerhub/src/models"
	"github.com/username/sellerhub/src/utils"
)

const monthLayout = "2006-01"

// Aggregator derives the dashboard views from a seller's fact set. Recompute
// is a pure function: same facts in, same report out, no I/O.
type Aggregator struct{}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

func (a *Aggregator) Recompute(facts []models.SaleFact) models.Report {
	summary := models.KpiSummary{}
	monthly := make(map[string]*models.MonthlyBucket)
	categories := make(map[string]*models.CategoryBucket)
	items := make(map[string]*models.TopItem)

	var daysToSellTotal float64
	var daysToSellCount int

	for _, fact := range facts {
		// Cancelled orders were listed once but count toward nothing.
		if fact.Status == models.StatusCancelled {
			continue
		}

		summary.ListedCount++
		if fact.Status == models.StatusListed && fact.SoldAt == nil {
			summary.ActiveListings++
		}
		if fact.Status != models.StatusSold {
			continue
		}

		summary.UnitsSold++
		summary.GmvCents += fact.SalePriceCents
		summary.TotalFeesCents += fact.FeesCents

		if fact.SoldAt != nil {
			days := fact.SoldAt.Sub(fact.ListedAt).Hours() / 24
			daysToSellTotal += days
			daysToSellCount++

			month := fact.SoldAt.Format(monthLayout)
			bucket, ok := monthly[month]
			if !ok {
				bucket = &models.MonthlyBucket{Month: month}
				monthly[month] = bucket
			}
			bucket.RevenueCents += fact.SalePriceCents
			bucket.ProfitCents += fact.SalePriceCents - fact.FeesCents
			bucket.UnitsSold++
		}

		catBucket, ok := categories[fact.Category]
		if !ok {
			catBucket = &models.CategoryBucket{Category: fact.Category}
			categories[fact.Category] = catBucket
		}
		catBucket.RevenueCents += fact.SalePriceCents
		catBucket.UnitsSold++

		itemKey := fact.ItemID
		if itemKey == "" {
			// Listings without an item id cannot repeat across orders.
			itemKey = "order:" + fact.OrderID
		}
		item, ok := items[itemKey]
		if !ok {
			item = &models.TopItem{ItemID: fact.ItemID, Title: fact.Title, Category: fact.Category}
			items[itemKey] = item
		}
		item.RevenueCents += fact.SalePriceCents
		item.UnitsSold++
	}

	summary.ProfitCents = summary.GmvCents - summary.TotalFeesCents
	if summary.UnitsSold > 0 {
		summary.AvgSalePriceCents = summary.GmvCents / int64(summary.UnitsSold)
	}
	if summary.ListedCount > 0 {
		summary.SellThroughRate = float64(summary.UnitsSold) / float64(summary.ListedCount)
	}
	if daysToSellCount > 0 {
		summary.AvgDaysToSell = utils.RoundFloat(daysToSellTotal/float64(daysToSellCount), 2)
	}

	return models.Report{
		Summary:    summary,
		Monthly:    sortedMonthly(monthly),
		Categories: sortedCategories(categories),
		TopItems:   sortedTopItems(items),
	}
}

func sortedMonthly(buckets map[string]*models.MonthlyBucket) []models.MonthlyBucket {
	out := make([]models.MonthlyBucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}

func sortedCategories(buckets map[string]*models.CategoryBucket) []models.CategoryBucket {
	out := make([]models.CategoryBucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	// Order is insignificant to the API contract; revenue-descending keeps
	// the output deterministic.
	sort.Slice(out, func(i, j int) bool {
		if out[i].RevenueCents != out[j].RevenueCents {
			return out[i].RevenueCents > out[j].RevenueCents
		}
		return out[i].Category < out[j].Category
	})
	return out
}

func sortedTopItems(items map[string]*models.TopItem) []models.TopItem {
	out := make([]models.TopItem, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RevenueCents != out[j].RevenueCents {
			return out[i].RevenueCents > out[j].RevenueCents
		}
		return out[i].Title < out[j].Title
	})
	return out
}

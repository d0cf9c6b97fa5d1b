package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/username/sellerhub/src/models"
)

// Logical fields the normalizer extracts from a sales export. Each maps to a
// set of known header synonyms observed across real marketplace exports.
const (
	fieldOrderID   = "order_id"
	fieldItemID    = "item_id"
	fieldTitle     = "title"
	fieldCategory  = "category"
	fieldStatus    = "status"
	fieldListPrice = "list_price"
	fieldSalePrice = "sale_price"
	fieldFees      = "fees"
	fieldListedAt  = "listed_at"
	fieldSoldAt    = "sold_at"
)

var headerSynonyms = map[string][]string{
	fieldOrderID:   {"order id", "order", "order number", "transaction id", "receipt id"},
	fieldItemID:    {"item id", "listing id", "product id"},
	fieldTitle:     {"title", "item", "item title", "description", "product name"},
	fieldCategory:  {"category", "item category", "department"},
	fieldStatus:    {"status", "state", "listing status"},
	fieldListPrice: {"list price", "listing price", "asking price"},
	// "item price" is the sold price in real Depop exports; on unsold rows
	// NormalizeRow folds it back into the list price.
	fieldSalePrice: {"sale price", "sold price", "price", "item price", "total", "sold for"},
	fieldFees:      {"fees", "fee", "depop fee", "marketplace fee", "selling fee"},
	fieldListedAt:  {"listed at", "date of listing", "list date", "listed date", "date listed"},
	fieldSoldAt:    {"sold at", "date of sale", "sale date", "sold date", "date sold"},
}

// Columns that must resolve for the batch to be processable at all. Status
// is not required: it is inferred from the sold date when the column is
// absent. Listed date and sale price are required because sell-through and
// revenue are meaningless without them.
var requiredFields = []string{fieldOrderID, fieldSalePrice, fieldListedAt}

// Sellers export from different locales; this is the fixed set of date
// layouts we accept. First match wins.
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"02-01-2006",
	"2006/01/02",
}

var (
	moneyCleaner    = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "")
	moneyPattern    = regexp.MustCompile(`^-?\d+(\.\d{1,2})?$`)
	whitespaceRunRe = regexp.MustCompile(`\s+`)
)

// SchemaError means the export is missing required columns. Unlike a row
// rejection it aborts the whole batch before any row is processed.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("missing required columns: %s", strings.Join(e.Missing, ", "))
}

// CSVNormalizer turns a raw seller CSV export into validated SaleEvents.
// Malformed rows are collected as rejections, never raised as errors.
type CSVNormalizer struct{}

func NewCSVNormalizer() *CSVNormalizer {
	return &CSVNormalizer{}
}

// Parse reads the whole export. Row indexes in rejections are 1-based data
// row positions (the header is row 0). Returns a *SchemaError when required
// columns cannot be resolved.
func (n *CSVNormalizer) Parse(file io.Reader, sellerID string) ([]models.SaleEvent, []models.RowRejection, error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	cols, err := ResolveHeader(header)
	if err != nil {
		return nil, nil, err
	}

	var events []models.SaleEvent
	var rejections []models.RowRejection

	rowIndex := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		rowIndex++
		if err != nil {
			rejections = append(rejections, models.RowRejection{RowIndex: rowIndex, Reason: fmt.Sprintf("unreadable CSV row: %v", err)})
			continue
		}

		event, rejection := NormalizeRow(sellerID, rowIndex, cols, record)
		if rejection != nil {
			rejections = append(rejections, *rejection)
			continue
		}
		events = append(events, event)
	}

	return events, rejections, nil
}

// ResolveHeader maps logical fields to column positions. Matching is
// case-insensitive and tolerant of the known synonyms; unrecognized extra
// columns are ignored.
func ResolveHeader(header []string) (map[string]int, error) {
	cols := make(map[string]int)
	for idx, raw := range header {
		name := normalizeHeaderCell(raw)
		for field, synonyms := range headerSynonyms {
			if _, taken := cols[field]; taken {
				continue
			}
			for _, syn := range synonyms {
				if name == syn {
					cols[field] = idx
					break
				}
			}
		}
	}

	var missing []string
	for _, field := range requiredFields {
		if _, ok := cols[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Missing: missing}
	}
	return cols, nil
}

func normalizeHeaderCell(raw string) string {
	name := strings.TrimPrefix(raw, "\uFEFF") // UTF-8 BOM on the first header cell
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "_", " ")
	return whitespaceRunRe.ReplaceAllString(name, " ")
}

// NormalizeRow validates and converts one data row. It returns either a
// SaleEvent or a rejection, never both.
func NormalizeRow(sellerID string, rowIndex int, cols map[string]int, record []string) (models.SaleEvent, *models.RowRejection) {
	reject := func(reason string) (models.SaleEvent, *models.RowRejection) {
		return models.SaleEvent{}, &models.RowRejection{RowIndex: rowIndex, Reason: reason}
	}

	cell := func(field string) string {
		idx, ok := cols[field]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	orderID := cell(fieldOrderID)
	if orderID == "" {
		return reject("missing order id")
	}

	listedAtStr := cell(fieldListedAt)
	if listedAtStr == "" {
		return reject("missing listed date")
	}
	listedAt, err := ParseDate(listedAtStr)
	if err != nil {
		return reject(fmt.Sprintf("unparseable listed date %q", listedAtStr))
	}

	var soldAt *time.Time
	if soldAtStr := cell(fieldSoldAt); soldAtStr != "" {
		t, err := ParseDate(soldAtStr)
		if err != nil {
			return reject(fmt.Sprintf("unparseable sold date %q", soldAtStr))
		}
		soldAt = &t
	}

	status, err := parseStatus(cell(fieldStatus), soldAt)
	if err != nil {
		return reject(err.Error())
	}

	var salePriceCents int64
	if salePriceStr := cell(fieldSalePrice); salePriceStr != "" {
		salePriceCents, err = ParseMoneyCents(salePriceStr)
		if err != nil {
			return reject(fmt.Sprintf("invalid sale price %q", salePriceStr))
		}
		if salePriceCents < 0 {
			return reject(fmt.Sprintf("negative sale price %q", salePriceStr))
		}
	}

	if status == models.StatusSold && cell(fieldSalePrice) == "" {
		return reject("sold row without a sale price")
	}
	if status == models.StatusSold && soldAt != nil && soldAt.Before(listedAt) {
		return reject("sold date precedes listed date")
	}

	var listPriceCents int64
	if listPriceStr := cell(fieldListPrice); listPriceStr != "" {
		listPriceCents, err = ParseMoneyCents(listPriceStr)
		if err != nil || listPriceCents < 0 {
			return reject(fmt.Sprintf("invalid list price %q", listPriceStr))
		}
	}

	// Invariant: a sale price exists iff the row actually sold. On an
	// unsold row the price column is the asking price, so it folds into
	// the list price instead.
	if status != models.StatusSold && salePriceCents != 0 {
		if listPriceCents == 0 {
			listPriceCents = salePriceCents
		}
		salePriceCents = 0
	}

	var feesCents int64
	if feesStr := cell(fieldFees); feesStr != "" {
		feesCents, err = ParseMoneyCents(feesStr)
		if err != nil || feesCents < 0 {
			return reject(fmt.Sprintf("invalid fees %q", feesStr))
		}
	}
	if feesCents > salePriceCents && status == models.StatusSold {
		return reject(fmt.Sprintf("fees %d exceed sale price %d", feesCents, salePriceCents))
	}

	title := cell(fieldTitle)
	if title == "" {
		title = "Item"
	}

	return models.SaleEvent{
		SellerID:       sellerID,
		OrderID:        orderID,
		ItemID:         cell(fieldItemID),
		Title:          title,
		Category:       NormalizeCategory(cell(fieldCategory)),
		ListPriceCents: listPriceCents,
		SalePriceCents: salePriceCents,
		FeesCents:      feesCents,
		ListedAt:       listedAt,
		SoldAt:         soldAt,
		Status:         status,
	}, nil
}

// ParseMoneyCents converts amounts like "$1,234.56" to 123456. Fixed-point
// only: money never touches floating point.
func ParseMoneyCents(s string) (int64, error) {
	cleaned := moneyCleaner.Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return 0, fmt.Errorf("empty money value")
	}
	if !moneyPattern.MatchString(cleaned) {
		return 0, fmt.Errorf("non-numeric money value %q", s)
	}

	negative := strings.HasPrefix(cleaned, "-")
	cleaned = strings.TrimPrefix(cleaned, "-")

	whole, frac, _ := strings.Cut(cleaned, ".")
	// Pad so ".5" means 50 cents, not 5.
	for len(frac) < 2 {
		frac += "0"
	}

	// 18 digits of cents stays below the int64 ceiling.
	if len(whole)+len(frac) > 18 {
		return 0, fmt.Errorf("money value %q out of range", s)
	}

	var cents int64
	for _, r := range whole + frac {
		cents = cents*10 + int64(r-'0')
	}
	if negative {
		cents = -cents
	}
	return cents, nil
}

// ParseDate parses a calendar date in one of the supported export layouts,
// normalized to UTC midnight.
func ParseDate(s string) (time.Time, error) {
	trimmed := strings.TrimSpace(s)
	// Some exports append a time-of-day; only the date matters here.
	if idx := strings.IndexAny(trimmed, " T"); idx > 0 && len(trimmed) > 10 {
		trimmed = trimmed[:idx]
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// NormalizeCategory lowercases, trims, and collapses internal whitespace.
// Empty values land in the uncategorized bucket.
func NormalizeCategory(s string) string {
	cleaned := whitespaceRunRe.ReplaceAllString(strings.TrimSpace(strings.ToLower(s)), " ")
	if cleaned == "" {
		return models.UncategorizedCategory
	}
	return cleaned
}

func parseStatus(raw string, soldAt *time.Time) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		// No status column: a sold date means the row sold.
		if soldAt != nil {
			return models.StatusSold, nil
		}
		return models.StatusListed, nil
	case models.StatusSold, "complete", "completed":
		return models.StatusSold, nil
	case models.StatusListed, "active", "open", "available":
		return models.StatusListed, nil
	case models.StatusCancelled, "canceled", "refunded":
		return models.StatusCancelled, nil
	default:
		return "", fmt.Errorf("unknown status %q", raw)
	}
}

package services

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"look-marketplace/internal/models"
)

// GroupStagingRows collapses single-size staging rows into one grouped product
// per distinct item. Rows are keyed by their normalized base name (size suffix
// stripped), then by external id, and rows with neither form singleton groups.
// Groups are returned in order of first appearance. Malformed optional fields
// degrade to empty values; the call never fails because of data shape.
func GroupStagingRows(rows []models.StagingRow) []models.GroupedProduct {
	groups := make([]models.GroupedProduct, 0, len(rows))
	index := make(map[string]int, len(rows))
	sizeIndex := make(map[string]map[string]int, len(rows))

	for _, row := range rows {
		base, inferred := splitSizeSuffix(displayName(row))
		key := groupKey(row, base)
		size, dropped := rowSize(row, inferred)
		stock := rowStock(row)

		gi, ok := index[key]
		if !ok {
			g := models.GroupedProduct{
				Key:          key,
				Name:         base,
				Price:        rowPrice(row),
				SizeEntries:  []models.SizeEntry{},
				StagingIDs:   []int64{},
				PhotoURLs:    []string{},
				Category:     strings.TrimSpace(row.Category),
				Gender:       strings.TrimSpace(row.Gender),
				Subcategory:  strings.TrimSpace(row.Subcategory),
				DroppedSizes: dropped,
			}
			if row.ExternalID != nil {
				g.ExternalID = strings.TrimSpace(*row.ExternalID)
			}
			groups = append(groups, g)
			gi = len(groups) - 1
			index[key] = gi
			sizeIndex[key] = make(map[string]int)
		} else {
			groups[gi].DroppedSizes = append(groups[gi].DroppedSizes, dropped...)
		}

		g := &groups[gi]
		g.StagingIDs = append(g.StagingIDs, row.ID)
		g.Stock += stock

		if size != "" {
			sk := sizeKey(size)
			if si, ok := sizeIndex[key][sk]; ok {
				g.SizeEntries[si].Stock += stock
			} else {
				sizeIndex[key][sk] = len(g.SizeEntries)
				g.SizeEntries = append(g.SizeEntries, models.SizeEntry{Size: size, Stock: stock})
			}
		}

		if len(g.PhotoURLs) == 0 {
			g.PhotoURLs = parsePhotoURLs(row.PhotoURLs)
		}
		if g.ImageURL == "" {
			g.ImageURL = strings.TrimSpace(row.ImageURL)
			if g.ImageURL == "" && len(g.PhotoURLs) > 0 {
				g.ImageURL = g.PhotoURLs[0]
			}
		}
	}

	return groups
}

func displayName(row models.StagingRow) string {
	if row.Name != nil && strings.TrimSpace(*row.Name) != "" {
		return *row.Name
	}
	return row.RawName
}

func groupKey(row models.StagingRow, base string) string {
	if n := normalizeName(base); n != "" {
		return "name:" + n
	}
	if row.ExternalID != nil && strings.TrimSpace(*row.ExternalID) != "" {
		return "ext:" + strings.TrimSpace(*row.ExternalID)
	}
	return "row:" + strconv.FormatInt(row.ID, 10)
}

func rowStock(row models.StagingRow) int {
	if row.Stock != nil {
		if *row.Stock < 0 {
			return 0
		}
		return *row.Stock
	}
	return coerceStock(row.RawStock)
}

func rowPrice(row models.StagingRow) decimal.Decimal {
	if row.Price != nil {
		return *row.Price
	}
	return coerceDecimal(row.RawPrice)
}

// rowSize picks the row's size: the explicit sizes field wins over the name
// suffix. A row listing several sizes keeps only the first one; the others are
// returned so the caller can surface them.
func rowSize(row models.StagingRow, inferred string) (string, []string) {
	explicit := parseSizes(row.Sizes)
	if len(explicit) == 0 {
		return inferred, nil
	}
	var dropped []string
	if len(explicit) > 1 {
		dropped = append(dropped, explicit[1:]...)
	}
	return strings.ToUpper(explicit[0]), dropped
}

// parseSizes reads a sizes column that may hold an array, a delimited string,
// or a JSON-encoded string of either.
func parseSizes(raw datatypes.JSON) []string {
	value, ok := decodeLoose(raw)
	if !ok {
		return nil
	}
	switch v := value.(type) {
	case string:
		return models.SplitSizes(v)
	case float64:
		return []string{strconv.FormatFloat(v, 'f', -1, 64)}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			switch s := item.(type) {
			case string:
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			case float64:
				out = append(out, strconv.FormatFloat(s, 'f', -1, 64))
			}
		}
		return out
	}
	return nil
}

// parsePhotoURLs accepts a URL string, an array of strings, an array of
// {url|src} objects, or a JSON-encoded string holding any of those.
func parsePhotoURLs(raw datatypes.JSON) []string {
	value, ok := decodeLoose(raw)
	if !ok {
		return []string{}
	}
	out := []string{}
	appendURL := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	switch v := value.(type) {
	case string:
		for _, part := range strings.Split(v, ",") {
			appendURL(part)
		}
	case []interface{}:
		for _, item := range v {
			switch p := item.(type) {
			case string:
				appendURL(p)
			case map[string]interface{}:
				for _, field := range []string{"url", "src", "link"} {
					if s, ok := p[field].(string); ok && strings.TrimSpace(s) != "" {
						appendURL(s)
						break
					}
				}
			}
		}
	case map[string]interface{}:
		if s, ok := v["url"].(string); ok {
			appendURL(s)
		}
	}
	return out
}

// decodeLoose unmarshals raw JSON, unwrapping one level of JSON-in-a-string
func decodeLoose(raw datatypes.JSON) (interface{}, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil || value == nil {
		return nil, false
	}
	if s, ok := value.(string); ok {
		trimmed := strings.TrimSpace(s)
		if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
			var inner interface{}
			if err := json.Unmarshal([]byte(trimmed), &inner); err == nil && inner != nil {
				return inner, true
			}
			return nil, false
		}
	}
	return value, true
}

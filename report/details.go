package report

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Details carries the category-specific attributes of a report. Each
// category has exactly one variant; the variant always agrees with the
// report's Category.
type Details interface {
	Category() Category
	// Fields returns the attribute map exposed to API callers.
	Fields() map[string]string
}

type ElectronicsDetails struct {
	DeviceType string `json:"deviceType,omitempty"`
	Brand      string `json:"brand,omitempty"`
}

func (ElectronicsDetails) Category() Category { return CategoryElectronics }

func (d ElectronicsDetails) Fields() map[string]string {
	return compact(map[string]string{"deviceType": d.DeviceType, "brand": d.Brand})
}

type BagDetails struct {
	BagType string `json:"bagType,omitempty"`
	Color   string `json:"color,omitempty"`
}

func (BagDetails) Category() Category { return CategoryBags }

func (d BagDetails) Fields() map[string]string {
	return compact(map[string]string{"bagType": d.BagType, "color": d.Color})
}

type ClothingDetails struct {
	ClothingType string `json:"clothingType,omitempty"`
	Size         string `json:"size,omitempty"`
}

func (ClothingDetails) Category() Category { return CategoryClothing }

func (d ClothingDetails) Fields() map[string]string {
	return compact(map[string]string{"clothingType": d.ClothingType, "size": d.Size})
}

// NoDetails is the variant for categories without extra attributes.
type NoDetails struct {
	Of Category `json:"-"`
}

func (d NoDetails) Category() Category { return d.Of }

func (NoDetails) Fields() map[string]string { return map[string]string{} }

var detailKeys = map[Category][]string{
	CategoryElectronics: {"brand", "deviceType"},
	CategoryBags:        {"bagType", "color"},
	CategoryClothing:    {"clothingType", "size"},
}

// DetailsFromAttributes builds the variant for category from an open
// attribute map. Keys that do not belong to the variant are returned as
// field errors.
func DetailsFromAttributes(category Category, attrs map[string]string) (Details, []FieldError) {
	allowed := detailKeys[category]
	var errs []FieldError
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !contains(allowed, k) {
			errs = append(errs, FieldError{Field: "attributes." + k, Reason: fmt.Sprintf("not an attribute of %s", category)})
		}
	}

	get := func(k string) string { return strings.TrimSpace(attrs[k]) }
	switch category {
	case CategoryElectronics:
		return ElectronicsDetails{DeviceType: get("deviceType"), Brand: get("brand")}, errs
	case CategoryBags:
		return BagDetails{BagType: get("bagType"), Color: get("color")}, errs
	case CategoryClothing:
		return ClothingDetails{ClothingType: get("clothingType"), Size: get("size")}, errs
	default:
		return NoDetails{Of: category}, errs
	}
}

func marshalDetails(d Details) (string, error) {
	if d == nil {
		return "{}", nil
	}
	if _, ok := d.(NoDetails); ok {
		return "{}", nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("report: marshal details: %w", err)
	}
	return string(b), nil
}

func unmarshalDetails(category Category, raw []byte) (Details, error) {
	var d Details
	switch category {
	case CategoryElectronics:
		v := ElectronicsDetails{}
		if err := decodeInto(raw, &v); err != nil {
			return nil, err
		}
		d = v
	case CategoryBags:
		v := BagDetails{}
		if err := decodeInto(raw, &v); err != nil {
			return nil, err
		}
		d = v
	case CategoryClothing:
		v := ClothingDetails{}
		if err := decodeInto(raw, &v); err != nil {
			return nil, err
		}
		d = v
	default:
		d = NoDetails{Of: category}
	}
	return d, nil
}

func decodeInto(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("report: decode details: %w", err)
	}
	return nil
}

func compact(m map[string]string) map[string]string {
	for k, v := range m {
		if v == "" {
			delete(m, k)
		}
	}
	return m
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

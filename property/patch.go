package property

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"estateflow/apperr"
)

var ErrInvalidPatch = apperr.New(apperr.KindBadRequest, "property: invalid patch")

type fieldKind int

const (
	kindString fieldKind = iota
	kindNumber
	kindInteger
	kindBool
	kindStrings
)

type patchField struct {
	column string
	kind   fieldKind
	schema map[string]interface{}
}

// Column limits: int4 counters, numeric(14,2) price, numeric(12,2) area.
const (
	maxPrice = 999999999999.99
	maxArea  = 9999999999.99
)

// patchFields is the whitelist of owner-editable keys. Owner, status, images
// and proposals have their own operations and are rejected here.
var patchFields = map[string]patchField{
	"title":         {"title", kindString, map[string]interface{}{"type": "string", "minLength": 1}},
	"description":   {"description", kindString, map[string]interface{}{"type": "string"}},
	"price":         {"price", kindNumber, map[string]interface{}{"type": "number", "minimum": 0, "maximum": maxPrice}},
	"currency":      {"currency", kindString, map[string]interface{}{"type": "string", "minLength": 3, "maxLength": 3}},
	"area":          {"area", kindNumber, map[string]interface{}{"type": "number", "minimum": 0, "maximum": maxArea}},
	"bedrooms":      {"bedrooms", kindInteger, map[string]interface{}{"type": "integer", "minimum": 0, "maximum": math.MaxInt32}},
	"bathrooms":     {"bathrooms", kindInteger, map[string]interface{}{"type": "integer", "minimum": 0, "maximum": math.MaxInt32}},
	"parkingSpaces": {"parking_spaces", kindInteger, map[string]interface{}{"type": "integer", "minimum": 0, "maximum": math.MaxInt32}},
	"floorNumber":   {"floor_number", kindInteger, map[string]interface{}{"type": "integer", "minimum": math.MinInt32, "maximum": math.MaxInt32}},
	"isFurnished":   {"is_furnished", kindBool, map[string]interface{}{"type": "boolean"}},
	"type":          {"type", kindString, map[string]interface{}{"type": "string", "enum": []interface{}{"sale", "rent", "sold"}}},
	"propertyType":  {"property_type", kindString, map[string]interface{}{"type": "string"}},
	"rentPeriod":    {"rent_period", kindString, map[string]interface{}{"type": "string"}},
	"address":       {"address", kindString, map[string]interface{}{"type": "string"}},
	"city":          {"city", kindString, map[string]interface{}{"type": "string"}},
	"state":         {"state", kindString, map[string]interface{}{"type": "string"}},
	"country":       {"country", kindString, map[string]interface{}{"type": "string"}},
	"amenities":     {"amenities", kindStrings, map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}}},
	"contactName":   {"contact_name", kindString, map[string]interface{}{"type": "string"}},
	"contactEmail":  {"contact_email", kindString, map[string]interface{}{"type": "string", "format": "email"}},
	"contactNumber": {"contact_number", kindString, map[string]interface{}{"type": "string"}},
}

var patchSchema = buildPatchSchema()

func buildPatchSchema() *gojsonschema.Schema {
	props := make(map[string]interface{}, len(patchFields))
	for key, f := range patchFields {
		props[key] = f.schema
	}
	schemaMap := map[string]interface{}{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
		"minProperties":        1,
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
	if err != nil {
		panic(fmt.Sprintf("property: compile patch schema: %v", err))
	}
	return schema
}

// assignment is one column write produced from a validated patch.
type assignment struct {
	column string
	value  any
}

// compilePatch validates an arbitrary patch document and turns it into
// column assignments in a stable order.
func compilePatch(patch map[string]interface{}) ([]assignment, error) {
	result, err := patchSchema.Validate(gojsonschema.NewGoLoader(patch))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		sort.Strings(errs)
		return nil, fmt.Errorf("%w: %s", ErrInvalidPatch, strings.Join(errs, "; "))
	}

	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]assignment, 0, len(keys))
	for _, k := range keys {
		f := patchFields[k]
		v, err := coerce(f.kind, patch[k])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPatch, k, err)
		}
		out = append(out, assignment{column: f.column, value: v})
	}
	return out, nil
}

// coerce maps decoded JSON values onto the column's Go type.
func coerce(kind fieldKind, v interface{}) (any, error) {
	switch kind {
	case kindString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	case kindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %T", v)
		}
		return b, nil
	case kindNumber:
		return toFloat(v)
	case kindInteger:
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		if f < math.MinInt32 || f > math.MaxInt32 || f != math.Trunc(f) {
			return nil, fmt.Errorf("%v is not a 32-bit integer", f)
		}
		return int(f), nil
	case kindStrings:
		switch list := v.(type) {
		case []string:
			return list, nil
		case []interface{}:
			out := make([]string, len(list))
			for i, item := range list {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("expected string item, got %T", item)
				}
				out[i] = s
			}
			return out, nil
		}
		return nil, fmt.Errorf("expected array, got %T", v)
	}
	return nil, fmt.Errorf("unsupported field kind %d", kind)
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	}
	return 0, fmt.Errorf("expected number, got %T", v)
}

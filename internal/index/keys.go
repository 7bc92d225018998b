// Package index maintains the denormalized search structures in Redis:
// per-entity attribute snapshots, membership sets for categorical filters,
// and sorted sets for numeric range and ranking queries.
package index

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/utafrali/StaySearchGo/internal/domain"
	"github.com/utafrali/StaySearchGo/pkg/slug"
)

// KeyPrefix namespaces every index key so a rebuild can flush the index with
// a single SCAN without touching unrelated data in the same Redis database.
const KeyPrefix = "search:"

// PropertyKey is the JSON attribute snapshot of a property.
func PropertyKey(id string) string {
	return KeyPrefix + "property:" + id
}

// AllPropertiesKey is the global membership set of searchable property ids.
func AllPropertiesKey() string {
	return KeyPrefix + "properties:all"
}

// CityKey is the membership set of properties in a city. City names are
// slugified so that lookups are insensitive to case and punctuation.
func CityKey(city string) string {
	return KeyPrefix + "idx:city:" + slug.Generate(city)
}

// TypeKey is the membership set of properties of a property type.
func TypeKey(typeID string) string {
	return KeyPrefix + "idx:type:" + typeID
}

// AmenityKey is the membership set of properties offering an amenity.
func AmenityKey(amenityID string) string {
	return KeyPrefix + "idx:amenity:" + amenityID
}

// FieldKey is the membership set of properties whose dynamic field name has
// the given value.
func FieldKey(name, value string) string {
	return KeyPrefix + "idx:field:" + slug.Generate(name) + ":" + slug.Generate(value)
}

// TextKey is the membership set of properties whose name contains a token.
func TextKey(token string) string {
	return KeyPrefix + "idx:text:" + token
}

// PriceRankKey is the sorted set of property ids scored by minimum price.
func PriceRankKey() string {
	return KeyPrefix + "rank:price"
}

// RatingRankKey is the sorted set of property ids scored by average rating.
func RatingRankKey() string {
	return KeyPrefix + "rank:rating"
}

// CreatedRankKey is the sorted set of property ids scored by creation time.
func CreatedRankKey() string {
	return KeyPrefix + "rank:created"
}

// PopularityRankKey is the sorted set of property ids scored by booking count.
func PopularityRankKey() string {
	return KeyPrefix + "rank:popularity"
}

// UnitKey is the JSON attribute snapshot of a unit.
func UnitKey(id string) string {
	return KeyPrefix + "unit:" + id
}

// PropertyUnitsKey is the membership set of unit ids owned by a property.
func PropertyUnitsKey(propertyID string) string {
	return KeyPrefix + "property:" + propertyID + ":units"
}

// UnitCapacityRankKey is the sorted set of units scored by max capacity.
// Members encode the owning property so capacity range reads map back to
// property ids without per-unit lookups; see CapacityMember.
func UnitCapacityRankKey() string {
	return KeyPrefix + "rank:capacity"
}

// UnitPricingKey is the sorted pricing timeline of a unit, scored by the
// period start time.
func UnitPricingKey(unitID string) string {
	return KeyPrefix + "unit:" + unitID + ":pricing"
}

// UnitAvailabilityKey is the sorted availability timeline of a unit, scored
// by the period start time.
func UnitAvailabilityKey(unitID string) string {
	return KeyPrefix + "unit:" + unitID + ":availability"
}

// CapacityMember encodes a capacity sorted-set member as propertyID:unitID.
func CapacityMember(propertyID, unitID string) string {
	return propertyID + ":" + unitID
}

// SplitCapacityMember decodes a capacity sorted-set member. The boolean is
// false for members that do not carry both parts.
func SplitCapacityMember(member string) (propertyID, unitID string, ok bool) {
	i := strings.IndexByte(member, ':')
	if i <= 0 || i == len(member)-1 {
		return "", "", false
	}
	return member[:i], member[i+1:], true
}

// minTokenLength filters out noise words ("a", "of") from the text index.
const minTokenLength = 3

// Tokenize splits a property name into lowercase search tokens on any run of
// non-alphanumeric runes. Tokens shorter than three runes are dropped.
func Tokenize(name string) []string {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(fields))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if utf8.RuneCountInString(f) < minTokenLength {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		tokens = append(tokens, f)
	}
	return tokens
}

// PropertyMemberships returns every membership set key the property belongs
// to while searchable. Update and delete paths derive removals from the
// previously indexed snapshot through this same function, so memberships can
// never drift from snapshot contents.
func PropertyMemberships(p *domain.IndexedProperty) []string {
	keys := []string{
		AllPropertiesKey(),
		CityKey(p.City),
		TypeKey(p.PropertyTypeID),
	}
	for _, a := range p.AmenityIDs {
		keys = append(keys, AmenityKey(a))
	}
	for name, value := range p.DynamicFields {
		keys = append(keys, FieldKey(name, value))
	}
	for _, tok := range Tokenize(p.Name) {
		keys = append(keys, TextKey(tok))
	}
	return keys
}

// RankingKeys returns every sorted-set key a searchable property is scored in.
func RankingKeys() []string {
	return []string{PriceRankKey(), RatingRankKey(), CreatedRankKey(), PopularityRankKey()}
}

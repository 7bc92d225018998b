package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/StaySearchGo/internal/domain"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"mixed case and punctuation", "Grand Hotel & Spa", []string{"grand", "hotel", "spa"}},
		{"short tokens dropped", "B&B on C St", []string{}},
		{"duplicates removed", "Sea View Sea Lodge", []string{"sea", "view", "lodge"}},
		{"digits kept", "Terminal 21 Suites", []string{"terminal", "suites"}},
		{"cyrillic", "Отель У Моря", []string{"отель", "моря"}},
		{"accented kept intact", "Café do Porto", []string{"café", "porto"}},
		{"min length counts runes not bytes", "Юг", []string{}},
		{"empty", "", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ElementsMatch(t, tt.want, Tokenize(tt.in))
		})
	}
}

func TestCapacityMember_RoundTrip(t *testing.T) {
	m := CapacityMember("prop-1", "unit-9")
	assert.Equal(t, "prop-1:unit-9", m)

	pid, uid, ok := SplitCapacityMember(m)
	require.True(t, ok)
	assert.Equal(t, "prop-1", pid)
	assert.Equal(t, "unit-9", uid)
}

func TestSplitCapacityMember_Malformed(t *testing.T) {
	for _, m := range []string{"", "nodelimiter", ":unit", "prop:"} {
		_, _, ok := SplitCapacityMember(m)
		assert.False(t, ok, m)
	}
}

func TestCityKey_Slugified(t *testing.T) {
	assert.Equal(t, CityKey("New York"), CityKey("new york"))
	assert.Equal(t, "search:idx:city:new-york", CityKey("New York"))
}

func TestPropertyMemberships(t *testing.T) {
	p := &domain.IndexedProperty{
		ID:             "p1",
		Name:           "Harbor View Hotel",
		City:           "Lisbon",
		PropertyTypeID: "hotel",
		AmenityIDs:     []string{"wifi", "pool"},
		DynamicFields:  map[string]string{"view": "sea"},
	}

	keys := PropertyMemberships(p)

	assert.Contains(t, keys, AllPropertiesKey())
	assert.Contains(t, keys, CityKey("Lisbon"))
	assert.Contains(t, keys, TypeKey("hotel"))
	assert.Contains(t, keys, AmenityKey("wifi"))
	assert.Contains(t, keys, AmenityKey("pool"))
	assert.Contains(t, keys, FieldKey("view", "sea"))
	assert.Contains(t, keys, TextKey("harbor"))
	assert.Contains(t, keys, TextKey("view"))
	assert.Contains(t, keys, TextKey("hotel"))
	assert.Len(t, keys, 9)
}

func TestDiffKeys(t *testing.T) {
	old := []string{"a", "b", "c"}
	current := []string{"b", "d"}

	assert.ElementsMatch(t, []string{"a", "c"}, diffKeys(old, current))
	assert.Empty(t, diffKeys(nil, current))
	assert.ElementsMatch(t, old, diffKeys(old, nil))
}

func TestMutation_AddCity(t *testing.T) {
	m := &Mutation{}
	m.addCity("Lisbon")
	m.addCity("Porto")
	m.addCity("Lisbon")
	m.addCity("")

	assert.Equal(t, []string{"Lisbon", "Porto"}, m.Cities)
}

func TestGroupPeriodsByUnit(t *testing.T) {
	periods := []domain.AvailabilityPeriod{
		{UnitID: "u1"},
		{UnitID: "u2"},
		{UnitID: "u1"},
	}
	byUnit := groupPeriodsByUnit(periods)

	assert.Len(t, byUnit["u1"], 2)
	assert.Len(t, byUnit["u2"], 1)
}

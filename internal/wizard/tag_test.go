package wizard

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagEncoding(t *testing.T) {
	tests := []struct {
		raw  string
		want Tag
	}{
		{"pizza", Predefined("pizza")},
		{"custom:Pizza", Custom("Pizza")},
		{"custom:", Custom("")},
		{"custom:custom:x", Custom("custom:x")},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := ParseTag(tt.raw)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.raw, got.String())
		})
	}
}

func TestCustomTagNeverEqualsPredefined(t *testing.T) {
	assert.NotEqual(t, Predefined("pizza"), Custom("pizza"))
	assert.True(t, Custom("pizza").IsCustom())
	assert.False(t, Predefined("pizza").IsCustom())
}

func TestTagJSONUsesStorageEncoding(t *testing.T) {
	raw, err := json.Marshal([]Tag{Predefined("pho"), Custom("Bún chả")})
	require.NoError(t, err)
	assert.JSONEq(t, `["pho","custom:Bún chả"]`, string(raw))

	var back []Tag
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, []Tag{Predefined("pho"), Custom("Bún chả")}, back)
}

func TestParseLocation(t *testing.T) {
	tag, err := ParseLocation("karaoke")
	require.NoError(t, err)
	assert.Equal(t, LocationKaraoke, tag)
	assert.Equal(t, "🎤 Karaoke", tag.Label())

	_, err = ParseLocation("Cafe")
	assert.ErrorIs(t, err, ErrUnknownTag)
	assert.Equal(t, "mars", LocationTag("mars").Label())
}

func TestDefaultCatalogIsACopy(t *testing.T) {
	c := DefaultCatalog()
	require.Len(t, c.Locations, 13)
	c.Foods[0].Label = "changed"
	assert.Equal(t, "🍕 Pizza", DefaultCatalog().Foods[0].Label)
}

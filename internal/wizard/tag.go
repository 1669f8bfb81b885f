package wizard

import (
	"fmt"
	"strings"
)

// customPrefix marks user supplied tags in their string encoding.
const customPrefix = "custom:"

// TagKind distinguishes predefined options from free-text entries.
type TagKind int

const (
	TagPredefined TagKind = iota
	TagCustom
)

// Tag identifies a selectable food or drink. Equality is structural, so a
// custom "Pizza" never collides with the predefined "pizza".
type Tag struct {
	Kind  TagKind
	Value string
}

// Predefined returns a predefined tag.
func Predefined(value string) Tag {
	return Tag{Kind: TagPredefined, Value: value}
}

// Custom returns a user supplied tag.
func Custom(text string) Tag {
	return Tag{Kind: TagCustom, Value: text}
}

func (t Tag) IsCustom() bool {
	return t.Kind == TagCustom
}

// String renders the storage encoding: "pizza" or "custom:Pizza".
func (t Tag) String() string {
	if t.Kind == TagCustom {
		return customPrefix + t.Value
	}
	return t.Value
}

// MarshalText keeps the "custom:" encoding in JSON and storage.
func (t Tag) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tag) UnmarshalText(text []byte) error {
	*t = ParseTag(string(text))
	return nil
}

// ParseTag decodes the storage encoding.
func ParseTag(s string) Tag {
	if rest, ok := strings.CutPrefix(s, customPrefix); ok {
		return Custom(rest)
	}
	return Predefined(s)
}

// LocationTag is one of the fixed date location categories.
type LocationTag string

const (
	LocationCafe       LocationTag = "cafe"
	LocationRestaurant LocationTag = "restaurant"
	LocationCinema     LocationTag = "cinema"
	LocationPark       LocationTag = "park"
	LocationMall       LocationTag = "mall"
	LocationStreet     LocationTag = "street"
	LocationHotel      LocationTag = "hotel"
	LocationTravel     LocationTag = "travel"
	LocationBeach      LocationTag = "beach"
	LocationMountain   LocationTag = "mountain"
	LocationKaraoke    LocationTag = "karaoke"
	LocationHome       LocationTag = "home"
	LocationCustom     LocationTag = "custom"
)

// Choice is a predefined option with its display label.
type Choice struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

var locationOptions = []Choice{
	{"cafe", "☕ Café"},
	{"restaurant", "🍽️ Đi ăn"},
	{"cinema", "🎬 Rạp phim"},
	{"park", "🌳 Công viên"},
	{"mall", "🛍️ Trung tâm thương mại"},
	{"street", "🏍️ Lên phố"},
	{"hotel", "🏨 Khách sạn"},
	{"travel", "🌍 Du lịch"},
	{"beach", "🏖️ Biển"},
	{"mountain", "⛰️ Núi"},
	{"karaoke", "🎤 Karaoke"},
	{"home", "🏠 Ở nhà"},
	{"custom", "✨ Nơi khác"},
}

var foodOptions = []Choice{
	{"pizza", "🍕 Pizza"},
	{"sushi", "🍣 Sushi"},
	{"burger", "🍔 Burger"},
	{"pasta", "🍝 Pasta"},
	{"pho", "🍜 Phở"},
	{"banh-mi", "🥖 Bánh mì"},
	{"com-tam", "🍚 Cơm tấm"},
	{"bun-bo", "🍲 Bún bò"},
}

var drinkOptions = []Choice{
	{"coffee", "☕ Cà phê"},
	{"tea", "🍵 Trà"},
	{"juice", "🧃 Nước ép"},
	{"smoothie", "🥤 Sinh tố"},
	{"beer", "🍺 Bia"},
	{"wine", "🍷 Rượu vang"},
	{"cocktail", "🍸 Cocktail"},
	{"soft-drink", "🥤 Nước ngọt"},
}

// Catalog lists every predefined option, for clients rendering the cards.
type Catalog struct {
	Locations []Choice `json:"locations"`
	Foods     []Choice `json:"foods"`
	Drinks    []Choice `json:"drinks"`
}

// DefaultCatalog returns a copy of the predefined options.
func DefaultCatalog() Catalog {
	return Catalog{
		Locations: append([]Choice(nil), locationOptions...),
		Foods:     append([]Choice(nil), foodOptions...),
		Drinks:    append([]Choice(nil), drinkOptions...),
	}
}

func findOption(options []Choice, id string) (Choice, bool) {
	for _, o := range options {
		if o.ID == id {
			return o, true
		}
	}
	return Choice{}, false
}

// ParseLocation validates a location id.
func ParseLocation(s string) (LocationTag, error) {
	if _, ok := findOption(locationOptions, s); !ok {
		return "", fmt.Errorf("%w: location %q", ErrUnknownTag, s)
	}
	return LocationTag(s), nil
}

// Label returns the display name of the location.
func (l LocationTag) Label() string {
	if o, ok := findOption(locationOptions, string(l)); ok {
		return o.Label
	}
	return string(l)
}

// tagLabel renders a food or drink for messages; custom text is shown verbatim.
func tagLabel(options []Choice, t Tag) string {
	if t.IsCustom() {
		return t.Value
	}
	if o, ok := findOption(options, t.Value); ok {
		return o.Label
	}
	return t.Value
}

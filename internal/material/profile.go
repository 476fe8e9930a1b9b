package material

import (
	"strings"

	"github.com/obsidianstack/sortline/pkg/types"
)

// Kind is one entry of the fixed material enumeration.
type Kind string

// Material kinds, in enumeration order.
const (
	Organic   Kind = "organic"
	Plastic   Kind = "plastic"
	Paper     Kind = "paper"
	Metal     Kind = "metal"
	Glass     Kind = "glass"
	Cardboard Kind = "cardboard"
	EWaste    Kind = "ewaste"
	Unknown   Kind = "unknown"
)

// SortingStages is the number of kinds that have a physical sorting stage on
// the line. Kinds at or past this index go to manual inspection.
const SortingStages = 7

// Kinds is the ordered enumeration. The order is significant: a kind's index
// selects its sorting-stage indicator.
var Kinds = []Kind{Organic, Plastic, Paper, Metal, Glass, Cardboard, EWaste, Unknown}

// Profile is the static disposal mapping for one kind.
type Profile struct {
	Category    types.Category
	Destination string
	Detector    string // what the coarse binary detector reports for this kind
}

var profiles = map[Kind]Profile{
	Organic:   {Category: types.CategoryDumped, Destination: "compost", Detector: types.DetectorOrganic},
	Plastic:   {Category: types.CategoryRecycled, Destination: "crushers", Detector: types.DetectorInorganic},
	Paper:     {Category: types.CategoryRecycled, Destination: "recycling belt", Detector: types.DetectorInorganic},
	Metal:     {Category: types.CategoryRecycled, Destination: "melting", Detector: types.DetectorInorganic},
	Glass:     {Category: types.CategoryRecycled, Destination: "sorting line", Detector: types.DetectorInorganic},
	Cardboard: {Category: types.CategoryRecycled, Destination: "baler", Detector: types.DetectorInorganic},
	EWaste:    {Category: types.CategorySpecial, Destination: "special handling", Detector: types.DetectorInorganic},
	Unknown:   {Category: types.CategoryDumped, Destination: "manual inspection", Detector: types.DetectorInorganic},
}

// Profile returns the static profile of k, or the unknown profile when k is
// not part of the enumeration.
func (k Kind) Profile() Profile {
	if p, ok := profiles[k]; ok {
		return p
	}
	return profiles[Unknown]
}

// Index returns the position of k in Kinds, or -1.
func (k Kind) Index() int {
	for i, kk := range Kinds {
		if kk == k {
			return i
		}
	}
	return -1
}

// Valid reports whether k is part of the enumeration.
func (k Kind) Valid() bool {
	_, ok := profiles[k]
	return ok
}

// DisplayName capitalises the first letter: "plastic" → "Plastic".
func DisplayName(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// ProfileOf resolves a stored material name to its profile, falling back to
// the unknown profile for anything unrecognised (fault labels included).
func ProfileOf(name string) Profile {
	return Kind(name).Profile()
}

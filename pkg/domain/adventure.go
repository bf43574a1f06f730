package domain

import "strings"

// AdventureType is the closed catalog of adventures a book can be built
// around. Values double as asset path segments, so they stay lowercase
// snake_case.
type AdventureType string

const (
	AdventureFantasy    AdventureType = "fantasy"
	AdventureSuperhero  AdventureType = "superhero"
	AdventureSpace      AdventureType = "space"
	AdventureUnderwater AdventureType = "underwater"
	AdventureFairyTale  AdventureType = "fairy_tale"
	AdventureJungle     AdventureType = "jungle"
)

// AdventureTypes lists the catalog in display order.
func AdventureTypes() []AdventureType {
	return []AdventureType{
		AdventureFantasy,
		AdventureSuperhero,
		AdventureSpace,
		AdventureUnderwater,
		AdventureFairyTale,
		AdventureJungle,
	}
}

// ParseAdventureType validates raw input against the catalog.
func ParseAdventureType(raw string) (AdventureType, bool) {
	value := AdventureType(strings.ToLower(strings.TrimSpace(raw)))
	for _, at := range AdventureTypes() {
		if value == at {
			return at, true
		}
	}
	return "", false
}

var adventureDescriptions = map[AdventureType]string{
	AdventureFantasy:    "Embark on a magical journey through enchanted lands with dragons, wizards, and mystical creatures.",
	AdventureSuperhero:  "Discover your child's inner superhero as they save the day with their amazing powers.",
	AdventureSpace:      "Blast off into space for an intergalactic adventure among the stars, planets, and alien worlds.",
	AdventureUnderwater: "Dive deep beneath the waves to explore coral reefs, sunken ships, and meet fascinating sea creatures.",
	AdventureFairyTale:  "Experience classic fairy tale magic with princesses, knights, castles, and enchanted forests.",
	AdventureJungle:     "Venture into the wild jungle to discover exotic animals, ancient temples, and hidden treasures.",
}

// AdventureInfo is a read-only catalog entry derived from the enum value.
type AdventureInfo struct {
	ID          AdventureType `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	ImageURL    string        `json:"imageUrl"`
}

// AdventureCatalog returns display metadata for every adventure type.
func AdventureCatalog() []AdventureInfo {
	items := make([]AdventureInfo, 0, len(AdventureTypes()))
	for _, at := range AdventureTypes() {
		items = append(items, AdventureInfo{
			ID:          at,
			Name:        adventureName(at),
			Description: adventureDescriptions[at],
			ImageURL:    "/static/images/adventures/" + string(at) + ".jpg",
		})
	}
	return items
}

func adventureName(at AdventureType) string {
	words := strings.Split(string(at), "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

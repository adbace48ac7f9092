package loyalty

// Tier is one row of the loyalty ladder. Max is exclusive; the top tier has
// Max == 0.
type Tier struct {
	Level int    `json:"level"`
	Name  string `json:"name"`
	Min   int64  `json:"min"`
	Max   int64  `json:"max,omitempty"`
}

// Tiers is the ladder, ordered by Level.
var Tiers = []Tier{
	{Level: 1, Name: "Bronze", Min: 0, Max: 100},
	{Level: 2, Name: "Silver", Min: 100, Max: 500},
	{Level: 3, Name: "Gold", Min: 500, Max: 1000},
	{Level: 4, Name: "Platinum", Min: 1000, Max: 2500},
	{Level: 5, Name: "Diamond", Min: 2500, Max: 5000},
	{Level: 6, Name: "Elite", Min: 5000},
}

// Top reports whether t is the last tier.
func (t Tier) Top() bool { return t.Max == 0 }

// TierFor returns the tier whose range contains points.
func TierFor(points int64) Tier {
	for i := len(Tiers) - 1; i >= 0; i-- {
		if points >= Tiers[i].Min {
			return Tiers[i]
		}
	}
	return Tiers[0]
}

// TierAt returns the tier for level, clamped to the ladder.
func TierAt(level int) Tier {
	switch {
	case level < 1:
		return Tiers[0]
	case level > len(Tiers):
		return Tiers[len(Tiers)-1]
	}
	return Tiers[level-1]
}

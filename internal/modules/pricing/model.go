// README: Fare tiers; amounts are opaque integer currency units.
package pricing

// Tier prices the distance between From and UpTo km at PerKm. The last tier
// has UpTo == 0 and covers everything beyond From.
type Tier struct {
	From  float64
	UpTo  float64
	PerKm float64
}

// BaseFare covers the first BaseKm kilometres.
const (
	BaseFare = 1500
	BaseKm   = 1.0
)

// DefaultTiers is the rate table shared with the mobile apps.
var DefaultTiers = []Tier{
	{From: BaseKm, UpTo: 30, PerKm: 900},
	{From: 30, PerKm: 700},
}

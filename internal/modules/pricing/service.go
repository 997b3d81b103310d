// README: Pricing service computes fare estimates.
package pricing

import (
	"context"
	"errors"
	"math"

	"ryde/internal/types"
)

var ErrInvalidDistance = errors.New("distance must be a positive number of km")

const DefaultCurrency = "RWF"

type Service struct {
	currency string
}

func NewService(currency string) *Service {
	if currency == "" {
		currency = DefaultCurrency
	}
	return &Service{currency: currency}
}

// Estimate prices a trip of distanceKm in the configured currency.
func (s *Service) Estimate(ctx context.Context, distanceKm float64) (types.Money, error) {
	amount, err := EstimateFare(distanceKm)
	if err != nil {
		return types.Money{}, err
	}
	return types.Money{Amount: amount, Currency: s.currency}, nil
}

// EstimateFare maps a distance to a fare. Each tier's incremental charge is
// rounded on its own before summing, so the result matches the apps exactly.
func EstimateFare(distanceKm float64) (int64, error) {
	if math.IsNaN(distanceKm) || math.IsInf(distanceKm, 0) || distanceKm <= 0 {
		return 0, ErrInvalidDistance
	}

	fare := int64(BaseFare)
	for _, t := range DefaultTiers {
		if distanceKm <= t.From {
			break
		}
		segment := distanceKm - t.From
		if t.UpTo > 0 && distanceKm > t.UpTo {
			segment = t.UpTo - t.From
		}
		fare += int64(math.Round(segment * t.PerKm))
	}
	return fare, nil
}

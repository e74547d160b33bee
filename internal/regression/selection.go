package regression

import (
	"fmt"
	"sort"
	"time"

	"github.com/eddiefleurent/spx_expiry_regression/internal/models"
)

// Criteria narrows an option chain down to candidate contracts.
type Criteria struct {
	Right       models.OptionRight
	MinStrike   float64
	ExpiryYear  int
	ExpiryMonth time.Month
}

// Matches reports whether contract satisfies the criteria.
func (c Criteria) Matches(contract models.Symbol) bool {
	return contract.IsOption() &&
		contract.Right == c.Right &&
		contract.Strike >= c.MinStrike-models.StrikeMatchEpsilon &&
		contract.Expiry.Year() == c.ExpiryYear &&
		contract.Expiry.Month() == c.ExpiryMonth
}

func (c Criteria) String() string {
	return fmt.Sprintf("%s strike >= %.2f expiring %s %d", c.Right, c.MinStrike, c.ExpiryMonth, c.ExpiryYear)
}

// SelectContract returns the lowest-strike contract matching criteria. Ties on
// strike go to the earlier expiry.
func SelectContract(chain []models.Symbol, criteria Criteria) (models.Symbol, error) {
	var candidates []models.Symbol
	for _, c := range chain {
		if criteria.Matches(c) {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return models.Symbol{}, fmt.Errorf("%w: %s among %d contracts", ErrNoQualifyingContract, criteria, len(chain))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Strike != candidates[j].Strike {
			return candidates[i].Strike < candidates[j].Strike
		}
		return candidates[i].Expiry.Before(candidates[j].Expiry)
	})
	return candidates[0], nil
}

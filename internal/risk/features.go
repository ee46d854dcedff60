package risk

import (
	"fmt"

	"github.com/mbd888/fraudradar/internal/transactions"
)

// VectorSize is the length of the feature vector: 4 numeric features plus
// the country, payment method and device one-hot blocks.
var VectorSize = 4 + len(transactions.Countries) + len(transactions.PaymentMethods) + len(transactions.Devices)

// Vectorize builds the feature vector in fixed order:
// [amount, ip_risk, account_age_days, is_new_device] ++ one-hot(country) ++
// one-hot(payment_method) ++ one-hot(device).
//
// In strict mode a value outside its catalog returns ErrUnknownCategory;
// otherwise that group's block is left all zero.
func Vectorize(tx *transactions.Transaction, strict bool) ([]float64, error) {
	vec := make([]float64, 0, VectorSize)
	newDevice := 0.0
	if tx.IsNewDevice {
		newDevice = 1.0
	}
	vec = append(vec, tx.Amount, tx.IPRisk, tx.AccountAgeDays, newDevice)

	groups := []struct {
		name    string
		value   string
		catalog []string
	}{
		{"country", tx.Country, transactions.Countries},
		{"payment_method", tx.PaymentMethod, transactions.PaymentMethods},
		{"device", tx.Device, transactions.Devices},
	}
	for _, g := range groups {
		block, found := oneHot(g.value, g.catalog)
		if !found && strict {
			return nil, fmt.Errorf("%w: %s=%q", ErrUnknownCategory, g.name, g.value)
		}
		vec = append(vec, block...)
	}
	return vec, nil
}

func oneHot(value string, catalog []string) ([]float64, bool) {
	block := make([]float64, len(catalog))
	for i, c := range catalog {
		if c == value {
			block[i] = 1.0
			return block, true
		}
	}
	return block, false
}

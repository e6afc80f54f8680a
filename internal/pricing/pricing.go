// Package pricing implements the per-page print pricing rule.
//
// Prices are computed once at order creation and stored on the order along
// with RuleVersion; they are never recomputed afterwards.
package pricing

import (
	"fmt"
	"math"

	"github.com/Additional-Code/printshop/internal/entity"
	"github.com/Additional-Code/printshop/pkg/errorbank"
)

// RuleVersion identifies the current rate table. Bump it whenever rates change.
const RuleVersion = "flat-2024.1"

var perPage = map[entity.PrintType]int{
	entity.PrintBW:    3,
	entity.PrintColor: 8,
}

// Quote is the itemised result shown to a customer before confirming.
type Quote struct {
	PrintType       entity.PrintType       `json:"printType"`
	PerPage         int                    `json:"perPage"`
	TotalPages      int                    `json:"totalPages"`
	SpecialFeatures entity.SpecialFeatures `json:"specialFeatures"`
	Price           int                    `json:"price"`
	RuleVersion     string                 `json:"ruleVersion"`
}

// Rate returns the per-page rate for the print type.
func Rate(printType entity.PrintType) (int, error) {
	rate, ok := perPage[printType]
	if !ok {
		return 0, errorbank.Validation(fmt.Sprintf("unknown print type %q", printType), errorbank.WithField("printType"))
	}
	return rate, nil
}

// Price returns totalPages times the per-page rate of printType. totalPages
// must lie in [1, entity.MaxTotalPages].
func Price(printType entity.PrintType, totalPages int) (int, error) {
	rate, err := Rate(printType)
	if err != nil {
		return 0, err
	}
	if totalPages < 1 {
		return 0, errorbank.Validation("total pages must be at least 1", errorbank.WithField("totalPages"))
	}
	if totalPages > entity.MaxTotalPages || totalPages > math.MaxInt/rate {
		return 0, errorbank.Validation(
			fmt.Sprintf("total pages must be at most %d", entity.MaxTotalPages),
			errorbank.WithField("totalPages"),
		)
	}
	return totalPages * rate, nil
}

// Calculate builds a Quote. Special features are listed but carry no surcharge.
func Calculate(printType entity.PrintType, totalPages int, features entity.SpecialFeatures) (Quote, error) {
	price, err := Price(printType, totalPages)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		PrintType:       printType,
		PerPage:         perPage[printType],
		TotalPages:      totalPages,
		SpecialFeatures: features,
		Price:           price,
		RuleVersion:     RuleVersion,
	}, nil
}

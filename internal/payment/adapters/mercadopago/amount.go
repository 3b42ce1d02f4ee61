package mercadopago

import (
	"math"
	"strings"
)

// zeroDecimalCurrencies lists ISO 4217 currencies whose minor unit exponent is 0.
var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "ISK": {}, "JPY": {}, "KMF": {},
	"KRW": {}, "PYG": {}, "RWF": {}, "UGX": {}, "VND": {}, "VUV": {}, "XAF": {},
	"XOF": {}, "XPF": {},
}

func exponent(currency string) int {
	if _, ok := zeroDecimalCurrencies[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return 0
	}
	return 2
}

// ToMajorUnits converts a minor-unit amount to the decimal the API expects.
func ToMajorUnits(amount int64, currency string) float64 {
	return float64(amount) / math.Pow10(exponent(currency))
}

func ToMinorUnits(amount float64, currency string) int64 {
	return int64(math.Round(amount * math.Pow10(exponent(currency))))
}

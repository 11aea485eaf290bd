package policy

import (
	"errors"
	"fmt"
	"math"
)

// ErrSlippageTooHigh цена исполнения слишком далеко от цены входа
var ErrSlippageTooHigh = errors.New("slippage exceeds threshold")

// SlippageGuard сравнивает цену исполнения с ценой, по которой решение
// прошло риск-гейт
type SlippageGuard struct {
	thresholdPercent float64
}

func NewSlippageGuard(thresholdPercent float64) *SlippageGuard {
	return &SlippageGuard{thresholdPercent: thresholdPercent}
}

// Enabled false при нулевом пороге
func (sg *SlippageGuard) Enabled() bool { return sg.thresholdPercent > 0 }

// Check проверяет проскальзывание. Невалидная цена входа не проверяется.
func (sg *SlippageGuard) Check(actualPrice, expectedPrice float64) error {
	if !sg.Enabled() || expectedPrice <= 0 || actualPrice <= 0 {
		return nil
	}
	slippage := Slippage(actualPrice, expectedPrice)
	if slippage > sg.thresholdPercent {
		return fmt.Errorf("%w: %.2f%% (threshold: %.2f%%)", ErrSlippageTooHigh, slippage, sg.thresholdPercent)
	}
	return nil
}

// Slippage отклонение в процентах
func Slippage(actualPrice, expectedPrice float64) float64 {
	if expectedPrice <= 0 {
		return 0
	}
	return math.Abs((actualPrice - expectedPrice) / expectedPrice * 100.0)
}

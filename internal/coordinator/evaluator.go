package coordinator

import (
	"fmt"

	"InvestPilot/internal/market"
	"InvestPilot/internal/strategy"
)

// Evaluation 是条件判定的结果。Reason 在未就绪时说明原因。
type Evaluation struct {
	CanExecute bool   `json:"can_execute"`
	Reason     string `json:"reason,omitempty"`
}

// Evaluate 判断触发条件在给定行情下是否满足。
//
// 纯函数：相同输入永远得到相同输出，这是调度正确性的基石。
// 策略如下：
//   - 没有任何条件时始终就绪；
//   - 行情缺失时一律不就绪（fail-closed）；
//   - priceAbove 要求价格严格大于阈值，priceBelow 要求严格小于；
//   - volumeThreshold 要求 24h 成交量不低于阈值；
//   - 出现的条件必须全部满足。
func Evaluate(conditions strategy.TriggerConditions, quote *market.TokenQuote) Evaluation {
	if conditions.Empty() {
		return Evaluation{CanExecute: true}
	}
	if quote == nil {
		return Evaluation{CanExecute: false, Reason: "data not available"}
	}
	if conditions.PriceAbove != nil && quote.PriceUSD <= *conditions.PriceAbove {
		return Evaluation{
			CanExecute: false,
			Reason:     fmt.Sprintf("price %.4f not above %.4f", quote.PriceUSD, *conditions.PriceAbove),
		}
	}
	if conditions.PriceBelow != nil && quote.PriceUSD >= *conditions.PriceBelow {
		return Evaluation{
			CanExecute: false,
			Reason:     fmt.Sprintf("price %.4f not below %.4f", quote.PriceUSD, *conditions.PriceBelow),
		}
	}
	if conditions.VolumeThreshold != nil && quote.Volume24h < *conditions.VolumeThreshold {
		return Evaluation{
			CanExecute: false,
			Reason:     fmt.Sprintf("volume %.2f below threshold %.2f", quote.Volume24h, *conditions.VolumeThreshold),
		}
	}
	return Evaluation{CanExecute: true}
}

package execution

import (
	"math/rand/v2"

	"github.com/shopspring/decimal"

	"jlp-hedge/internal/config"
	"jlp-hedge/internal/exchange"
)

// splitQuantities 将目标数量按名义价值拆分为多个分片。
// 名义价值低于阈值时不拆分；拆分后各分片之和严格等于输入数量，
// 且每个分片均不低于最小下单量。
func splitQuantities(
	quantity decimal.Decimal,
	price decimal.Decimal,
	meta exchange.MarketMeta,
	cfg config.SplitConfig,
) []decimal.Decimal {
	if !cfg.Enabled || !price.IsPositive() || !quantity.IsPositive() {
		return []decimal.Decimal{quantity}
	}

	threshold := decimal.NewFromFloat(cfg.Threshold)
	if quantity.Mul(price).LessThanOrEqual(threshold) {
		return []decimal.Decimal{quantity}
	}

	minValue := decimal.NewFromFloat(cfg.MinValue)
	maxValue := decimal.NewFromFloat(cfg.MaxValue)

	var chunks []decimal.Decimal
	remaining := quantity
	for remaining.IsPositive() {
		if remaining.Mul(price).LessThanOrEqual(maxValue) {
			chunks = append(chunks, remaining)
			break
		}

		value := chunkValue(minValue, maxValue, cfg.Random)
		chunk := meta.RoundQuantity(value.Div(price))
		if !chunk.IsPositive() || chunk.GreaterThanOrEqual(remaining) {
			chunks = append(chunks, remaining)
			break
		}
		// 尾量低于最小下单量时并入当前分片，避免产生无法成交的残量。
		if remaining.Sub(chunk).LessThan(meta.MinQuantity) {
			chunks = append(chunks, remaining)
			break
		}

		chunks = append(chunks, chunk)
		remaining = remaining.Sub(chunk)
	}

	return chunks
}

// chunkValue 返回单个分片的目标名义价值。
// 随机化分片大小降低被动挂单的可预测性。
func chunkValue(minValue, maxValue decimal.Decimal, random bool) decimal.Decimal {
	if !random || minValue.Equal(maxValue) {
		return minValue.Add(maxValue).Div(decimal.NewFromInt(2))
	}
	span := maxValue.Sub(minValue)
	return minValue.Add(span.Mul(decimal.NewFromFloat(rand.Float64())))
}

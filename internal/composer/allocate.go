package composer

import "github.com/mmeshcher/stallorder/internal/model"

// allocateDiscount распределяет скидку пропорционально суммам групп.
// Остаток округления достаётся последней группе, поэтому сумма долей всегда равна discount.
func allocateDiscount(subtotals []model.Money, discount model.Money) []model.Money {
	shares := make([]model.Money, len(subtotals))
	if len(subtotals) == 0 || discount <= 0 {
		return shares
	}

	var base model.Money
	for _, s := range subtotals {
		base += s
	}
	if base <= 0 {
		return shares
	}

	d := discount.Decimal()
	b := base.Decimal()

	var allocated model.Money
	last := len(subtotals) - 1
	for i, s := range subtotals[:last] {
		share := model.MoneyFromDecimal(d.Mul(s.Decimal()).DivRound(b, 8))
		if share > s {
			share = s
		}
		shares[i] = share
		allocated += share
	}
	shares[last] = discount - allocated

	// Остаток не должен превышать сумму последней группы; излишек возвращаем предыдущим.
	for i := last; i > 0 && shares[i] > subtotals[i]; i-- {
		excess := shares[i] - subtotals[i]
		shares[i] = subtotals[i]
		shares[i-1] += excess
	}
	return shares
}

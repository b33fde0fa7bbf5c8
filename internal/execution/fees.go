package execution

import "solana-momentum-bot-go/internal/models"

// FeeModel is the cost model shared by the paper gateway and the backtest
// engine, so simulated and backtested results are comparable.
type FeeModel struct {
	SwapFeeRate   float64
	SlippageRate  float64
	NetworkFeeUSD float64
}

// NewFeeModel builds the model from configuration.
func NewFeeModel(cfg models.FeeConfig) FeeModel {
	return FeeModel{SwapFeeRate: cfg.SwapFeeRate, SlippageRate: cfg.SlippageRate, NetworkFeeUSD: cfg.NetworkFeeUSD}
}

// ExecutionPrice applies slippage against the trader.
func (m FeeModel) ExecutionPrice(side models.Side, price float64) float64 {
	if side == models.Buy {
		return price * (1 + m.SlippageRate)
	}
	return price * (1 - m.SlippageRate)
}

// Fee is the swap fee on a notional plus the flat network fee.
func (m FeeModel) Fee(notional float64) float64 {
	return notional*m.SwapFeeRate + m.NetworkFeeUSD
}

// Buy prices spending notional USD at the quoted price.
func (m FeeModel) Buy(price, notional float64) (execPrice, quantity, fee float64) {
	execPrice = m.ExecutionPrice(models.Buy, price)
	if execPrice <= 0 {
		return execPrice, 0, 0
	}
	return execPrice, notional / execPrice, m.Fee(notional)
}

// Sell prices selling quantity tokens at the quoted price. gross excludes the fee.
func (m FeeModel) Sell(price, quantity float64) (execPrice, gross, fee float64) {
	execPrice = m.ExecutionPrice(models.Sell, price)
	gross = execPrice * quantity
	return execPrice, gross, m.Fee(gross)
}

package models

// SizingResult: результат расчёта объёма по риску.
type SizingResult struct {
	LotSize          float64 `json:"lot_size"`
	RiskAmount       float64 `json:"risk_amount"`
	StopLossDistance float64 `json:"stop_loss_distance"`
	StopLossPoints   float64 `json:"stop_loss_points"`
	PositionValue    float64 `json:"position_value"`
	RequiredMargin   float64 `json:"required_margin"`
}

// TakeProfitAllocation: одна ступень TP-лестницы. Level начинается с 1.
type TakeProfitAllocation struct {
	Level      int     `json:"level"`
	Price      float64 `json:"price"`
	Percentage float64 `json:"percentage"`

	// заполняются пайплайном, дистрибьютор их не трогает
	RiskReward   float64 `json:"risk_reward,omitempty"`
	ProjectedPnL float64 `json:"projected_pnl,omitempty"`
}

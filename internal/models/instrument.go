package models

// InstrumentSpec: справочные параметры инструмента MT5.
type InstrumentSpec struct {
	ContractSize float64 `json:"contract_size" mapstructure:"contract_size"`
	TickSize     float64 `json:"tick_size" mapstructure:"tick_size"`
	TickValue    float64 `json:"tick_value" mapstructure:"tick_value"`
	MinLot       float64 `json:"min_lot" mapstructure:"min_lot"`
	MaxLot       float64 `json:"max_lot" mapstructure:"max_lot"`
	LotStep      float64 `json:"lot_step" mapstructure:"lot_step"`
	Digits       int     `json:"digits" mapstructure:"digits"`
	Point        float64 `json:"point" mapstructure:"point"`
}

// Valid проверяет, что со спеком можно считать лоты.
func (s InstrumentSpec) Valid() bool {
	return s.ContractSize > 0 && s.Point > 0 && s.LotStep > 0 &&
		s.MinLot > 0 && s.MaxLot >= s.MinLot
}

// PipSize для 3/5-значных котировок равен 10 пунктам.
func (s InstrumentSpec) PipSize() float64 {
	if s.Digits == 3 || s.Digits == 5 {
		return s.Point * 10
	}
	return s.Point
}

package tables

import (
	"github.com/JonMunkholm/refgrid/internal/core"
	"github.com/JonMunkholm/refgrid/internal/schema"
)

func registerTransactions() {
	schema.RegisterStrategy("TRANSACTIONS", schema.Strategy{
		Validator: transactionsValidator{},
	})
}

// transactionsValidator adds the settlement ordering rule to the generic checks.
type transactionsValidator struct{}

func (transactionsValidator) Validate(s *schema.TableSchema, row core.Row, rt core.RecordType) error {
	err := schema.DefaultValidator{}.Validate(s, row, rt)
	if err != nil || rt == core.RecordDelete {
		return err
	}

	tradeRaw, _ := row.Get("TRADE_DATE")
	settleRaw, _ := row.Get("SETTLE_DATE")
	trade, okTrade := core.ParseDate(tradeRaw)
	settle, okSettle := core.ParseDate(settleRaw)
	if okTrade && okSettle && settle.Before(trade) {
		return core.ValidationErrors{{
			Table:   s.Name,
			Field:   "SETTLE_DATE",
			Value:   core.AsString(settleRaw),
			Message: "settle date is before trade date",
		}}
	}
	return nil
}

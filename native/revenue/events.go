package revenue

import "attribledger/native/common"

const (
	// EventTypeRevenueRecorded is emitted when a revenue event is appended.
	EventTypeRevenueRecorded = "revenue.recorded"
	// EventTypeRevenueSettled is emitted when the settlement channel acknowledges distribution.
	EventTypeRevenueSettled = "revenue.settled"
	// EventTypeSettlementFailed is emitted when a distribution attempt exhausts its retry budget.
	EventTypeSettlementFailed = "revenue.settlement.failed"
)

// RecordedEvent returns the structured payload for a newly appended event.
func RecordedEvent(evt *Event) common.Event {
	return common.Event{
		Type: EventTypeRevenueRecorded,
		Attributes: map[string]string{
			"eventId":           evt.EventID,
			"agreementId":       evt.AgreementID,
			"currency":          evt.CurrencyCode,
			"gross":             FormatAmount(evt.GrossAmount, evt.CurrencyCode),
			"counterpartyShare": FormatAmount(evt.CounterpartyShare, evt.CurrencyCode),
			"platformShare":     FormatAmount(evt.PlatformShare, evt.CurrencyCode),
		},
	}
}

// SettledEvent returns the structured payload for a successful distribution.
func SettledEvent(evt *Event) common.Event {
	return common.Event{
		Type: EventTypeRevenueSettled,
		Attributes: map[string]string{
			"eventId":          evt.EventID,
			"agreementId":      evt.AgreementID,
			"settlementHandle": evt.SettlementHandle,
		},
	}
}

// SettlementFailedEvent returns the structured payload for an unsettled event.
func SettlementFailedEvent(evt *Event, err error) common.Event {
	attrs := map[string]string{
		"eventId":     evt.EventID,
		"agreementId": evt.AgreementID,
		"status":      "pending_settlement",
	}
	if err != nil {
		attrs["reason"] = err.Error()
	}
	return common.Event{Type: EventTypeSettlementFailed, Attributes: attrs}
}

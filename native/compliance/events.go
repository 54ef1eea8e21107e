package compliance

import (
	"strconv"

	"attribledger/native/common"
)

const (
	// EventTypeEvaluated is emitted for every persisted evaluation record.
	EventTypeEvaluated = "compliance.evaluated"
	// EventTypeViolation is emitted when an evaluation drops an agreement to Violated.
	EventTypeViolation = "compliance.violation"
	// EventTypeRecovered is emitted when an evaluation restores an agreement to Deployed.
	EventTypeRecovered = "compliance.recovered"
)

func recordAttributes(record *Record) map[string]string {
	return map[string]string{
		"recordId":    record.RecordID,
		"agreementId": record.AgreementID,
		"score":       strconv.FormatFloat(record.Score, 'f', 4, 64),
		"met":         strconv.Itoa(record.RequirementsMet),
		"total":       strconv.Itoa(record.RequirementsTotal),
		"violations":  strconv.Itoa(len(record.Violations)),
	}
}

// EvaluatedEvent returns the structured payload for a completed evaluation.
func EvaluatedEvent(record *Record) common.Event {
	return common.Event{Type: EventTypeEvaluated, Attributes: recordAttributes(record)}
}

// ViolationEvent returns the payload for a floor-crossing violation.
func ViolationEvent(record *Record) common.Event {
	return common.Event{Type: EventTypeViolation, Attributes: recordAttributes(record)}
}

// RecoveredEvent returns the payload for a recovery above the floor.
func RecoveredEvent(record *Record) common.Event {
	return common.Event{Type: EventTypeRecovered, Attributes: recordAttributes(record)}
}

package agreement

import "attribledger/native/common"

const (
	// EventTypeAgreementCreated is emitted when a new agreement is persisted.
	EventTypeAgreementCreated = "agreement.created"
	// EventTypeAgreementDeployed is emitted once the settlement channel acknowledges registration.
	EventTypeAgreementDeployed = "agreement.deployed"
	// EventTypeAgreementCompliance is emitted on a compliance-driven transition.
	EventTypeAgreementCompliance = "agreement.compliance.transition"
	// EventTypeAgreementSuspended is emitted when an operator suspends an agreement.
	EventTypeAgreementSuspended = "agreement.suspended"
	// EventTypeAgreementResumed is emitted when a suspension is lifted.
	EventTypeAgreementResumed = "agreement.resumed"
)

// CreatedEvent returns the structured payload announcing a new agreement.
func CreatedEvent(ag *Agreement) common.Event {
	return common.Event{
		Type: EventTypeAgreementCreated,
		Attributes: map[string]string{
			"agreementId":  ag.AgreementID,
			"projectId":    ag.ProjectID,
			"counterparty": ag.CounterpartyIdentity,
			"platform":     ag.PlatformIdentity,
		},
	}
}

// DeployedEvent returns the structured payload for a deployment acknowledgement.
func DeployedEvent(ag *Agreement) common.Event {
	return common.Event{
		Type: EventTypeAgreementDeployed,
		Attributes: map[string]string{
			"agreementId":         ag.AgreementID,
			"projectId":           ag.ProjectID,
			"settlementReference": ag.SettlementReference,
		},
	}
}

// ComplianceTransitionEvent returns the payload for a Violated/Deployed transition.
func ComplianceTransitionEvent(ag *Agreement, from LifecycleState) common.Event {
	return common.Event{
		Type: EventTypeAgreementCompliance,
		Attributes: map[string]string{
			"agreementId": ag.AgreementID,
			"projectId":   ag.ProjectID,
			"from":        string(from),
			"to":          string(ag.LifecycleState),
		},
	}
}

// SuspendedEvent returns the payload for an operator suspension.
func SuspendedEvent(ag *Agreement) common.Event {
	return common.Event{
		Type: EventTypeAgreementSuspended,
		Attributes: map[string]string{
			"agreementId": ag.AgreementID,
			"projectId":   ag.ProjectID,
		},
	}
}

// ResumedEvent returns the payload for a lifted suspension.
func ResumedEvent(ag *Agreement) common.Event {
	return common.Event{
		Type: EventTypeAgreementResumed,
		Attributes: map[string]string{
			"agreementId": ag.AgreementID,
			"projectId":   ag.ProjectID,
		},
	}
}

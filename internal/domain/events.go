/**
 * @description
 * Message payloads exchanged over RabbitMQ. Outbound events notify the portal
 * of account and transaction changes; the inbound event carries a mobile
 * money provider status callback relayed by the hosted functions layer.
 *
 * @notes
 * - Outbound events are advisory. The portal must stay correct on polling and
 *   manual refresh alone; losing an event costs freshness, never money.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// AccountBalanceEvent is published after a reconciliation writes the cached
// balance, so connected portal sessions can refresh the account view.
type AccountBalanceEvent struct {
	AccountID uuid.UUID `json:"account_id"`
	Balance   int64     `json:"balance"`
	Corrected bool      `json:"corrected"`
	Timestamp time.Time `json:"timestamp"`
}

// TransactionStatusEvent is published when a ledger entry is appended or a
// pending movement resolves.
type TransactionStatusEvent struct {
	EntryID     uuid.UUID `json:"entry_id"`
	AccountID   uuid.UUID `json:"account_id"`
	Channel     string    `json:"channel"`
	Status      string    `json:"status"`
	Amount      int64     `json:"amount"`
	ExternalRef string    `json:"external_ref"`
	Timestamp   time.Time `json:"timestamp"`
}

// AdhesionApprovedEvent is published after provisioning completes for an
// approved adhesion request.
type AdhesionApprovedEvent struct {
	RequestID     uuid.UUID `json:"request_id"`
	UserID        uuid.UUID `json:"user_id"`
	InstitutionID uuid.UUID `json:"institution_id"`
	AccountID     uuid.UUID `json:"account_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// MomoStatusEvent is the provider callback relayed onto the broker by the
// hosted functions layer: the asynchronous outcome of a mobile money
// initiation identified by its confirmation token.
type MomoStatusEvent struct {
	EventID       string    `json:"event_id"`
	Token         string    `json:"token"`
	Status        string    `json:"status"` // 'confirmed' | 'failed'
	ProviderTxnID string    `json:"provider_txn_id"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

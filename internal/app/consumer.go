/**
 * @description
 * This file contains the consumer for mobile money provider status callbacks
 * relayed over the broker. Confirmed events settle the pending intent, failed
 * events fail it; anything else is acknowledged and dropped.
 *
 * @dependencies
 * - context, encoding/json, errors, fmt, log, strings, time: Standard Go libraries.
 * - github.com/google/uuid: For parsing the confirmation token.
 * - internal/domain, internal/store: Event payloads and store sentinels.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sfdconnect/portal-service/internal/domain"
	"github.com/sfdconnect/portal-service/internal/store"
)

// MomoStatusConsumer feeds provider callback events relayed over the broker
// into the mobile money channel. Duplicate deliveries are harmless: intent
// closing is status-guarded, so the second delivery finds the intent already
// terminal and acknowledges.
type MomoStatusConsumer struct {
	svc *Service
}

func NewMomoStatusConsumer(svc *Service) *MomoStatusConsumer {
	return &MomoStatusConsumer{svc: svc}
}

// HandleMessage processes one broker delivery. Returning false requeues the
// message; malformed payloads are acknowledged and dropped since redelivery
// cannot fix them.
func (c *MomoStatusConsumer) HandleMessage(body []byte) bool {
	var event domain.MomoStatusEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=error component=momo_consumer msg=\"failed to unmarshal payload\" err=%v", err)
		return true
	}

	token, err := uuid.Parse(event.Token)
	if err != nil {
		log.Printf("level=error component=momo_consumer msg=\"bad token in event\" token=%q status=%q", event.Token, event.Status)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.processEvent(ctx, token, event); err != nil {
		log.Printf("level=error component=momo_consumer msg=\"processing failed; requeueing\" token=%s err=%v", token, err)
		return false
	}

	return true
}

func (c *MomoStatusConsumer) processEvent(ctx context.Context, token uuid.UUID, event domain.MomoStatusEvent) error {
	intent, err := c.svc.repo.FindMobileMoneyIntentByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrIntentNotFound) {
			log.Printf("level=warn component=momo_consumer msg=\"no intent for token; acknowledging\" token=%s", token)
			return nil
		}
		return fmt.Errorf("lookup intent: %w", err)
	}

	if intent.Status != domain.MomoIntentPending {
		log.Printf("level=info component=momo_consumer msg=\"intent already terminal; acknowledging\" token=%s status=%s", token, intent.Status)
		return nil
	}

	now := time.Now().UTC()
	switch strings.TrimSpace(strings.ToLower(event.Status)) {
	case domain.MomoIntentConfirmed:
		if _, err := c.svc.settleIntent(ctx, intent, event.ProviderTxnID, now); err != nil {
			return fmt.Errorf("settle intent: %w", err)
		}
		return nil
	case domain.MomoIntentFailed:
		if err := c.svc.failIntent(ctx, intent, now); err != nil {
			return fmt.Errorf("fail intent: %w", err)
		}
		return nil
	default:
		log.Printf("level=warn component=momo_consumer msg=\"ignoring unknown status\" status=%q token=%s", event.Status, token)
		return nil
	}
}

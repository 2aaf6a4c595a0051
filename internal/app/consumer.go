/**
 * @description
 * Message-queue consumers. Handlers follow the ack contract of the
 * rabbitmq package: return true to acknowledge, false to requeue.
 * Malformed payloads are acknowledged so a poison message cannot wedge
 * the queue; transient processing failures are requeued.
 */

package app

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/qraft-Inc/coffeetrace-sub001/internal/domain"
)

const consumerTimeout = 15 * time.Second

// CreditEventConsumer applies credit events published by the rest of the
// platform (tip captured, lot sale settled) to farmer wallets.
type CreditEventConsumer struct {
	service *Service
}

func NewCreditEventConsumer(service *Service) *CreditEventConsumer {
	return &CreditEventConsumer{service: service}
}

// HandleMessage processes a single credit event delivery.
func (c *CreditEventConsumer) HandleMessage(body []byte) bool {
	ctx, cancel := context.WithTimeout(context.Background(), consumerTimeout)
	defer cancel()

	var ev domain.CreditEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		log.Printf("level=error component=credit_consumer msg=\"unmarshal failed; dropping message\" err=%v", err)
		return true
	}

	_, err := c.service.Credit(ctx, domain.CreditRequest{
		FarmerID:    ev.FarmerID,
		Amount:      ev.Amount,
		Reference:   ev.Reference,
		Description: ev.Description,
	})
	if err != nil {
		// Validation failures can never succeed on redelivery.
		switch err {
		case ErrInvalidAmount, ErrMissingReference:
			log.Printf("level=error component=credit_consumer msg=\"invalid credit event; dropping message\" reference=%s err=%v", ev.Reference, err)
			return true
		}
		log.Printf("level=error component=credit_consumer msg=\"credit failed; re-queuing\" reference=%s err=%v", ev.Reference, err)
		return false
	}
	return true
}

// PSPStatusConsumer feeds asynchronous PSP status reports from the queue
// into the reconciler.
type PSPStatusConsumer struct {
	service *Service
}

func NewPSPStatusConsumer(service *Service) *PSPStatusConsumer {
	return &PSPStatusConsumer{service: service}
}

// HandleMessage processes a single PSP status delivery.
func (c *PSPStatusConsumer) HandleMessage(body []byte) bool {
	ctx, cancel := context.WithTimeout(context.Background(), consumerTimeout)
	defer cancel()

	var ev domain.PSPStatusEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		log.Printf("level=error component=psp_status_consumer msg=\"unmarshal failed; dropping message\" err=%v", err)
		return true
	}

	if err := c.service.HandleStatusUpdate(ctx, ev); err != nil {
		log.Printf("level=error component=psp_status_consumer msg=\"reconcile failed; re-queuing\" psp_reference=%s err=%v", ev.PSPReference, err)
		return false
	}
	return true
}

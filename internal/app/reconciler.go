/**
 * @description
 * Reconciliation of asynchronous PSP status reports against local payout
 * state. Reports arrive on the webhook, on the message queue, or from the
 * polling fallback; all three funnel into HandleStatusUpdate, which matches
 * the report to a payout by PSP reference and drives the state machine.
 *
 * Mismatched references and reports for payouts that already left the
 * processing state are logged and discarded: the local ledger is the source
 * of truth and a stray report must never move money.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/qraft-Inc/coffeetrace-sub001/internal/domain"
	"github.com/qraft-Inc/coffeetrace-sub001/internal/store"
	"github.com/qraft-Inc/coffeetrace-sub001/pkg/pspclient"
)

// HandleStatusUpdate applies one PSP status report. It is safe to call
// with duplicates and with reports for unknown references.
func (s *Service) HandleStatusUpdate(ctx context.Context, ev domain.PSPStatusEvent) error {
	ref := strings.TrimSpace(ev.PSPReference)
	if ref == "" {
		log.Printf("level=warn component=reconciler msg=\"status report without psp reference; discarding\"")
		return nil
	}

	p, err := s.repo.FindPayoutByPSPReference(ctx, ref)
	if errors.Is(err, store.ErrPayoutNotFound) {
		log.Printf("level=warn component=reconciler msg=\"status report for unknown psp reference; discarding\" psp_reference=%s status=%s", ref, ev.Status)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up payout by psp reference: %w", err)
	}

	if p.Status != domain.PayoutStatusProcessing {
		log.Printf("level=info component=reconciler msg=\"status report for non-processing payout; discarding\" payout_id=%s status=%s report=%s", p.ID, p.Status, ev.Status)
		return nil
	}

	switch strings.ToLower(strings.TrimSpace(ev.Status)) {
	case pspclient.StatusSuccess:
		return s.SettlePayout(ctx, p)
	case pspclient.StatusFailed:
		reason := ev.Detail
		if reason == "" {
			reason = pspclient.ReasonGatewayRejected
		}
		return s.FailPayout(ctx, p.ID, reason)
	case pspclient.StatusProcessing:
		// Still in flight on the PSP side; nothing to reconcile yet.
		return nil
	default:
		log.Printf("level=warn component=reconciler msg=\"unrecognized status in report; discarding\" payout_id=%s status=%q", p.ID, ev.Status)
		return nil
	}
}

// SweepStaleProcessingPayouts is the polling fallback for lost callbacks.
// Each processing payout whose submission is older than the configured
// timeout is polled once against the PSP; a definitive answer is applied,
// and anything else is treated as a failure pending retry. Payouts the
// gateway cannot currently answer for are left untouched.
func (s *Service) SweepStaleProcessingPayouts(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.params.ProcessingTimeout)
	stale, err := s.repo.ListStaleProcessingPayouts(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale processing payouts: %w", err)
	}

	swept := 0
	for i := range stale {
		p := &stale[i]
		if p.PSPReference == nil {
			if err := s.FailPayout(ctx, p.ID, FailureReasonTimeout); err != nil {
				log.Printf("level=error component=reconciler op=sweep payout_id=%s err=%v", p.ID, err)
				continue
			}
			swept++
			continue
		}

		res, err := s.gateway.Resolve(ctx, *p.PSPReference)
		if err != nil {
			// Indeterminate: the gateway could not tell us the transfer's
			// fate, so the payout stays processing until the next sweep.
			log.Printf("level=warn component=reconciler op=sweep payout_id=%s psp_reference=%s msg=\"resolve failed; leaving payout processing\" err=%v", p.ID, *p.PSPReference, err)
			continue
		}

		switch res.Status {
		case pspclient.StatusSuccess:
			err = s.SettlePayout(ctx, p)
		case pspclient.StatusFailed:
			reason := res.Detail
			if reason == "" {
				reason = pspclient.ReasonGatewayRejected
			}
			err = s.FailPayout(ctx, p.ID, reason)
		default:
			// The PSP still reports it processing after the timeout window;
			// treat it as failed so the funds unlock and the retry budget
			// governs further attempts.
			err = s.FailPayout(ctx, p.ID, FailureReasonTimeout)
		}
		if err != nil {
			log.Printf("level=error component=reconciler op=sweep payout_id=%s err=%v", p.ID, err)
			continue
		}
		swept++
	}
	return swept, nil
}

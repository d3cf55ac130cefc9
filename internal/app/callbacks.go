package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/pkg/fspiop"
)

var (
	ErrMalformedCallback = errors.New("malformed hub callback")
	ErrUnknownResource   = errors.New("unknown callback resource")
)

// CallbackGateway is the inbound half of the hub gateway.
type CallbackGateway interface {
	OnPartyResolved(ctx context.Context, correlationID, idType, identifier string, party fspiop.Party) bool
	OnPartyLookupFailed(ctx context.Context, correlationID, idType, identifier string, info fspiop.ErrorInformation) bool
	OnQuoteReceived(ctx context.Context, quoteID string, quote fspiop.QuoteResponse) bool
	OnQuoteRejected(ctx context.Context, quoteID string, info fspiop.ErrorInformation) bool
	OnTransferCompleted(ctx context.Context, transferID string, transfer fspiop.TransferResponse) bool
	OnTransferRejected(ctx context.Context, transferID string, info fspiop.ErrorInformation) bool
}

// CallbackDispatcher decodes hub callbacks and routes them to the gateway.
// HTTP callbacks and callbacks relayed through the broker share it.
type CallbackDispatcher struct {
	gateway CallbackGateway
}

func NewCallbackDispatcher(gateway CallbackGateway) *CallbackDispatcher {
	return &CallbackDispatcher{gateway: gateway}
}

// Dispatch applies one callback. It reports whether a pending request matched;
// an unmatched callback is not an error. Processing is detached from ctx
// cancellation so a hub that hangs up early cannot abort a transition halfway.
func (d *CallbackDispatcher) Dispatch(ctx context.Context, env domain.HubCallbackEnvelope) (bool, error) {
	ctx = context.WithoutCancel(ctx)
	id := strings.TrimSpace(env.ID)
	if id == "" {
		return false, fmt.Errorf("%w: missing id", ErrMalformedCallback)
	}

	if env.IsError {
		var body fspiop.ErrorResponse
		if err := decodeCallback(env.Body, &body); err != nil {
			return false, err
		}
		info := body.ErrorInformation
		switch env.Resource {
		case fspiop.ResourceParties:
			return d.gateway.OnPartyLookupFailed(ctx, env.CorrelationID, env.PartyIDType, id, info), nil
		case fspiop.ResourceQuotes:
			return d.gateway.OnQuoteRejected(ctx, id, info), nil
		case fspiop.ResourceTransfers:
			return d.gateway.OnTransferRejected(ctx, id, info), nil
		}
		return false, fmt.Errorf("%w: %q", ErrUnknownResource, env.Resource)
	}

	switch env.Resource {
	case fspiop.ResourceParties:
		var body fspiop.PartiesResponse
		if err := decodeCallback(env.Body, &body); err != nil {
			return false, err
		}
		return d.gateway.OnPartyResolved(ctx, env.CorrelationID, env.PartyIDType, id, body.Party), nil
	case fspiop.ResourceQuotes:
		var body fspiop.QuoteResponse
		if err := decodeCallback(env.Body, &body); err != nil {
			return false, err
		}
		return d.gateway.OnQuoteReceived(ctx, id, body), nil
	case fspiop.ResourceTransfers:
		var body fspiop.TransferResponse
		if err := decodeCallback(env.Body, &body); err != nil {
			return false, err
		}
		return d.gateway.OnTransferCompleted(ctx, id, body), nil
	}
	return false, fmt.Errorf("%w: %q", ErrUnknownResource, env.Resource)
}

func decodeCallback(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty body", ErrMalformedCallback)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	return nil
}

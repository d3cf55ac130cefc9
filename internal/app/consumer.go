package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/transfa/disbursement-service/internal/domain"
)

// HubCallbackConsumer applies hub callbacks relayed through the broker, for
// deployments where a switch adapter publishes callbacks instead of calling
// the HTTP endpoints.
type HubCallbackConsumer struct {
	dispatcher *CallbackDispatcher
}

func NewHubCallbackConsumer(dispatcher *CallbackDispatcher) *HubCallbackConsumer {
	return &HubCallbackConsumer{dispatcher: dispatcher}
}

// HandleMessage returns false only when the message should be retried.
func (c *HubCallbackConsumer) HandleMessage(body []byte) bool {
	var env domain.HubCallbackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		log.Printf("level=warn component=hub_callback_consumer msg=\"failed to unmarshal payload; dropping\" err=%v", err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	matched, err := c.dispatcher.Dispatch(ctx, env)
	switch {
	case errors.Is(err, ErrMalformedCallback), errors.Is(err, ErrUnknownResource):
		log.Printf("level=warn component=hub_callback_consumer resource=%s id=%s msg=\"invalid callback; dropping\" err=%v", env.Resource, env.ID, err)
		return true
	case err != nil:
		log.Printf("level=error component=hub_callback_consumer resource=%s id=%s msg=\"callback processing failed\" err=%v", env.Resource, env.ID, err)
		return false
	}
	log.Printf("level=debug component=hub_callback_consumer resource=%s id=%s error=%t matched=%t", env.Resource, env.ID, env.IsError, matched)
	return true
}

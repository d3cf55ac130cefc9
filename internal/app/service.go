/**
 * @description
 * Service is the composition root of the disbursement core. It wires the hub
 * gateway, the transfer state machine, the bulk orchestrator and the read
 * services around one repository.
 */
package app

import (
	"time"

	"github.com/transfa/disbursement-service/internal/metrics"
	"github.com/transfa/disbursement-service/internal/store"
)

// Dependencies are the collaborators and settings the core needs. A nil
// Accounts store disables payer funds checks.
type Dependencies struct {
	Repo                store.BulkRepository
	Tickets             store.UploadTicketStore
	Transport           HubTransport
	Events              EventPublisher
	Limiter             SubmissionLimiter
	Accounts            store.PayerAccountStore
	Metrics             *metrics.Metrics
	DFSPID              string
	SettlementCurrency  string
	Timeouts            PhaseTimeouts
	MaxConcurrentStarts int
	UploadTicketTTL     time.Duration
}

// Service bundles the wired core components.
type Service struct {
	Gateway      *HubGateway
	Machines     *TransferMachine
	Orchestrator *Orchestrator
	Status       *StatusService
	Uploads      *UploadService
	Callbacks    *CallbackDispatcher
	Reconciler   *Reconciler
	Accounts     *PayerAccountService
}

func NewService(deps Dependencies) *Service {
	if deps.Tickets == nil {
		deps.Tickets = store.NewMemoryUploadTicketStore()
	}
	if deps.Events == nil {
		deps.Events = NewBrokerEventPublisher(nil, "")
	}

	gateway := NewHubGateway(deps.Transport, NewCorrelationTable(), deps.Timeouts, deps.DFSPID, deps.Metrics)
	machines := NewTransferMachine(deps.Repo, gateway, deps.Events, deps.Metrics)
	gateway.SetSink(machines)
	deps.Metrics.RegisterPendingCorrelations(gateway.PendingCount)

	validator := NewRowValidator(deps.SettlementCurrency)
	orchestrator := NewOrchestrator(deps.Repo, machines, validator, deps.Events, deps.Metrics, deps.MaxConcurrentStarts)
	if deps.Limiter != nil {
		orchestrator.SetLimiter(deps.Limiter)
	}
	var accounts *PayerAccountService
	if deps.Accounts != nil {
		orchestrator.SetPayerAccounts(deps.Accounts)
		accounts = NewPayerAccountService(deps.Accounts, deps.SettlementCurrency)
	}

	return &Service{
		Gateway:      gateway,
		Machines:     machines,
		Orchestrator: orchestrator,
		Status:       NewStatusService(deps.Repo),
		Uploads:      NewUploadService(deps.Tickets, orchestrator, validator, deps.UploadTicketTTL),
		Callbacks:    NewCallbackDispatcher(gateway),
		Reconciler:   NewReconciler(deps.Repo, gateway, machines, orchestrator, reconcileGrace(deps.Timeouts)),
		Accounts:     accounts,
	}
}

// HubCallbackConsumer returns a broker consumer feeding the same dispatcher.
func (s *Service) HubCallbackConsumer() *HubCallbackConsumer {
	return NewHubCallbackConsumer(s.Callbacks)
}

package event

import (
	"github.com/erp/invoicing/internal/domain/sales"
)

// RegisterAllEvents registers every event the invoice engine writes to the outbox.
// The OutboxProcessor cannot deliver a type that is missing here.
func RegisterAllEvents(serializer *EventSerializer) {
	serializer.Register(sales.EventTypeSaleCreated, &sales.SaleCreatedEvent{})
	serializer.Register(sales.EventTypeSaleFinalized, &sales.SaleFinalizedEvent{})
	serializer.Register(sales.EventTypeSaleEdited, &sales.SaleEditedEvent{})
	serializer.Register(sales.EventTypeSaleDeleted, &sales.SaleDeletedEvent{})
	serializer.Register(sales.EventTypeSaleVersionRestored, &sales.SaleVersionRestoredEvent{})
	serializer.Register(sales.EventTypeCustomerBalanceCredited, &sales.CustomerBalanceCreditedEvent{})
	serializer.Register(sales.EventTypeAlertRaised, &sales.AlertRaisedEvent{})
}

// NewSalesEventSerializer returns a serializer with every invoice event registered
func NewSalesEventSerializer() *EventSerializer {
	s := NewEventSerializer()
	RegisterAllEvents(s)
	return s
}

package webhooks

import (
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type EventName string

const (
	EventPaymentConfirmed     EventName = "payment.confirmed"
	EventPaymentFailed        EventName = "payment.failed"
	EventPaymentProcessing    EventName = "payment.processing"
	EventPaymentDetailUpdated EventName = "payment_detail.updated"
	EventComplianceUpdated    EventName = "compliance.updated"
	EventPaymentPartial       EventName = "payment.partial"
	EventPaymentRefunded      EventName = "payment.refunded"
	EventRequestRecurring     EventName = "request.recurring"
)

const schemaBaseURL = "https://schemas.request.network/webhooks/"

// EventDefinition pairs an event name with its JSON schema source.
type EventDefinition struct {
	Name   EventName
	Schema string
}

// EventRegistry maps each known event name to exactly one compiled schema.
// It is immutable once built and safe for concurrent use.
type EventRegistry struct {
	schemas map[EventName]*jsonschema.Schema
	names   []EventName
}

// NewEventRegistry compiles every definition. Duplicate or empty names are
// rejected so each name resolves to a single schema.
func NewEventRegistry(definitions ...EventDefinition) (*EventRegistry, error) {
	registry := &EventRegistry{
		schemas: make(map[EventName]*jsonschema.Schema, len(definitions)),
		names:   make([]EventName, 0, len(definitions)),
	}
	for _, definition := range definitions {
		name := EventName(strings.TrimSpace(string(definition.Name)))
		if name == "" {
			return nil, fmt.Errorf("webhooks: event name is required")
		}
		if _, exists := registry.schemas[name]; exists {
			return nil, fmt.Errorf("webhooks: duplicate event definition %q", name)
		}
		compiled, err := compileSchema(name, definition.Schema)
		if err != nil {
			return nil, err
		}
		registry.schemas[name] = compiled
		registry.names = append(registry.names, name)
	}
	sort.Slice(registry.names, func(i, j int) bool { return registry.names[i] < registry.names[j] })
	return registry, nil
}

func compileSchema(name EventName, schema string) (*jsonschema.Schema, error) {
	if strings.TrimSpace(schema) == "" {
		schema = `{"type":"object"}`
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := schemaBaseURL + string(name) + ".schema.json"
	if err := c.AddResource(schemaURL, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("webhooks: load schema for %q: %w", name, err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("webhooks: compile schema for %q: %w", name, err)
	}
	return compiled, nil
}

func (r *EventRegistry) Schema(name EventName) (*jsonschema.Schema, bool) {
	if r == nil {
		return nil, false
	}
	schema, ok := r.schemas[name]
	return schema, ok
}

func (r *EventRegistry) Has(name EventName) bool {
	_, ok := r.Schema(name)
	return ok
}

// Names returns the registered event names in lexical order.
func (r *EventRegistry) Names() []EventName {
	if r == nil {
		return nil
	}
	return append([]EventName(nil), r.names...)
}

// DefaultEventDefinitions returns the definitions of the eight known events.
// Schemas are open: fields beyond the documented ones pass through.
func DefaultEventDefinitions() []EventDefinition {
	return []EventDefinition{
		{Name: EventPaymentConfirmed, Schema: paymentSchema(EventPaymentConfirmed, `"txHash":{"type":"string"},"network":{"type":"string"}`)},
		{Name: EventPaymentFailed, Schema: paymentSchema(EventPaymentFailed, `"failureReason":{"type":"string"},"retryCount":{"type":"integer","minimum":0}`)},
		{Name: EventPaymentProcessing, Schema: paymentSchema(EventPaymentProcessing, `"subStatus":{"type":"string"}`)},
		{Name: EventPaymentDetailUpdated, Schema: eventSchema(EventPaymentDetailUpdated, nil,
			`"paymentDetailsId":{"type":"string","minLength":1},"status":{"type":"string"},"paymentAccountId":{"type":"string"}`)},
		{Name: EventComplianceUpdated, Schema: eventSchema(EventComplianceUpdated, nil,
			`"clientUserId":{"type":"string"},"kycStatus":{"type":"string"},"agreementStatus":{"type":"string"},"isCompliant":{"type":"boolean"}`)},
		{Name: EventPaymentPartial, Schema: paymentSchema(EventPaymentPartial, `"amount":{"type":["string","number"]},"totalAmountPaid":{"type":["string","number"]}`)},
		{Name: EventPaymentRefunded, Schema: paymentSchema(EventPaymentRefunded, `"refundedTo":{"type":"string"},"refundAmount":{"type":["string","number"]}`)},
		{Name: EventRequestRecurring, Schema: eventSchema(EventRequestRecurring, []string{"requestId"},
			`"requestId":{"type":"string","minLength":1},"originalRequestId":{"type":"string"},"originalRequestPaymentReference":{"type":"string"}`)},
	}
}

func paymentSchema(name EventName, extra string) string {
	properties := `"requestId":{"type":"string","minLength":1},"paymentReference":{"type":"string"},"timestamp":{"type":["string","number"]}`
	if extra != "" {
		properties += "," + extra
	}
	return eventSchema(name, []string{"requestId"}, properties)
}

func eventSchema(name EventName, required []string, properties string) string {
	requiredFields := []string{`"event"`}
	for _, field := range required {
		requiredFields = append(requiredFields, `"`+field+`"`)
	}
	return `{"type":"object","required":[` + strings.Join(requiredFields, ",") + `],` +
		`"properties":{"event":{"const":"` + string(name) + `"},` + properties + `},` +
		`"additionalProperties":true}`
}

var defaultRegistry = mustDefaultRegistry()

func mustDefaultRegistry() *EventRegistry {
	registry, err := NewEventRegistry(DefaultEventDefinitions()...)
	if err != nil {
		panic(err)
	}
	return registry
}

// DefaultEventRegistry returns the shared, immutable registry of known events.
func DefaultEventRegistry() *EventRegistry {
	return defaultRegistry
}

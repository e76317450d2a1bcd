package services

import (
	"strings"

	"github.com/hanko-field/automation/internal/domain"
	"github.com/hanko-field/automation/internal/platform/textutil"
)

var (
	userIDKeys    = []string{"userId", "user_id"}
	orderIDKeys   = []string{"orderId", "order_id"}
	productIDKeys = []string{"productId", "product_id"}

	additionalDataKeys = []string{"additionalData", "additional_data"}

	reservedPayloadKeys = map[string]struct{}{
		"event": {}, "data": {}, "body": {},
		"additionalData": {}, "additional_data": {},
		"userId": {}, "user_id": {},
		"orderId": {}, "order_id": {},
		"productId": {}, "product_id": {},
	}

	freeTextKeys = []string{"reviewText", "review_text", "review", "comment", "reason", "returnReason", "return_reason", "message", "notes"}
)

// NormalizeEvent turns a webhook body of any supported shape into a canonical event. It
// returns an *AutomationValidationError when the event is missing or not supported.
func NormalizeEvent(payload map[string]any) (domain.NormalizedEvent, error) {
	if body, ok := payload["body"].(map[string]any); ok {
		if _, nested := body["body"].(map[string]any); !nested {
			payload = body
		}
	}

	// data wins over the outer payload when it is an object.
	sources := []map[string]any{payload}
	if data, ok := payload["data"].(map[string]any); ok {
		sources = []map[string]any{data, payload}
	}

	additional := make(map[string]any)
	for _, candidate := range sources {
		if nested := mapField(candidate, additionalDataKeys...); nested != nil {
			for key, value := range nested {
				additional[key] = value
			}
			break
		}
	}

	lookup := append(append([]map[string]any{}, sources...), additional)
	normalized := domain.NormalizedEvent{
		UserID:    firstIdentifier(lookup, userIDKeys),
		OrderID:   firstIdentifier(lookup, orderIDKeys),
		ProductID: firstIdentifier(lookup, productIDKeys),
	}

	for _, candidate := range sources {
		for key, value := range candidate {
			if _, reserved := reservedPayloadKeys[key]; reserved {
				continue
			}
			if _, exists := additional[key]; !exists {
				additional[key] = value
			}
		}
	}
	for key, value := range additional {
		if isSentinel(value) {
			delete(additional, key)
		}
	}
	for _, key := range freeTextKeys {
		if text, ok := additional[key].(string); ok {
			additional[key] = textutil.SanitizeFreeText(text)
		}
	}
	normalized.AdditionalData = additional

	rawEvent, _ := scalarString(payload["event"])
	if rawEvent == "" {
		return domain.NormalizedEvent{}, &AutomationValidationError{
			Reason:      "event is required",
			ValidEvents: domain.SupportedEventNames(),
		}
	}
	event := domain.EventType(strings.ToUpper(rawEvent))
	if !event.Valid() {
		return domain.NormalizedEvent{}, &AutomationValidationError{
			Reason:      "unsupported event " + rawEvent,
			ValidEvents: domain.SupportedEventNames(),
		}
	}
	normalized.Event = event
	return normalized, nil
}

func firstIdentifier(sources []map[string]any, keys []string) string {
	for _, source := range sources {
		if id := stringField(source, keys...); id != "" {
			return id
		}
	}
	return ""
}

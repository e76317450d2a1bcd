package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hanko-field/automation/internal/domain"
	"github.com/hanko-field/automation/internal/platform/requestctx"
	"github.com/hanko-field/automation/internal/repositories"
)

const (
	defaultAutomationServiceName = "automation-brain"
	automationStatusActive       = "active"
)

// AutomationServiceDeps bundles collaborators for the webhook pipeline. Decisions, Publisher
// and Metrics are optional.
type AutomationServiceDeps struct {
	Resolver    EntityResolver
	Classifier  EventClassifier
	Decisions   repositories.DecisionRepository
	Publisher   DecisionPublisher
	Metrics     DecisionMetrics
	Clock       func() time.Time
	IDGenerator func() string
	ServiceName string
	Version     string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type automationService struct {
	resolver   EntityResolver
	classifier EventClassifier
	decisions  repositories.DecisionRepository
	publisher  DecisionPublisher
	metrics    DecisionMetrics
	clock      func() time.Time
	newID      func() string
	service    string
	version    string
	logger     func(context.Context, string, map[string]any)
}

var _ AutomationService = (*automationService)(nil)

// NewAutomationService assembles the pipeline.
func NewAutomationService(deps AutomationServiceDeps) (AutomationService, error) {
	if deps.Resolver == nil {
		return nil, errors.New("automation service: entity resolver is required")
	}
	if deps.Classifier == nil {
		return nil, errors.New("automation service: event classifier is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	service := strings.TrimSpace(deps.ServiceName)
	if service == "" {
		service = defaultAutomationServiceName
	}
	return &automationService{
		resolver:   deps.Resolver,
		classifier: deps.Classifier,
		decisions:  deps.Decisions,
		publisher:  deps.Publisher,
		metrics:    deps.Metrics,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:   idGen,
		service: service,
		version: strings.TrimSpace(deps.Version),
		logger:  logger,
	}, nil
}

func (s *automationService) Capabilities() AutomationCapabilities {
	return AutomationCapabilities{
		Status:          automationStatusActive,
		Service:         s.service,
		Version:         s.version,
		SupportedEvents: domain.SupportedEventNames(),
	}
}

// Process normalises, resolves and classifies payload, then records the decision. Logging
// and publishing failures do not fail the request.
func (s *automationService) Process(ctx context.Context, payload map[string]any) (AutomationResult, error) {
	if payload == nil {
		return AutomationResult{}, ErrAutomationInvalidPayload
	}
	event, err := NormalizeEvent(payload)
	if err != nil {
		return AutomationResult{}, err
	}
	decisionID := s.newID()
	ctx = requestctx.WithDecisionID(ctx, decisionID)

	resolved, err := s.resolver.Resolve(ctx, event)
	if err != nil {
		s.fail(ctx, event, "resolve", err)
		return AutomationResult{}, err
	}
	decision, err := s.classifier.Classify(ctx, event, resolved)
	if err != nil {
		s.fail(ctx, event, "classify", err)
		return AutomationResult{}, err
	}

	result := AutomationResult{
		DecisionID: decisionID,
		Event:      event.Event,
		Decision:   decision,
	}
	record := domain.DecisionRecord{
		ID:        result.DecisionID,
		Event:     event.Event,
		Actions:   decision.Actions,
		UserID:    event.UserID,
		OrderID:   event.OrderID,
		ProductID: event.ProductID,
		Context:   decisionContext(decision),
		DecidedAt: s.clock(),
	}
	if resolved.User != nil && resolved.User.ID != "" {
		record.UserID = resolved.User.ID
	}

	s.recordDecision(ctx, record, decision)

	if s.metrics != nil {
		s.metrics.RecordDecision(ctx, string(event.Event), decision.ActionString())
	}
	s.logger(ctx, "automation.decided", map[string]any{
		"decisionId": result.DecisionID,
		"event":      string(event.Event),
		"action":     decision.ActionString(),
		"context":    record.Context,
	})
	return result, nil
}

func (s *automationService) recordDecision(ctx context.Context, record domain.DecisionRecord, decision domain.ActionDecision) {
	if s.decisions != nil {
		if err := s.decisions.Append(ctx, record); err != nil {
			s.logger(ctx, "automation.decision_log_failed", map[string]any{
				"decisionId": record.ID,
				"error":      err.Error(),
			})
		}
	}
	if s.publisher == nil {
		return
	}
	actions := make([]string, 0, len(record.Actions))
	for _, action := range record.Actions {
		actions = append(actions, string(action))
	}
	message := DecisionMessage{
		DecisionID: record.ID,
		Event:      string(record.Event),
		Action:     decision.ActionString(),
		Actions:    actions,
		UserID:     record.UserID,
		OrderID:    record.OrderID,
		ProductID:  record.ProductID,
		Context:    record.Context,
		Data:       decision.Data,
		DecidedAt:  record.DecidedAt,
	}
	if _, err := s.publisher.PublishDecision(ctx, message); err != nil {
		s.logger(ctx, "automation.decision_publish_failed", map[string]any{
			"decisionId": record.ID,
			"error":      err.Error(),
		})
	}
}

func (s *automationService) fail(ctx context.Context, event domain.NormalizedEvent, stage string, err error) {
	if s.metrics != nil {
		s.metrics.RecordFailure(ctx, string(event.Event))
	}
	s.logger(ctx, "automation.failed", map[string]any{
		"event": string(event.Event),
		"stage": stage,
		"error": err.Error(),
	})
}

func decisionContext(decision domain.ActionDecision) string {
	tag, _ := decision.Data["context"].(string)
	return tag
}

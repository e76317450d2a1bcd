package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hanko-field/automation/internal/domain"
	pfirestore "github.com/hanko-field/automation/internal/platform/firestore"
	"github.com/hanko-field/automation/internal/repositories"
)

const decisionCollection = "automationDecisions"

// DecisionRepository appends decision records keyed by decision id.
type DecisionRepository struct {
	base *pfirestore.BaseRepository[decisionDocument]
}

// NewDecisionRepository constructs a Firestore-backed decision log.
func NewDecisionRepository(provider *pfirestore.Provider) (*DecisionRepository, error) {
	if provider == nil {
		return nil, errors.New("decision repository requires firestore provider")
	}
	return &DecisionRepository{base: pfirestore.NewBaseRepository[decisionDocument](provider, decisionCollection)}, nil
}

// Append writes the record. A record with the same id is never overwritten.
func (r *DecisionRepository) Append(ctx context.Context, record domain.DecisionRecord) error {
	if r == nil || r.base == nil {
		return errors.New("decision repository not initialised")
	}
	id := strings.TrimSpace(record.ID)
	if id == "" {
		return errors.New("decision id is required")
	}
	return r.base.Create(ctx, id, fromDomainDecision(record))
}

type decisionDocument struct {
	DecisionID string    `firestore:"decisionId"`
	Event      string    `firestore:"event"`
	Actions    []string  `firestore:"actions"`
	UserID     string    `firestore:"userId,omitempty"`
	OrderID    string    `firestore:"orderId,omitempty"`
	ProductID  string    `firestore:"productId,omitempty"`
	Context    string    `firestore:"context"`
	DecidedAt  time.Time `firestore:"decidedAt"`
}

func fromDomainDecision(record domain.DecisionRecord) decisionDocument {
	actions := make([]string, 0, len(record.Actions))
	for _, action := range record.Actions {
		actions = append(actions, string(action))
	}
	return decisionDocument{
		DecisionID: record.ID,
		Event:      string(record.Event),
		Actions:    actions,
		UserID:     record.UserID,
		OrderID:    record.OrderID,
		ProductID:  record.ProductID,
		Context:    record.Context,
		DecidedAt:  record.DecidedAt.UTC(),
	}
}

var _ repositories.DecisionRepository = (*DecisionRepository)(nil)

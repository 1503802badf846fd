package port

import "github.com/bnema/webmclip/internal/domain"

type HistoryStore interface {
	SaveOutcome(o *domain.Outcome) error
	GetOutcome(sessionID string) (*domain.Outcome, error)
	ListOutcomes(limit int) ([]*domain.Outcome, error)
}

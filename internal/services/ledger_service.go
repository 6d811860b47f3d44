// Package services coordinates ledger mutations with change-event
// publication.
package services

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"haushalt/internal/amqp"
	"haushalt/internal/core"
	"haushalt/internal/ledger"
	"haushalt/internal/log"
)

// EventPublisher delivers ledger events to subscribers.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *amqp.LedgerEvent) error
}

// PublishObserver is told about every publish attempt.
type PublishObserver interface {
	ObservePublish(event string, err error)
}

// LedgerService commits through the repository first and publishes an event
// afterwards. A failed publish is logged and never undoes or fails the
// committed change.
type LedgerService struct {
	repo      *ledger.Repository
	publisher EventPublisher
	observer  PublishObserver
	logger    *log.Logger
}

// NewLedgerService accepts a nil publisher when events are disabled.
func NewLedgerService(repo *ledger.Repository, publisher EventPublisher, observer PublishObserver, logger *log.Logger) *LedgerService {
	return &LedgerService{
		repo:      repo,
		publisher: publisher,
		observer:  observer,
		logger:    logger.WithComponent(log.ComponentLedger),
	}
}

func (s *LedgerService) CreateLine(ctx context.Context, userID string, in core.LineInput) (core.Line, error) {
	line, err := s.repo.CreateLine(ctx, userID, in)
	if err != nil {
		return core.Line{}, fmt.Errorf("create line: %w", err)
	}
	e := amqp.NewLedgerEvent(amqp.EventLineCreated, userID)
	e.LineID, e.Category = line.ID, line.Category
	s.publish(ctx, e)
	return line, nil
}

func (s *LedgerService) UpdateLine(ctx context.Context, userID, lineID string, patch core.LinePatch) (core.Line, error) {
	line, err := s.repo.UpdateLine(ctx, userID, lineID, patch)
	if err != nil {
		return core.Line{}, fmt.Errorf("update line: %w", err)
	}
	e := amqp.NewLedgerEvent(amqp.EventLineUpdated, userID)
	e.LineID, e.Category = line.ID, line.Category
	s.publish(ctx, e)
	return line, nil
}

func (s *LedgerService) DeleteLine(ctx context.Context, userID, lineID string) error {
	if err := s.repo.DeleteLine(ctx, userID, lineID); err != nil {
		return fmt.Errorf("delete line: %w", err)
	}
	e := amqp.NewLedgerEvent(amqp.EventLineDeleted, userID)
	e.LineID = lineID
	s.publish(ctx, e)
	return nil
}

func (s *LedgerService) AddSubitem(ctx context.Context, userID, lineID, label string, amount decimal.Decimal) (core.Subitem, error) {
	sub, err := s.repo.AddSubitem(ctx, userID, lineID, label, amount)
	if err != nil {
		return core.Subitem{}, fmt.Errorf("add subitem: %w", err)
	}
	e := amqp.NewLedgerEvent(amqp.EventSubitemAdded, userID)
	e.LineID, e.SubitemID = lineID, sub.ID
	s.publish(ctx, e)
	return sub, nil
}

func (s *LedgerService) RemoveSubitem(ctx context.Context, userID, lineID, subitemID string) error {
	if err := s.repo.RemoveSubitem(ctx, userID, lineID, subitemID); err != nil {
		return fmt.Errorf("remove subitem: %w", err)
	}
	e := amqp.NewLedgerEvent(amqp.EventSubitemRemoved, userID)
	e.LineID, e.SubitemID = lineID, subitemID
	s.publish(ctx, e)
	return nil
}

// RenameCategory publishes only when at least one line changed.
func (s *LedgerService) RenameCategory(ctx context.Context, userID, oldName, newName string) (int, error) {
	n, err := s.repo.RenameCategory(ctx, userID, oldName, newName)
	if err != nil {
		return 0, fmt.Errorf("rename category: %w", err)
	}
	if n > 0 {
		e := amqp.NewLedgerEvent(amqp.EventCategoryRenamed, userID)
		e.Category, e.Target, e.Affected = oldName, newName, n
		s.publish(ctx, e)
	}
	return n, nil
}

func (s *LedgerService) DeleteCategory(ctx context.Context, userID, name, target string) (int, error) {
	n, err := s.repo.DeleteCategory(ctx, userID, name, target)
	if err != nil {
		return 0, fmt.Errorf("delete category: %w", err)
	}
	if n > 0 {
		e := amqp.NewLedgerEvent(amqp.EventCategoryDeleted, userID)
		e.Category, e.Target, e.Affected = name, target, n
		s.publish(ctx, e)
	}
	return n, nil
}

func (s *LedgerService) publish(ctx context.Context, e *amqp.LedgerEvent) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.PublishEvent(ctx, e)
	if s.observer != nil {
		s.observer.ObservePublish(e.Type, err)
	}
	if err != nil {
		fields := log.NewFields().WithOperation(log.OpPublish).WithUser(e.UserID).
			WithError(err).WithErrorType(log.ErrorTypeNetwork)
		fields[log.FieldEvent] = e.Type
		s.logger.ErrorContext(ctx, "Failed to publish ledger event", fields.ToSlice()...)
	}
}

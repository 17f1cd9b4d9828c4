// Package eventhandler содержит обработчики доменных событий.
// Обработчики реагируют на изменения отношений и запускают побочные
// эффекты: сбрасывают кэш карточек и пишут аудит дрейфа счётчиков.
package eventhandler

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/mentorship-hub/internal/application/query"
	"github.com/alem-hub/mentorship-hub/internal/domain/mentorship"
	"github.com/alem-hub/mentorship-hub/internal/domain/shared"
	"github.com/alem-hub/mentorship-hub/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON MENTORSHIP CHANGED HANDLER
// Карточка ментора содержит число свободных мест, поэтому любое принятие
// или завершение отношений делает её устаревшей.
// ═══════════════════════════════════════════════════════════════════════════

// MentorshipChangedConfig содержит конфигурацию обработчика.
type MentorshipChangedConfig struct {
	// Timeout - время на сброс кэша для одного события.
	Timeout time.Duration
}

// DefaultMentorshipChangedConfig возвращает конфигурацию по умолчанию.
func DefaultMentorshipChangedConfig() MentorshipChangedConfig {
	return MentorshipChangedConfig{Timeout: 2 * time.Second}
}

// OnMentorshipChangedHandler сбрасывает карточки участников изменившихся отношений.
type OnMentorshipChangedHandler struct {
	cache  query.SummaryCache
	logger *logger.Logger
	config MentorshipChangedConfig
}

// NewOnMentorshipChangedHandler создаёт обработчик. cache может быть nil:
// тогда обработчик только пишет журнал.
func NewOnMentorshipChangedHandler(cache query.SummaryCache, log *logger.Logger, config MentorshipChangedConfig) *OnMentorshipChangedHandler {
	if log == nil {
		log = logger.Nop()
	}
	if config.Timeout <= 0 {
		config = DefaultMentorshipChangedConfig()
	}
	return &OnMentorshipChangedHandler{
		cache:  cache,
		logger: log.With(logger.Component("on_mentorship_changed")),
		config: config,
	}
}

// Register подписывает обработчик на все события, которые он понимает.
func (h *OnMentorshipChangedHandler) Register(bus shared.EventSubscriber) error {
	for _, t := range []shared.EventType{
		shared.EventMentorshipRequested,
		shared.EventMentorshipAccepted,
		shared.EventMentorshipRejected,
		shared.EventMentorshipEnded,
		shared.EventCapacityDrift,
		shared.EventProfileSaved,
	} {
		if err := bus.Subscribe(t, h.Handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
	}
	return nil
}

// Handle обрабатывает событие. Реализует shared.EventHandler.
func (h *OnMentorshipChangedHandler) Handle(event shared.Event) error {
	uids, log := h.affected(event)
	if log {
		h.logger.Info("mentorship event", eventFields(event)...)
	}
	if len(uids) == 0 || h.cache == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	if err := h.cache.Invalidate(ctx, uids...); err != nil {
		return fmt.Errorf("invalidate summaries for %s: %w", event.EventType(), err)
	}
	return nil
}

// affected возвращает профили, чьи карточки устарели, и нужно ли
// писать событие в журнал.
func (h *OnMentorshipChangedHandler) affected(event shared.Event) ([]mentorship.UserID, bool) {
	switch e := event.(type) {
	case shared.MentorshipChangedEvent:
		switch e.EventType() {
		case shared.EventMentorshipAccepted, shared.EventMentorshipEnded:
			return []mentorship.UserID{mentorship.UserID(e.MentorUID), mentorship.UserID(e.StudentUID)}, true
		case shared.EventMentorshipRequested, shared.EventMentorshipRejected:
			return nil, true
		}
		return nil, false

	case shared.CapacityDriftEvent:
		h.logger.Warn("mentor counter drift",
			logger.MentorUID(e.MentorUID),
			logger.Int("recorded", e.Recorded),
			logger.Int("active_edges", e.ActiveEdges),
			logger.Bool("repaired", e.Repaired),
		)
		if e.Repaired {
			return []mentorship.UserID{mentorship.UserID(e.MentorUID)}, false
		}
		return nil, false

	case shared.ProfileSavedEvent:
		return []mentorship.UserID{mentorship.UserID(e.UID)}, false

	default:
		h.logger.Debug("ignoring event", logger.String("event_type", string(event.EventType())))
		return nil, false
	}
}

func eventFields(event shared.Event) []logger.Field {
	fields := []logger.Field{logger.String("event_type", string(event.EventType()))}
	if e, ok := event.(shared.MentorshipChangedEvent); ok {
		fields = append(fields,
			logger.StudentUID(e.StudentUID),
			logger.MentorUID(e.MentorUID),
			logger.EdgeStatus(e.ToStatus),
			logger.Int("current_mentees", e.CurrentMentees),
		)
		if e.Reason != "" {
			fields = append(fields, logger.String("reason", e.Reason))
		}
	}
	return fields
}

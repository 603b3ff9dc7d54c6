package tasks

import (
	"context"
	"fmt"
	"log"
	"time"

	"vanish-chat/internal/service"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically retires messages whose fixed timer or room
// retention window has passed. Sessions see the results as tombstone
// events; the sweep is the authoritative cleanup behind their local
// countdowns.
type Sweeper struct {
	messages *service.MessageService
	interval time.Duration
	cron     *cron.Cron
}

func NewSweeper(messages *service.MessageService, interval time.Duration) *Sweeper {
	return &Sweeper{
		messages: messages,
		interval: interval,
	}
}

func (s *Sweeper) Start() {
	s.cron = cron.New()

	spec := fmt.Sprintf("@every %s", s.interval)
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
		defer cancel()

		n, err := s.messages.Sweep(ctx, time.Now())
		if err != nil {
			log.Printf("[WORKER] Expiry sweep failed: %v", err)
			return
		}
		if n > 0 {
			log.Printf("[WORKER] Expiry sweep retired %d messages", n)
		}
	})
	if err != nil {
		log.Printf("[WORKER] Error scheduling sweep cron: %v", err)
		return
	}

	s.cron.Start()
	log.Printf("[WORKER] Expiry sweeper scheduled every %s", s.interval)
}

func (s *Sweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

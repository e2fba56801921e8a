package main

import (
	"context"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/provider-booking-engine/internal/appointment"
	"github.com/hackgods/provider-booking-engine/internal/availability"
)

const demoProviders = 5

// seedDemo fills the memory store with a handful of providers working
// weekdays 09:00-17:00 so a fresh process has something to book.
func seedDemo(ctx context.Context, store *appointment.MemoryRepository, logger zerolog.Logger) {
	workday := availability.NewWindow(availability.NewClockTime(9, 0), availability.NewClockTime(17, 0))

	for i := 0; i < demoProviders; i++ {
		p := appointment.Provider{
			ID:     uuid.New(),
			Name:   gofakeit.Name(),
			Role:   appointment.ProviderConsultation,
			Active: true,
		}
		if i%2 == 1 {
			p.Role = appointment.ProviderInHomeService
			store.AddOffering(p.ID, uuid.New(), true)
		}
		store.AddProvider(p)

		for day := time.Monday; day <= time.Friday; day++ {
			if _, err := store.UpsertScheduleEntry(ctx, availability.WeeklyScheduleEntry{
				ProviderID:   p.ID,
				Day:          day,
				Window:       workday,
				SlotDuration: 30 * time.Minute,
				Active:       true,
			}); err != nil {
				logger.Warn().Err(err).Msg("demo schedule entry rejected")
			}
		}

		logger.Info().
			Str("provider_id", p.ID.String()).
			Str("name", p.Name).
			Str("role", string(p.Role)).
			Msg("demo provider")
	}
}

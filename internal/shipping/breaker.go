package shipping

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerConfig tunes the circuit breaker around the shipping service.
type BreakerConfig struct {
	Name string
	// MaxFailures is the consecutive failure count that opens the circuit.
	MaxFailures uint32
	// OpenTimeout is how long the circuit stays open before probing again.
	OpenTimeout time.Duration
	Logger      *slog.Logger
}

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("shipping service circuit open")

// breakerService wraps a Service with one breaker per remote operation.
// Calculation and validation trip independently.
type breakerService struct {
	next     Service
	quotes   *gobreaker.CircuitBreaker[*Quote]
	validate *gobreaker.CircuitBreaker[*RestrictionResult]
}

// WithBreaker wraps svc in circuit breakers.
func WithBreaker(svc Service, cfg BreakerConfig) Service {
	if cfg.Name == "" {
		cfg.Name = "shipping"
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	settings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.MaxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state change",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			},
		}
	}

	return &breakerService{
		next:     svc,
		quotes:   gobreaker.NewCircuitBreaker[*Quote](settings(cfg.Name + ".calculate")),
		validate: gobreaker.NewCircuitBreaker[*RestrictionResult](settings(cfg.Name + ".validate")),
	}
}

func (b *breakerService) CalculateShipping(ctx context.Context, req Request) (*Quote, error) {
	q, err := b.quotes.Execute(func() (*Quote, error) {
		return b.next.CalculateShipping(ctx, req)
	})
	return q, breakerError(err)
}

func (b *breakerService) ValidateRestrictions(ctx context.Context, req Request) (*RestrictionResult, error) {
	r, err := b.validate.Execute(func() (*RestrictionResult, error) {
		return b.next.ValidateRestrictions(ctx, req)
	})
	return r, breakerError(err)
}

func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Join(ErrCircuitOpen, err)
	}
	return err
}

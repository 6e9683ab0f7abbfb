package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/namebroker/internal/domain"
)

// ErrNotFound is returned when no registration exists for a name
var ErrNotFound = errors.New("registration not found")

// Registration is a local registration persisted so it survives a restart.
type Registration struct {
	Mapping      domain.ServiceMapping `json:"mapping"`
	RegisteredAt time.Time             `json:"registered_at"`
}

// Store handles Redis operations for local registrations
type Store struct {
	client *redis.Client
}

// NewStore creates a new Redis store
func NewStore(client *redis.Client) *Store {
	return &Store{
		client: client,
	}
}

// SaveRegistration stores a registration, replacing any previous one for the same name
func (s *Store) SaveRegistration(ctx context.Context, reg Registration) error {
	data, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("failed to marshal registration: %w", err)
	}

	name := reg.Mapping.Name
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, RegistrationKey(name), data, 0)
	pipe.SAdd(ctx, AllRegistrationsKey(), name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save registration: %w", err)
	}

	return nil
}

// GetRegistration retrieves the registration for name
func (s *Store) GetRegistration(ctx context.Context, name string) (*Registration, error) {
	data, err := s.client.Get(ctx, RegistrationKey(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to get registration: %w", err)
	}

	var reg Registration
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal registration: %w", err)
	}

	return &reg, nil
}

// GetAllRegistrations retrieves every stored registration
func (s *Store) GetAllRegistrations(ctx context.Context) ([]*Registration, error) {
	names, err := s.client.SMembers(ctx, AllRegistrationsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get registered names: %w", err)
	}

	regs := make([]*Registration, 0, len(names))
	for _, name := range names {
		reg, err := s.GetRegistration(ctx, name)
		if err != nil {
			// Skip registrations that couldn't be retrieved
			continue
		}
		regs = append(regs, reg)
	}

	return regs, nil
}

// DeleteRegistration removes the registration for m, but only if it still
// holds the same spec
func (s *Store) DeleteRegistration(ctx context.Context, m domain.ServiceMapping) error {
	reg, err := s.GetRegistration(ctx, m.Name)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if reg.Mapping.Spec != m.Spec {
		return nil
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, RegistrationKey(m.Name))
	pipe.SRem(ctx, AllRegistrationsKey(), m.Name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete registration: %w", err)
	}

	return nil
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

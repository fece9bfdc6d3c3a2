package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrDecisionNotFound = errors.New("decision not found")
	ErrInvalidDecision  = errors.New("stored decision is invalid")
)

type DecisionRepository interface {
	Get(ctx context.Context, fingerprint, boardKey string) (int, error)
	Set(ctx context.Context, fingerprint, boardKey string, move int) error
}

type dbDecision struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDecisionRepository - moves keyed by model fingerprint and encoded board. Zero ttl keeps keys forever.
func NewDecisionRepository(client *redis.Client, ttl time.Duration) DecisionRepository {
	return &dbDecision{
		client: client,
		ttl:    ttl,
	}
}

func (that *dbDecision) Get(ctx context.Context, fingerprint, boardKey string) (int, error) {
	response, err := that.client.Get(ctx, decisionKey(fingerprint, boardKey)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrDecisionNotFound
	}

	if err != nil {
		return 0, fmt.Errorf("failed to get decision: %w", err)
	}

	move, err := strconv.Atoi(response)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDecision, response)
	}

	return move, nil
}

func (that *dbDecision) Set(ctx context.Context, fingerprint, boardKey string, move int) error {
	err := that.client.Set(ctx, decisionKey(fingerprint, boardKey), move, that.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set decision: %w", err)
	}

	return nil
}

func decisionKey(fingerprint, boardKey string) string {
	return "decision:" + fingerprint + ":" + boardKey
}

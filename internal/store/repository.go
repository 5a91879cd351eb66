/**
 * @description
 * This file defines the data access contract for subscriber state. The store is
 * a flat sequence of records that is always read and written as a whole; there
 * are no partial updates and no secondary indexes.
 */
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/transfa/supporter-service/internal/domain"
)

// Repository loads and saves the full subscriber list.
type Repository interface {
	Load(ctx context.Context) ([]domain.Subscriber, error)
	Save(ctx context.Context, subscribers []domain.Subscriber) error
}

// snapshot is the persisted envelope: a single key holding the record array.
type snapshot struct {
	Subscribers []domain.Subscriber `json:"subscribers"`
}

// EncodeSnapshot serialises subscribers into the pretty-printed envelope.
func EncodeSnapshot(subscribers []domain.Subscriber) ([]byte, error) {
	if subscribers == nil {
		subscribers = []domain.Subscriber{}
	}
	data, err := json.MarshalIndent(snapshot{Subscribers: subscribers}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode subscribers: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses the persisted envelope. An empty document decodes to an empty list.
func DecodeSnapshot(data []byte) ([]domain.Subscriber, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []domain.Subscriber{}, nil
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode subscribers: %w", err)
	}
	if snap.Subscribers == nil {
		snap.Subscribers = []domain.Subscriber{}
	}
	return snap.Subscribers, nil
}

func cloneSubscribers(in []domain.Subscriber) []domain.Subscriber {
	out := make([]domain.Subscriber, len(in))
	copy(out, in)
	return out
}

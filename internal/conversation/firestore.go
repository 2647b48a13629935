package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore keeps one document per request. Records are stored as a JSON
// string because Firestore rejects nested arrays.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

type historyDoc struct {
	RequestID string    `firestore:"request_id"`
	Records   string    `firestore:"records"`
	Turns     int       `firestore:"turns"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// NewFirestoreStore creates a Firestore-backed store.
func NewFirestoreStore(ctx context.Context, projectID, collection string) (*FirestoreStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}
	if collection == "" {
		collection = "conversations"
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}
	return &FirestoreStore{client: client, collection: collection}, nil
}

func (s *FirestoreStore) doc(requestID string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(requestID)
}

func (s *FirestoreStore) Save(ctx context.Context, requestID string, records []Record) error {
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}

	_, err = s.doc(requestID).Set(ctx, historyDoc{
		RequestID: requestID,
		Records:   string(raw),
		Turns:     len(records),
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("firestore save %s: %w", requestID, err)
	}
	return nil
}

func (s *FirestoreStore) Load(ctx context.Context, requestID string) ([]Record, error) {
	snap, err := s.doc(requestID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("firestore load %s: %w", requestID, err)
	}

	var doc historyDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore decode %s: %w", requestID, err)
	}

	var records []Record
	if err := json.Unmarshal([]byte(doc.Records), &records); err != nil {
		return nil, fmt.Errorf("failed to decode history %s: %w", requestID, err)
	}
	return records, nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

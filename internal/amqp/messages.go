package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// SyncRequestMessage asks a worker to sync one user. The worker reads
// everything else from the store.
type SyncRequestMessage struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requestedAt"`
}

func NewSyncRequestMessage(userID, reason string) *SyncRequestMessage {
	return &SyncRequestMessage{
		ID:          uuid.NewString(),
		UserID:      userID,
		Reason:      reason,
		RequestedAt: time.Now(),
	}
}

func (m *SyncRequestMessage) Validate() error {
	if m.UserID == "" {
		return errors.New("sync request without user id")
	}
	return nil
}

func (m *SyncRequestMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func SyncRequestMessageFromJSON(data []byte) (*SyncRequestMessage, error) {
	var msg SyncRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

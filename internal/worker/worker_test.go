package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mockmate/backend/internal/models"
	"github.com/mockmate/backend/pkg/queue"
)

type fakeLogStore struct {
	entries map[uuid.UUID]*models.EmailLog
	sent    []uuid.UUID
	failed  map[uuid.UUID]string
}

func newFakeLogStore() *fakeLogStore {
	return &fakeLogStore{
		entries: map[uuid.UUID]*models.EmailLog{},
		failed:  map[uuid.UUID]string{},
	}
}

func (f *fakeLogStore) GetByID(ctx context.Context, id uuid.UUID) (*models.EmailLog, error) {
	e, ok := f.entries[id]
	if !ok {
		return nil, errors.New("no rows")
	}
	return e, nil
}

func (f *fakeLogStore) MarkSent(ctx context.Context, id uuid.UUID) error {
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeLogStore) MarkFailed(ctx context.Context, id uuid.UUID, cause string) error {
	f.failed[id] = cause
	return nil
}

type sentMail struct {
	to      string
	subject string
}

type fakeSender struct {
	sent []sentMail
	err  error
}

func (f *fakeSender) Send(ctx context.Context, to, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{to: to, subject: subject})
	return nil
}

func emailJob(t *testing.T, payload queue.EmailPayload) *queue.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &queue.Job{ID: uuid.New().String(), Type: queue.JobTypeEmail, Payload: raw}
}

func TestEmailProcessorProcess(t *testing.T) {
	t.Run("delivers and settles the log", func(t *testing.T) {
		logs := newFakeLogStore()
		sender := &fakeSender{}
		p := NewEmailProcessor(logs, sender, nil, zap.NewNop())

		logID := uuid.New()
		logs.entries[logID] = &models.EmailLog{ID: logID, Status: models.EmailLogStatusQueued}

		job := emailJob(t, queue.EmailPayload{
			EmailLogID:     logID,
			RecipientEmail: "candidate@example.com",
			Subject:        "Mock interview booked",
			Body:           "See you there",
		})
		require.NoError(t, p.Process(context.Background(), job))

		require.Len(t, sender.sent, 1)
		assert.Equal(t, "candidate@example.com", sender.sent[0].to)
		assert.Equal(t, []uuid.UUID{logID}, logs.sent)
		assert.Empty(t, logs.failed)
	})

	t.Run("skips an already sent email", func(t *testing.T) {
		logs := newFakeLogStore()
		sender := &fakeSender{}
		p := NewEmailProcessor(logs, sender, nil, zap.NewNop())

		logID := uuid.New()
		logs.entries[logID] = &models.EmailLog{ID: logID, Status: models.EmailLogStatusSent}

		job := emailJob(t, queue.EmailPayload{EmailLogID: logID, RecipientEmail: "x@example.com"})
		require.NoError(t, p.Process(context.Background(), job))
		assert.Empty(t, sender.sent)
		assert.Empty(t, logs.sent)
	})

	t.Run("records the failure cause and errors for retry", func(t *testing.T) {
		logs := newFakeLogStore()
		sender := &fakeSender{err: errors.New("smtp: 554 rejected")}
		p := NewEmailProcessor(logs, sender, nil, zap.NewNop())

		logID := uuid.New()
		logs.entries[logID] = &models.EmailLog{ID: logID, Status: models.EmailLogStatusQueued}

		job := emailJob(t, queue.EmailPayload{EmailLogID: logID, RecipientEmail: "x@example.com"})
		err := p.Process(context.Background(), job)
		require.Error(t, err)
		assert.Equal(t, "smtp: 554 rejected", logs.failed[logID])
		assert.Empty(t, logs.sent)
	})

	t.Run("rejects foreign job types", func(t *testing.T) {
		p := NewEmailProcessor(newFakeLogStore(), &fakeSender{}, nil, zap.NewNop())
		err := p.Process(context.Background(), &queue.Job{ID: "1", Type: "video-transcode"})
		require.Error(t, err)
	})

	t.Run("rejects an unknown log row", func(t *testing.T) {
		p := NewEmailProcessor(newFakeLogStore(), &fakeSender{}, nil, zap.NewNop())
		job := emailJob(t, queue.EmailPayload{EmailLogID: uuid.New()})
		require.Error(t, p.Process(context.Background(), job))
	})
}

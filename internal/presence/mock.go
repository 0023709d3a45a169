package presence

import (
	"context"
	"time"

	"github.com/qnahub/go-qna/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) PublishEvent(ctx context.Context, roomCode string, kind EventKind, data any) {
	m.Called(ctx, roomCode, kind, data)
}
func (m *MockStore) Handle(kind EventKind, fn HandlerFunc) {
	m.Called(kind, fn)
}
func (m *MockStore) AddParticipant(ctx context.Context, roomCode string, p types.Participant) error {
	args := m.Called(ctx, roomCode, p)
	return args.Error(0)
}
func (m *MockStore) RemoveParticipant(ctx context.Context, roomCode string, userId int) error {
	args := m.Called(ctx, roomCode, userId)
	return args.Error(0)
}
func (m *MockStore) ListParticipants(ctx context.Context, roomCode string) ([]types.Participant, error) {
	args := m.Called(ctx, roomCode)
	return args.Get(0).([]types.Participant), args.Error(1)
}
func (m *MockStore) CountParticipants(ctx context.Context, roomCode string) (int, error) {
	args := m.Called(ctx, roomCode)
	return args.Int(0), args.Error(1)
}
func (m *MockStore) DeleteRoomPresence(ctx context.Context, roomCode string) error {
	args := m.Called(ctx, roomCode)
	return args.Error(0)
}
func (m *MockStore) CleanupStale(ctx context.Context, roomCode string, maxAge time.Duration) error {
	args := m.Called(ctx, roomCode, maxAge)
	return args.Error(0)
}

package database

import (
	"github.com/stretchr/testify/mock"
)

type MockQnaRepository struct {
	mock.Mock
}

func (m *MockQnaRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockQnaRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockQnaRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockQnaRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockQnaRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockQnaRepository) GetRoomByCode(code string) (Room, error) {
	args := m.Called(code)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockQnaRepository) GetRoomWithParticipants(code string) (*Room, error) {
	args := m.Called(code)
	if room, ok := args.Get(0).(*Room); ok {
		return room, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockQnaRepository) AddRoomParticipant(roomId, accountId int) error {
	args := m.Called(roomId, accountId)
	return args.Error(0)
}
func (m *MockQnaRepository) RemoveRoomParticipant(roomId, accountId int) error {
	args := m.Called(roomId, accountId)
	return args.Error(0)
}
func (m *MockQnaRepository) DeleteRoomAndQuestions(roomId int) error {
	args := m.Called(roomId)
	return args.Error(0)
}
func (m *MockQnaRepository) CreateQuestion(params CreateQuestionParams) (Question, error) {
	args := m.Called(params)
	return args.Get(0).(Question), args.Error(1)
}
func (m *MockQnaRepository) GetQuestionById(questionId int) (Question, error) {
	args := m.Called(questionId)
	return args.Get(0).(Question), args.Error(1)
}
func (m *MockQnaRepository) ListQuestionsByRoom(roomId, accountId int) ([]Question, error) {
	args := m.Called(roomId, accountId)
	return args.Get(0).([]Question), args.Error(1)
}
func (m *MockQnaRepository) MarkQuestionAnswered(questionId int) (Question, error) {
	args := m.Called(questionId)
	return args.Get(0).(Question), args.Error(1)
}
func (m *MockQnaRepository) UpdateQuestionVoteCount(questionId, count int) error {
	args := m.Called(questionId, count)
	return args.Error(0)
}
func (m *MockQnaRepository) GetVote(questionId, accountId int) (Vote, error) {
	args := m.Called(questionId, accountId)
	return args.Get(0).(Vote), args.Error(1)
}
func (m *MockQnaRepository) CreateVote(questionId, accountId int) (Vote, error) {
	args := m.Called(questionId, accountId)
	return args.Get(0).(Vote), args.Error(1)
}
func (m *MockQnaRepository) DeleteVote(voteId int) error {
	args := m.Called(voteId)
	return args.Error(0)
}
func (m *MockQnaRepository) CountVotesByQuestion(questionId int) (int, error) {
	args := m.Called(questionId)
	return args.Int(0), args.Error(1)
}

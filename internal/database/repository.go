package database

type QnaRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	CreateRoom(params CreateRoomParams) (Room, error)
	GetRoomByCode(code string) (Room, error)
	GetRoomWithParticipants(code string) (*Room, error)
	AddRoomParticipant(roomId, accountId int) error
	RemoveRoomParticipant(roomId, accountId int) error
	DeleteRoomAndQuestions(roomId int) error
	CreateQuestion(params CreateQuestionParams) (Question, error)
	GetQuestionById(questionId int) (Question, error)
	ListQuestionsByRoom(roomId, accountId int) ([]Question, error)
	MarkQuestionAnswered(questionId int) (Question, error)
	UpdateQuestionVoteCount(questionId, count int) error
	GetVote(questionId, accountId int) (Vote, error)
	CreateVote(questionId, accountId int) (Vote, error)
	DeleteVote(voteId int) error
	CountVotesByQuestion(questionId int) (int, error)
}

package database

import "time"

type User struct {
	Id           int
	FirstName    string
	LastName     string
	EmailAddress string
	PasswordHash string
	AvatarUrl    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Room struct {
	Id           int
	Code         string
	Title        string
	AdminId      int
	IsActive     bool
	IsEnded      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Participants []User
}

type Question struct {
	Id         int
	RoomId     int
	UserId     int
	Content    string
	IsAnswered bool
	VoteCount  int
	HasVoted   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Author     User
	Room       Room
}

type Vote struct {
	Id         int
	QuestionId int
	UserId     int
	CreatedAt  time.Time
}

type CreateAccountParams struct {
	FirstName    string
	LastName     string
	EmailAddress string
	PasswordHash string
	AvatarUrl    string
}

type CreateRoomParams struct {
	Code    string
	Title   string
	AdminId int
}

type CreateQuestionParams struct {
	RoomId  int
	UserId  int
	Content string
}

package types

import (
	"time"
)

type User struct {
	Id           int       `json:"id"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	EmailAddress string    `json:"email,omitempty"`
	AvatarUrl    string    `json:"avatarUrl,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt,omitempty"`
}

// Participant is the public projection of a user present in a room. It is
// the only user shape that crosses the presence store or the event wire.
type Participant struct {
	Id        int    `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	AvatarUrl string `json:"avatarUrl,omitempty"`
}

func (u User) Participant() Participant {
	return Participant{
		Id:        u.Id,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		AvatarUrl: u.AvatarUrl,
	}
}

type Room struct {
	Id           int           `json:"id"`
	Code         string        `json:"code"`
	Title        string        `json:"title"`
	AdminId      int           `json:"adminId"`
	Admin        *User         `json:"admin,omitempty"`
	IsActive     bool          `json:"isActive"`
	IsEnded      bool          `json:"isEnded"`
	Participants []Participant `json:"participants,omitempty"`
	CreatedAt    time.Time     `json:"createdAt,omitempty"`
	UpdatedAt    time.Time     `json:"updatedAt,omitempty"`
}

// RoomSummary is the room shape nested in a hydrated question.
type RoomSummary struct {
	Id    int    `json:"id"`
	Code  string `json:"code"`
	Title string `json:"title"`
}

type Question struct {
	Id         int          `json:"id"`
	Content    string       `json:"content"`
	IsAnswered bool         `json:"isAnswered"`
	VoteCount  int          `json:"voteCount"`
	HasVoted   bool         `json:"hasVoted,omitempty"`
	UserId     int          `json:"userId"`
	RoomId     int          `json:"roomId"`
	User       *User        `json:"user,omitempty"`
	Room       *RoomSummary `json:"room,omitempty"`
	CreatedAt  time.Time    `json:"createdAt,omitempty"`
	UpdatedAt  time.Time    `json:"updatedAt,omitempty"`
}

package database

import (
	"database/sql"
	"fmt"
	"time"
)

func (db *PgQnaRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (first_name, last_name, email, password_hash, avatar_url, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, first_name, last_name, email, avatar_url",
		params.FirstName,
		params.LastName,
		params.EmailAddress,
		params.PasswordHash,
		params.AvatarUrl,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.FirstName,
		&u.LastName,
		&u.EmailAddress,
		&u.AvatarUrl,
	)

	return u, err
}

func (db *PgQnaRepository) GetAccountById(accountId int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, first_name, last_name, email, avatar_url FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		accountId,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.FirstName,
		&user.LastName,
		&user.EmailAddress,
		&user.AvatarUrl,
	)

	return user, err
}

func (db *PgQnaRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, first_name, last_name, email, avatar_url, password_hash FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.FirstName,
		&user.LastName,
		&user.EmailAddress,
		&user.AvatarUrl,
		&user.PasswordHash,
	)

	return user, err
}

func (db *PgQnaRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	res := db.conn.QueryRow(
		"INSERT INTO rooms (code, title, admin_id, is_active, is_ended, created_at) "+
			"VALUES ($1, $2, $3, true, false, $4) RETURNING id, code, title, admin_id, is_active, is_ended",
		params.Code,
		params.Title,
		params.AdminId,
		time.Now().UTC(),
	)

	var room Room
	err := res.Scan(
		&room.Id,
		&room.Code,
		&room.Title,
		&room.AdminId,
		&room.IsActive,
		&room.IsEnded,
	)

	return room, err
}

func (db *PgQnaRepository) GetRoomByCode(code string) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT id, code, title, admin_id, is_active, is_ended FROM rooms "+
			"WHERE code = $1 LIMIT 1",
		code,
	)

	var room Room
	err := row.Scan(
		&room.Id,
		&room.Code,
		&room.Title,
		&room.AdminId,
		&room.IsActive,
		&room.IsEnded,
	)

	return room, err
}

func (db *PgQnaRepository) GetRoomWithParticipants(code string) (*Room, error) {
	query := `
		SELECT
				r.id,
				r.code,
				r.title,
				r.admin_id,
				r.is_active,
				r.is_ended,
				a.id,
				a.first_name,
				a.last_name,
				a.avatar_url
		FROM rooms r
		LEFT JOIN room_participants p ON p.room_id = r.id
		LEFT JOIN accounts a ON a.id = p.account_id
		WHERE r.code = $1`

	rows, err := db.conn.Query(query, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var room *Room
	for rows.Next() {
		var (
			r         Room
			accountId sql.NullInt64
			firstName sql.NullString
			lastName  sql.NullString
			avatarUrl sql.NullString
		)
		if err := rows.Scan(
			&r.Id,
			&r.Code,
			&r.Title,
			&r.AdminId,
			&r.IsActive,
			&r.IsEnded,
			&accountId,
			&firstName,
			&lastName,
			&avatarUrl,
		); err != nil {
			return nil, err
		}

		if room == nil {
			room = &r
		}

		if accountId.Valid {
			room.Participants = append(room.Participants, User{
				Id:        int(accountId.Int64),
				FirstName: firstName.String,
				LastName:  lastName.String,
				AvatarUrl: avatarUrl.String,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if room == nil {
		return nil, sql.ErrNoRows
	}

	return room, nil
}

func (db *PgQnaRepository) AddRoomParticipant(roomId, accountId int) error {
	_, err := db.conn.Exec(
		"INSERT INTO room_participants (room_id, account_id, created_at) "+
			"VALUES ($1, $2, $3) ON CONFLICT (room_id, account_id) DO NOTHING",
		roomId,
		accountId,
		time.Now().UTC(),
	)

	return err
}

func (db *PgQnaRepository) RemoveRoomParticipant(roomId, accountId int) error {
	_, err := db.conn.Exec(
		"DELETE FROM room_participants WHERE room_id = $1 AND account_id = $2",
		roomId,
		accountId,
	)

	return err
}

// DeleteRoomAndQuestions removes the room and everything attached to it in
// one transaction: votes, questions, persisted participants, then the room.
func (db *PgQnaRepository) DeleteRoomAndQuestions(roomId int) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"DELETE FROM votes WHERE question_id IN (SELECT id FROM questions WHERE room_id = $1)",
		roomId,
	); err != nil {
		return fmt.Errorf("delete votes: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM questions WHERE room_id = $1", roomId); err != nil {
		return fmt.Errorf("delete questions: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM room_participants WHERE room_id = $1", roomId); err != nil {
		return fmt.Errorf("delete participants: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM rooms WHERE id = $1", roomId); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}

	return tx.Commit()
}

func (db *PgQnaRepository) CreateQuestion(params CreateQuestionParams) (Question, error) {
	res := db.conn.QueryRow(
		"INSERT INTO questions (room_id, account_id, content, is_answered, vote_count, created_at) "+
			"VALUES ($1, $2, $3, false, 0, $4) RETURNING id",
		params.RoomId,
		params.UserId,
		params.Content,
		time.Now().UTC(),
	)

	var id int
	if err := res.Scan(&id); err != nil {
		return Question{}, err
	}

	return db.GetQuestionById(id)
}

const hydratedQuestionQuery = `
		SELECT
				q.id,
				q.room_id,
				q.account_id,
				q.content,
				q.is_answered,
				q.vote_count,
				q.created_at,
				a.id,
				a.first_name,
				a.last_name,
				a.avatar_url,
				r.id,
				r.code,
				r.title
		FROM questions q
		JOIN accounts a ON a.id = q.account_id
		JOIN rooms r ON r.id = q.room_id`

func scanQuestion(row interface{ Scan(...any) error }) (Question, error) {
	var q Question
	err := row.Scan(
		&q.Id,
		&q.RoomId,
		&q.UserId,
		&q.Content,
		&q.IsAnswered,
		&q.VoteCount,
		&q.CreatedAt,
		&q.Author.Id,
		&q.Author.FirstName,
		&q.Author.LastName,
		&q.Author.AvatarUrl,
		&q.Room.Id,
		&q.Room.Code,
		&q.Room.Title,
	)

	return q, err
}

func (db *PgQnaRepository) GetQuestionById(questionId int) (Question, error) {
	row := db.conn.QueryRow(hydratedQuestionQuery+" WHERE q.id = $1 LIMIT 1", questionId)
	return scanQuestion(row)
}

func (db *PgQnaRepository) ListQuestionsByRoom(roomId, accountId int) ([]Question, error) {
	query := `
		SELECT
				q.id,
				q.room_id,
				q.account_id,
				q.content,
				q.is_answered,
				q.vote_count,
				q.created_at,
				a.id,
				a.first_name,
				a.last_name,
				a.avatar_url,
				r.id,
				r.code,
				r.title,
				EXISTS (SELECT 1 FROM votes v WHERE v.question_id = q.id AND v.account_id = $2)
		FROM questions q
		JOIN accounts a ON a.id = q.account_id
		JOIN rooms r ON r.id = q.room_id
		WHERE q.room_id = $1
		ORDER BY q.created_at ASC`

	rows, err := db.conn.Query(query, roomId, accountId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []Question
	for rows.Next() {
		var q Question
		if err := rows.Scan(
			&q.Id,
			&q.RoomId,
			&q.UserId,
			&q.Content,
			&q.IsAnswered,
			&q.VoteCount,
			&q.CreatedAt,
			&q.Author.Id,
			&q.Author.FirstName,
			&q.Author.LastName,
			&q.Author.AvatarUrl,
			&q.Room.Id,
			&q.Room.Code,
			&q.Room.Title,
			&q.HasVoted,
		); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}

	return questions, rows.Err()
}

func (db *PgQnaRepository) MarkQuestionAnswered(questionId int) (Question, error) {
	_, err := db.conn.Exec(
		"UPDATE questions SET is_answered = true, updated_at = $2 WHERE id = $1",
		questionId,
		time.Now().UTC(),
	)
	if err != nil {
		return Question{}, err
	}

	return db.GetQuestionById(questionId)
}

func (db *PgQnaRepository) UpdateQuestionVoteCount(questionId, count int) error {
	_, err := db.conn.Exec(
		"UPDATE questions SET vote_count = $2, updated_at = $3 WHERE id = $1",
		questionId,
		count,
		time.Now().UTC(),
	)

	return err
}

func (db *PgQnaRepository) GetVote(questionId, accountId int) (Vote, error) {
	row := db.conn.QueryRow(
		"SELECT id, question_id, account_id, created_at FROM votes "+
			"WHERE question_id = $1 AND account_id = $2 LIMIT 1",
		questionId,
		accountId,
	)

	var v Vote
	err := row.Scan(
		&v.Id,
		&v.QuestionId,
		&v.UserId,
		&v.CreatedAt,
	)

	return v, err
}

func (db *PgQnaRepository) CreateVote(questionId, accountId int) (Vote, error) {
	res := db.conn.QueryRow(
		"INSERT INTO votes (question_id, account_id, created_at) "+
			"VALUES ($1, $2, $3) RETURNING id, question_id, account_id, created_at",
		questionId,
		accountId,
		time.Now().UTC(),
	)

	var v Vote
	err := res.Scan(
		&v.Id,
		&v.QuestionId,
		&v.UserId,
		&v.CreatedAt,
	)

	return v, err
}

func (db *PgQnaRepository) DeleteVote(voteId int) error {
	_, err := db.conn.Exec("DELETE FROM votes WHERE id = $1", voteId)
	return err
}

func (db *PgQnaRepository) CountVotesByQuestion(questionId int) (int, error) {
	row := db.conn.QueryRow("SELECT COUNT(*) FROM votes WHERE question_id = $1", questionId)

	var count int
	err := row.Scan(&count)

	return count, err
}

package db

import "database/sql"

type Tournament struct {
	ID        string
	Title     string
	GameName  string
	StreamUrl string
	ImageUrl  string
	ApiUrl    sql.NullString
	Status    string
	StartTime string
}

type OutboxEvent struct {
	ID           string
	TournamentID string
	EventType    string
	Payload      string
	CreatedAt    string
	Attempts     int32
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/tourney/go/internal/dbconfig"
	"github.com/mcdev12/tourney/go/internal/models"
	"github.com/mcdev12/tourney/go/internal/sqlutil"
)

// seedTournament is one entry of the JSON snapshot. ID is optional.
type seedTournament struct {
	ID string `json:"id"`
	models.CreateTournamentRequest
}

func main() {
	path := flag.String("file", "go/internal/assets/tournaments.json", "JSON snapshot to load")
	flag.Parse()

	// 1) Load the JSON snapshot
	data, err := os.ReadFile(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var tournaments []seedTournament
	if err := json.Unmarshal(data, &tournaments); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	cfg := dbconfig.NewConfigFromEnv()
	if d, err := cfg.Dialect(); err != nil || d != sqlutil.Postgres {
		fmt.Fprintf(os.Stderr, "seeding requires DB_DRIVER=postgres, got %q\n", cfg.Driver)
		os.Exit(1)
	}
	pool, err := pgxpool.New(context.Background(), cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Upsert and count
	var (
		total    = len(tournaments)
		inserted int
		skipped  int
		errs     int
	)

	for _, t := range tournaments {
		if t.Status == "" {
			t.Status = models.TournamentStatusUpcoming
		}
		if err := models.ValidateCreate(t.CreateTournamentRequest); err != nil {
			fmt.Fprintf(os.Stderr, "skipping %q: %v\n", t.Title, err)
			errs++
			continue
		}
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		startTime, err := models.ParseStartTime(t.StartTime)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping %q: %v\n", t.Title, err)
			errs++
			continue
		}

		var apiURL *string
		if t.APIURL != "" {
			apiURL = &t.APIURL
		}

		cmdTag, err := pool.Exec(context.Background(), `
            INSERT INTO tournaments (
              id, title, game_name, stream_url, image_url, api_url, status, start_time
            ) VALUES (
              $1,$2,$3,$4,$5,$6,$7,$8
            )
            ON CONFLICT (id) DO NOTHING
        `,
			t.ID, t.Title, t.GameName, t.StreamURL, t.ImageURL, apiURL, string(t.Status), startTime,
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting tournament %s: %v\n", t.ID, err)
			errs++
			continue
		}
		if cmdTag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}
	}

	// 4) Print summary
	fmt.Printf(
		"Tournaments seed complete: %d total, %d inserted, %d skipped, %d errors\n",
		total, inserted, skipped, errs,
	)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dom/scrim-veto/internal/auth"
	"github.com/dom/scrim-veto/internal/config"
	"github.com/dom/scrim-veto/internal/domain"
	"github.com/dom/scrim-veto/internal/repository"
	"github.com/dom/scrim-veto/internal/repository/postgres"
	"github.com/google/uuid"
	"gorm.io/gorm/logger"
)

const waitTimeout = 10 * time.Second

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	apiURL := "http://localhost:8080"
	if envURL := os.Getenv("API_URL"); envURL != "" {
		apiURL = envURL
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "full":
		fullCmd(apiURL, args)
	case "seed":
		seedCmd(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Scrim Simulator - Development tool for driving lobbies and map vetoes

USAGE:
  simulator <command> [options]

COMMANDS:
  full      Seed a lobby, join every player, draft teams and run the map veto
  seed      Seed a lobby, match and map pool and print tokens to join with
  help      Show this help message

ENVIRONMENT:
  API_URL       Backend URL (default: http://localhost:8080)
  DATABASE_URL  Postgres the server reads lobbies and matches from
  JWT_SECRET    Secret the server validates tokens with

EXAMPLES:
  # 10 players, best of 1 on cs2
  simulator full

  # Valorant best of 3
  simulator full --game=val --bo=3

  # Seed only and join from a browser
  simulator seed --players=6`)
}

type simEnv struct {
	repos  *repository.Repositories
	tokens *auth.TokenValidator
}

func setup() *simEnv {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	db, err := postgres.NewConnection(cfg.DatabaseURL, logger.Warn)
	if err != nil {
		fmt.Printf("Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	return &simEnv{
		repos:  postgres.NewRepositories(db),
		tokens: auth.NewTokenValidator(cfg.JWTSecret),
	}
}

func (e *simEnv) token(userID uuid.UUID) string {
	token, err := e.tokens.Issue(userID, 2*time.Hour)
	if err != nil {
		fmt.Printf("Failed to issue token: %v\n", err)
		os.Exit(1)
	}
	return token
}

func seedFlags(name string, args []string) (game domain.Game, players, bestOf int) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	gameFlag := fs.String("game", string(domain.GameCS2), "Game to seed (cs2 or val)")
	playersFlag := fs.Int("players", 10, "Lobby size including the owner")
	boFlag := fs.Int("bo", 1, "Series length of the match (1, 3 or 5)")
	fs.Parse(args)

	if *playersFlag < 2 || *playersFlag > 20 {
		fmt.Println("Error: --players must be between 2 and 20")
		os.Exit(1)
	}
	if _, err := domain.ModeForBestOf(*boFlag); err != nil {
		fmt.Println("Error: --bo must be 1, 3 or 5")
		os.Exit(1)
	}
	return domain.Game(*gameFlag), *playersFlag, *boFlag
}

func seedCmd(args []string) {
	game, players, bestOf := seedFlags("seed", args)
	e := setup()

	fmt.Print("Seeding lobby, match and map pool... ")
	s, err := seedScenario(context.Background(), e.repos, game, players, bestOf)
	if err != nil {
		fmt.Printf("FAILED\n  Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK")

	fmt.Println()
	fmt.Printf("  Lobby ID:  %s\n", s.LobbyID)
	fmt.Printf("  Match ID:  %s\n", s.MatchID)
	fmt.Println()
	fmt.Printf("  Owner token:\n    %s\n", e.token(s.Owner))
	for i, id := range s.Players {
		fmt.Printf("  Player%d token:\n    %s\n", i+1, e.token(id))
	}
	fmt.Println()
}

func fullCmd(apiURL string, args []string) {
	game, players, bestOf := seedFlags("full", args)
	e := setup()

	fmt.Println("=== Scrim Simulator: Full Flow ===")
	fmt.Println()

	fmt.Print("Seeding lobby, match and map pool... ")
	s, err := seedScenario(context.Background(), e.repos, game, players, bestOf)
	if err != nil {
		fail(err)
	}
	fmt.Printf("OK (lobby: %s)\n", s.LobbyID)

	owner := runLobby(apiURL, e, s)
	defer owner.Close()
	runVeto(apiURL, e, s)
}

// runLobby joins every player, sets captains and drafts the rest of the lobby
// following the advisory pick order.
func runLobby(apiURL string, e *simEnv, s *Scenario) *SimClient {
	fmt.Println()
	fmt.Printf("Joining %d players:\n", len(s.Players)+1)

	owner, err := Dial(apiURL, "lobby", e.token(s.Owner), "owner")
	if err != nil {
		fail(err)
	}
	if err := owner.JoinLobby(s.LobbyID); err != nil {
		fail(err)
	}
	env, err := owner.Await(domain.EventUserJoined, nil, waitTimeout)
	if err != nil {
		fail(err)
	}
	fmt.Printf("  owner joined (seq %d)\n", env.Seq)

	tabs := make([]*SimClient, 0, len(s.Players))
	for i, id := range s.Players {
		tab, err := Dial(apiURL, "lobby", e.token(id), fmt.Sprintf("player%d", i+1))
		if err != nil {
			fail(err)
		}
		tabs = append(tabs, tab)
		if err := tab.JoinLobby(s.LobbyID); err != nil {
			fail(err)
		}
		env, err := owner.Await(domain.EventUserJoined, nil, waitTimeout)
		if err != nil {
			fail(err)
		}
		fmt.Printf("  player%d joined (seq %d)\n", i+1, env.Seq)
	}
	defer func() {
		for _, tab := range tabs {
			tab.Close()
		}
	}()

	if len(s.Players) < 2 {
		return owner
	}

	captainA, captainB := s.Players[0], s.Players[1]
	fmt.Println()
	fmt.Print("Setting captains... ")
	if err := owner.SetCaptains(s.LobbyID, captainA, captainB, owner.nextRequestID()); err != nil {
		fail(err)
	}
	var captains domain.CaptainsSetPayload
	env, err = owner.Await(domain.EventCaptainsSet, &captains, waitTimeout)
	if err != nil {
		fail(err)
	}
	fmt.Printf("OK (seq %d, %d turns)\n", env.Seq, len(captains.PickOrder))

	teamA := []uuid.UUID{captainA}
	teamB := []uuid.UUID{captainB}
	pool := append([]uuid.UUID{s.Owner}, s.Players[2:]...)
	for turn, pick := range captains.PickOrder {
		take := pool[:pick.Count]
		pool = pool[pick.Count:]
		if pick.Team == domain.TeamA {
			teamA = append(teamA, take...)
		} else {
			teamB = append(teamB, take...)
		}

		// Every update is sent twice, as a double click would; the second
		// copy must be absorbed by the server.
		requestID := owner.nextRequestID()
		for i := 0; i < 2; i++ {
			if err := owner.UpdateTeams(s.LobbyID, teamA, teamB, requestID); err != nil {
				fail(err)
			}
		}
		env, err := owner.Await(domain.EventTeamsUpdated, nil, waitTimeout)
		if err != nil {
			fail(err)
		}
		fmt.Printf("  turn %d: team %s picks %d (seq %d)\n", turn+1, pick.Team, pick.Count, env.Seq)
	}

	if err := owner.Heartbeat(s.LobbyID); err != nil {
		fail(err)
	}
	if _, err := owner.Await(domain.EventPong, nil, waitTimeout); err != nil {
		fail(err)
	}

	fmt.Println()
	fmt.Printf("  Team A: %d players\n", len(teamA))
	fmt.Printf("  Team B: %d players\n", len(teamB))
	return owner
}

// runVeto starts the veto and issues one action per step from the owner's tab
// until it completes. A spectator joins after the first step and resyncs from
// the VetoState snapshot.
func runVeto(apiURL string, e *simEnv, s *Scenario) {
	fmt.Println()
	fmt.Print("Starting veto... ")

	owner, err := Dial(apiURL, "veto", e.token(s.Owner), "owner-veto")
	if err != nil {
		fail(err)
	}
	defer owner.Close()

	if err := owner.StartVeto(s.MatchID, ""); err != nil {
		fail(err)
	}
	var started domain.VetoSessionStartedPayload
	if _, err := owner.Await(domain.EventVetoSessionStarted, &started, waitTimeout); err != nil {
		fail(err)
	}
	var progress domain.VetoProgressPayload
	if _, err := owner.Await(domain.EventVetoProgress, &progress, waitTimeout); err != nil {
		fail(err)
	}
	fmt.Printf("OK (mode %s, %d maps)\n", started.Mode, len(started.Available))

	var spectator *SimClient
	target := started.Mode.TargetPicks()
	for step := 0; ; step++ {
		if step == 1 {
			spectator = joinSpectator(apiURL, e, s)
			defer spectator.Close()
		}

		mapID := progress.Available[0]
		action := domain.VetoActionBan
		if len(progress.Available) <= target-len(progress.Picks) {
			action = domain.VetoActionPick
		}
		if err := owner.VetoAction(s.MatchID, action, mapID, owner.nextRequestID()); err != nil {
			fail(err)
		}
		env, err := owner.Await(domain.EventVetoProgress, &progress, waitTimeout)
		if err != nil {
			fail(err)
		}
		fmt.Printf("  step %d: %s %s %s (seq %d)\n", progress.StepIndex, teamLabel(step), action, s.Maps[mapID], env.Seq)

		if progress.Team == domain.TeamNone {
			break
		}
	}

	var completed domain.VetoCompletedPayload
	env, err := owner.Await(domain.EventVetoCompleted, &completed, waitTimeout)
	if err != nil {
		fail(err)
	}
	if spectator != nil {
		if _, err := spectator.Await(domain.EventVetoCompleted, nil, waitTimeout); err != nil {
			fail(err)
		}
	}

	fmt.Println()
	fmt.Println("=========================================")
	fmt.Printf("  VETO COMPLETE (seq %d)\n", env.Seq)
	fmt.Println("=========================================")
	fmt.Println()
	for i, id := range completed.Maps {
		fmt.Printf("  Map %d: %s\n", i+1, s.Maps[id])
	}
	fmt.Printf("  Match ID: %s\n", s.MatchID)
	fmt.Println()
}

func joinSpectator(apiURL string, e *simEnv, s *Scenario) *SimClient {
	watcher := s.Owner
	if len(s.Players) > 0 {
		watcher = s.Players[len(s.Players)-1]
	}
	spectator, err := Dial(apiURL, "veto", e.token(watcher), "spectator")
	if err != nil {
		fail(err)
	}
	if err := spectator.JoinMatch(s.MatchID); err != nil {
		fail(err)
	}
	var state domain.VetoStatePayload
	env, err := spectator.Await(domain.EventVetoState, &state, waitTimeout)
	if err != nil {
		fail(err)
	}
	fmt.Printf("  spectator resynced at step %d (seq %d)\n", state.Session.StepIndex, env.Seq)
	return spectator
}

func teamLabel(step int) string {
	if step%2 == 0 {
		return "team A"
	}
	return "team B"
}

func fail(err error) {
	fmt.Printf("FAILED\n  Error: %v\n", err)
	os.Exit(1)
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pocketexpense/internal/apiclient"
	"pocketexpense/internal/config"
	"pocketexpense/internal/core"
	"pocketexpense/internal/localstore"
	syncengine "pocketexpense/internal/sync"
)

const usage = `Usage: pocket-sync <command> [flags]

Commands:
  login   -email <email> -password <password>   authenticate and store the session
  add     -amount <value> -category <name> [-method <name>] [-date YYYY-MM-DD] [-note <text>]
  drain   push all queued expenses to the server
  status  show queued mutation count and session owner
  logout  clear the session and the pending queue
  run     keep probing the server and drain on every reconnect
`

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.ValidateAgent(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx := context.Background()
	var err error
	switch os.Args[1] {
	case "login":
		err = runLogin(ctx, cfg, os.Args[2:])
	case "add":
		err = runAdd(ctx, cfg, os.Args[2:])
	case "drain":
		err = runDrain(ctx, cfg)
	case "status":
		err = runStatus(ctx, cfg)
	case "logout":
		err = runLogout(ctx, cfg)
	case "run":
		err = runDaemon(ctx, cfg)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("Command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func runLogin(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	_ = fs.Parse(args)
	if *email == "" || *password == "" {
		return errors.New("both -email and -password are required")
	}

	store, err := localstore.Open(cfg.LocalDBPath)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	defer store.Close()

	client := apiclient.NewClient(cfg.ServerURL)
	token, userID, name, err := client.Login(ctx, *email, *password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	sess := localstore.Session{Token: token, UserID: userID, Email: *email, Name: name}
	if err := store.SaveSession(ctx, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	slog.InfoContext(ctx, "Logged in", "email", *email, "user_id", userID)
	return nil
}

func runAdd(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	amount := fs.String("amount", "", "expense amount, decimal (12.50 or 12,50)")
	category := fs.String("category", "", "expense category")
	method := fs.String("method", string(core.PaymentCash), "payment method")
	date := fs.String("date", time.Now().Format("2006-01-02"), "expense date (YYYY-MM-DD)")
	note := fs.String("note", "", "optional note")
	_ = fs.Parse(args)

	store, client, sess, err := openAgent(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	// Parse the amount as a decimal string so entries like 10.07 never pick
	// up float rounding on the way to cents.
	cents, err := core.ParseDecimalToCents(*amount)
	if err != nil {
		return fmt.Errorf("amount %q: %w", *amount, err)
	}
	money := core.Money{Cents: cents}
	day, err := time.Parse("2006-01-02", *date)
	if err != nil {
		return fmt.Errorf("%w: %q", core.ErrInvalidDate, *date)
	}

	expense := core.Expense{
		OwnerID:       sess.UserID,
		Amount:        money,
		Category:      core.Category(*category),
		PaymentMethod: core.PaymentMethod(*method),
		Date:          core.NewDate(day.Year(), int(day.Month()), day.Day()),
		Note:          *note,
	}

	engine := newEngine(store, client, onlineOracle{client: client})
	recorded, err := engine.Record(ctx, expense, core.OpCreate)
	if err != nil {
		return err
	}

	if recorded.Pending {
		slog.InfoContext(ctx, "Expense queued for sync", "local_id", recorded.ID)
	} else {
		slog.InfoContext(ctx, "Expense recorded", "id", recorded.ID)
	}
	return nil
}

func runDrain(ctx context.Context, cfg *config.Config) error {
	store, client, _, err := openAgent(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	engine := newEngine(store, client, onlineOracle{client: client})
	result, err := engine.Drain(ctx)
	slog.InfoContext(ctx, "Drain result",
		"synced", result.Synced,
		"failed", result.Failed,
		"still_pending", result.StillPending)
	return err
}

func runStatus(ctx context.Context, cfg *config.Config) error {
	store, err := localstore.Open(cfg.LocalDBPath)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	defer store.Close()

	count, err := store.Count(ctx)
	if err != nil {
		return fmt.Errorf("count pending: %w", err)
	}

	sess, err := store.Session(ctx)
	switch {
	case errors.Is(err, core.ErrNotFound):
		fmt.Printf("not logged in, %d pending mutation(s)\n", count)
	case err != nil:
		return fmt.Errorf("read session: %w", err)
	default:
		fmt.Printf("logged in as %s, %d pending mutation(s)\n", sess.Email, count)
	}
	return nil
}

func runLogout(ctx context.Context, cfg *config.Config) error {
	store, err := localstore.Open(cfg.LocalDBPath)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	defer store.Close()

	// Clear drops the pending queue and the session in one transaction; any
	// in-flight drain finds an empty queue and stops.
	if err := store.Clear(ctx); err != nil {
		return fmt.Errorf("clear sync state: %w", err)
	}
	slog.InfoContext(ctx, "Logged out, local sync state cleared")
	return nil
}

func runDaemon(ctx context.Context, cfg *config.Config) error {
	store, client, _, err := openAgent(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	prober := syncengine.NewProber(client, cfg.ProbeInterval)
	engine := newEngine(store, client, prober)
	monitor := syncengine.NewMonitor(engine, false)
	prober.Subscribe(monitor.OnChange)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.InfoContext(runCtx, "Sync agent started",
		"server", cfg.ServerURL,
		"probe_interval", cfg.ProbeInterval.String())
	prober.Run(runCtx)

	slog.InfoContext(ctx, "Sync agent stopped")
	return nil
}

// openAgent opens the local store and returns an API client carrying the
// stored session token.
func openAgent(ctx context.Context, cfg *config.Config) (*localstore.Store, *apiclient.Client, localstore.Session, error) {
	store, err := localstore.Open(cfg.LocalDBPath)
	if err != nil {
		return nil, nil, localstore.Session{}, fmt.Errorf("open local store: %w", err)
	}

	sess, err := store.Session(ctx)
	if err != nil {
		store.Close()
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil, localstore.Session{}, errors.New("not logged in, run `pocket-sync login` first")
		}
		return nil, nil, localstore.Session{}, fmt.Errorf("read session: %w", err)
	}

	client := apiclient.NewClient(cfg.ServerURL)
	client.SetToken(sess.Token)
	return store, client, sess, nil
}

func newEngine(store *localstore.Store, client *apiclient.Client, oracle syncengine.Oracle) *syncengine.Engine {
	return syncengine.NewEngine(client, store, oracle, func(localID, serverID string) {
		slog.Info("Expense id assigned", "local_id", localID, "server_id", serverID)
	})
}

// onlineOracle treats the server as reachable when a liveness probe answers
// right now. Used by the one-shot commands that have no background prober.
type onlineOracle struct {
	client *apiclient.Client
}

func (o onlineOracle) Reachable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return o.client.Ping(probeCtx) == nil
}

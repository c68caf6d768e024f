// Command ucpd runs the UCP runtime server.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/glytch-labs/ucp/core/pkg/audit"
	"github.com/glytch-labs/ucp/core/pkg/auth"
	"github.com/glytch-labs/ucp/core/pkg/compiler"
	"github.com/glytch-labs/ucp/core/pkg/config"
	"github.com/glytch-labs/ucp/core/pkg/dictionary"
	"github.com/glytch-labs/ucp/core/pkg/estimator"
	"github.com/glytch-labs/ucp/core/pkg/export"
	"github.com/glytch-labs/ucp/core/pkg/kernel"
	"github.com/glytch-labs/ucp/core/pkg/kms"
	"github.com/glytch-labs/ucp/core/pkg/ledger"
	"github.com/glytch-labs/ucp/core/pkg/llm"
	"github.com/glytch-labs/ucp/core/pkg/routing"
	"github.com/glytch-labs/ucp/core/pkg/runs"
	"github.com/glytch-labs/ucp/core/pkg/server"
	"github.com/glytch-labs/ucp/core/pkg/signer"
	"github.com/glytch-labs/ucp/core/pkg/store"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches subcommands. No args runs the server.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServer(stderr)
	}
	switch args[1] {
	case "server", "serve":
		return runServer(stderr)
	case "seal":
		return runSeal(args[2:], stdout, stderr)
	case "health":
		return runHealth(stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "ucpd - Universal Command Protocol runtime")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  ucpd [server]          Run the server (default)")
	fmt.Fprintln(w, "  ucpd seal <plaintext>  Seal a secret with UCP_MASTER_SECRET")
	fmt.Fprintln(w, "  ucpd health            Check server health over HTTP")
}

// runSeal prints the sealed env-value form of a secret so it can be
// stored in deployment configuration instead of the plaintext.
func runSeal(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "Usage: ucpd seal <plaintext>")
		return 2
	}
	master := os.Getenv("UCP_MASTER_SECRET")
	vault, err := kms.NewVault(master)
	if err != nil {
		fmt.Fprintf(stderr, "UCP_MASTER_SECRET: %v\n", err)
		return 1
	}
	sealed, err := config.SealSecret(vault, args[0])
	if err != nil {
		fmt.Fprintf(stderr, "seal failed: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, sealed)
	return 0
}

func runHealth(stdout, stderr io.Writer) int {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://localhost:" + port + "/healthz")
	if err != nil {
		fmt.Fprintf(stderr, "unreachable: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "unhealthy: %d\n", resp.StatusCode)
		return 1
	}
	fmt.Fprintln(stdout, "ok")
	return 0
}

type ledgerStores struct {
	ledger ledger.Store
	runs   runs.Store
	keys   signer.KeyStore
	dict   dictionary.Store
}

func openStores(cfg *config.Config) (*sql.DB, *ledgerStores, error) {
	if cfg.DatabaseURL != "" {
		db, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		ls, err := store.NewPostgresLedgerStore(db)
		if err != nil {
			return nil, nil, err
		}
		rs, err := store.NewPostgresRunStore(db)
		if err != nil {
			return nil, nil, err
		}
		ks, err := store.NewPostgresKeyStore(db)
		if err != nil {
			return nil, nil, err
		}
		ds, err := store.NewPostgresDictionaryStore(db)
		if err != nil {
			return nil, nil, err
		}
		log.Println("[ucpd] postgres: connected")
		return db, &ledgerStores{ledger: ls, runs: rs, keys: ks, dict: ds}, nil
	}

	db, err := store.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	ls, err := store.NewSQLiteLedgerStore(db)
	if err != nil {
		return nil, nil, err
	}
	rs, err := store.NewSQLiteRunStore(db)
	if err != nil {
		return nil, nil, err
	}
	ks, err := store.NewSQLiteKeyStore(db)
	if err != nil {
		return nil, nil, err
	}
	ds, err := store.NewSQLiteDictionaryStore(db)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("[ucpd] sqlite: %s", cfg.SQLitePath)
	return db, &ledgerStores{ledger: ls, runs: rs, keys: ks, dict: ds}, nil
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServer(stderr io.Writer) int {
	ctx := context.Background()
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	// Secret-at-rest vault, optional. Required when any secret is sealed.
	var vault *kms.Vault
	if cfg.MasterSecret != "" {
		v, err := kms.NewVault(cfg.MasterSecret)
		if err != nil {
			fmt.Fprintf(stderr, "master secret: %v\n", err)
			return 1
		}
		vault = v
	}
	jwtSecret, err := config.ResolveSecret(vault, cfg.JWTSecret)
	if err != nil {
		fmt.Fprintf(stderr, "jwt secret: %v\n", err)
		return 1
	}
	llmAPIKey, err := config.ResolveSecret(vault, cfg.LLMAPIKey)
	if err != nil {
		fmt.Fprintf(stderr, "llm api key: %v\n", err)
		return 1
	}

	// Profile: ruleset, dictionary seed, routing policy.
	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		slog.Warn("profile not loaded, using defaults", "path", cfg.ProfilePath, "error", err)
		profile = config.DefaultProfile()
	}
	comp, err := compiler.New(profile.Ruleset)
	if err != nil {
		fmt.Fprintf(stderr, "ruleset: %v\n", err)
		return 1
	}
	router, err := routing.NewEngine(profile.Routing)
	if err != nil {
		fmt.Fprintf(stderr, "routing policy: %v\n", err)
		return 1
	}

	db, st, err := openStores(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "store: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	// Dictionary: seed defaults, then overlay profile entries.
	dictSvc := dictionary.NewService(st.dict)
	if n, serr := dictSvc.Seed(ctx, "system"); serr != nil {
		slog.Warn("dictionary seed failed", "error", serr)
	} else if n > 0 {
		slog.Info("dictionary seeded", "entries", n)
	}
	for _, e := range profile.Dictionary {
		if _, cerr := dictSvc.Create(ctx, e, "profile"); cerr != nil {
			continue // already present
		}
	}

	// Rate limiting: Redis keeps counters correct across instances.
	var limiter kernel.LimiterStore
	if cfg.RedisAddr != "" {
		limiter = kernel.NewRedisLimiterStore(cfg.RedisAddr, "", cfg.RedisDB)
		slog.Info("limiter: redis", "addr", cfg.RedisAddr)
	} else {
		limiter = kernel.NewInMemoryLimiterStore()
		slog.Info("limiter: in-memory (single instance only)")
	}

	var classifier *llm.Classifier
	if cfg.LLMBaseURL != "" || llmAPIKey != "" {
		classifier = llm.NewClassifier(llm.NewOpenAIClient(cfg.LLMBaseURL, llmAPIKey, cfg.LLMModel))
		slog.Info("llm fallback enabled", "model", cfg.LLMModel)
	}

	var exporter server.Exporter
	if cfg.S3Bucket != "" {
		ex, xerr := export.NewS3Exporter(ctx, export.S3ExporterConfig{
			Bucket: cfg.S3Bucket,
			Region: cfg.S3Region,
		})
		if xerr != nil {
			slog.Warn("session export disabled", "error", xerr)
		} else {
			exporter = ex
			slog.Info("session export enabled", "bucket", cfg.S3Bucket)
		}
	}

	var validator *auth.JWTValidator
	if jwtSecret != "" {
		validator = auth.NewJWTValidator([]byte(jwtSecret))
	} else {
		slog.Warn("UCP_JWT_SECRET not set; bearer authentication disabled (fail closed)")
	}

	srv := server.NewServer(server.Options{
		Compiler:      comp,
		Dictionary:    dictSvc,
		Router:        router,
		Authority:     signer.NewAuthority(st.keys, limiter),
		Ledger:        ledger.NewService(st.ledger, 8000),
		Runs:          runs.NewService(st.runs, estimator.DefaultParams()),
		Params:        estimator.DefaultParams(),
		Audit:         audit.NewLogger(),
		Classifier:    classifier,
		Exporter:      exporter,
		Limiter:       limiter,
		Validator:     validator,
		ActorPolicy:   kernel.WindowPolicy{Limit: 600, Window: time.Minute},
		ThrottleRPS:   100,
		ThrottleBurst: 200,
	})

	addr := ":" + cfg.Port
	slog.Info("ucpd listening", "addr", addr, "profile", profile.Name)
	if err := srv.ListenAndServe(addr); err != nil {
		fmt.Fprintf(stderr, "server: %v\n", err)
		return 1
	}
	return 0
}

// sweeper is the scheduled redemption daemon. It periodically checks
// all pending mint quotes against their mints and credits the minted
// proofs to the owning users. The batch can also be triggered over
// HTTP, which is how a cron service is expected to drive it.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/ecashapp/satchel/ledger/sqlite"
	"github.com/ecashapp/satchel/redeemer"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
)

func main() {
	godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	db, err := sqlite.InitSQLite(ledgerPath())
	if err != nil {
		log.Fatalf("error setting up ledger: %v", err)
	}
	defer db.Close()

	sweeper := redeemer.New(db, nil, logger)

	// redemption batches never overlap; quotes within a batch are
	// already isolated from each other
	var mu sync.Mutex
	runBatch := func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		return sweeper.RedeemPending(ctx)
	}

	interval := sweepInterval()
	if interval > 0 {
		ticker := time.NewTicker(interval)
		go func() {
			for range ticker.C {
				if err := runBatch(context.Background()); err != nil {
					logger.Error("sweep failed", slog.String("error", err.Error()))
				}
			}
		}()
	}

	r := mux.NewRouter()
	r.HandleFunc("/cron/redeem", func(rw http.ResponseWriter, req *http.Request) {
		if err := runBatch(req.Context()); err != nil {
			logger.Error("sweep failed", slog.String("error", err.Error()))
			rw.WriteHeader(http.StatusInternalServerError)
			rw.Write([]byte("sweep failed"))
			return
		}
		rw.Write([]byte("Done"))
	}).Methods(http.MethodPost)

	server := &http.Server{
		Addr:    listenAddr(),
		Handler: r,
	}

	logger.Info("sweeper listening on: " + server.Addr)
	log.Fatal(server.ListenAndServe())
}

func ledgerPath() string {
	if path := os.Getenv("LEDGER_PATH"); len(path) > 0 {
		return path
	}

	homedir, err := os.UserHomeDir()
	if err != nil {
		log.Fatal(err)
	}

	path := filepath.Join(homedir, ".satchel", "ledger")
	if err := os.MkdirAll(path, 0700); err != nil {
		log.Fatal(err)
	}
	return path
}

func sweepInterval() time.Duration {
	seconds, err := strconv.Atoi(os.Getenv("SWEEP_INTERVAL_SECONDS"))
	if err != nil {
		return time.Minute
	}
	return time.Duration(seconds) * time.Second
}

func listenAddr() string {
	if addr := os.Getenv("SWEEPER_ADDR"); len(addr) > 0 {
		return addr
	}
	return "127.0.0.1:8338"
}

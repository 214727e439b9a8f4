package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"exchange/internal/api"
	"exchange/internal/engine"
	"exchange/internal/store"
)

func main() {
	port := flag.String("port", "8088", "server port")
	dbPath := flag.String("db", "exchange.db", "SQLite database path")
	kindName := flag.String("kind", "options", "market kind: options or futures")
	corsOrigins := flag.String("cors", "", "comma-separated allowed CORS origins (empty = allow all for dev)")
	flag.Parse()

	kind, err := engine.ParseKind(*kindName)
	if err != nil {
		log.Fatalf("Invalid market kind: %v", err)
	}

	st, err := store.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer st.Close()

	eng := engine.New(kind)

	// Rehydrate the pair registry and the ledger from the last run.
	pairs, err := st.Pairs()
	if err != nil {
		log.Fatalf("Failed to load pairs: %v", err)
	}
	for _, p := range pairs {
		eng.AddPair(engine.PairKey{Base: p.Base, Quote: p.Quote}, p.Price)
	}
	balances, err := st.Balances()
	if err != nil {
		log.Fatalf("Failed to load balances: %v", err)
	}
	for user, coins := range balances {
		for coin, amount := range coins {
			if err := eng.AddBalance(user, coin, amount); err != nil {
				log.Fatalf("Failed to restore balance %s/%s: %v", user, coin, err)
			}
		}
	}
	log.Printf("Restored %d pairs and %d funded users", len(pairs), len(balances))

	server := api.NewServer(eng, st)
	if *corsOrigins != "" {
		origins := strings.Split(*corsOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		server.SetCORSOrigins(origins)
		log.Printf("CORS restricted to: %v", origins)
	}

	addr := ":" + *port
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Router(),
	}

	go func() {
		log.Printf("Starting %s exchange on http://localhost%s", kind, addr)
		log.Printf("Database: %s", *dbPath)

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	server.Shutdown()
}

package main

import (
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/exambank/backend/internal/auth"
	"github.com/exambank/backend/internal/cache"
	"github.com/exambank/backend/internal/database"
	"github.com/exambank/backend/internal/generator"
	"github.com/exambank/backend/internal/questions"
)

func main() {
	db, err := database.Connect()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Composition root owns the fingerprint cache; every request goes through
	// this one instance.
	fingerprintCache := cache.New()

	client := generator.NewClient()
	verifier := generator.NewVerifier(nil)
	store := questions.NewStore(db)
	service := questions.NewService(store, fingerprintCache, client, verifier)

	authHandler := auth.NewHandler(db)
	questionHandler := questions.NewHandler(service, store)

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()

	// Public routes
	api.HandleFunc("/auth/register", authHandler.Register).Methods("POST")
	api.HandleFunc("/auth/login", authHandler.Login).Methods("POST")

	// Protected routes
	protected := api.PathPrefix("").Subrouter()
	protected.Use(auth.Middleware)
	protected.HandleFunc("/auth/me", authHandler.GetCurrentUser).Methods("GET")
	protected.HandleFunc("/questions", questionHandler.ListQuestions).Methods("GET")
	protected.HandleFunc("/questions/{id:[0-9]+}", questionHandler.GetQuestion).Methods("GET")
	protected.HandleFunc("/questions/{id:[0-9]+}/similar", questionHandler.GenerateSimilar).Methods("POST")
	protected.HandleFunc("/subjects/{id:[0-9]+}/knowledge-points", questionHandler.ListKnowledgePoints).Methods("GET")
	protected.HandleFunc("/generations", questionHandler.ListGenerationHistory).Methods("GET")

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	handler := c.Handler(r)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Server starting on :%s (model: %s)", port, client.ModelName())
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

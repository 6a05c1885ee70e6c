package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	webinar "github.com/operationspark/service-webinars"
	"github.com/operationspark/service-webinars/mongodb"
)

func main() {
	// .env is optional; deployed environments set real variables.
	_ = godotenv.Load()

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Environment: os.Getenv("APP_ENV"),
		})
		if err != nil {
			log.Fatalf("sentry.Init: %v\n", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	cfg, err := webinar.LoadEnvConfig()
	if err != nil {
		log.Fatalf("load config: %v\n", err)
	}

	ctx := context.Background()

	var store webinar.CredentialStore
	var history webinar.RunStore
	if mongoURI := os.Getenv("MONGO_URI"); mongoURI != "" {
		dbClient, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
		if err != nil {
			log.Fatalf("mongo.Connect: %v\n", err)
		}
		defer func() {
			if err := dbClient.Disconnect(ctx); err != nil {
				log.Printf("mongo disconnect: %v\n", err)
			}
		}()

		dbName := os.Getenv("MONGO_DB_NAME")
		if dbName == "" {
			dbName = "webinars"
		}
		svc := mongodb.New(dbName, dbClient)
		store, history = svc, svc
	}

	server, err := webinar.NewServerFromEnv(ctx, cfg, store, history)
	if err != nil {
		log.Fatalf("wire server: %v\n", err)
	}

	if err := funcframework.RegisterHTTPFunctionContext(ctx, "/", server.ServeHTTP); err != nil {
		log.Fatalf("funcframework.RegisterHTTPFunctionContext: %v\n", err)
	}

	// Use PORT environment variable, or default to 8080.
	port := "8080"
	if envPort := os.Getenv("PORT"); envPort != "" {
		port = envPort
	}
	log.Printf("server starting on port: %s\n", port)
	if err := funcframework.Start(port); err != nil {
		log.Fatalf("funcframework.Start: %v\n", err)
	}
}

// Package mongodb persists the Webex credentials and run history.
package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	webinar "github.com/operationspark/service-webinars"
)

type MongodbService struct {
	dbName string
	client *mongo.Client
}

// credentialsDocID keys the single credentials document. The service acts as
// one Webex principal, so there is never more than one.
const credentialsDocID = "webex"

func New(dbName string, client *mongo.Client) *MongodbService {
	return &MongodbService{
		dbName: dbName,
		client: client,
	}
}

// SaveCredentials upserts the Webex OAuth credentials. Saving zero-valued
// credentials clears them, which is how an expired authorization is recorded.
func (m *MongodbService) SaveCredentials(ctx context.Context, c webinar.Credentials) error {
	coll := m.client.Database(m.dbName).Collection("credentials")

	_, err := coll.UpdateOne(ctx,
		bson.M{"_id": credentialsDocID},
		bson.M{"$set": bson.M{
			"accessToken":  c.AccessToken,
			"refreshToken": c.RefreshToken,
			"expiresAt":    c.ExpiresAt,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("updateOne: %w", err)
	}
	return nil
}

// LoadCredentials returns the stored credentials, or zero-valued credentials
// when none have been saved yet.
func (m *MongodbService) LoadCredentials(ctx context.Context) (webinar.Credentials, error) {
	coll := m.client.Database(m.dbName).Collection("credentials")

	var c webinar.Credentials
	res := coll.FindOne(ctx, bson.M{"_id": credentialsDocID})
	if errors.Is(res.Err(), mongo.ErrNoDocuments) {
		return webinar.Credentials{}, nil
	}
	if res.Err() != nil {
		return webinar.Credentials{}, fmt.Errorf("findOne: %w", res.Err())
	}
	if err := res.Decode(&c); err != nil {
		return webinar.Credentials{}, fmt.Errorf("decode credentials: %w", err)
	}
	return c, nil
}

// RecordRun appends a run summary to the history collection.
func (m *MongodbService) RecordRun(ctx context.Context, summary webinar.RunSummary) error {
	coll := m.client.Database(m.dbName).Collection("runs")

	if _, err := coll.InsertOne(ctx, summary); err != nil {
		return fmt.Errorf("insertOne: %w", err)
	}
	return nil
}

// LastRun returns the most recent run summary.
func (m *MongodbService) LastRun(ctx context.Context) (webinar.RunSummary, error) {
	coll := m.client.Database(m.dbName).Collection("runs")

	var summary webinar.RunSummary
	opts := options.FindOne().SetSort(bson.M{"started": -1})
	res := coll.FindOne(ctx, bson.M{}, opts)
	if res.Err() != nil {
		return summary, fmt.Errorf("findOne: %w", res.Err())
	}
	if err := res.Decode(&summary); err != nil {
		return summary, fmt.Errorf("decode run summary: %w", err)
	}
	return summary, nil
}

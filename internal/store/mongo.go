package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ruby4mag/riskgate-backend/internal/models"
)

// Collection names, shared with the Postgres table names.
const (
	risksCollection       = "risks"
	assessmentsCollection = "risk_assessments"
	usageCollection       = "usage_limits"
	rolesCollection       = "user_roles"
	usersCollection       = "users"
)

// MongoStore implements Store on a MongoDB database.
type MongoStore struct {
	db *mongo.Database
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db}
}

func (s *MongoStore) collection(name string) *mongo.Collection {
	return s.db.Collection(name)
}

func (s *MongoStore) InsertRisks(ctx context.Context, risks []models.Risk) error {
	if len(risks) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	docs := make([]interface{}, 0, len(risks))
	for _, r := range risks {
		docs = append(docs, r)
	}
	if _, err := s.collection(risksCollection).InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert risks: %w", err)
	}
	return nil
}

func (s *MongoStore) InsertAssessment(ctx context.Context, summary models.AssessmentSummary) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.collection(assessmentsCollection).InsertOne(ctx, summary); err != nil {
		return fmt.Errorf("insert assessment: %w", err)
	}
	return nil
}

func (s *MongoStore) IncrementAssessmentCount(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.collection(usageCollection).UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{"$inc": bson.M{"assessment_count": 1}},
	)
	if err != nil {
		return fmt.Errorf("increment assessment count: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) UpdateRiskStatus(ctx context.Context, riskID string, status models.Status) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.collection(risksCollection).UpdateOne(ctx,
		bson.M{"risk_id": riskID},
		bson.M{"$set": bson.M{"status": status}},
	)
	if err != nil {
		return fmt.Errorf("update risk status: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) GetUserPlan(ctx context.Context, userID string) (models.UserPlan, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var plan models.UserPlan
	err := s.collection(usageCollection).FindOne(ctx, bson.M{"user_id": userID}).Decode(&plan)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.UserPlan{}, ErrNotFound
	}
	if err != nil {
		return models.UserPlan{}, fmt.Errorf("get user plan: %w", err)
	}
	return plan, nil
}

func (s *MongoStore) SetPremium(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.collection(usageCollection).UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{"$set": bson.M{"is_premium": true}},
	)
	if err != nil {
		return fmt.Errorf("set premium: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) GetUserRole(ctx context.Context, userID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var doc struct {
		Role string `bson:"role"`
	}
	err := s.collection(rolesCollection).FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get user role: %w", err)
	}
	return doc.Role, nil
}

func (s *MongoStore) CreateUser(ctx context.Context, user *models.User) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	_, err := s.collection(usersCollection).InsertOne(ctx, user)
	if mongo.IsDuplicateKeyError(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *MongoStore) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var user models.User
	err := s.collection(usersCollection).FindOne(ctx, bson.M{"username": username}).Decode(&user)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (s *MongoStore) CreateUserRecords(ctx context.Context, userID string, assessmentLimit int) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	upsert := options.Update().SetUpsert(true)
	if _, err := s.collection(rolesCollection).UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{"$setOnInsert": bson.M{"user_id": userID, "role": DefaultRole}},
		upsert,
	); err != nil {
		return fmt.Errorf("create user role: %w", err)
	}

	if _, err := s.collection(usageCollection).UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{"$setOnInsert": models.UserPlan{UserID: userID, AssessmentLimit: assessmentLimit}},
		upsert,
	); err != nil {
		return fmt.Errorf("create usage limits: %w", err)
	}
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// EnsureIndexes creates the unique indexes the store relies on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*opTimeout)
	defer cancel()

	unique := map[string]string{
		usersCollection:       "username",
		risksCollection:       "risk_id",
		assessmentsCollection: "assessment_id",
		usageCollection:       "user_id",
		rolesCollection:       "user_id",
	}
	for coll, field := range unique {
		_, err := s.collection(coll).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: field, Value: 1}},
			Options: options.Index().SetUnique(true),
		})
		if err != nil {
			return fmt.Errorf("create index on %s.%s: %w", coll, field, err)
		}
	}
	if _, err := s.collection(risksCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "assessment_id", Value: 1}},
	}); err != nil {
		return fmt.Errorf("create index on %s.assessment_id: %w", risksCollection, err)
	}
	return nil
}

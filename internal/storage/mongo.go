package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"expense-agent/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoDatabase       = "ledger"
	expenseSequenceName = "expenses"

	// ExpensesCollection holds one document per expense.
	ExpensesCollection = "expenses"
	// CountersCollection holds the id sequence documents.
	CountersCollection = "counters"
)

// MongoCollection is the subset of *mongo.Collection the ledger uses.
type MongoCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	Aggregate(ctx context.Context, pipeline interface{}, opts ...*options.AggregateOptions) (*mongo.Cursor, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	FindOneAndDelete(ctx context.Context, filter interface{}, opts ...*options.FindOneAndDeleteOptions) *mongo.SingleResult
	FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) *mongo.SingleResult
}

// CollectionProvider hands out collections by name.
type CollectionProvider interface {
	Collection(name string) MongoCollection
}

// MongoProvider adapts *mongo.Client to CollectionProvider.
type MongoProvider struct {
	client *mongo.Client
}

// Collection returns the named collection of the ledger database.
func (p *MongoProvider) Collection(name string) MongoCollection {
	return p.client.Database(mongoDatabase).Collection(name)
}

type expenseDocument struct {
	ID        int64   `bson:"_id"`
	UserID    string  `bson:"user_id"`
	Amount    float64 `bson:"amount"`
	Category  *string `bson:"category"`
	Note      string  `bson:"note"`
	Timestamp string  `bson:"ts"`
	Day       string  `bson:"day"`
}

func (d expenseDocument) toModel() models.Expense {
	return models.Expense{
		ID:        d.ID,
		UserID:    d.UserID,
		Amount:    d.Amount,
		Category:  d.Category,
		Note:      d.Note,
		Timestamp: d.Timestamp,
	}
}

// Mongo is the MongoDB ledger backend. Ids come from an atomically incremented counter
// document, so they are monotonic and never reused.
type Mongo struct {
	provider CollectionProvider
	client   *mongo.Client
}

var _ Ledger = (*Mongo)(nil)

// NewMongo connects to uri, pings the server and ensures the per-user index.
func NewMongo(ctx context.Context, uri string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	_, err = client.Database(mongoDatabase).Collection(ExpensesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "_id", Value: -1}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create expenses index: %w", err)
	}

	m := NewMongoLedger(&MongoProvider{client: client})
	m.client = client
	return m, nil
}

// NewMongoLedger builds a ledger on top of an existing collection provider.
func NewMongoLedger(provider CollectionProvider) *Mongo {
	return &Mongo{provider: provider}
}

func (m *Mongo) expenses() MongoCollection {
	return m.provider.Collection(ExpensesCollection)
}

func (m *Mongo) nextID(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := m.provider.Collection(CountersCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": expenseSequenceName},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, err
	}
	return counter.Seq, nil
}

// AddExpense inserts a new expense and returns the effective timestamp.
func (m *Mongo) AddExpense(ctx context.Context, e models.NewExpense) (*models.AddResult, error) {
	if err := validateUser(e.UserID); err != nil {
		return nil, err
	}
	ts, err := normalizeTimestamp(e.Timestamp, time.Now())
	if err != nil {
		return nil, err
	}
	id, err := m.nextID(ctx)
	if err != nil {
		return nil, dbError("add expense", err)
	}

	doc := expenseDocument{
		ID:        id,
		UserID:    e.UserID,
		Amount:    e.Amount,
		Category:  e.Category,
		Note:      e.Note,
		Timestamp: ts,
		Day:       dayOf(ts),
	}
	if _, err := m.expenses().InsertOne(ctx, doc); err != nil {
		return nil, dbError("add expense", err)
	}
	return &models.AddResult{OK: true, Timestamp: ts}, nil
}

func rangeFilter(userID, startDate, endDate string) bson.D {
	return bson.D{
		{Key: "user_id", Value: userID},
		{Key: "day", Value: bson.D{{Key: "$gte", Value: startDate}, {Key: "$lte", Value: endDate}}},
	}
}

// SumInRange totals the user's expenses dated within [startDate, endDate].
func (m *Mongo) SumInRange(ctx context.Context, userID, startDate, endDate string) (*models.SumResult, error) {
	if err := validateRange(startDate, endDate); err != nil {
		return nil, err
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: rangeFilter(userID, startDate, endDate)}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: "$amount"}}},
		}}},
	}
	cursor, err := m.expenses().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, dbError("sum expenses", err)
	}
	var groups []struct {
		Total float64 `bson:"total"`
	}
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, dbError("sum expenses", err)
	}
	if len(groups) == 0 {
		return &models.SumResult{Total: 0}, nil
	}
	return &models.SumResult{Total: groups[0].Total}, nil
}

func (m *Mongo) find(ctx context.Context, op string, userID string, opts *options.FindOptions) ([]models.Expense, error) {
	cursor, err := m.expenses().Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, dbError(op, err)
	}
	var docs []expenseDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, dbError(op, err)
	}
	expenses := make([]models.Expense, 0, len(docs))
	for _, d := range docs {
		expenses = append(expenses, d.toModel())
	}
	return expenses, nil
}

// ListRecent returns up to limit expenses, newest first.
func (m *Mongo) ListRecent(ctx context.Context, userID string, limit int) ([]models.Expense, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: -1}}).SetLimit(int64(limit))
	return m.find(ctx, "list recent expenses", userID, opts)
}

// ListAll returns the user's expenses oldest first, keeping the newest limit when limit > 0.
func (m *Mongo) ListAll(ctx context.Context, userID string, limit int) ([]models.Expense, error) {
	if limit <= 0 {
		return m.find(ctx, "list all expenses", userID, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	}
	newest, err := m.find(ctx, "list all expenses", userID,
		options.Find().SetSort(bson.D{{Key: "_id", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	slices.Reverse(newest)
	return newest, nil
}

// Count returns the number of expenses recorded for the user.
func (m *Mongo) Count(ctx context.Context, userID string) (int, error) {
	n, err := m.expenses().CountDocuments(ctx, bson.M{"user_id": userID})
	if err != nil {
		return 0, dbError("count expenses", err)
	}
	return int(n), nil
}

// DeleteAll removes every expense of the user.
func (m *Mongo) DeleteAll(ctx context.Context, userID string) (*models.DeleteAllResult, error) {
	result, err := m.expenses().DeleteMany(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, dbError("delete expenses", err)
	}
	return &models.DeleteAllResult{OK: true, Deleted: result.DeletedCount}, nil
}

// DeleteMostRecent removes the user's highest-id expense.
func (m *Mongo) DeleteMostRecent(ctx context.Context, userID string) (*models.DeleteResult, error) {
	var doc expenseDocument
	err := m.expenses().FindOneAndDelete(ctx,
		bson.M{"user_id": userID},
		options.FindOneAndDelete().SetSort(bson.D{{Key: "_id", Value: -1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &models.DeleteResult{OK: false, Reason: models.ReasonNoRecord}, nil
	}
	if err != nil {
		return nil, dbError("delete last expense", err)
	}
	return &models.DeleteResult{OK: true, DeletedID: doc.ID}, nil
}

// CategoryTotals aggregates the user's spending per category within [startDate, endDate].
func (m *Mongo) CategoryTotals(ctx context.Context, userID, startDate, endDate string) ([]models.CategoryTotal, error) {
	if err := validateRange(startDate, endDate); err != nil {
		return nil, err
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: rangeFilter(userID, startDate, endDate)}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$category", models.Uncategorized}}}},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: "$amount"}}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "total", Value: -1}, {Key: "_id", Value: 1}}}},
	}
	cursor, err := m.expenses().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, dbError("category totals", err)
	}
	var groups []struct {
		Category string  `bson:"_id"`
		Total    float64 `bson:"total"`
		Count    int     `bson:"count"`
	}
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, dbError("category totals", err)
	}
	totals := make([]models.CategoryTotal, 0, len(groups))
	for _, g := range groups {
		totals = append(totals, models.CategoryTotal{Category: g.Category, Total: g.Total, Count: g.Count})
	}
	return totals, nil
}

// Close disconnects the client when the ledger owns one.
func (m *Mongo) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Disconnect(context.Background())
}

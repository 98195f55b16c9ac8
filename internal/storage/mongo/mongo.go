package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/lasweety/sweetyshop/internal/storage"
	"github.com/lasweety/sweetyshop/internal/types/order"
	"github.com/lasweety/sweetyshop/internal/types/product"
)

const (
	productsCollection    = "products"
	ordersCollection      = "orders"
	deadLettersCollection = "dead_letters"
)

type MongoStorage struct {
	client      *mongo.Client
	products    *mongo.Collection
	orders      *mongo.Collection
	deadLetters *mongo.Collection
}

func NewMongoStorage(ctx context.Context, uri, database string) (*MongoStorage, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	db := client.Database(database)
	s := &MongoStorage{
		client:      client,
		products:    db.Collection(productsCollection),
		orders:      db.Collection(ordersCollection),
		deadLetters: db.Collection(deadLettersCollection),
	}
	if err := s.initIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MongoStorage) initIndexes(ctx context.Context) error {
	if _, err := s.products.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
	}); err != nil {
		return fmt.Errorf("init product indexes: %w", err)
	}
	if _, err := s.orders.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "stripeSessionId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "emailSent", Value: 1}, {Key: "createdAt", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("init order indexes: %w", err)
	}
	if _, err := s.deadLetters.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "stripeSessionId", Value: 1}},
	}); err != nil {
		return fmt.Errorf("init dead letter indexes: %w", err)
	}
	return nil
}

func (s *MongoStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStorage) GetProduct(ctx context.Context, id string) (*product.Product, error) {
	var p product.Product
	if err := s.products.FindOne(ctx, bson.M{"id": id}).Decode(&p); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *MongoStorage) ListProducts(ctx context.Context) ([]product.Product, error) {
	cur, err := s.products.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var out []product.Product
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStorage) SeedProducts(ctx context.Context, products []product.Product) error {
	for _, p := range products {
		_, err := s.products.UpdateOne(ctx,
			bson.M{"id": p.ID},
			bson.M{"$setOnInsert": bson.M{"id": p.ID, "name": p.Name, "stock": p.Stock}},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			return fmt.Errorf("seed product %s: %w", p.ID, err)
		}
	}
	return nil
}

func (s *MongoStorage) DecrementStock(ctx context.Context, id string, qty int) (bool, error) {
	res, err := s.products.UpdateOne(ctx,
		bson.M{"id": id, "stock": bson.M{"$gte": qty}},
		bson.M{"$inc": bson.M{"stock": -qty}},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

func (s *MongoStorage) CreateOrder(ctx context.Context, o *order.Order) error {
	if o.ID == "" {
		o.ID = primitive.NewObjectID().Hex()
	}
	if _, err := s.orders.InsertOne(ctx, o); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return storage.ErrDuplicateOrder
		}
		return err
	}
	return nil
}

func (s *MongoStorage) FindOrderByID(ctx context.Context, id string) (*order.Order, error) {
	return s.findOrder(ctx, bson.M{"_id": id})
}

func (s *MongoStorage) FindOrderBySession(ctx context.Context, sessionID string) (*order.Order, error) {
	return s.findOrder(ctx, bson.M{"stripeSessionId": sessionID})
}

func (s *MongoStorage) findOrder(ctx context.Context, filter bson.M) (*order.Order, error) {
	var o order.Order
	if err := s.orders.FindOne(ctx, filter).Decode(&o); err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func (s *MongoStorage) ListOrders(ctx context.Context) ([]order.Order, error) {
	cur, err := s.orders.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	out := []order.Order{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStorage) UpdateOrderStatus(ctx context.Context, id string, status order.OrderStatus) (*order.Order, error) {
	var o order.Order
	err := s.orders.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": status, "updatedAt": time.Now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&o)
	if err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func (s *MongoStorage) ClaimEmail(ctx context.Context, id string) (bool, error) {
	res, err := s.orders.UpdateOne(ctx,
		bson.M{"_id": id, "emailSent": false},
		bson.M{
			"$set": bson.M{"emailSent": true, "updatedAt": time.Now().UTC()},
			"$inc": bson.M{"emailAttempts": 1},
		},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

func (s *MongoStorage) ReleaseEmail(ctx context.Context, id string) error {
	return s.updateOrder(ctx, id, bson.M{"emailSent": false})
}

func (s *MongoStorage) MarkEmailSent(ctx context.Context, id string, at time.Time) error {
	return s.updateOrder(ctx, id, bson.M{"emailSentAt": at})
}

func (s *MongoStorage) updateOrder(ctx context.Context, id string, set bson.M) error {
	set["updatedAt"] = time.Now().UTC()
	res, err := s.orders.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *MongoStorage) ListPendingEmails(ctx context.Context, maxAttempts int, createdBefore time.Time) ([]order.Order, error) {
	cur, err := s.orders.Find(ctx,
		bson.M{
			"emailSent":     false,
			"emailAttempts": bson.M{"$lt": maxAttempts},
			"createdAt":     bson.M{"$lt": createdBefore},
		},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	var out []order.Order
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStorage) SaveDeadLetter(ctx context.Context, dl *order.DeadLetter) error {
	if dl.ID == "" {
		dl.ID = primitive.NewObjectID().Hex()
	}
	_, err := s.deadLetters.InsertOne(ctx, dl)
	return err
}

func (s *MongoStorage) FindDeadLetter(ctx context.Context, id string) (*order.DeadLetter, error) {
	var dl order.DeadLetter
	if err := s.deadLetters.FindOne(ctx, bson.M{"_id": id}).Decode(&dl); err != nil {
		return nil, notFound(err)
	}
	return &dl, nil
}

func (s *MongoStorage) ListDeadLetters(ctx context.Context) ([]order.DeadLetter, error) {
	cur, err := s.deadLetters.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	out := []order.DeadLetter{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStorage) ResolveDeadLetter(ctx context.Context, id string, at time.Time) error {
	res, err := s.deadLetters.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"resolvedAt": at}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *MongoStorage) RecordDeadLetterAttempt(ctx context.Context, id string, errMsg string) error {
	res, err := s.deadLetters.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"error": errMsg}, "$inc": bson.M{"attempts": 1}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return storage.ErrNotFound
	}
	return err
}

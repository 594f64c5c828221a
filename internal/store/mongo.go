package store

import (
	"context"
	"errors"
	"fmt"

	"gianconstruction/internal/config"
	"gianconstruction/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	accountsCollection = "accounts"
	logsCollection     = "logs"
)

// MongoStore 基于 MongoDB 的实现。
type MongoStore struct {
	client   *mongo.Client
	accounts *mongo.Collection
	logs     *mongo.Collection
}

// NewMongoStore 使用已连接的数据库句柄创建 Store。索引需另行调用 EnsureIndexes。
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		client:   db.Client(),
		accounts: db.Collection(accountsCollection),
		logs:     db.Collection(logsCollection),
	}
}

func openMongo(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ConnectTimeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	s := NewMongoStore(client.Database(cfg.Name))
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// EnsureIndexes 创建邮箱唯一索引等。重复调用是幂等的。
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.accounts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_email"),
		},
		{
			Keys:    bson.D{{Key: "account_id", Value: 1}},
			Options: options.Index().SetSparse(true).SetName("account_id"),
		},
	})
	if err != nil {
		return fmt.Errorf("mongo accounts indexes: %w", err)
	}
	_, err = s.logs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "created_at", Value: -1}},
		Options: options.Index().SetName("created_at_desc"),
	})
	if err != nil {
		return fmt.Errorf("mongo logs indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) FindAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	return s.findOne(ctx, bson.M{"email": email})
}

func (s *MongoStore) FindAccountByAccountID(ctx context.Context, accountID string) (*model.Account, error) {
	if accountID == "" {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, bson.M{"account_id": accountID})
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M) (*model.Account, error) {
	var a model.Account
	if err := s.accounts.FindOne(ctx, filter).Decode(&a); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, mongoErr("find account", err)
	}
	return &a, nil
}

func (s *MongoStore) InsertAccount(ctx context.Context, account *model.Account) error {
	if _, err := s.accounts.InsertOne(ctx, account); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateEmail
		}
		return mongoErr("insert account", err)
	}
	return nil
}

// SaveAccount 整文档替换；omitempty 字段（验证码等）为空时会从文档中移除。
func (s *MongoStore) SaveAccount(ctx context.Context, account *model.Account) error {
	res, err := s.accounts.ReplaceOne(ctx, bson.M{"_id": account.ID}, account)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateEmail
		}
		return mongoErr("save account", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) DeleteAccount(ctx context.Context, id string) error {
	res, err := s.accounts.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return mongoErr("delete account", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) ListAccounts(ctx context.Context, filter AccountFilter) ([]model.Account, error) {
	query := bson.M{}
	if filter.Role != "" {
		query["role"] = filter.Role
	}
	if filter.Active != nil {
		query["is_active"] = *filter.Active
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(listLimit(filter.Limit)))
	cur, err := s.accounts.Find(ctx, query, opts)
	if err != nil {
		return nil, mongoErr("list accounts", err)
	}
	out := []model.Account{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, mongoErr("decode accounts", err)
	}
	return out, nil
}

func (s *MongoStore) AppendLog(ctx context.Context, entry *model.AuditLog) error {
	if _, err := s.logs.InsertOne(ctx, entry); err != nil {
		return mongoErr("append log", err)
	}
	return nil
}

func (s *MongoStore) ListLogs(ctx context.Context, limit int) ([]model.AuditLog, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(listLimit(limit)))
	cur, err := s.logs.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, mongoErr("list logs", err)
	}
	out := []model.AuditLog{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, mongoErr("decode logs", err)
	}
	return out, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func mongoErr(op string, err error) error {
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	return classify(fmt.Errorf("%s: %w", op, err))
}

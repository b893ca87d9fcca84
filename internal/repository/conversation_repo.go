package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"plum/internal/model"
	"plum/internal/pkg/id"
)

// ErrNotFound 记录不存在（或不属于该用户，两种情况不可区分）
var ErrNotFound = errors.New("record not found")

// ConversationRepository 对话仓库接口（供 service 层依赖）
type ConversationRepository interface {
	Create(ctx context.Context, userID, title string) (*model.Conversation, error)
	FindByID(ctx context.Context, convID, userID string) (*model.Conversation, error)
	ListByUserID(ctx context.Context, userID string, limit, offset int64) ([]*model.Conversation, error)
	Touch(ctx context.Context, convID string) error
	SoftDelete(ctx context.Context, convID, userID string) error
}

// ConversationRepo 对话仓库
type ConversationRepo struct {
	coll *mongo.Collection
}

// NewConversationRepo 创建对话仓库
func NewConversationRepo(db *mongo.Database) *ConversationRepo {
	var c model.Conversation
	return &ConversationRepo{coll: db.Collection(c.Collection())}
}

// Create 创建对话
func (r *ConversationRepo) Create(ctx context.Context, userID, title string) (*model.Conversation, error) {
	now := time.Now()
	conv := &model.Conversation{
		ID:        id.New(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := r.coll.InsertOne(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// FindByID 根据ID查询
// 查询条件始终带 user_id 与 deleted_at 过滤：不存在、属于他人、已删除
// 三种情况对调用方完全一致，均返回 ErrNotFound
func (r *ConversationRepo) FindByID(ctx context.Context, convID, userID string) (*model.Conversation, error) {
	filter := bson.M{"id": convID, "user_id": userID, "deleted_at": nil}

	var conv model.Conversation
	if err := r.coll.FindOne(ctx, filter).Decode(&conv); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &conv, nil
}

// ListByUserID 查询用户对话列表（按更新时间倒序）
func (r *ConversationRepo) ListByUserID(ctx context.Context, userID string, limit, offset int64) ([]*model.Conversation, error) {
	filter := bson.M{"user_id": userID, "deleted_at": nil}
	opts := options.Find().
		SetSort(bson.D{bson.E{Key: "updated_at", Value: -1}}).
		SetLimit(limit).
		SetSkip(offset)

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var convs []*model.Conversation
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// Touch 更新对话的 updated_at（每追加一条消息调用一次）
func (r *ConversationRepo) Touch(ctx context.Context, convID string) error {
	update := bson.M{"$set": bson.M{"updated_at": time.Now()}}
	_, err := r.coll.UpdateOne(ctx, bson.M{"id": convID, "deleted_at": nil}, update)
	return err
}

// SoftDelete 软删除对话（设置 deleted_at，保留数据行）
func (r *ConversationRepo) SoftDelete(ctx context.Context, convID, userID string) error {
	filter := bson.M{"id": convID, "user_id": userID, "deleted_at": nil}
	update := bson.M{"$set": bson.M{"deleted_at": time.Now(), "updated_at": time.Now()}}

	result, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

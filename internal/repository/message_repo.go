package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"plum/internal/model"
	"plum/internal/pkg/id"
)

// MessageRepository 消息仓库接口（供 service 层依赖）
type MessageRepository interface {
	Append(ctx context.Context, convID, userID string, role model.Role, content string, toolCalls []model.ToolCall) (*model.Message, error)
	FindRecent(ctx context.Context, convID string, limit int64) ([]*model.Message, error)
}

// MessageRepo 消息仓库
// 消息只追加，创建后不修改不删除；对话内顺序由 created_at 决定
type MessageRepo struct {
	coll *mongo.Collection
}

// NewMessageRepo 创建消息仓库
func NewMessageRepo(db *mongo.Database) *MessageRepo {
	var m model.Message
	return &MessageRepo{coll: db.Collection(m.Collection())}
}

// Append 追加消息
func (r *MessageRepo) Append(ctx context.Context, convID, userID string, role model.Role, content string, toolCalls []model.ToolCall) (*model.Message, error) {
	msg := &model.Message{
		ID:             id.New(),
		ConversationID: convID,
		UserID:         userID,
		Role:           role,
		Content:        content,
		ToolCalls:      toolCalls,
		CreatedAt:      time.Now(),
	}
	if _, err := r.coll.InsertOne(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// FindRecent 查询对话最近的 limit 条消息，按时间正序返回（最旧在前）
// 查询按时间倒序截断到 limit 后翻转，保证上限内保留的是最新消息
func (r *MessageRepo) FindRecent(ctx context.Context, convID string, limit int64) ([]*model.Message, error) {
	filter := bson.M{"conversation_id": convID}
	opts := options.Find().
		SetSort(bson.D{bson.E{Key: "created_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var msgs []*model.Message
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, err
	}

	// 倒序查询结果翻转为正序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

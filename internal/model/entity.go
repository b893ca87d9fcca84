package model

import (
	"context"
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Role 消息角色
type Role string

const (
	RoleUser      Role = "user"      // 用户消息
	RoleAssistant Role = "assistant" // 助手回复
)

// 用户消息长度约束（去除首尾空白后）
const (
	UserMessageMinLen = 1
	UserMessageMaxLen = 2000
)

// Conversation 对话实体
// 只属于一个用户；软删除，不做物理删除
type Conversation struct {
	ID        string     `bson:"id" json:"id"` // 对话ID（UUID）
	UserID    string     `bson:"user_id" json:"user_id"`
	Title     string     `bson:"title,omitempty" json:"title,omitempty"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time  `bson:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `bson:"deleted_at,omitempty" json:"deleted_at,omitempty"`
}

// Collection 返回集合名称
func (c *Conversation) Collection() string { return "conversations" }

// EnsureIndexes 创建和维护索引
func (c *Conversation) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(c.Collection())
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetName("idx_id").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("idx_user_updated"),
		},
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}

// Message 消息实体（独立集合，追加写入，创建后不再修改）
// user_id 冗余自所属对话，做归属校验时免去一次关联查询
type Message struct {
	ID             string     `bson:"id" json:"id"` // 消息ID（UUID）
	ConversationID string     `bson:"conversation_id" json:"conversation_id"`
	UserID         string     `bson:"user_id" json:"user_id"`
	Role           Role       `bson:"role" json:"role"`
	Content        string     `bson:"content" json:"content"`
	ToolCalls      []ToolCall `bson:"tool_calls,omitempty" json:"tool_calls,omitempty"` // 仅助手消息携带
	CreatedAt      time.Time  `bson:"created_at" json:"created_at"`
}

// Collection 返回集合名称
func (m *Message) Collection() string { return "messages" }

// EnsureIndexes 创建和维护索引
func (m *Message) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(m.Collection())
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_conv_created"),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetName("idx_user_id"),
		},
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}

// ToolCall 一次工具调用记录（参数与结果原样保存为 JSON）
type ToolCall struct {
	Tool   string          `bson:"tool" json:"tool"`
	Args   json.RawMessage `bson:"args,omitempty" json:"args,omitempty"`
	Result json.RawMessage `bson:"result,omitempty" json:"result,omitempty"`
}

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"plum/internal/model"
	"plum/internal/pkg/storage"
	"plum/internal/repository"
)

// ErrExportUnavailable 未配置导出存储
var ErrExportUnavailable = errors.New("export storage not configured")

// 历史读取的条数上限约束
const (
	HistoryDefaultLimit = 50
	HistoryMaxLimit     = 100
)

// ConversationService 对话管理服务：历史读取、列表、软删除、导出
type ConversationService struct {
	convRepo repository.ConversationRepository
	msgRepo  repository.MessageRepository
	storage  storage.Storage // 可选，导出用
}

// NewConversationService 创建对话管理服务
func NewConversationService(
	convRepo repository.ConversationRepository,
	msgRepo repository.MessageRepository,
	store storage.Storage,
) *ConversationService {
	return &ConversationService{
		convRepo: convRepo,
		msgRepo:  msgRepo,
		storage:  store,
	}
}

// List 查询调用者的对话列表
func (s *ConversationService) List(ctx context.Context, callerID string, limit, offset int64) ([]*model.Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.convRepo.ListByUserID(ctx, callerID, limit, offset)
}

// History 读取对话历史（最旧在前）
// 归属校验与不存在同样返回 repository.ErrNotFound
func (s *ConversationService) History(ctx context.Context, callerID, convID string, limit int64) ([]*model.MessageView, error) {
	if limit <= 0 {
		limit = HistoryDefaultLimit
	}
	if limit > HistoryMaxLimit {
		limit = HistoryMaxLimit
	}

	conv, err := s.convRepo.FindByID(ctx, convID, callerID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.msgRepo.FindRecent(ctx, conv.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	views := make([]*model.MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, &model.MessageView{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			ToolCalls: m.ToolCalls,
			CreatedAt: m.CreatedAt,
		})
	}
	return views, nil
}

// Delete 软删除对话
// 消息保留在 messages 集合里备审计，对话本身从所有读路径消失
func (s *ConversationService) Delete(ctx context.Context, callerID, convID string) error {
	return s.convRepo.SoftDelete(ctx, convID, callerID)
}

// transcriptExport 导出文件结构
type transcriptExport struct {
	Conversation *model.Conversation `json:"conversation"`
	Messages     []*model.Message    `json:"messages"`
	ExportedAt   time.Time           `json:"exported_at"`
}

// Export 导出对话文本到对象存储，返回限时下载URL
func (s *ConversationService) Export(ctx context.Context, callerID, convID string) (string, error) {
	if s.storage == nil {
		return "", ErrExportUnavailable
	}

	conv, err := s.convRepo.FindByID(ctx, convID, callerID)
	if err != nil {
		return "", err
	}

	msgs, err := s.msgRepo.FindRecent(ctx, conv.ID, HistoryMaxLimit)
	if err != nil {
		return "", fmt.Errorf("failed to load messages: %w", err)
	}

	data, err := json.MarshalIndent(transcriptExport{
		Conversation: conv,
		Messages:     msgs,
		ExportedAt:   time.Now(),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal transcript: %w", err)
	}

	key := fmt.Sprintf("exports/%s/%s-%d.json", callerID, conv.ID, time.Now().Unix())
	if _, err := s.storage.Upload(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return "", fmt.Errorf("failed to upload transcript: %w", err)
	}

	url, err := s.storage.GetPresignedDownloadURL(ctx, key, time.Hour)
	if err != nil {
		return "", fmt.Errorf("failed to presign download URL: %w", err)
	}

	log.Info().Str("user_id", callerID).Str("conversation_id", conv.ID).Str("key", key).Msg("transcript exported")
	return url, nil
}

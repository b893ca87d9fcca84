package task

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"plum/internal/model/task"
	"plum/internal/pkg/id"
	"plum/internal/repository"
)

// TaskRepository 任务仓库接口（工具层与任务接口共用）
// 所有读写都以 user_id 过滤：不存在、属于他人、已删除对调用方不可区分
type TaskRepository interface {
	Create(ctx context.Context, t *task.Task) error
	FindByID(ctx context.Context, taskID, userID string) (*task.Task, error)
	ListByUserID(ctx context.Context, userID string, status task.Status) ([]*task.Task, error)
	Update(ctx context.Context, taskID, userID string, set bson.M) (*task.Task, error)
	MarkCompleted(ctx context.Context, taskID, userID string) (*task.Task, bool, error)
	SoftDelete(ctx context.Context, taskID, userID string) error
}

// TaskRepo 任务仓库
type TaskRepo struct {
	coll *mongo.Collection
}

// NewTaskRepo 创建任务仓库
func NewTaskRepo(db *mongo.Database) *TaskRepo {
	var t task.Task
	return &TaskRepo{coll: db.Collection(t.Collection())}
}

// ownerFilter 所有查询共用的归属过滤条件
func ownerFilter(taskID, userID string) bson.M {
	return bson.M{"id": taskID, "user_id": userID, "deleted_at": nil}
}

// Create 创建任务
func (r *TaskRepo) Create(ctx context.Context, t *task.Task) error {
	now := time.Now()
	if t.ID == "" {
		t.ID = id.New()
	}
	t.CreatedAt = now
	t.UpdatedAt = now
	_, err := r.coll.InsertOne(ctx, t)
	return err
}

// FindByID 根据ID查询（带归属过滤）
func (r *TaskRepo) FindByID(ctx context.Context, taskID, userID string) (*task.Task, error) {
	var t task.Task
	if err := r.coll.FindOne(ctx, ownerFilter(taskID, userID)).Decode(&t); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// ListByUserID 查询用户任务列表（按创建时间倒序）
func (r *TaskRepo) ListByUserID(ctx context.Context, userID string, status task.Status) ([]*task.Task, error) {
	filter := bson.M{"user_id": userID, "deleted_at": nil}
	switch status {
	case task.StatusPending:
		filter["completed"] = false
	case task.StatusCompleted:
		filter["completed"] = true
	}

	opts := options.Find().SetSort(bson.D{bson.E{Key: "created_at", Value: -1}})
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var tasks []*task.Task
	if err := cursor.All(ctx, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Update 更新任务字段，返回更新后的任务
func (r *TaskRepo) Update(ctx context.Context, taskID, userID string, set bson.M) (*task.Task, error) {
	set["updated_at"] = time.Now()
	update := bson.M{"$set": set}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var t task.Task
	err := r.coll.FindOneAndUpdate(ctx, ownerFilter(taskID, userID), update, opts).Decode(&t)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// MarkCompleted 将任务标记为已完成，返回任务和本次是否发生状态变更
// 仅匹配未完成的任务：重复完成不会改写 completed_at（保持首次完成时间），
// 此时返回 updated=false，任务原值原样返回
func (r *TaskRepo) MarkCompleted(ctx context.Context, taskID, userID string) (*task.Task, bool, error) {
	now := time.Now()
	filter := ownerFilter(taskID, userID)
	filter["completed"] = false

	update := bson.M{"$set": bson.M{"completed": true, "completed_at": now, "updated_at": now}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var t task.Task
	err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&t)
	if err == nil {
		return &t, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, err
	}

	// 未匹配：要么任务不存在/不属于该用户，要么已完成
	existing, err := r.FindByID(ctx, taskID, userID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// SoftDelete 软删除任务（设置 deleted_at，保留数据行）
func (r *TaskRepo) SoftDelete(ctx context.Context, taskID, userID string) error {
	update := bson.M{"$set": bson.M{"deleted_at": time.Now(), "updated_at": time.Now()}}
	result, err := r.coll.UpdateOne(ctx, ownerFilter(taskID, userID), update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"plum/internal/model"
	"plum/internal/repository"
)

// fakeStorage 内存导出存储
type fakeStorage struct {
	objects map[string][]byte
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte)}
}

func (s *fakeStorage) Upload(_ context.Context, key string, data io.Reader, _ string) (string, error) {
	b, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	s.objects[key] = b
	return "fake://" + key, nil
}

func (s *fakeStorage) GetPresignedDownloadURL(_ context.Context, key string, _ time.Duration) (string, error) {
	if _, ok := s.objects[key]; !ok {
		return "", errors.New("object not found")
	}
	return "fake://" + key + "?signed", nil
}

func (s *fakeStorage) Delete(_ context.Context, key string) error {
	delete(s.objects, key)
	return nil
}

func (s *fakeStorage) Exists(_ context.Context, key string) (bool, error) {
	_, ok := s.objects[key]
	return ok, nil
}

func (s *fakeStorage) GetStorageType() string { return "fake" }

func TestConversationService_History(t *testing.T) {
	ctx := context.Background()

	Convey("History 读取对话历史", t, func() {
		convRepo := newFakeConvRepo()
		msgRepo := newFakeMsgRepo()
		svc := NewConversationService(convRepo, msgRepo, nil)

		conv, _ := convRepo.Create(ctx, "u1", "测试对话")
		for i := 0; i < 5; i++ {
			_, _ = msgRepo.Append(ctx, conv.ID, "u1", model.RoleUser, fmt.Sprintf("消息%d", i), nil)
		}

		Convey("按时间顺序返回，最旧在前", func() {
			views, err := svc.History(ctx, "u1", conv.ID, 10)
			So(err, ShouldBeNil)
			So(views, ShouldHaveLength, 5)
			So(views[0].Content, ShouldEqual, "消息0")
			So(views[4].Content, ShouldEqual, "消息4")
		})

		Convey("limit 限制条数，返回最近的若干条", func() {
			views, err := svc.History(ctx, "u1", conv.ID, 2)
			So(err, ShouldBeNil)
			So(views, ShouldHaveLength, 2)
			So(views[0].Content, ShouldEqual, "消息3")
		})

		Convey("limit 非法时使用缺省值，超上限时取上限", func() {
			views, err := svc.History(ctx, "u1", conv.ID, -1)
			So(err, ShouldBeNil)
			So(views, ShouldHaveLength, 5)

			_, err = svc.History(ctx, "u1", conv.ID, HistoryMaxLimit+100)
			So(err, ShouldBeNil)
		})

		Convey("他人的对话与不存在的对话同样NotFound", func() {
			_, err := svc.History(ctx, "u2", conv.ID, 10)
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)

			_, err = svc.History(ctx, "u1", "conv-999", 10)
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestConversationService_Delete(t *testing.T) {
	ctx := context.Background()

	Convey("Delete 软删除对话", t, func() {
		convRepo := newFakeConvRepo()
		msgRepo := newFakeMsgRepo()
		svc := NewConversationService(convRepo, msgRepo, nil)

		conv, _ := convRepo.Create(ctx, "u1", "要删的对话")
		_, _ = msgRepo.Append(ctx, conv.ID, "u1", model.RoleUser, "hello", nil)

		Convey("删除后对话从所有读路径消失", func() {
			So(svc.Delete(ctx, "u1", conv.ID), ShouldBeNil)

			_, err := svc.History(ctx, "u1", conv.ID, 10)
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)

			list, err := svc.List(ctx, "u1", 20, 0)
			So(err, ShouldBeNil)
			So(list, ShouldBeEmpty)
		})

		Convey("消息本身保留备审计", func() {
			So(svc.Delete(ctx, "u1", conv.ID), ShouldBeNil)
			So(msgRepo.byConv(conv.ID), ShouldHaveLength, 1)
		})

		Convey("重复删除返回NotFound", func() {
			So(svc.Delete(ctx, "u1", conv.ID), ShouldBeNil)
			So(errors.Is(svc.Delete(ctx, "u1", conv.ID), repository.ErrNotFound), ShouldBeTrue)
		})

		Convey("删除他人的对话返回NotFound", func() {
			err := svc.Delete(ctx, "u2", conv.ID)
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestConversationService_Export(t *testing.T) {
	ctx := context.Background()

	Convey("Export 导出对话", t, func() {
		convRepo := newFakeConvRepo()
		msgRepo := newFakeMsgRepo()
		store := newFakeStorage()
		svc := NewConversationService(convRepo, msgRepo, store)

		conv, _ := convRepo.Create(ctx, "u1", "导出对话")
		_, _ = msgRepo.Append(ctx, conv.ID, "u1", model.RoleUser, "第一句", nil)
		_, _ = msgRepo.Append(ctx, conv.ID, "u1", model.RoleAssistant, "第一答", nil)

		Convey("上传JSON文本并返回限时URL", func() {
			url, err := svc.Export(ctx, "u1", conv.ID)
			So(err, ShouldBeNil)
			So(url, ShouldContainSubstring, "signed")

			So(store.objects, ShouldHaveLength, 1)
			for key, data := range store.objects {
				So(key, ShouldStartWith, "exports/u1/")
				So(string(data), ShouldContainSubstring, "第一句")
				So(string(data), ShouldContainSubstring, "第一答")
			}
		})

		Convey("未配置存储时返回ErrExportUnavailable", func() {
			noStore := NewConversationService(convRepo, msgRepo, nil)
			_, err := noStore.Export(ctx, "u1", conv.ID)
			So(errors.Is(err, ErrExportUnavailable), ShouldBeTrue)
		})

		Convey("他人的对话不可导出", func() {
			_, err := svc.Export(ctx, "u2", conv.ID)
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestConversationService_List(t *testing.T) {
	ctx := context.Background()

	Convey("List 查询对话列表", t, func() {
		convRepo := newFakeConvRepo()
		svc := NewConversationService(convRepo, newFakeMsgRepo(), nil)

		_, _ = convRepo.Create(ctx, "u1", "对话一")
		_, _ = convRepo.Create(ctx, "u1", "对话二")
		_, _ = convRepo.Create(ctx, "u2", "别人的")

		Convey("只返回调用者自己的对话", func() {
			list, err := svc.List(ctx, "u1", 20, 0)
			So(err, ShouldBeNil)
			So(list, ShouldHaveLength, 2)
		})

		Convey("limit 非法时使用缺省值", func() {
			list, err := svc.List(ctx, "u1", 0, 0)
			So(err, ShouldBeNil)
			So(list, ShouldHaveLength, 2)
		})
	})
}

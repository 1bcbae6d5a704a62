package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"rejudge/internal/common/mq"
	"rejudge/internal/rejudge/model"
	appErr "rejudge/pkg/errors"
)

const (
	headerRejudgingID = "rejudging_id"
	headerPriority    = "priority"
)

// taskMessageID is stable per (rejudging, original judging) so consumers can drop redeliveries.
func taskMessageID(task model.RejudgeTask) string {
	return fmt.Sprintf("r%d-j%d", task.RejudgingID, task.OriginalJudgingID)
}

// queuePriority maps a rejudge priority onto the 0-255 message priority, 0 being highest.
func queuePriority(p model.Priority) uint8 {
	v := int(p) - int(model.PriorityHigh)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func taskMessage(task model.RejudgeTask) (*mq.Message, error) {
	body, err := json.Marshal(task)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.QueuePublishFailed, "encode rejudge task failed")
	}
	message := mq.NewMessage(body)
	message.ID = taskMessageID(task)
	message.Priority = queuePriority(task.Priority)
	message.SetHeader(headerRejudgingID, strconv.FormatInt(task.RejudgingID, 10))
	message.SetHeader(headerPriority, task.Priority.String())
	return message, nil
}

func (s *RejudgeService) publishTask(ctx context.Context, task model.RejudgeTask) error {
	message, err := taskMessage(task)
	if err != nil {
		return err
	}
	ctxMQ := withTimeout(ctx, s.timeouts.MQ)
	defer ctxMQ.cancel()
	if err := s.producer.Publish(ctxMQ.ctx, s.topics.forPriority(task.Priority), message); err != nil {
		return appErr.Wrapf(err, appErr.QueuePublishFailed, "publish rejudge task failed")
	}
	return nil
}

// publishTasks writes tasks of one priority in a single batch.
func (s *RejudgeService) publishTasks(ctx context.Context, priority model.Priority, tasks []model.RejudgeTask) error {
	messages := make([]*mq.Message, 0, len(tasks))
	for _, task := range tasks {
		message, err := taskMessage(task)
		if err != nil {
			return err
		}
		messages = append(messages, message)
	}
	ctxMQ := withTimeout(ctx, s.timeouts.MQ)
	defer ctxMQ.cancel()
	if err := s.producer.PublishBatch(ctxMQ.ctx, s.topics.forPriority(priority), messages); err != nil {
		return appErr.Wrapf(err, appErr.QueuePublishFailed, "publish rejudge task batch failed")
	}
	return nil
}

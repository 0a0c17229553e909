package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ac484/Xuanwu-sub001/internal/session"
)

// runAction decodes input for the named session action and runs it.
func runAction(ctx context.Context, sess *session.Session, name string, input json.RawMessage) (any, error) {
	switch name {
	case "task.create":
		var in session.TaskInput
		if err := decodeInput(input, &in); err != nil {
			return nil, err
		}
		task, err := sess.CreateTask(ctx, in)
		if err != nil {
			return nil, err
		}
		return task.Record(), nil

	case "task.update":
		var in struct {
			ID string `json:"id"`
			session.TaskInput
		}
		if err := decodeInput(input, &in); err != nil {
			return nil, err
		}
		return nil, sess.UpdateTask(ctx, in.ID, in.TaskInput)

	case "task.delete":
		var in targetInput
		if err := decodeInput(input, &in); err != nil {
			return nil, err
		}
		return nil, sess.DeleteTask(ctx, in.SpaceID, in.ID)

	case "issue.create":
		var in session.IssueInput
		if err := decodeInput(input, &in); err != nil {
			return nil, err
		}
		issue, err := sess.CreateIssue(ctx, in)
		if err != nil {
			return nil, err
		}
		return issue.Record(), nil

	case "issue.update":
		var in struct {
			ID string `json:"id"`
			session.IssueInput
		}
		if err := decodeInput(input, &in); err != nil {
			return nil, err
		}
		return nil, sess.UpdateIssue(ctx, in.ID, in.IssueInput)

	case "issue.delete":
		var in targetInput
		if err := decodeInput(input, &in); err != nil {
			return nil, err
		}
		return nil, sess.DeleteIssue(ctx, in.SpaceID, in.ID)

	case "file.upload":
		var in struct {
			SpaceID     string `json:"spaceId"`
			Name        string `json:"name"`
			ContentType string `json:"contentType"`
			Data        []byte `json:"data"`
		}
		if err := decodeInput(input, &in); err != nil {
			return nil, err
		}
		file, err := sess.UploadFile(ctx, session.FileInput{
			SpaceID:     in.SpaceID,
			Name:        in.Name,
			ContentType: in.ContentType,
			Size:        int64(len(in.Data)),
			Body:        bytes.NewReader(in.Data),
		})
		if err != nil {
			return nil, err
		}
		return file.Record(), nil

	case "file.delete":
		var in targetInput
		if err := decodeInput(input, &in); err != nil {
			return nil, err
		}
		return nil, sess.DeleteFile(ctx, in.SpaceID, in.ID)

	case "file.url":
		var in targetInput
		if err := decodeInput(input, &in); err != nil {
			return nil, err
		}
		url, err := sess.FileURL(ctx, in.SpaceID, in.ID)
		if err != nil {
			return nil, err
		}
		return map[string]string{"url": url}, nil

	case "capability.mount", "capability.unmount":
		var in struct {
			SpaceID string `json:"spaceId"`
			Key     string `json:"key"`
		}
		if err := decodeInput(input, &in); err != nil {
			return nil, err
		}
		if name == "capability.mount" {
			return nil, sess.MountCapability(ctx, in.SpaceID, in.Key)
		}
		return nil, sess.UnmountCapability(ctx, in.SpaceID, in.Key)

	case "daily.write":
		var in struct {
			SpaceID string `json:"spaceId"`
			Content string `json:"content"`
		}
		if err := decodeInput(input, &in); err != nil {
			return nil, err
		}
		entry, err := sess.WriteDaily(ctx, in.SpaceID, in.Content)
		if err != nil {
			return nil, err
		}
		return entry.Record(), nil

	case "log":
		var in struct {
			Action  string         `json:"action"`
			Target  string         `json:"target"`
			Details map[string]any `json:"details"`
		}
		if err := decodeInput(input, &in); err != nil {
			return nil, err
		}
		if in.Action == "" {
			return nil, invalidInput(errors.New("action is required"))
		}
		sess.LogEvent(in.Action, in.Target, in.Details)
		return nil, nil

	default:
		return nil, invalidInput(fmt.Errorf("unknown action %q", name))
	}
}

type targetInput struct {
	SpaceID string `json:"spaceId"`
	ID      string `json:"id"`
}

func decodeInput(input json.RawMessage, target any) error {
	if err := decodeBody(input, target); err != nil {
		return invalidInput(err)
	}
	return nil
}

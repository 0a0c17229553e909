package capability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ac484/Xuanwu-sub001/internal/live"
	"github.com/ac484/Xuanwu-sub001/internal/state"
)

const feedLimit = 20

var errNoReader = errors.New("no reader configured")

func overviewSingle(_ context.Context, in Input) (Panel, error) {
	return Panel{
		Title: in.Space.Name,
		Text:  countsText(len(in.State.Tasks), len(in.State.Issues), len(in.State.Files)),
		Items: collectionItems(in.State),
	}, nil
}

func overviewAggregated(_ context.Context, in Input) (Panel, error) {
	type counts struct{ tasks, issues, files int }
	bySpace := make(map[string]*counts)
	for _, sp := range in.Spaces {
		bySpace[sp.ID] = &counts{}
	}
	tally := func(records state.Records, bump func(*counts)) {
		for _, r := range records {
			if c, ok := bySpace[r.SpaceID]; ok {
				bump(c)
			}
		}
	}
	tally(in.State.Tasks, func(c *counts) { c.tasks++ })
	tally(in.State.Issues, func(c *counts) { c.issues++ })
	tally(in.State.Files, func(c *counts) { c.files++ })

	items := make([]Item, 0, len(in.Spaces))
	for _, sp := range in.Spaces {
		c := bySpace[sp.ID]
		items = append(items, Item{ID: sp.ID, Label: sp.Name, Detail: countsText(c.tasks, c.issues, c.files), SpaceID: sp.ID})
	}
	return Panel{
		Title: in.Account.Name,
		Text:  fmt.Sprintf("%d spaces, %s", len(in.Spaces), countsText(len(in.State.Tasks), len(in.State.Issues), len(in.State.Files))),
		Items: items,
	}, nil
}

func settingsSingle(_ context.Context, in Input) (Panel, error) {
	mounted := "none"
	if len(in.Space.Capabilities) > 0 {
		mounted = strings.Join(in.Space.Capabilities, ", ")
	}
	return Panel{
		Title: "Settings: " + in.Space.Name,
		Items: []Item{
			{ID: "visibility", Label: "Visibility", Detail: in.Space.Visibility},
			{ID: "protocol", Label: "Protocol", Detail: in.Space.Protocol},
			{ID: "capabilities", Label: "Capabilities", Detail: mounted},
		},
	}, nil
}

func auditSingle(ctx context.Context, in Input) (Panel, error) {
	entries, err := readFeed(ctx, in, live.AuditLog)
	if err != nil {
		return Panel{}, err
	}
	items := make([]Item, 0, len(entries))
	for _, r := range entries {
		items = append(items, Item{
			ID:     r.ID,
			Label:  field(r, "action"),
			Detail: strings.TrimSpace(field(r, "actor") + " " + field(r, "target")),
		})
	}
	return Panel{Text: fmt.Sprintf("%d recent entries", len(items)), Items: items}, nil
}

func spacesSingle(_ context.Context, in Input) (Panel, error) {
	return Panel{
		Title: in.Space.Name,
		Text:  in.Space.Description,
		Items: []Item{spaceItem(in.Space.ID, in.Space.Name, in.Space.Visibility, len(in.Space.Capabilities))},
	}, nil
}

func spacesAggregated(_ context.Context, in Input) (Panel, error) {
	items := make([]Item, 0, len(in.Spaces))
	for _, sp := range in.Spaces {
		items = append(items, spaceItem(sp.ID, sp.Name, sp.Visibility, len(sp.Capabilities)))
	}
	return Panel{Title: in.Account.Name, Text: fmt.Sprintf("%d spaces", len(items)), Items: items}, nil
}

func spaceItem(id, name, visibility string, mounted int) Item {
	return Item{ID: id, Label: name, Detail: fmt.Sprintf("%s, %d capabilities", visibility, mounted), SpaceID: id}
}

type recordList struct {
	noun   string
	pick   func(state.State) state.Records
	label  string
	detail func(live.Record) string
}

var (
	taskList = recordList{
		noun:  "tasks",
		pick:  func(s state.State) state.Records { return s.Tasks },
		label: "title",
		detail: func(r live.Record) string {
			if assignee := field(r, "assignee"); assignee != "" {
				return field(r, "status") + ", " + assignee
			}
			return field(r, "status")
		},
	}
	issueList = recordList{
		noun:   "issues",
		pick:   func(s state.State) state.Records { return s.Issues },
		label:  "title",
		detail: func(r live.Record) string { return field(r, "severity") + ", " + field(r, "status") },
	}
	fileList = recordList{
		noun:   "files",
		pick:   func(s state.State) state.Records { return s.Files },
		label:  "name",
		detail: func(r live.Record) string { return field(r, "contentType") },
	}
)

func recordsView(list recordList, mode Mode) View {
	return ViewFunc(func(_ context.Context, in Input) (Panel, error) {
		records := sorted(list.pick(in.State))
		items := make([]Item, 0, len(records))
		spaces := make(map[string]struct{})
		for _, r := range records {
			item := Item{ID: r.ID, Label: field(r, list.label), Detail: list.detail(r)}
			if item.Label == "" {
				item.Label = r.ID
			}
			if mode == Aggregated {
				item.SpaceID = r.SpaceID
				spaces[r.SpaceID] = struct{}{}
			}
			items = append(items, item)
		}
		text := fmt.Sprintf("%d %s", len(items), list.noun)
		if mode == Aggregated {
			text = fmt.Sprintf("%d %s across %d spaces", len(items), list.noun, len(spaces))
		}
		return Panel{Text: text, Items: items}, nil
	})
}

func dailyView(mode Mode) View {
	return ViewFunc(func(ctx context.Context, in Input) (Panel, error) {
		entries, err := readFeed(ctx, in, live.DailyLog)
		if err != nil {
			return Panel{}, err
		}
		items := make([]Item, 0, len(entries))
		for _, r := range entries {
			item := Item{
				ID:     r.ID,
				Label:  field(r, "content"),
				Detail: fmt.Sprintf("%s, %s likes", field(r, "author"), field(r, "likeCount")),
			}
			if mode == Aggregated {
				item.SpaceID = r.SpaceID
			}
			items = append(items, item)
		}
		return Panel{Text: fmt.Sprintf("%d entries", len(items)), Items: items}, nil
	})
}

// readFeed reads an account-scoped log newest first. In single mode only the
// current space's entries are kept.
func readFeed(ctx context.Context, in Input, c live.Collection) (live.Batch, error) {
	if in.Reader == nil {
		return nil, errNoReader
	}
	batch, err := in.Reader.Get(ctx, live.Path{AccountID: in.Account.ID, Collection: c})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c, err)
	}
	out := make(live.Batch, 0, len(batch))
	for i := len(batch) - 1; i >= 0; i-- {
		if in.Mode == Single && batch[i].SpaceID != in.Space.ID {
			continue
		}
		out = append(out, batch[i])
		if len(out) == feedLimit {
			break
		}
	}
	return out, nil
}

func collectionItems(s state.State) []Item {
	return []Item{
		{ID: string(live.Tasks), Label: "Tasks", Detail: fmt.Sprint(len(s.Tasks))},
		{ID: string(live.Issues), Label: "Issues", Detail: fmt.Sprint(len(s.Issues))},
		{ID: string(live.Files), Label: "Files", Detail: fmt.Sprint(len(s.Files))},
	}
}

func countsText(tasks, issues, files int) string {
	return fmt.Sprintf("%d tasks, %d issues, %d files", tasks, issues, files)
}

func sorted(records state.Records) []live.Record {
	out := make([]live.Record, 0, len(records))
	for _, r := range records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func field(r live.Record, key string) string {
	switch v := r.Fields[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

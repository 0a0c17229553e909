package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ac484/Xuanwu-sub001/internal/auth"
	"github.com/ac484/Xuanwu-sub001/internal/capability"
	"github.com/ac484/Xuanwu-sub001/internal/live"
	"github.com/ac484/Xuanwu-sub001/internal/rbac"
	"github.com/ac484/Xuanwu-sub001/internal/session"
)

func TestReadMsg(t *testing.T) {
	tests := []struct {
		frame   string
		subj    string
		tok     string
		body    string
		wantErr bool
	}{
		{frame: "select#1\n{\"accountId\":\"acc_1\"}", subj: "select", tok: "1", body: `{"accountId":"acc_1"}`},
		{frame: "render\n{}", subj: "render", body: "{}"},
		{frame: "like#abc", subj: "like", tok: "abc"},
		{frame: "ping", subj: "ping"},
		{frame: "#1\n{}", wantErr: true},
		{frame: "", wantErr: true},
	}
	for _, tt := range tests {
		m, err := readMsg([]byte(tt.frame))
		if tt.wantErr {
			assert.Error(t, err, tt.frame)
			continue
		}
		require.NoError(t, err, tt.frame)
		assert.Equal(t, tt.subj, m.Subj)
		assert.Equal(t, tt.tok, m.Tok)
		assert.Equal(t, tt.body, string(m.Raw))
	}
}

func TestWriteMsgTo(t *testing.T) {
	var b bytes.Buffer
	require.NoError(t, writeMsgTo(&b, Msg{Subj: "status", Tok: "7", Data: map[string]string{"status": "ready"}}))
	assert.Equal(t, "status#7\n{\"status\":\"ready\"}\n", b.String())

	b.Reset()
	require.NoError(t, writeMsgTo(&b, Msg{Subj: "state", Raw: []byte(`{}`)}))
	assert.Equal(t, "state\n{}", b.String())

	b.Reset()
	require.NoError(t, writeMsgTo(&b, Msg{Subj: "bye"}))
	assert.Equal(t, "bye", b.String())
}

type liveClient struct {
	t  *testing.T
	wc *websocket.Conn
}

func dialLive(t *testing.T, env *testEnv, role string) *liveClient {
	t.Helper()
	header := http.Header{}
	header.Set("X-Actor-ID", "usr_1")
	header.Set("X-Actor-Role", role)
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/live"
	wc, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { wc.Close() })
	return &liveClient{t: t, wc: wc}
}

func (c *liveClient) send(subj, tok string, body any) {
	c.t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(c.t, err)
	frame := subj + "#" + tok + "\n" + string(raw)
	require.NoError(c.t, c.wc.WriteMessage(websocket.TextMessage, []byte(frame)))
}

// await reads frames until one with subj and tok arrives, skipping pushes.
func (c *liveClient) await(subj, tok string) Msg {
	c.t.Helper()
	require.NoError(c.t, c.wc.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, frame, err := c.wc.ReadMessage()
		require.NoError(c.t, err)
		m, err := readMsg(frame)
		require.NoError(c.t, err)
		if m.Subj == subj && m.Tok == tok {
			return m
		}
	}
}

func TestLive_RequiresActor(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.get("/api/live")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestLive_ActorToken(t *testing.T) {
	env := newTestEnv(t, nil)
	env.service.cfg.ActorTokenSecret = "gateway-secret"
	base := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/live"

	_, resp, err := websocket.DefaultDialer.Dial(base+"?token=forged", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	token, err := auth.IssueToken([]byte("gateway-secret"), rbac.Actor{ID: "usr_9", Role: rbac.RoleMember}, time.Minute)
	require.NoError(t, err)
	wc, resp, err := websocket.DefaultDialer.Dial(base+"?token="+token, nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer wc.Close()

	c := &liveClient{t: t, wc: wc}
	c.send(SubjSelect, "1", map[string]string{"accountId": "acc_1"})
	var status statusBody
	require.NoError(t, json.Unmarshal(c.await(SubjStatus, "1").Raw, &status))
	assert.Equal(t, "ready", string(status.Status))
}

func TestLive_SelectRenderAndWrite(t *testing.T) {
	env := newTestEnv(t, nil)
	env.db.Put(live.Path{AccountID: "acc_1", SpaceID: "spc_a", Collection: live.Tasks},
		live.Record{ID: "tsk_seed", AccountID: "acc_1", Fields: map[string]any{"title": "Survey site", "status": "open"}})

	c := dialLive(t, env, "editor")

	c.send(SubjRender, "0", map[string]string{"key": "tasks"})
	var loading capability.Panel
	require.NoError(t, json.Unmarshal(c.await(SubjRender, "0").Raw, &loading))
	assert.Equal(t, capability.KindLoading, loading.Kind)

	c.send(SubjSelect, "1", map[string]string{"accountId": "acc_1", "spaceId": "spc_a"})
	var status statusBody
	require.NoError(t, json.Unmarshal(c.await(SubjStatus, "1").Raw, &status))
	assert.Equal(t, "ready", string(status.Status))
	assert.Equal(t, "spc_a", status.Entity.SpaceID)

	c.send(SubjAction, "2", map[string]any{"name": "task.create", "input": map[string]any{"title": "Pour slab"}})
	var reply struct {
		OK     bool        `json:"ok"`
		Result live.Record `json:"result"`
	}
	require.NoError(t, json.Unmarshal(c.await(SubjAction, "2").Raw, &reply))
	require.True(t, reply.OK)
	assert.Equal(t, "Pour slab", reply.Result.Fields["title"])
	assert.Equal(t, "spc_a", reply.Result.SpaceID)

	c.send(SubjRender, "3", map[string]string{"key": "tasks"})
	var panel capability.Panel
	require.NoError(t, json.Unmarshal(c.await(SubjRender, "3").Raw, &panel))
	assert.Equal(t, capability.KindView, panel.Kind)
	assert.Equal(t, "2 tasks", panel.Text)

	c.send(SubjRender, "4", map[string]string{"key": "nope"})
	require.NoError(t, json.Unmarshal(c.await(SubjRender, "4").Raw, &panel))
	assert.Equal(t, "Unknown capability: nope", panel.Text)
}

func TestLive_ForwardsStateChanges(t *testing.T) {
	env := newTestEnv(t, nil)
	c := dialLive(t, env, "viewer")

	c.send(SubjSelect, "1", map[string]string{"accountId": "acc_1", "spaceId": "spc_a"})
	c.await(SubjStatus, "1")

	env.db.Put(live.Path{AccountID: "acc_1", SpaceID: "spc_a", Collection: live.Tasks},
		live.Record{ID: "tsk_ext", AccountID: "acc_1", Fields: map[string]any{"title": "External"}})

	require.NoError(t, c.wc.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, frame, err := c.wc.ReadMessage()
		require.NoError(t, err)
		m, err := readMsg(frame)
		require.NoError(t, err)
		if m.Subj != SubjState {
			continue
		}
		var change struct {
			Action string         `json:"action"`
			Counts map[string]int `json:"counts"`
		}
		require.NoError(t, json.Unmarshal(m.Raw, &change))
		if change.Counts["tasks"] == 1 {
			return
		}
	}
}

func TestLive_StoppedWriterDoesNotBlockSessionSwitch(t *testing.T) {
	env := newTestEnv(t, nil)
	c := &liveConn{
		service: env.service,
		send:    make(chan Msg, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	c.provider = env.service.NewProvider(rbac.Actor{ID: "usr_1", Role: rbac.RoleEditor}, c)
	defer c.provider.Close()

	_, err := c.provider.Select(context.Background(), session.Entity{AccountID: "acc_1", SpaceID: "spc_a"})
	require.NoError(t, err)
	close(c.stopped)
	for i := 0; i < 100; i++ {
		env.db.Put(live.Path{AccountID: "acc_1", SpaceID: "spc_a", Collection: live.Tasks},
			live.Record{ID: fmt.Sprintf("tsk_%d", i), AccountID: "acc_1", SpaceID: "spc_a"})
	}

	switched := make(chan struct{})
	go func() {
		defer close(switched)
		_, _ = c.provider.Select(context.Background(), session.Entity{AccountID: "acc_1"})
	}()
	select {
	case <-switched:
	case <-time.After(2 * time.Second):
		t.Fatal("session switch blocked on a stopped writer")
	}
}

func TestLive_Errors(t *testing.T) {
	env := newTestEnv(t, nil)
	c := dialLive(t, env, "viewer")

	c.send(SubjAction, "1", map[string]any{"name": "task.create", "input": map[string]any{"title": "x"}})
	var body map[string]any
	require.NoError(t, json.Unmarshal(c.await(SubjError, "1").Raw, &body))
	assert.Equal(t, "NOT_RESOLVABLE", body["code"])

	c.send(SubjSelect, "2", map[string]string{"accountId": "acc_1", "spaceId": "spc_missing"})
	var status statusBody
	require.NoError(t, json.Unmarshal(c.await(SubjStatus, "2").Raw, &status))
	assert.Equal(t, "not_found", string(status.Status))
	assert.NotEmpty(t, status.Error)

	c.send(SubjSelect, "3", map[string]string{"accountId": "acc_1", "spaceId": "spc_a"})
	c.await(SubjStatus, "3")

	c.send(SubjAction, "4", map[string]any{"name": "task.create", "input": map[string]any{"title": "x"}})
	require.NoError(t, json.Unmarshal(c.await(SubjError, "4").Raw, &body))
	assert.Equal(t, "FORBIDDEN", body["code"])

	c.send(SubjAction, "5", map[string]any{"name": "task.explode"})
	require.NoError(t, json.Unmarshal(c.await(SubjError, "5").Raw, &body))
	assert.Equal(t, "INVALID_BODY", body["code"])

	c.send("teleport", "6", map[string]any{})
	require.NoError(t, json.Unmarshal(c.await(SubjError, "6").Raw, &body))
	assert.Equal(t, "UNKNOWN_SUBJECT", body["code"])
}

package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alekspetrov/nova/internal/testutil"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *RESTClient {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	return NewRESTClient(RESTConfig{Token: testutil.FakeDiscordToken, BaseURL: server.URL})
}

func TestRESTClientAuthorization(t *testing.T) {
	var gotAuth, gotUA string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		_ = json.NewEncoder(w).Encode(User{ID: "42", Username: "nova", Bot: true})
	})

	user, err := client.CurrentUser(context.Background())
	if err != nil {
		t.Fatalf("CurrentUser: %v", err)
	}
	if user.ID != "42" || !user.Bot {
		t.Errorf("unexpected user: %+v", user)
	}
	if gotAuth != "Bot "+testutil.FakeDiscordToken {
		t.Errorf("Authorization = %q, want Bot token", gotAuth)
	}
	if !strings.HasPrefix(gotUA, "DiscordBot (") {
		t.Errorf("User-Agent = %q", gotUA)
	}
}

func TestRESTClientErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		target error
	}{
		{"not found status", http.StatusNotFound, `{"message":"404: Not Found","code":0}`, ErrNotFound},
		{"unknown interaction", http.StatusBadRequest, `{"message":"Unknown interaction","code":10062}`, ErrNotFound},
		{"already acknowledged", http.StatusBadRequest, `{"message":"Interaction has already been acknowledged.","code":40060}`, ErrAlreadyResponded},
		{"unauthorized", http.StatusUnauthorized, `{"message":"401: Unauthorized","code":0}`, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, `{"message":"Missing Access","code":50001}`, ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.Send(context.Background(), "chan1", MessageSend{Content: "hi"})
			if !errors.Is(err, tt.target) {
				t.Fatalf("error %v does not match %v", err, tt.target)
			}
			apiErr, ok := AsAPIError(err)
			if !ok {
				t.Fatalf("expected *APIError in chain, got %T", err)
			}
			if apiErr.Status != tt.status {
				t.Errorf("Status = %d, want %d", apiErr.Status, tt.status)
			}
		})
	}
}

func TestAPIErrorIsDoesNotOvermatch(t *testing.T) {
	err := &APIError{Status: http.StatusBadRequest, Code: 50035, Message: "Invalid Form Body"}
	for _, target := range []error{ErrNotFound, ErrAlreadyResponded, ErrUnauthorized, ErrForbidden} {
		if errors.Is(err, target) {
			t.Errorf("400/50035 should not match %v", target)
		}
	}
}

func TestRESTClientRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"message":"You are being rate limited.","retry_after":0.01,"global":false}`))
			return
		}
		_ = json.NewEncoder(w).Encode(Message{ID: "m1", ChannelID: "chan1"})
	})

	msg, err := client.Send(context.Background(), "chan1", MessageSend{Content: "hello"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.ID != "m1" {
		t.Errorf("message id = %q", msg.ID)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestRESTClientFetchMembersPermissions(t *testing.T) {
	const (
		guildID = "g1"
		ownerID = "u-owner"
		modRole = "r-mod"
		admRole = "r-admin"
	)

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/guilds/"+guildID:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": guildID, "name": "Guild", "icon": "abc", "owner_id": ownerID,
				"roles": []map[string]string{
					{"id": guildID, "permissions": "0"},
					{"id": modRole, "permissions": fmt.Sprint(uint64(PermManageGuild))},
					{"id": admRole, "permissions": fmt.Sprint(uint64(PermAdministrator))},
				},
			})
		case r.URL.Path == "/guilds/"+guildID+"/members":
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{"user": map[string]any{"id": ownerID, "username": "owner"}, "roles": []string{}},
				{"user": map[string]any{"id": "u-mod", "username": "mod", "avatar": "hash"}, "roles": []string{modRole}},
				{"user": map[string]any{"id": "u-admin", "username": "admin"}, "roles": []string{admRole}},
				{"user": map[string]any{"id": "u-plain", "username": "plain", "bot": true}, "roles": []string{}},
			})
		default:
			http.NotFound(w, r)
		}
	})

	members, err := client.FetchMembers(context.Background(), guildID, 0)
	if err != nil {
		t.Fatalf("FetchMembers: %v", err)
	}
	if len(members) != 4 {
		t.Fatalf("got %d members, want 4", len(members))
	}

	byID := map[string]Member{}
	for _, m := range members {
		byID[m.ID] = m
	}

	if byID[ownerID].Permissions != PermAll {
		t.Error("owner should have every permission")
	}
	if !byID["u-mod"].Permissions.Has(PermManageGuild) || byID["u-mod"].Permissions.Has(PermAdministrator) {
		t.Errorf("mod permissions = %b", byID["u-mod"].Permissions)
	}
	if byID["u-admin"].Permissions != PermAll {
		t.Error("administrator should expand to every permission")
	}
	if byID["u-plain"].Permissions != 0 || !byID["u-plain"].Bot {
		t.Errorf("plain member = %+v", byID["u-plain"])
	}
	if byID["u-mod"].AvatarURL != cdnURL+"/avatars/u-mod/hash.png" {
		t.Errorf("avatar url = %q", byID["u-mod"].AvatarURL)
	}
}

func TestRESTClientFetchMembersLimitPaginates(t *testing.T) {
	var seenLimits []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/guilds/g1" {
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "g1", "owner_id": "x"})
			return
		}
		seenLimits = append(seenLimits, r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"user": map[string]any{"id": "a"}}, {"user": map[string]any{"id": "b"}},
		})
	})

	members, err := client.FetchMembers(context.Background(), "g1", 2)
	if err != nil {
		t.Fatalf("FetchMembers: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("got %d members, want 2", len(members))
	}
	if len(seenLimits) != 1 || seenLimits[0] != "2" {
		t.Errorf("limits requested = %v, want [2]", seenLimits)
	}
}

func TestRESTClientFetchMemberNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/guilds/g1" {
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "g1"})
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Unknown Member","code":10007}`))
	})

	_, err := client.FetchMember(context.Background(), "g1", "gone")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRESTClientFetchGuilds(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/@me/guilds" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": "g1", "name": "One", "icon": "i1"},
			{"id": "g2", "name": "Two"},
		})
	})

	guilds, err := client.FetchGuilds(context.Background())
	if err != nil {
		t.Fatalf("FetchGuilds: %v", err)
	}
	if len(guilds) != 2 {
		t.Fatalf("got %d guilds", len(guilds))
	}
	if guilds[0].IconURL != cdnURL+"/icons/g1/i1.png" || guilds[1].IconURL != "" {
		t.Errorf("icon urls = %q, %q", guilds[0].IconURL, guilds[1].IconURL)
	}
}

func TestRESTClientInteractionEndpoints(t *testing.T) {
	var paths []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		if strings.HasPrefix(r.URL.Path, "/webhooks/") {
			_ = json.NewEncoder(w).Encode(Message{ID: "f1"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	ctx := context.Background()
	if err := client.RespondInteraction(ctx, "i1", "tok", InteractionResponse{Type: CallbackChannelMessage, Data: &MessageSend{Content: "x"}}); err != nil {
		t.Fatalf("RespondInteraction: %v", err)
	}
	if _, err := client.Followup(ctx, testutil.FakeApplicationID, "tok", MessageSend{Content: "y"}); err != nil {
		t.Fatalf("Followup: %v", err)
	}
	if err := client.AddMemberRole(ctx, "g1", "u1", "r1"); err != nil {
		t.Fatalf("AddMemberRole: %v", err)
	}
	if err := client.DeleteMessage(ctx, "c1", "m1"); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}

	want := []string{
		"POST /interactions/i1/tok/callback",
		"POST /webhooks/" + testutil.FakeApplicationID + "/tok",
		"PUT /guilds/g1/members/u1/roles/r1",
		"DELETE /channels/c1/messages/m1",
	}
	if strings.Join(paths, "|") != strings.Join(want, "|") {
		t.Errorf("paths = %v, want %v", paths, want)
	}
}

func TestIntentsFromNames(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		want    int
		wantErr bool
	}{
		{"empty uses defaults", nil, DefaultIntents, false},
		{"single", []string{"guilds"}, IntentGuilds, false},
		{"aliases and case", []string{"Members", "voice_states"}, IntentGuildMembers | IntentGuildVoiceStates, false},
		{"unknown", []string{"guilds", "telepathy"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IntentsFromNames(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("IntentsFromNames(%v) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestChannelTypeAcceptsMessages(t *testing.T) {
	for _, ct := range []ChannelType{ChannelText, ChannelDM, ChannelVoice, ChannelAnnouncement} {
		if !ct.AcceptsMessages() {
			t.Errorf("%s should accept messages", ct)
		}
	}
	for _, ct := range []ChannelType{ChannelCategory, ChannelForum, ChannelMedia} {
		if ct.AcceptsMessages() {
			t.Errorf("%s should not accept messages", ct)
		}
	}
}

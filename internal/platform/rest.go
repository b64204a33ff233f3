package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/alekspetrov/nova/internal/logging"
)

const (
	DefaultAPIURL = "https://discord.com/api/v10"
	cdnURL        = "https://cdn.discordapp.com"

	memberPageSize = 1000
	guildPageSize  = 200
	maxRateRetries = 3
)

// RESTConfig configures the REST adapter.
type RESTConfig struct {
	Token     string
	BaseURL   string
	RateLimit float64 // requests per second, 0 disables the limiter
	RateBurst int
	Timeout   time.Duration
}

// RESTClient is a Discord REST API client. It implements Platform.
type RESTClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *slog.Logger
}

// NewRESTClient creates a REST client authenticating with the bot token.
func NewRESTClient(cfg RESTConfig) *RESTClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultAPIURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bot"})

	return &RESTClient{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &oauth2.Transport{Source: src, Base: http.DefaultTransport},
		},
		limiter: limiter,
		log:     logging.WithComponent("platform.rest"),
	}
}

// doRequest sends an HTTP request to the Discord API and decodes the JSON
// response into out when out is non-nil.
func (c *RESTClient) doRequest(ctx context.Context, method, endpoint string, body, out any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		payload = data
	}

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("User-Agent", "DiscordBot (https://github.com/alekspetrov/nova, 1.0)")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("send request: %w", err)
		}

		respBody, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < maxRateRetries {
			wait := retryAfter(resp, respBody)
			c.log.Warn("Rate limited",
				slog.String("method", method),
				slog.String("endpoint", endpoint),
				slog.Duration("retry_after", wait),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		if resp.StatusCode >= 400 {
			return parseAPIError(method, endpoint, resp.StatusCode, respBody)
		}

		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
		}
		return nil
	}
}

func parseAPIError(method, endpoint string, status int, body []byte) error {
	apiErr := &APIError{Method: method, Path: endpoint, Status: status}

	var payload struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		apiErr.Code = payload.Code
		apiErr.Message = payload.Message
	} else {
		apiErr.Message = string(body)
	}
	return apiErr
}

func retryAfter(resp *http.Response, body []byte) time.Duration {
	var payload struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.RetryAfter > 0 {
		return time.Duration(payload.RetryAfter * float64(time.Second))
	}
	if s, err := strconv.ParseFloat(resp.Header.Get("Retry-After"), 64); err == nil {
		return time.Duration(s * float64(time.Second))
	}
	return time.Second
}

type apiGuild struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Icon    string    `json:"icon"`
	OwnerID string    `json:"owner_id"`
	Roles   []apiRole `json:"roles"`
}

type apiRole struct {
	ID          string `json:"id"`
	Permissions string `json:"permissions"`
}

func (g apiGuild) toGuild() Guild {
	return Guild{ID: g.ID, Name: g.Name, IconURL: iconURL(g.ID, g.Icon), OwnerID: g.OwnerID}
}

func iconURL(guildID, hash string) string {
	if hash == "" {
		return ""
	}
	return cdnURL + "/icons/" + guildID + "/" + hash + ".png"
}

// permissionsFor aggregates role permissions the way the platform does:
// @everyone (role id == guild id) plus every assigned role. The owner and
// any administrator get everything.
func (g apiGuild) permissionsFor(userID string, roleIDs []string) Permissions {
	if userID == g.OwnerID {
		return PermAll
	}

	byID := make(map[string]Permissions, len(g.Roles))
	for _, r := range g.Roles {
		bits, _ := strconv.ParseUint(r.Permissions, 10, 64)
		byID[r.ID] = Permissions(bits)
	}

	perms := byID[g.ID]
	for _, id := range roleIDs {
		perms |= byID[id]
	}
	if perms.Has(PermAdministrator) {
		return PermAll
	}
	return perms
}

// FetchGuilds lists the bot's guilds, following pagination.
func (c *RESTClient) FetchGuilds(ctx context.Context) ([]Guild, error) {
	var guilds []Guild
	after := ""
	for {
		q := url.Values{"limit": {strconv.Itoa(guildPageSize)}}
		if after != "" {
			q.Set("after", after)
		}

		var page []apiGuild
		if err := c.doRequest(ctx, http.MethodGet, "/users/@me/guilds?"+q.Encode(), nil, &page); err != nil {
			return nil, fmt.Errorf("fetch guilds: %w", err)
		}
		for _, g := range page {
			guilds = append(guilds, g.toGuild())
		}
		if len(page) < guildPageSize {
			return guilds, nil
		}
		after = page[len(page)-1].ID
	}
}

func (c *RESTClient) fetchGuild(ctx context.Context, guildID string) (*apiGuild, error) {
	var g apiGuild
	if err := c.doRequest(ctx, http.MethodGet, "/guilds/"+guildID, nil, &g); err != nil {
		return nil, fmt.Errorf("fetch guild %s: %w", guildID, err)
	}
	return &g, nil
}

// FetchGuild returns the full guild record.
func (c *RESTClient) FetchGuild(ctx context.Context, guildID string) (*Guild, error) {
	g, err := c.fetchGuild(ctx, guildID)
	if err != nil {
		return nil, err
	}
	out := g.toGuild()
	return &out, nil
}

// FetchMembers lists guild members with their aggregated permissions.
func (c *RESTClient) FetchMembers(ctx context.Context, guildID string, limit int) ([]Member, error) {
	g, err := c.fetchGuild(ctx, guildID)
	if err != nil {
		return nil, err
	}

	var members []Member
	after := ""
	for {
		pageSize := memberPageSize
		if limit > 0 && limit-len(members) < pageSize {
			pageSize = limit - len(members)
		}

		q := url.Values{"limit": {strconv.Itoa(pageSize)}}
		if after != "" {
			q.Set("after", after)
		}

		var page []EventMember
		endpoint := fmt.Sprintf("/guilds/%s/members?%s", guildID, q.Encode())
		if err := c.doRequest(ctx, http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, fmt.Errorf("fetch members %s: %w", guildID, err)
		}
		for _, m := range page {
			members = append(members, g.member(m))
		}

		if len(page) < pageSize || (limit > 0 && len(members) >= limit) {
			return members, nil
		}
		after = page[len(page)-1].User.ID
	}
}

// FetchMember returns a single member, or ErrNotFound.
func (c *RESTClient) FetchMember(ctx context.Context, guildID, userID string) (*Member, error) {
	g, err := c.fetchGuild(ctx, guildID)
	if err != nil {
		return nil, err
	}

	var m EventMember
	if err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/guilds/%s/members/%s", guildID, userID), nil, &m); err != nil {
		return nil, fmt.Errorf("fetch member %s/%s: %w", guildID, userID, err)
	}
	out := g.member(m)
	return &out, nil
}

func (g apiGuild) member(m EventMember) Member {
	return Member{
		ID:          m.User.ID,
		Username:    m.User.Username,
		GlobalName:  m.User.GlobalName,
		AvatarURL:   m.User.AvatarURL(),
		Bot:         m.User.Bot,
		Permissions: g.permissionsFor(m.User.ID, m.Roles),
	}
}

// Send posts a message to a channel.
func (c *RESTClient) Send(ctx context.Context, channelID string, msg MessageSend) (*Message, error) {
	var out Message
	if err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/channels/%s/messages", channelID), msg, &out); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &out, nil
}

// DeleteMessage deletes a message.
func (c *RESTClient) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := c.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID), nil, nil); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// Channel fetches a channel.
func (c *RESTClient) Channel(ctx context.Context, channelID string) (*Channel, error) {
	var ch Channel
	if err := c.doRequest(ctx, http.MethodGet, "/channels/"+channelID, nil, &ch); err != nil {
		return nil, fmt.Errorf("fetch channel: %w", err)
	}
	return &ch, nil
}

// RespondInteraction sends the initial interaction callback.
func (c *RESTClient) RespondInteraction(ctx context.Context, interactionID, token string, resp InteractionResponse) error {
	if err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/interactions/%s/%s/callback", interactionID, token), resp, nil); err != nil {
		return fmt.Errorf("create interaction response: %w", err)
	}
	return nil
}

// Followup posts a followup message through the interaction webhook.
func (c *RESTClient) Followup(ctx context.Context, applicationID, token string, msg MessageSend) (*Message, error) {
	var out Message
	if err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/webhooks/%s/%s", applicationID, token), msg, &out); err != nil {
		return nil, fmt.Errorf("create followup: %w", err)
	}
	return &out, nil
}

// AddMemberRole assigns a role to a member.
func (c *RESTClient) AddMemberRole(ctx context.Context, guildID, userID, roleID string) error {
	if err := c.doRequest(ctx, http.MethodPut, fmt.Sprintf("/guilds/%s/members/%s/roles/%s", guildID, userID, roleID), nil, nil); err != nil {
		return fmt.Errorf("add member role: %w", err)
	}
	return nil
}

// CurrentUser returns the bot user. A rejected token yields ErrUnauthorized.
func (c *RESTClient) CurrentUser(ctx context.Context) (*User, error) {
	var u User
	if err := c.doRequest(ctx, http.MethodGet, "/users/@me", nil, &u); err != nil {
		return nil, fmt.Errorf("current user: %w", err)
	}
	return &u, nil
}

// GatewayURL returns the WebSocket gateway URL.
func (c *RESTClient) GatewayURL(ctx context.Context) (string, error) {
	var result struct {
		URL string `json:"url"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/gateway", nil, &result); err != nil {
		return "", fmt.Errorf("get gateway: %w", err)
	}
	return result.URL, nil
}

// Close releases idle connections.
func (c *RESTClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const defaultAPIBase = "https://discord.com/api/v10"

const userAgent = "DiscordBot (https://github.com/discord/discord-api-docs, 1.0)"

// missingPermissionsFallback is reported whenever the permission probe fails.
// The probe cannot tell which permission is actually absent, so it names the
// ones member listing needs.
var missingPermissionsFallback = []string{"GUILD_MEMBERS_INTENT", "VIEW_GUILD"}

// APIError is a directory API failure that survived the retry policy.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("discord_api_error: status=%d message=%s", e.Status, e.Message)
}

// Guild is the wire shape of guild metadata.
type Guild struct {
	ID                      string `json:"id"`
	Name                    string `json:"name"`
	Icon                    string `json:"icon"`
	ApproximateMemberCount  int    `json:"approximate_member_count"`
	ApproximatePresenceCount int   `json:"approximate_presence_count"`
}

// User is the wire shape of a directory user.
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	GlobalName    string `json:"global_name"`
	Avatar        string `json:"avatar"`
	Bot           bool   `json:"bot"`
}

// Member is the wire shape of one guild member. JoinedAt stays a string here;
// parsing happens where the value is persisted.
type Member struct {
	User     User     `json:"user"`
	Nick     *string  `json:"nick"`
	Roles    []string `json:"roles"`
	JoinedAt string   `json:"joined_at"`
}

// PermissionCheck is the result of probing bot access to a guild.
type PermissionCheck struct {
	HasPermissions     bool     `json:"has_permissions"`
	MissingPermissions []string `json:"missing_permissions"`
}

// Client is a read-only client for the Discord REST API, authenticated with a
// single bot token. It mutates no local state; its only side effects are
// outbound requests and rate-limit sleeps.
type Client struct {
	baseURL    string
	authHeader string
	httpClient *http.Client
	logger     *slog.Logger
	retry      RetryConfig
	pacer      *rate.Limiter
	breaker    *CircuitBreaker
	pageSize   int
}

type ClientOptions struct {
	BaseURL   string        // override for tests
	PageSize  int           // members per page, capped at 1000 by the API
	PageDelay time.Duration // spacing between member pages
	Retry     RetryConfig
}

func NewClient(logger *slog.Logger, botToken string, opts ClientOptions) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = defaultAPIBase
	}

	pageSize := opts.PageSize
	if pageSize < 1 || pageSize > 1000 {
		pageSize = 1000
	}

	pageDelay := opts.PageDelay
	if pageDelay <= 0 {
		pageDelay = time.Second
	}

	retry := opts.Retry
	if retry.MaxAttempts < 1 {
		retry = DefaultRetryConfig()
	}

	// bot token needs the "Bot " prefix
	authHeader := strings.TrimSpace(botToken)
	if authHeader != "" && !strings.HasPrefix(strings.ToLower(authHeader), "bot ") {
		authHeader = "Bot " + authHeader
	}

	return &Client{
		baseURL:    base,
		authHeader: authHeader,
		httpClient: NewHTTPClient(),
		logger:     logger,
		retry:      retry,
		pacer:      rate.NewLimiter(rate.Every(pageDelay), 1),
		breaker:    NewCircuitBreaker(),
		pageSize:   pageSize,
	}
}

// GetGuild fetches guild metadata.
func (c *Client) GetGuild(ctx context.Context, guildID string) (*Guild, error) {
	var guild Guild
	path := fmt.Sprintf("/guilds/%s?with_counts=true", guildID)
	if err := c.getJSON(ctx, path, &guild); err != nil {
		return nil, err
	}
	return &guild, nil
}

// GetAllGuildMembers pages through the member list until exhaustion, using
// the last member id of each page as the cursor for the next. Pages are
// spaced by the configured delay to respect the API's rate limits.
func (c *Client) GetAllGuildMembers(ctx context.Context, guildID string) ([]Member, error) {
	var all []Member
	after := ""

	for {
		if err := c.pacer.Wait(ctx); err != nil {
			return nil, fmt.Errorf("page_wait_canceled: %w", err)
		}

		path := fmt.Sprintf("/guilds/%s/members?limit=%d", guildID, c.pageSize)
		if after != "" {
			path += "&after=" + url.QueryEscape(after)
		}

		var page []Member
		if err := c.getJSON(ctx, path, &page); err != nil {
			return nil, err
		}

		all = append(all, page...)

		c.logger.Debug("member_page_fetched",
			"guild_id", guildID,
			"page_size", len(page),
			"total", len(all),
		)

		if len(page) < c.pageSize {
			break
		}
		after = page[len(page)-1].User.ID
	}

	c.logger.Info("guild_members_fetched", "guild_id", guildID, "total", len(all))
	return all, nil
}

// ValidateBotPermissions probes whether the bot can read the guild's member
// list by fetching its own identity and its membership in the guild. Any
// failure is treated as missing permissions rather than diagnosed further.
func (c *Client) ValidateBotPermissions(ctx context.Context, guildID string) (*PermissionCheck, error) {
	var self User
	if err := c.getJSON(ctx, "/users/@me", &self); err != nil {
		c.logger.Warn("bot_identity_probe_failed", "guild_id", guildID, "error", err)
		return &PermissionCheck{HasPermissions: false, MissingPermissions: missingPermissionsFallback}, nil
	}

	var membership Member
	path := fmt.Sprintf("/users/@me/guilds/%s/member", guildID)
	if err := c.getJSON(ctx, path, &membership); err != nil {
		c.logger.Warn("bot_membership_probe_failed", "guild_id", guildID, "error", err)
		return &PermissionCheck{HasPermissions: false, MissingPermissions: missingPermissionsFallback}, nil
	}

	return &PermissionCheck{HasPermissions: true, MissingPermissions: nil}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	if !c.breaker.Allow() {
		return &APIError{Status: 0, Message: "circuit_open"}
	}

	body, err := c.do(ctx, path)
	if err != nil {
		c.breaker.RecordFailure()
		return err
	}
	c.breaker.RecordSuccess()

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed_to_decode_response: %w", err)
	}
	return nil
}

// do runs one GET with the retry policy: 429 sleeps for Retry-After (default
// if absent) without consuming an attempt; every other failure consumes one
// of MaxAttempts with a linear backoff in between.
func (c *Client) do(ctx context.Context, path string) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= c.retry.MaxAttempts; {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, fmt.Errorf("failed_to_create_request: %w", err)
		}
		req.Header.Set("Authorization", c.authHeader)
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request_failed: %w", err)
			c.logger.Warn("api_request_failed", "path", path, "attempt", attempt, "error", err)
			if sleepErr := c.retrySleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			attempt++
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			delay := retryAfterDelay(resp, c.retry.RateLimitDelay)
			drainBody(resp)
			c.logger.Warn("rate_limited", "path", path, "retry_after_ms", delay.Milliseconds())
			if sleepErr := sleepCtx(ctx, delay); sleepErr != nil {
				return nil, sleepErr
			}
			// 429 retries the same request without touching the budget
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("failed_to_read_response: %w", readErr)
			if sleepErr := c.retrySleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			attempt++
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			lastErr = &APIError{Status: resp.StatusCode, Message: truncate(string(body), 300)}
			c.logger.Warn("api_error_response", "path", path, "status", resp.StatusCode, "attempt", attempt)
			if sleepErr := c.retrySleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			attempt++
			continue
		}

		return body, nil
	}

	return nil, lastErr
}

func (c *Client) retrySleep(ctx context.Context, attempt int) error {
	if attempt >= c.retry.MaxAttempts {
		return nil // budget exhausted, no point sleeping
	}
	return sleepCtx(ctx, Backoff(c.retry, attempt))
}

// retryAfterDelay reads the Retry-After header (seconds, possibly fractional)
// and pads it slightly; falls back to the configured default.
func retryAfterDelay(resp *http.Response, fallback time.Duration) time.Duration {
	ra := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if ra == "" {
		return fallback
	}
	secs, err := strconv.ParseFloat(ra, 64)
	if err != nil || secs < 0 {
		return fallback
	}
	return time.Duration(secs*float64(time.Second)) + 100*time.Millisecond
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func drainBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

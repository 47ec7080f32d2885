package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// maxMessageChars is the Bot API limit for one text message.
const maxMessageChars = 4096

// Client is a minimal Telegram Bot API client.
type Client struct {
	apiBase    string
	httpClient *http.Client
}

// NewClient creates a Telegram client for the given bot API base URL
// (e.g. "https://api.telegram.org/bot<token>").
func NewClient(apiBase string, requestTimeout time.Duration) *Client {
	return &Client{
		apiBase: strings.TrimRight(apiBase, "/"),
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Response is the generic Telegram API response wrapper.
type Response struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result"`
}

// Update is one incoming update.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message is a chat message.
type Message struct {
	Chat Chat    `json:"chat"`
	Text *string `json:"text,omitempty"`
	Date int64   `json:"date"`
}

// Chat identifies a conversation.
type Chat struct {
	ID int64 `json:"id"`
}

type tgRawUpdate struct {
	UpdateID      int64            `json:"update_id"`
	Message       *Message         `json:"message,omitempty"`
	CallbackQuery *tgCallbackQuery `json:"callback_query,omitempty"`
}

type tgCallbackQuery struct {
	ID      string   `json:"id"`
	Data    string   `json:"data"`
	Message *Message `json:"message,omitempty"`
}

// GetUpdates calls the getUpdates API. Inline button presses are mapped to
// messages carrying the button data.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	params := url.Values{}
	params.Set("offset", strconv.FormatInt(offset, 10))
	params.Set("timeout", strconv.Itoa(timeout))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/getUpdates?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build getUpdates request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram getUpdates request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read getUpdates response: %w", err)
	}

	var tgResp Response
	if err := json.Unmarshal(body, &tgResp); err != nil {
		return nil, fmt.Errorf("failed to parse getUpdates response: %w", err)
	}
	if !tgResp.OK {
		return nil, fmt.Errorf("telegram getUpdates rejected: %s", emptyAs(tgResp.Description, resp.Status))
	}

	var raws []tgRawUpdate
	if err := json.Unmarshal(tgResp.Result, &raws); err != nil {
		return nil, fmt.Errorf("failed to parse getUpdates result: %w", err)
	}
	updates := make([]Update, 0, len(raws))
	for _, ru := range raws {
		if ru.Message != nil {
			updates = append(updates, Update{UpdateID: ru.UpdateID, Message: ru.Message})
			continue
		}
		if ru.CallbackQuery != nil && ru.CallbackQuery.Message != nil {
			msg := *ru.CallbackQuery.Message
			data := strings.TrimSpace(ru.CallbackQuery.Data)
			msg.Text = &data
			if msg.Date == 0 {
				msg.Date = time.Now().Unix()
			}
			updates = append(updates, Update{UpdateID: ru.UpdateID, Message: &msg})
			_ = c.answerCallbackQuery(ctx, ru.CallbackQuery.ID)
		} else {
			// Unsupported update types still advance the offset.
			updates = append(updates, Update{UpdateID: ru.UpdateID})
		}
	}
	return updates, nil
}

// SendMessage sends a text message to the given chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	payload := fmt.Sprintf(`{"chat_id":%d,"text":%s}`, chatID, jsonString(truncate(text, maxMessageChars)))
	resp, err := c.post(ctx, "/sendMessage", payload)
	if err != nil {
		return fmt.Errorf("telegram sendMessage request failed: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("telegram sendMessage rejected: %s", emptyAs(resp.Description, "unknown error"))
	}
	return nil
}

func (c *Client) answerCallbackQuery(ctx context.Context, callbackID string) error {
	callbackID = strings.TrimSpace(callbackID)
	if callbackID == "" {
		return nil
	}
	_, err := c.post(ctx, "/answerCallbackQuery", fmt.Sprintf(`{"callback_query_id":%s}`, jsonString(callbackID)))
	return err
}

func (c *Client) post(ctx context.Context, method, payload string) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+method, strings.NewReader(payload))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, err
	}
	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return Response{}, fmt.Errorf("parse %s response (%s): %w", strings.TrimPrefix(method, "/"), resp.Status, err)
	}
	return out, nil
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func emptyAs(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

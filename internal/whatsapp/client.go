package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"zapcrm/internal/config"
)

// Client talks to the Evolution-API-compatible WhatsApp gateway.
type Client struct {
	Config     *config.Config
	HTTPClient *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{Config: cfg, HTTPClient: &http.Client{Timeout: 30 * time.Second}}
}

// APIError is returned for any non-2xx gateway response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway error: %d - %s", e.Status, e.Body)
}

// --- Payloads ---

type createInstanceRequest struct {
	InstanceName string          `json:"instanceName"`
	Qrcode       bool            `json:"qrcode"`
	Integration  string          `json:"integration"`
	Webhook      *webhookOptions `json:"webhook,omitempty"`
}

type webhookOptions struct {
	URL      string   `json:"url"`
	ByEvents bool     `json:"byEvents"`
	Base64   bool     `json:"base64"`
	Events   []string `json:"events"`
}

type InstanceInfo struct {
	InstanceName string `json:"instanceName"`
	InstanceID   string `json:"instanceId"`
	Status       string `json:"status"`
}

type CreateInstanceResponse struct {
	Instance InstanceInfo `json:"instance"`
	Hash     any          `json:"hash"`
	QRCode   QRCode       `json:"qrcode"`
}

// QRCode is returned by connect; Code is the raw pairing payload and Base64
// a data URL of the rendered image.
type QRCode struct {
	PairingCode string `json:"pairingCode"`
	Code        string `json:"code"`
	Base64      string `json:"base64"`
	Count       int    `json:"count"`
}

type ConnectionState struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
		State        string `json:"state"` // open, close, connecting
	} `json:"instance"`
}

type MessageKey struct {
	RemoteJid string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

type SendResult struct {
	Key    MessageKey `json:"key"`
	Status string     `json:"status"`
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
	Delay  int    `json:"delay,omitempty"`
}

type sendTemplateRequest struct {
	Number     string          `json:"number"`
	Name       string          `json:"name"`
	Language   string          `json:"language"`
	Components json.RawMessage `json:"components,omitempty"`
}

type Button struct {
	Type        string `json:"type"`
	DisplayText string `json:"displayText"`
	ID          string `json:"id"`
}

type sendButtonsRequest struct {
	Number      string   `json:"number"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Footer      string   `json:"footer,omitempty"`
	Buttons     []Button `json:"buttons"`
}

type ListRow struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	RowID       string `json:"rowId"`
}

type ListSection struct {
	Title string    `json:"title"`
	Rows  []ListRow `json:"rows"`
}

type sendListRequest struct {
	Number      string        `json:"number"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	ButtonText  string        `json:"buttonText"`
	FooterText  string        `json:"footerText,omitempty"`
	Sections    []ListSection `json:"sections"`
}

type ProfilePicture struct {
	Wuid              string `json:"wuid"`
	ProfilePictureURL string `json:"profilePictureUrl"`
}

// --- Helper Functions ---

func (c *Client) sendRequest(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	endpoint := strings.TrimRight(c.Config.Setting("GATEWAY_URL"), "/") + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.Config.Setting("GATEWAY_API_KEY"))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode gateway response: %w", err)
		}
	}
	return nil
}

func instancePath(prefix, instance string) string {
	return prefix + "/" + url.PathEscape(instance)
}

// --- Instance Methods ---

func (c *Client) CreateInstance(ctx context.Context, name string) (*CreateInstanceResponse, error) {
	req := createInstanceRequest{
		InstanceName: name,
		Qrcode:       true,
		Integration:  "WHATSAPP-BAILEYS",
	}
	if hook := c.Config.Setting("WEBHOOK_URL"); hook != "" {
		req.Webhook = &webhookOptions{
			URL:    hook,
			Base64: true,
			Events: []string{"MESSAGES_UPSERT", "MESSAGES_UPDATE", "CONNECTION_UPDATE", "QRCODE_UPDATED"},
		}
	}
	var out CreateInstanceResponse
	if err := c.sendRequest(ctx, http.MethodPost, "/instance/create", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ConnectInstance(ctx context.Context, name string) (*QRCode, error) {
	var out QRCode
	if err := c.sendRequest(ctx, http.MethodGet, instancePath("/instance/connect", name), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InstanceState returns the gateway connection state: open, close or
// connecting.
func (c *Client) InstanceState(ctx context.Context, name string) (string, error) {
	var out ConnectionState
	if err := c.sendRequest(ctx, http.MethodGet, instancePath("/instance/connectionState", name), nil, &out); err != nil {
		return "", err
	}
	return out.Instance.State, nil
}

func (c *Client) LogoutInstance(ctx context.Context, name string) error {
	return c.sendRequest(ctx, http.MethodDelete, instancePath("/instance/logout", name), nil, nil)
}

func (c *Client) DeleteInstance(ctx context.Context, name string) error {
	return c.sendRequest(ctx, http.MethodDelete, instancePath("/instance/delete", name), nil, nil)
}

// --- Messaging Methods ---

func (c *Client) SendText(ctx context.Context, instance, number, text string) (*SendResult, error) {
	var out SendResult
	err := c.sendRequest(ctx, http.MethodPost, instancePath("/message/sendText", instance),
		sendTextRequest{Number: number, Text: text}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SendTemplate sends an approved template; components is the template's
// component JSON with parameters filled in, or nil.
func (c *Client) SendTemplate(ctx context.Context, instance, number, name, language string, components json.RawMessage) (*SendResult, error) {
	var out SendResult
	err := c.sendRequest(ctx, http.MethodPost, instancePath("/message/sendTemplate", instance),
		sendTemplateRequest{Number: number, Name: name, Language: language, Components: components}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SendButtons(ctx context.Context, instance, number, title, body string, buttons []Button) (*SendResult, error) {
	var out SendResult
	err := c.sendRequest(ctx, http.MethodPost, instancePath("/message/sendButtons", instance),
		sendButtonsRequest{Number: number, Title: title, Description: body, Buttons: buttons}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SendList(ctx context.Context, instance, number, title, body, buttonText string, sections []ListSection) (*SendResult, error) {
	var out SendResult
	err := c.sendRequest(ctx, http.MethodPost, instancePath("/message/sendList", instance),
		sendListRequest{Number: number, Title: title, Description: body, ButtonText: buttonText, Sections: sections}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchProfilePicture returns the avatar URL, empty when the contact hides it.
func (c *Client) FetchProfilePicture(ctx context.Context, instance, number string) (string, error) {
	var out ProfilePicture
	err := c.sendRequest(ctx, http.MethodPost, instancePath("/chat/fetchProfilePictureUrl", instance),
		map[string]string{"number": number}, &out)
	if err != nil {
		return "", err
	}
	return out.ProfilePictureURL, nil
}

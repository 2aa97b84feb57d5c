package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"worldsmith/internal/config"
)

const userAgent = "Worldsmith-Go/0.1.0"

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyRunStarted(ctx context.Context, theme, prompt string) error
	NotifyPanoramaCompleted(ctx context.Context, theme string) error
	NotifyDecompositionCompleted(ctx context.Context, theme string, layers int) error
	NotifyWorldRegistered(ctx context.Context, theme, worldID string) error
	NotifyBacklogStarted(ctx context.Context, count int) error
	NotifyBacklogCompleted(ctx context.Context, processed, failed int, duration time.Duration) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &http.Client{Timeout: timeout}
	return &ntfyService{
		endpoint: topic,
		client:   client,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyRunStarted(ctx context.Context, theme, prompt string) error {
	theme = strings.TrimSpace(theme)
	prompt = strings.TrimSpace(prompt)
	message := fmt.Sprintf("Started generating: %s", theme)
	if prompt != "" {
		message = fmt.Sprintf("%s\nPrompt: %s", message, prompt)
	}
	data := payload{
		title:   "Worldsmith - Run Started",
		message: message,
		tags:    []string{"worldsmith", "run", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyPanoramaCompleted(ctx context.Context, theme string) error {
	theme = strings.TrimSpace(theme)
	data := payload{
		title:   "Worldsmith - Panorama Ready",
		message: fmt.Sprintf("Panorama generated: %s", theme),
		tags:    []string{"worldsmith", "panorama", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDecompositionCompleted(ctx context.Context, theme string, layers int) error {
	theme = strings.TrimSpace(theme)
	data := payload{
		title:   "Worldsmith - Layers Ready",
		message: fmt.Sprintf("Scene split into %d layers: %s", layers, theme),
		tags:    []string{"worldsmith", "decompose", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyWorldRegistered(ctx context.Context, theme, worldID string) error {
	theme = strings.TrimSpace(theme)
	message := fmt.Sprintf("World ready to explore: %s", theme)
	if worldID = strings.TrimSpace(worldID); worldID != "" {
		message = fmt.Sprintf("%s\nWorld: %s", message, worldID)
	}
	data := payload{
		title:    "Worldsmith - World Ready",
		message:  message,
		tags:     []string{"worldsmith", "world", "registered"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBacklogStarted(ctx context.Context, count int) error {
	data := payload{
		title:   "Worldsmith - Backlog Started",
		message: fmt.Sprintf("Resumed processing backlog with %d runs", count),
		tags:    []string{"worldsmith", "backlog", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBacklogCompleted(ctx context.Context, processed, failed int, duration time.Duration) error {
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	durationText := duration.String()
	if duration == 0 {
		durationText = "0s"
	}

	var message string
	var title string
	if failed == 0 {
		title = "Worldsmith - Backlog Complete"
		message = fmt.Sprintf("Backlog complete: %d runs processed in %s", processed, durationText)
	} else {
		title = "Worldsmith - Backlog Complete (with errors)"
		message = fmt.Sprintf("Backlog complete: %d succeeded, %d failed in %s", processed, failed, durationText)
	}

	data := payload{
		title:   title,
		message: message,
		tags:    []string{"worldsmith", "backlog", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Worldsmith - Error",
		message:  builder.String(),
		tags:     []string{"worldsmith", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Worldsmith - Test",
		message:  "Notification system test",
		tags:     []string{"worldsmith", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyRunStarted(context.Context, string, string) error                { return nil }
func (noopService) NotifyPanoramaCompleted(context.Context, string) error                 { return nil }
func (noopService) NotifyDecompositionCompleted(context.Context, string, int) error       { return nil }
func (noopService) NotifyWorldRegistered(context.Context, string, string) error           { return nil }
func (noopService) NotifyBacklogStarted(context.Context, int) error                       { return nil }
func (noopService) NotifyBacklogCompleted(context.Context, int, int, time.Duration) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error                      { return nil }
func (noopService) TestNotification(context.Context) error                                { return nil }

package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"strings"
	"sync"
	"text/template"
	"time"

	"go.uber.org/zap"

	"gleeworld-hub/internal/event"
	"gleeworld-hub/internal/metrics"
	"gleeworld-hub/internal/schedule"
	"gleeworld-hub/pkg/mail"
	"gleeworld-hub/pkg/telegram"
	tplfs "gleeworld-hub/templates"
)

type NotificationTemplate string

const (
	NotificationPublished      NotificationTemplate = "announcement_published"
	NotificationPublishedEmail NotificationTemplate = "announcement_published_email"
)

var notificationTemplateFiles = map[NotificationTemplate]string{
	NotificationPublished:      "notifications/announcement_published.tmpl",
	NotificationPublishedEmail: "notifications/announcement_published_email.tmpl",
}

const defaultNotificationTimeout = 15 * time.Second

// Messenger pushes a Markdown message to a chat.
type Messenger interface {
	SendMarkdown(ctx context.Context, chatID int64, md string) error
}

// Mailer sends one email message.
type Mailer interface {
	Send(ctx context.Context, msg mail.Message) error
}

type NotificationConfig struct {
	TelegramChatID int64
	EmailTo        []mail.Address
	Offset         schedule.Offset
	Timeout        time.Duration
}

// NotificationService delivers fired announcements to the push and email
// channels. A nil channel is disabled. Failures are logged and counted, never
// retried.
type NotificationService struct {
	cfg       NotificationConfig
	messenger Messenger
	mailer    Mailer
	logger    *zap.Logger

	templateMu sync.RWMutex
	text       map[NotificationTemplate]*template.Template
	html       map[NotificationTemplate]*htmltemplate.Template
}

func NewNotificationService(
	cfg NotificationConfig,
	messenger Messenger,
	mailer Mailer,
	logger *zap.Logger,
) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultNotificationTimeout
	}

	return &NotificationService{
		cfg:       cfg,
		messenger: messenger,
		mailer:    mailer,
		logger:    logger,
		text:      make(map[NotificationTemplate]*template.Template),
		html:      make(map[NotificationTemplate]*htmltemplate.Template),
	}
}

// HandlePublished is an event.Bus subscriber for EventAnnouncementPublished.
func (s *NotificationService) HandlePublished(payload any) {
	p, ok := payload.(event.AnnouncementPublishedPayload)
	if !ok {
		s.logger.Warn("unexpected announcement payload", zap.String("type", fmt.Sprintf("%T", payload)))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	if err := s.NotifyPublished(ctx, p); err != nil {
		s.logger.Error("deliver announcement failed",
			zap.String("announcement_id", p.AnnouncementID),
			zap.Error(err),
		)
	}
}

// NotifyPublished sends p to every enabled channel and joins their errors.
func (s *NotificationService) NotifyPublished(ctx context.Context, p event.AnnouncementPublishedPayload) error {
	var errs []error

	if s.messenger != nil && s.cfg.TelegramChatID != 0 {
		err := s.sendTelegram(ctx, p)
		metrics.IncDelivery("telegram", err)
		if err != nil {
			errs = append(errs, fmt.Errorf("telegram: %w", err))
		}
	}

	if s.mailer != nil && len(s.cfg.EmailTo) > 0 {
		err := s.sendEmail(ctx, p)
		metrics.IncDelivery("email", err)
		if err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (s *NotificationService) sendTelegram(ctx context.Context, p event.AnnouncementPublishedPayload) error {
	vars := s.templateVars(p)
	vars["Title"] = telegram.EscapeMarkdown(p.Title)
	vars["Content"] = telegram.EscapeMarkdown(p.Content)

	text, err := s.renderText(NotificationPublished, vars)
	if err != nil {
		return err
	}
	return s.messenger.SendMarkdown(ctx, s.cfg.TelegramChatID, text)
}

func (s *NotificationService) sendEmail(ctx context.Context, p event.AnnouncementPublishedPayload) error {
	vars := s.templateVars(p)
	body, err := s.renderHTML(NotificationPublishedEmail, vars)
	if err != nil {
		return err
	}

	return s.mailer.Send(ctx, mail.Message{
		To:          s.cfg.EmailTo,
		Subject:     p.Title,
		TextContent: p.Title + "\n\n" + p.Content,
		HTMLContent: body,
	})
}

func (s *NotificationService) templateVars(p event.AnnouncementPublishedPayload) map[string]any {
	fired := schedule.ToCivil(p.FiredAt, s.cfg.Offset)
	audience := strings.TrimSpace(p.TargetAudience)
	if audience == "" {
		audience = "all"
	}
	return map[string]any{
		"Title":    p.Title,
		"Content":  p.Content,
		"Audience": audience,
		"Featured": p.IsFeatured,
		"FiredAt":  fired.String() + " " + s.cfg.Offset.String(),
	}
}

func (s *NotificationService) renderText(name NotificationTemplate, vars map[string]any) (string, error) {
	s.templateMu.RLock()
	tpl, ok := s.text[name]
	s.templateMu.RUnlock()
	if !ok {
		raw, err := readNotificationTemplate(name)
		if err != nil {
			return "", err
		}
		tpl, err = template.New(string(name)).Parse(raw)
		if err != nil {
			return "", err
		}
		s.templateMu.Lock()
		s.text[name] = tpl
		s.templateMu.Unlock()
	}

	buf := bytes.NewBuffer(nil)
	if err := tpl.Execute(buf, vars); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (s *NotificationService) renderHTML(name NotificationTemplate, vars map[string]any) (string, error) {
	s.templateMu.RLock()
	tpl, ok := s.html[name]
	s.templateMu.RUnlock()
	if !ok {
		raw, err := readNotificationTemplate(name)
		if err != nil {
			return "", err
		}
		tpl, err = htmltemplate.New(string(name)).Parse(raw)
		if err != nil {
			return "", err
		}
		s.templateMu.Lock()
		s.html[name] = tpl
		s.templateMu.Unlock()
	}

	buf := bytes.NewBuffer(nil)
	if err := tpl.Execute(buf, vars); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func readNotificationTemplate(name NotificationTemplate) (string, error) {
	file, ok := notificationTemplateFiles[name]
	if !ok {
		return "", fmt.Errorf("notification template not found: %s", name)
	}
	raw, err := tplfs.NotificationTemplateFS.ReadFile(file)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

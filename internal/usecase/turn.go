package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"telegram-agent/internal/domain"
)

const (
	defaultQuotaLimit   = 5
	defaultHistoryLimit = 10

	// User-visible notices. Fixed strings: internal detail never leaks to
	// the chat.
	limitNotice   = "You have reached your message limit."
	failureNotice = "Sorry, something went wrong. Please try again later."
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type CompletionClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

type UserStore interface {
	GetUser(ctx context.Context, senderID string) (domain.User, bool, error)
	CreateUser(ctx context.Context, user domain.User) error
	UpdateUsage(ctx context.Context, user domain.User) error
}

type TurnStore interface {
	AppendTurn(ctx context.Context, turn domain.Turn) (domain.Turn, error)
	RecentTurns(ctx context.Context, senderID, sessionID string, limit int) ([]domain.Turn, error)
}

type ReplySender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Message is a validated inbound chat message.
type Message struct {
	ChatID   int64
	SenderID string
	Handle   string
	Text     string
}

// TurnService sequences one conversation turn: quota check, user-turn
// persistence, quota increment, history fetch, completion, assistant-turn
// persistence, reply. All failures funnel through a single boundary in
// Process.
type TurnService struct {
	params       ParamGetter
	llm          CompletionClient
	users        UserStore
	turns        TurnStore
	sender       ReplySender
	paramPrefix  string
	quotaLimit   int
	historyLimit int
	clock        Clock

	cacheMu     sync.RWMutex
	cacheLoaded bool
	model       string
}

type Option func(*TurnService)

// WithClock replaces the wall clock, letting tests pin the session date.
func WithClock(c Clock) Option {
	return func(s *TurnService) {
		s.clock = c
	}
}

func NewTurnService(p ParamGetter, llm CompletionClient, users UserStore, turns TurnStore, sender ReplySender, paramPrefix string, quotaLimit, historyLimit int, opts ...Option) (*TurnService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: completion client must not be nil")
	}
	if users == nil {
		return nil, errors.New("usecase: user store must not be nil")
	}
	if turns == nil {
		return nil, errors.New("usecase: turn store must not be nil")
	}
	if sender == nil {
		return nil, errors.New("usecase: reply sender must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if quotaLimit <= 0 {
		quotaLimit = defaultQuotaLimit
	}
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	s := &TurnService{
		params:       p,
		llm:          llm,
		users:        users,
		turns:        turns,
		sender:       sender,
		paramPrefix:  paramPrefix,
		quotaLimit:   quotaLimit,
		historyLimit: historyLimit,
		clock:        SystemUTC{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Process runs one turn end to end. Any failure past this point is caught
// here, once: the sender gets the fixed failure notice (best effort) and the
// root cause is returned for operator logging. The caller acknowledges the
// webhook either way.
func (s *TurnService) Process(ctx context.Context, msg Message) error {
	err := s.run(ctx, msg)
	if err == nil {
		return nil
	}
	if sendErr := s.sender.SendMessage(ctx, msg.ChatID, failureNotice); sendErr != nil {
		slog.Error("failure notice delivery failed", "chatId", msg.ChatID, "err", sendErr)
	}
	return err
}

func (s *TurnService) run(ctx context.Context, msg Message) error {
	if err := s.ensureConfig(ctx); err != nil {
		return newError(ErrorInternal, "ssm_load_error", err)
	}
	sessionID := sessionKey(s.clock.NowUTC())

	user, found, err := s.users.GetUser(ctx, msg.SenderID)
	if err != nil {
		return newError(ErrorInternal, "user_read_error", err)
	}
	if !found {
		user = domain.User{SenderID: msg.SenderID, Handle: msg.Handle, UsageCount: 0}
		if err := s.users.CreateUser(ctx, user); err != nil {
			return newError(ErrorInternal, "user_create_error", err)
		}
	}

	// Checked before anything is persisted: a quota-exhausted message is
	// never logged nor counted.
	if user.UsageCount >= s.quotaLimit {
		if err := s.sender.SendMessage(ctx, msg.ChatID, limitNotice); err != nil {
			return newError(ErrorDelivery, "limit_notice_error", err)
		}
		return nil
	}

	// The user turn is written before the completion call so conversation
	// state is durable even if the completion subsequently fails.
	if _, err := s.turns.AppendTurn(ctx, domain.Turn{
		SenderID:  msg.SenderID,
		SessionID: sessionID,
		Role:      domain.RoleUser,
		Text:      msg.Text,
	}); err != nil {
		return newError(ErrorInternal, "turn_write_error", err)
	}

	// One unit per accepted message, regardless of completion outcome.
	// Read-then-write: concurrent requests for one sender can overshoot the
	// quota by the number in flight.
	user.UsageCount++
	if err := s.users.UpdateUsage(ctx, user); err != nil {
		return newError(ErrorInternal, "usage_update_error", err)
	}

	recent, err := s.turns.RecentTurns(ctx, msg.SenderID, sessionID, s.historyLimit)
	if err != nil {
		return newError(ErrorInternal, "history_read_error", err)
	}
	history := chronological(recent)
	// The user turn above was persisted before this fetch, so it can come
	// back as the newest item; the assembler appends the message itself.
	if n := len(history); n > 0 && history[n-1].Role == domain.RoleUser && history[n-1].Text == msg.Text {
		history = history[:n-1]
	}

	reply, err := s.llm.Chat(ctx, s.model, assembleContext(history, msg.Text))
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return newError(ErrorRateLimited, "openai_rate_limited", err)
		}
		return newError(ErrorUpstream, "openai_error", err)
	}

	if _, err := s.turns.AppendTurn(ctx, domain.Turn{
		SenderID:  msg.SenderID,
		SessionID: sessionID,
		Role:      domain.RoleAssistant,
		Text:      reply,
	}); err != nil {
		return newError(ErrorInternal, "turn_write_error", err)
	}

	if err := s.sender.SendMessage(ctx, msg.ChatID, reply); err != nil {
		return newError(ErrorDelivery, "reply_delivery_error", err)
	}
	return nil
}

func (s *TurnService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	model, err := s.params.GetParameter(ctx, s.paramPrefix+"/config/openai_model")
	if err != nil {
		return fmt.Errorf("usecase: load openai model: %w", err)
	}
	if strings.TrimSpace(model) == "" {
		return errors.New("usecase: openai model parameter is empty")
	}

	s.model = model
	s.cacheLoaded = true
	return nil
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

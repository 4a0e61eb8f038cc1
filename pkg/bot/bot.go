// Package bot is the Telegram operator surface. Commands reach the treasury
// through a treasury.Seller, either in-process or over the HTTP API.
package bot

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/slh-labs/slh-treasury/pkg/audit"
	"github.com/slh-labs/slh-treasury/pkg/metrics"
	"github.com/slh-labs/slh-treasury/pkg/treasury"
	"github.com/slh-labs/slh-treasury/pkg/wallet"
)

// Transport modes.
const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// SecretHeader carries the webhook secret on every update Telegram delivers.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

var secretPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// API is the subset of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// EventSource lists recent audit events, newest first. *audit.Log and
// *apiclient.Client implement it.
type EventSource interface {
	Events(ctx context.Context, limit int) ([]audit.Event, error)
}

// Config controls the transport and command defaults.
type Config struct {
	Mode string

	// Webhook settings, used when Mode is webhook
	Host          string
	Port          int
	WebhookPath   string
	WebhookSecret string
	PublicBase    string

	// DefaultMetaCID replaces "-" as the token uri of /adm_sell
	DefaultMetaCID string

	// RewardAmount is granted by /adm_sell; empty uses the treasury default
	RewardAmount string

	// RatePerMinute limits write commands per chat
	RatePerMinute int

	// OperationTimeout bounds one /adm_sell
	OperationTimeout time.Duration
}

// Validate checks the transport settings.
func (c Config) Validate() error {
	switch c.Mode {
	case ModePolling:
		return nil
	case ModeWebhook:
	default:
		return wallet.NewWalletError(wallet.ErrCodeMissingConfig, fmt.Sprintf("BOT_MODE must be %s or %s, got %q", ModeWebhook, ModePolling, c.Mode), nil, "")
	}

	if !strings.HasPrefix(c.PublicBase, "https://") {
		return wallet.NewWalletError(wallet.ErrCodeMissingConfig, "BOT_WEBHOOK_PUBLIC_BASE must start with https:// in webhook mode", nil, "")
	}
	if !secretPattern.MatchString(c.WebhookSecret) {
		return wallet.NewWalletError(wallet.ErrCodeMissingConfig, "BOT_WEBHOOK_SECRET must match [A-Za-z0-9_-]+", nil, "")
	}
	if !strings.HasPrefix(c.WebhookPath, "/") {
		return wallet.NewWalletError(wallet.ErrCodeMissingConfig, "BOT_WEBHOOK_PATH must start with /", nil, "")
	}
	if c.Port <= 0 {
		return wallet.NewWalletError(wallet.ErrCodeMissingConfig, "BOT_PORT must be positive", nil, "")
	}
	return nil
}

// WebhookURL is the address registered with Telegram.
func (c Config) WebhookURL() string {
	return strings.TrimRight(c.PublicBase, "/") + c.WebhookPath
}

// Bot dispatches Telegram commands. It implements actions.Action.
type Bot struct {
	config  Config
	api     API
	seller  *treasury.Seller
	events  EventSource
	metrics *metrics.Metrics
	log     *logrus.Logger

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	srv      *http.Server
	inflight sync.WaitGroup
	cancel   context.CancelFunc
}

// New creates a bot. events and m may be nil.
func New(config Config, api API, seller *treasury.Seller, events EventSource, m *metrics.Metrics, log *logrus.Logger) (*Bot, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.RatePerMinute <= 0 {
		config.RatePerMinute = 6
	}
	if config.OperationTimeout <= 0 {
		config.OperationTimeout = 10 * time.Minute
	}
	if config.Host == "" {
		config.Host = "0.0.0.0"
	}

	return &Bot{
		config:   config,
		api:      api,
		seller:   seller,
		events:   events,
		metrics:  m,
		log:      log,
		limiters: make(map[int64]*rate.Limiter),
	}, nil
}

// Name implements actions.Action.
func (b *Bot) Name() string {
	return "telegram_bot"
}

// Execute receives updates until ctx is cancelled, then waits for commands
// still in flight.
func (b *Bot) Execute(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()
	defer cancel()

	var err error
	if b.config.Mode == ModeWebhook {
		err = b.runWebhook(ctx)
	} else {
		err = b.runPolling(ctx)
	}
	b.inflight.Wait()
	return err
}

// Stop cancels the running Execute.
func (b *Bot) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (b *Bot) runPolling(ctx context.Context) error {
	// getUpdates is refused while a webhook is registered
	if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)
	b.log.Info("Telegram bot started (polling)")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.log.Info("Telegram bot stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.Dispatch(ctx, update)
		}
	}
}

func (b *Bot) runWebhook(ctx context.Context) error {
	params := tgbotapi.Params{"url": b.config.WebhookURL()}
	params.AddNonEmpty("secret_token", b.config.WebhookSecret)
	if _, err := b.api.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("failed to register webhook: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(b.config.WebhookPath, b.WebhookHandler(ctx))
	srv := &http.Server{
		Addr:              net.JoinHostPort(b.config.Host, strconv.Itoa(b.config.Port)),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	b.mu.Lock()
	b.srv = srv
	b.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		b.log.WithFields(logrus.Fields{
			"addr": srv.Addr,
			"path": b.config.WebhookPath,
		}).Info("Telegram bot started (webhook)")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("webhook server failed: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			b.log.WithError(err).Warn("Webhook server shutdown incomplete")
		}
		b.log.Info("Telegram bot stopped")
		return nil
	}
}

// WebhookHandler accepts updates pushed by Telegram. Requests without the
// configured secret are refused.
func (b *Bot) WebhookHandler(ctx context.Context) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		got := r.Header.Get(SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(b.config.WebhookSecret)) != 1 {
			b.log.WithField("remote", r.RemoteAddr).Warn("Webhook request with bad secret")
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		var update tgbotapi.Update
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&update); err != nil {
			http.Error(w, "bad update", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)

		b.Dispatch(ctx, update)
	})
}

// Dispatch handles one update on its own goroutine so slow chain writes
// never block /ping.
func (b *Bot) Dispatch(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || !msg.IsCommand() {
		return
	}

	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		b.handleCommand(ctx, msg)
	}()
}

// Wait blocks until every dispatched command has finished.
func (b *Bot) Wait() {
	b.inflight.Wait()
}

func (b *Bot) allow(chatID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.limiters[chatID]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(b.config.RatePerMinute)), 1)
		b.limiters[chatID] = l
	}
	return l.Allow()
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.log.WithError(err).WithField("chat_id", chatID).Warn("Failed to send reply")
	}
}

func (b *Bot) observe(command, result string) {
	if b.metrics != nil {
		b.metrics.ObserveCommand(command, result)
	}
}

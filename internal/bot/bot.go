package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/hcpa/caixas/internal/ledger"
	"github.com/hcpa/caixas/internal/models"
	"github.com/hcpa/caixas/internal/render"
)

const historyLimit = 10

const helpText = "Comandos:\n" +
	"/notificar <volume> [setor] - Avisar acúmulo de caixas (volume: 5, 10 ou +10)\n" +
	"/painel - Ver chamados ativos\n" +
	"/coleta <cartão> <quantidade> <limpo|parcial> [setor] - Registrar coleta\n" +
	"/historico [n] - Últimas coletas\n" +
	"/ajuda - Mostrar esta mensagem\n\n" +
	"Abra o link do QR code do setor para não precisar digitar o setor."

// messenger is the part of tgbotapi.BotAPI used to reply.
type messenger interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Bot struct {
	api      messenger
	poller   *tgbotapi.BotAPI
	ledger   *ledger.Ledger
	teamChat int64 // Telegram chat ID of the collection team
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	sectors map[int64]string // sector prefilled per chat by /start
}

type Config struct {
	Token    string
	TeamChat int64
}

func New(cfg Config, l *ledger.Ledger, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := newBot(api, l, cfg.TeamChat, logger)
	b.poller = api
	b.logger.Info("authorized", zap.String("account", api.Self.UserName))
	return b, nil
}

func newBot(api messenger, l *ledger.Ledger, teamChat int64, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{
		api:      api,
		ledger:   l,
		teamChat: teamChat,
		logger:   logger.With(zap.String("component", "bot")),
		now:      time.Now,
		sectors:  make(map[int64]string),
	}
}

// Run long-polls Telegram until ctx is cancelled
func (b *Bot) Run(ctx context.Context) error {
	if b.poller == nil {
		return fmt.Errorf("bot has no Telegram connection")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.poller.GetUpdatesChan(u)
	defer b.poller.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			b.handle(ctx, update.Message)
		}
	}
}

// RunDigest posts the open requests to the team chat every interval until
// ctx is cancelled
func (b *Bot) RunDigest(ctx context.Context, interval time.Duration) {
	if b.teamChat == 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.PostDigest(ctx); err != nil {
				b.logger.Error("failed to post digest", zap.Error(err))
			}
		}
	}
}

// PostDigest sends the pending panel to the team chat when anything is open
func (b *Bot) PostDigest(ctx context.Context) error {
	pending, err := b.ledger.ListPending(ctx)
	if err != nil {
		return err
	}
	if text := render.Digest(pending); text != "" {
		b.sendMessage(b.teamChat, text)
	}
	return nil
}

func (b *Bot) handle(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}
	b.sendMessage(msg.Chat.ID, "Use /ajuda para ver os comandos.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.handleStart(msg)

	case "help", "ajuda":
		b.sendMessage(msg.Chat.ID, helpText)

	case "notificar":
		b.handleNotify(ctx, msg)

	case "painel":
		b.handlePanel(ctx, msg)

	case "coleta":
		b.handleCollect(ctx, msg)

	case "historico":
		b.handleHistory(ctx, msg)

	default:
		b.sendMessage(msg.Chat.ID, "Comando desconhecido. Use /ajuda para ver os comandos.")
	}
}

// handleStart receives deep links like t.me/<bot>?start=UTI and remembers
// the sector for this chat
func (b *Bot) handleStart(msg *tgbotapi.Message) {
	text := "📦 Sistema de Caixas HCPA\n\n" + helpText

	if sector := models.NormalizeSector(msg.CommandArguments()); sector != "" {
		b.mu.Lock()
		b.sectors[msg.Chat.ID] = sector
		b.mu.Unlock()
		text = fmt.Sprintf("📍 Setor definido: %s\n\n", sector) + text
	}

	b.sendMessage(msg.Chat.ID, text)
}

func (b *Bot) handleNotify(ctx context.Context, msg *tgbotapi.Message) {
	args := strings.Fields(msg.CommandArguments())
	if len(args) == 0 {
		b.sendMessage(msg.Chat.ID, "Uso: /notificar <volume> [setor]\nExemplo: /notificar 10 Emergência")
		return
	}

	volume, err := models.ParseVolume(args[0])
	if err != nil {
		b.sendMessage(msg.Chat.ID, render.Error(&ledger.ValidationError{Field: "volume", Reason: err.Error()}, ledger.CollectionResult{}))
		return
	}
	sector := b.sectorFor(msg.Chat.ID, args[1:])

	req, err := b.ledger.ReportAccumulation(ctx, sector, volume, b.now())
	if err != nil {
		b.sendMessage(msg.Chat.ID, render.Error(err, ledger.CollectionResult{}))
		return
	}

	b.sendMessage(msg.Chat.ID, render.Notified(req))
	b.notifyTeam(msg.Chat.ID, render.TeamAlert(req))
}

func (b *Bot) handlePanel(ctx context.Context, msg *tgbotapi.Message) {
	pending, err := b.ledger.ListPending(ctx)
	if err != nil {
		b.sendMessage(msg.Chat.ID, render.Error(err, ledger.CollectionResult{}))
		return
	}
	b.sendMessage(msg.Chat.ID, render.PendingPanel(pending))
}

func (b *Bot) handleCollect(ctx context.Context, msg *tgbotapi.Message) {
	const usage = "Uso: /coleta <cartão> <quantidade> <limpo|parcial> [setor]\nExemplo: /coleta 12345 8 limpo Emergência"

	args := strings.Fields(msg.CommandArguments())
	if len(args) < 3 {
		b.sendMessage(msg.Chat.ID, usage)
		return
	}

	// a non-numeric quantity is left at 0 so the ledger reports it
	qty, _ := strconv.Atoi(args[1])
	cleared, ok := parseCleared(args[2])
	if !ok {
		b.sendMessage(msg.Chat.ID, usage)
		return
	}

	record := models.CollectionRecord{
		Badge:    args[0],
		Quantity: qty,
		Sector:   b.sectorFor(msg.Chat.ID, args[3:]),
	}

	result, err := b.ledger.RecordCollection(ctx, record, &cleared)
	if err != nil {
		b.sendMessage(msg.Chat.ID, render.Error(err, result))
		return
	}

	b.sendMessage(msg.Chat.ID, render.Collection(result))
	if result.Outcome == models.OutcomeResolved {
		b.notifyTeam(msg.Chat.ID, render.TeamResolved(result))
	}
}

func (b *Bot) handleHistory(ctx context.Context, msg *tgbotapi.Message) {
	limit := historyLimit
	if arg := strings.TrimSpace(msg.CommandArguments()); arg != "" {
		if n, err := strconv.Atoi(arg); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := b.ledger.ListHistory(ctx)
	if err != nil {
		b.sendMessage(msg.Chat.ID, render.Error(err, ledger.CollectionResult{}))
		return
	}
	b.sendMessage(msg.Chat.ID, render.History(records, limit))
}

// sectorFor uses the typed sector, falling back to the one set by /start
func (b *Bot) sectorFor(chatID int64, words []string) string {
	if sector := models.NormalizeSector(strings.Join(words, " ")); sector != "" {
		return sector
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sectors[chatID]
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := b.api.Send(msg)
	if err != nil {
		b.logger.Error("failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// notifyTeam mirrors an event to the team chat unless it happened there
func (b *Bot) notifyTeam(fromChat int64, text string) {
	if b.teamChat == 0 || b.teamChat == fromChat {
		return
	}
	b.sendMessage(b.teamChat, text)
}

func parseCleared(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "limpo", "sim", "s", "ok":
		return true, true
	case "parcial", "nao", "não", "n":
		return false, true
	}
	return false, false
}

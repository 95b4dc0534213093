package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hcpa/caixas/internal/ledger"
	"github.com/hcpa/caixas/internal/store"
	"github.com/hcpa/caixas/internal/store/memstore"
)

const (
	staffChat = int64(100)
	teamChat  = int64(-500)
)

type sent struct {
	chatID int64
	text   string
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sent
}

func (f *fakeMessenger) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg, ok := c.(tgbotapi.MessageConfig)
	if !ok {
		return tgbotapi.Message{}, errors.New("unexpected chattable")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{chatID: msg.ChatID, text: msg.Text})
	return tgbotapi.Message{}, nil
}

func (f *fakeMessenger) to(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		if s.chatID == chatID {
			out = append(out, s.text)
		}
	}
	return out
}

func (f *fakeMessenger) last(chatID int64) string {
	msgs := f.to(chatID)
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

// downStore fails every call once down is set.
type downStore struct {
	store.Store
	down bool
}

func (d *downStore) AppendRow(ctx context.Context, table store.Table, values []string) error {
	if d.down {
		return errors.New("connection refused")
	}
	return d.Store.AppendRow(ctx, table, values)
}

func (d *downStore) ListRows(ctx context.Context, table store.Table) ([]store.Record, error) {
	if d.down {
		return nil, errors.New("connection refused")
	}
	return d.Store.ListRows(ctx, table)
}

func setupBot(t *testing.T) (*Bot, *fakeMessenger, *downStore) {
	t.Helper()
	st := &downStore{Store: memstore.New()}
	fm := &fakeMessenger{}
	b := newBot(fm, ledger.New(st, ledger.WithLocation(time.UTC)), teamChat, nil)
	b.now = func() time.Time { return time.Date(2026, 3, 9, 7, 45, 0, 0, time.UTC) }
	return b, fm, st
}

func command(chatID int64, text string) *tgbotapi.Message {
	name, _, _ := strings.Cut(text, " ")
	return &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: chatID},
		From:     &tgbotapi.User{ID: 7, FirstName: "Ana"},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}
}

func TestNotifyThenPanel(t *testing.T) {
	b, fm, _ := setupBot(t)
	ctx := context.Background()

	b.handle(ctx, command(staffChat, "/notificar 10 emergência"))
	assert.Contains(t, fm.last(staffChat), "Alerta enviado para EMERGÊNCIA!")
	assert.Contains(t, fm.last(staffChat), "07:45")
	assert.Contains(t, fm.last(teamChat), "NOVO CHAMADO • EMERGÊNCIA")

	b.handle(ctx, command(staffChat, "/painel"))
	assert.Contains(t, fm.last(staffChat), "CHAMADOS ATIVOS (1)")
	assert.Contains(t, fm.last(staffChat), "EMERGÊNCIA • Até 10 (1 carro)")
}

func TestPanelEmpty(t *testing.T) {
	b, fm, _ := setupBot(t)

	b.handle(context.Background(), command(staffChat, "/painel"))
	assert.Equal(t, "✅ Tudo limpo!", fm.last(staffChat))
}

func TestNotifyUsesStartPrefill(t *testing.T) {
	b, fm, _ := setupBot(t)
	ctx := context.Background()

	b.handle(ctx, command(staffChat, "/start uti"))
	assert.Contains(t, fm.last(staffChat), "Setor definido: UTI")

	b.handle(ctx, command(staffChat, "/notificar +10"))
	assert.Contains(t, fm.last(staffChat), "Alerta enviado para UTI!")
}

func TestNotifyValidation(t *testing.T) {
	b, fm, _ := setupBot(t)
	ctx := context.Background()

	b.handle(ctx, command(staffChat, "/notificar"))
	assert.Contains(t, fm.last(staffChat), "Uso: /notificar")

	b.handle(ctx, command(staffChat, "/notificar muitas UTI"))
	assert.Equal(t, "⚠️ Escolha o volume: 5, 10 ou +10.", fm.last(staffChat))

	// no sector typed and none prefilled
	b.handle(ctx, command(staffChat, "/notificar 5"))
	assert.Equal(t, "⚠️ Informe a unidade/setor.", fm.last(staffChat))

	assert.Empty(t, fm.to(teamChat))
}

func TestCollectResolves(t *testing.T) {
	b, fm, _ := setupBot(t)
	ctx := context.Background()

	b.handle(ctx, command(staffChat, "/notificar 5 CTI"))
	b.handle(ctx, command(staffChat, "/coleta 12345 4 limpo cti"))
	assert.Contains(t, fm.last(staffChat), "Coleta registrada!")
	assert.Contains(t, fm.last(staffChat), "Chamado de CTI encerrado.")
	assert.Contains(t, fm.last(teamChat), "Chamado de CTI encerrado")

	b.handle(ctx, command(staffChat, "/coleta 12345 1 limpo CTI"))
	assert.Contains(t, fm.last(staffChat), "Nenhum chamado aberto para CTI.")

	b.handle(ctx, command(staffChat, "/historico"))
	assert.Contains(t, fm.last(staffChat), "(2 de 2)")
}

func TestCollectPartialKeepsRequest(t *testing.T) {
	b, fm, _ := setupBot(t)
	ctx := context.Background()

	b.handle(ctx, command(staffChat, "/start CTI"))
	b.handle(ctx, command(staffChat, "/notificar 10"))
	b.handle(ctx, command(staffChat, "/coleta 12345 6 parcial"))
	assert.Contains(t, fm.last(staffChat), "O chamado de CTI continua aberto.")

	b.handle(ctx, command(staffChat, "/painel"))
	assert.Contains(t, fm.last(staffChat), "CHAMADOS ATIVOS (1)")
}

func TestCollectValidation(t *testing.T) {
	b, fm, _ := setupBot(t)
	ctx := context.Background()

	b.handle(ctx, command(staffChat, "/coleta 12345"))
	assert.Contains(t, fm.last(staffChat), "Uso: /coleta")

	b.handle(ctx, command(staffChat, "/coleta 12345 2 talvez UTI"))
	assert.Contains(t, fm.last(staffChat), "Uso: /coleta")

	b.handle(ctx, command(staffChat, "/coleta 12345 zero limpo UTI"))
	assert.Equal(t, "⚠️ A quantidade coletada deve ser pelo menos 1.", fm.last(staffChat))
}

func TestConnectionFailureBanner(t *testing.T) {
	b, fm, st := setupBot(t)
	st.down = true

	b.handle(context.Background(), command(staffChat, "/painel"))
	assert.Contains(t, fm.last(staffChat), "Erro ao conectar com a planilha")

	b.handle(context.Background(), command(staffChat, "/coleta 1 1 limpo UTI"))
	assert.Contains(t, fm.last(staffChat), "Erro ao conectar com a planilha")
}

func TestEveryCommandReplies(t *testing.T) {
	b, fm, _ := setupBot(t)
	ctx := context.Background()

	for _, text := range []string{"/ajuda", "/help", "/start", "/historico 3", "/desconhecido"} {
		before := len(fm.to(staffChat))
		b.handle(ctx, command(staffChat, text))
		assert.Len(t, fm.to(staffChat), before+1, text)
	}

	before := len(fm.to(staffChat))
	b.handle(ctx, &tgbotapi.Message{Text: "oi", Chat: &tgbotapi.Chat{ID: staffChat}})
	assert.Len(t, fm.to(staffChat), before+1)
}

func TestPostDigest(t *testing.T) {
	b, fm, _ := setupBot(t)
	ctx := context.Background()

	require.NoError(t, b.PostDigest(ctx))
	assert.Empty(t, fm.to(teamChat))

	b.handle(ctx, command(teamChat, "/notificar 5 UTI"))
	require.NoError(t, b.PostDigest(ctx))
	assert.Contains(t, fm.last(teamChat), "Lembrete de coleta")
}

func TestRunDigestStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	b, fm, _ := setupBot(t)
	b.handle(context.Background(), command(staffChat, "/notificar 5 UTI"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.RunDigest(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(fm.last(teamChat), "Lembrete de coleta")
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestRunWithoutConnection(t *testing.T) {
	b, _, _ := setupBot(t)
	assert.Error(t, b.Run(context.Background()))
}

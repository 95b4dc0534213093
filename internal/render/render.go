// Package render turns ledger results into the Portuguese text shown to staff.
package render

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hcpa/caixas/internal/ledger"
	"github.com/hcpa/caixas/internal/models"
)

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━"

// Notified confirms an alert to the person who sent it
func Notified(req models.PendingRequest) string {
	return fmt.Sprintf("📢 Alerta enviado para %s!\n📦 %s • 🕒 %s", req.Sector, req.Volume.Label(), req.ReportedAt)
}

// TeamAlert announces a new request to the collection team
func TeamAlert(req models.PendingRequest) string {
	return fmt.Sprintf("📦 NOVO CHAMADO • %s\n%s • %s", req.Sector, req.Volume.Label(), req.ReportedAt)
}

// PendingPanel lists open requests, oldest first
func PendingPanel(pending []models.PendingRequest) string {
	if len(pending) == 0 {
		return "✅ Tudo limpo!"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📊 CHAMADOS ATIVOS (%d)\n%s\n", len(pending), rule))
	for i, req := range pending {
		sb.WriteString(fmt.Sprintf("%d. %s • %s • %s\n", i+1, req.Sector, req.Volume.Label(), req.ReportedAt))
	}
	sb.WriteString(rule)
	return sb.String()
}

// Digest is the periodic reminder posted to the team chat. Empty when
// nothing is pending.
func Digest(pending []models.PendingRequest) string {
	if len(pending) == 0 {
		return ""
	}
	return "⏰ Lembrete de coleta\n\n" + PendingPanel(pending)
}

// Collection describes the outcome of a recorded pickup
func Collection(result ledger.CollectionResult) string {
	rec := result.Record
	head := fmt.Sprintf("✅ Coleta registrada! %s • %d caixa(s) • cartão %s", rec.Sector, rec.Quantity, rec.Badge)

	switch result.Outcome {
	case models.OutcomeResolved:
		return head + fmt.Sprintf("\nChamado de %s encerrado.", rec.Sector)
	case models.OutcomeLoggedOnly:
		return head + fmt.Sprintf("\nNenhum chamado aberto para %s.", rec.Sector)
	case models.OutcomeLoggedNotCleared:
		return head + fmt.Sprintf("\nO chamado de %s continua aberto.", rec.Sector)
	default:
		return head
	}
}

// TeamResolved tells the team a request was closed
func TeamResolved(result ledger.CollectionResult) string {
	return fmt.Sprintf("✅ Chamado de %s encerrado (cartão %s, %d caixa(s))",
		result.Record.Sector, result.Record.Badge, result.Record.Quantity)
}

// History lists the latest collections, newest first
func History(records []models.CollectionRecord, limit int) string {
	if len(records) == 0 {
		return "Nenhuma coleta registrada ainda."
	}
	if limit <= 0 || limit > len(records) {
		limit = len(records)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📜 ÚLTIMAS COLETAS (%d de %d)\n%s\n", limit, len(records), rule))
	for i := len(records) - 1; i >= len(records)-limit; i-- {
		rec := records[i]
		sb.WriteString(fmt.Sprintf("%s • %s • %d caixa(s) • cartão %s%s\n",
			rec.CompletedAt, rec.Sector, rec.Quantity, rec.Badge, clearedSuffix(rec.SiteCleared)))
	}
	sb.WriteString(rule)
	return sb.String()
}

// Error maps a ledger error onto a validation prompt or the connection
// failure banner. A collection whose history was written but whose request
// could not be closed gets its own warning.
func Error(err error, result ledger.CollectionResult) string {
	var verr *ledger.ValidationError
	if errors.As(err, &verr) {
		return "⚠️ " + validationPrompt(verr)
	}
	if result.HistoryLogged {
		return fmt.Sprintf("⚠️ Coleta registrada, mas não foi possível encerrar o chamado de %s. Tente novamente ou avise a coordenação.",
			result.Record.Sector)
	}
	return "❌ Erro ao conectar com a planilha. Tente novamente em instantes."
}

func validationPrompt(verr *ledger.ValidationError) string {
	switch verr.Field {
	case "sector":
		return "Informe a unidade/setor."
	case "badge":
		return "Informe o cartão ponto."
	case "quantity":
		return "A quantidade coletada deve ser pelo menos 1."
	case "volume":
		return "Escolha o volume: 5, 10 ou +10."
	default:
		return "Verifique os dados: " + verr.Reason
	}
}

func clearedSuffix(cleared *bool) string {
	switch {
	case cleared == nil:
		return ""
	case *cleared:
		return " • local limpo"
	default:
		return " • parcial"
	}
}

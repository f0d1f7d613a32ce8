package heartbeat

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/catalystbot/catalystbot/internal/alerts"
)

// BuildSummaryMessage renders a heartbeat window as a compact embed.
func BuildSummaryMessage(channel string, s Summary) *alerts.Message {
	var reasons []string
	for reason, n := range s.ByReason {
		reasons = append(reasons, fmt.Sprintf("%s: %d", reason, n))
	}
	desc := fmt.Sprintf("cycles %d · scanned %d · alerted %d · deferred %d · errors %d",
		s.Cycles, s.Scanned, s.Alerted, s.Deferred, s.Errors)

	embed := alerts.Embed{
		Title:       "Heartbeat",
		Description: desc,
		Timestamp:   s.WindowEnd.UTC().Format(time.RFC3339),
	}
	if len(reasons) > 0 {
		embed.Fields = append(embed.Fields, alerts.EmbedField{
			Name: "Rejections", Value: strings.Join(reasons, "\n"),
		})
	}
	return &alerts.Message{
		Channel:        channel,
		Embeds:         []alerts.Embed{embed},
		IdempotencyKey: uuid.NewString(),
	}
}

// BuildReportMessage renders the nightly report with approve/reject buttons
// per recommendation. Button custom ids carry the proposed mutation so the
// control surface can route an approval straight into the parameter store.
func BuildReportMessage(channel string, r *Report) *alerts.Message {
	embed := alerts.Embed{
		Title: fmt.Sprintf("Nightly Report — %s", r.Day.Format("2006-01-02")),
		Description: fmt.Sprintf("dispatched %d · rejected %d · win rate %.0f%% (%d/%d evaluated)",
			r.Dispatched, r.Rejected, r.WinRate*100, r.Wins, r.Evaluated),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if len(r.TopKeywords) > 0 {
		embed.Fields = append(embed.Fields, alerts.EmbedField{
			Name: "Top catalysts", Value: keywordTable(r.TopKeywords), Inline: true,
		})
	}
	if len(r.BottomKeywords) > 0 {
		embed.Fields = append(embed.Fields, alerts.EmbedField{
			Name: "Bottom catalysts", Value: keywordTable(r.BottomKeywords), Inline: true,
		})
	}

	var rows []alerts.Component
	for i, rec := range r.Recommendations {
		embed.Fields = append(embed.Fields, alerts.EmbedField{
			Name:  fmt.Sprintf("Recommendation %d: %s %.2f → %.2f", i+1, rec.Key, rec.Current, rec.Proposed),
			Value: rec.Rationale,
		})
		if rec.Proposed == rec.Current {
			continue
		}
		rows = append(rows, alerts.Component{
			Type: alerts.ComponentActionRow,
			Components: []alerts.Component{
				{
					Type:     alerts.ComponentButton,
					Style:    alerts.ButtonSuccess,
					Label:    fmt.Sprintf("Approve %s=%.2f", rec.Key, rec.Proposed),
					CustomID: fmt.Sprintf("report:approve:%s:%.4f", rec.Key, rec.Proposed),
				},
				{
					Type:     alerts.ComponentButton,
					Style:    alerts.ButtonDanger,
					Label:    "Reject",
					CustomID: fmt.Sprintf("report:reject:%s", rec.Key),
				},
			},
		})
	}

	return &alerts.Message{
		Channel:        channel,
		Embeds:         []alerts.Embed{embed},
		Components:     rows,
		IdempotencyKey: uuid.NewString(),
	}
}

func keywordTable(kps []KeywordPerformance) string {
	var lines []string
	for _, kp := range kps {
		lines = append(lines, fmt.Sprintf("`%s` %.0f%% (%d)", kp.Tag, kp.WinRate*100, kp.Alerts))
	}
	return strings.Join(lines, "\n")
}

package alerts

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/catalystbot/catalystbot/internal/models"
)

// Embed colors keyed by sentiment direction.
const (
	colorBullish = 0x2ecc71
	colorBearish = 0xe74c3c
	colorNeutral = 0x95a5a6
)

// Builder composes alert messages from classified items: title, price line,
// sentiment gauge, keyword tags, chart image, and source link. Charts and
// gauges attach as files; the embed references them by attachment URI.
type Builder struct {
	charts  *ChartCache
	gauges  Renderer // optional sentiment-gauge renderer
	channel string
}

// NewBuilder wires the builder; gauges may be nil.
func NewBuilder(charts *ChartCache, gauges Renderer, channel string) *Builder {
	return &Builder{charts: charts, gauges: gauges, channel: channel}
}

// Build composes the outgoing message for one classified item.
func (b *Builder) Build(ctx context.Context, ci *models.ClassifiedItem) *Message {
	embed := Embed{
		Title:     ci.Item.Title,
		URL:       ci.Item.URL,
		Color:     colorFor(ci.Sentiment),
		Timestamp: ci.Item.PublishedAt.UTC().Format(time.RFC3339),
		Footer:    &EmbedFooter{Text: ci.Item.Source},
		Fields: []EmbedField{
			{Name: "Ticker", Value: "$" + ci.Item.Ticker, Inline: true},
			{Name: "Score", Value: fmt.Sprintf("%.2f", ci.Score), Inline: true},
			{Name: "Sentiment", Value: sentimentLine(ci), Inline: true},
		},
	}
	if line := priceLine(ci.Price); line != "" {
		embed.Fields = append(embed.Fields, EmbedField{Name: "Price", Value: line, Inline: true})
	}
	if tags := keywordTags(ci.KeywordsHit); tags != "" {
		embed.Fields = append(embed.Fields, EmbedField{Name: "Catalysts", Value: tags})
	}
	if ci.Verdict != nil && ci.Verdict.Present && ci.Verdict.Rationale != "" {
		embed.Fields = append(embed.Fields, EmbedField{Name: "Read", Value: ci.Verdict.Rationale})
	}

	msg := &Message{
		Channel:        b.channel,
		IdempotencyKey: uuid.NewString(),
	}

	// Attachment ids are positional: the JSON array order must match the
	// multipart file parts exactly.
	if b.charts != nil && ci.Item.Ticker != "" {
		if path, err := b.charts.Get(ctx, ci.Item.Ticker); err == nil {
			name := filepath.Base(path)
			embed.Image = &EmbedImage{URL: "attachment://" + name}
			msg.Attachments = append(msg.Attachments, Attachment{
				ID: len(msg.Attachments), Filename: name, Description: "Chart", Path: path,
			})
		} else {
			log.Debug().Err(err).Str("ticker", ci.Item.Ticker).Msg("alerting without chart")
		}
	}
	if b.gauges != nil {
		if path, err := b.gauges.Render(ctx, ci.Item.Ticker); err == nil {
			if abs, err := filepath.Abs(path); err == nil {
				name := filepath.Base(abs)
				embed.Thumbnail = &EmbedImage{URL: "attachment://" + name}
				msg.Attachments = append(msg.Attachments, Attachment{
					ID: len(msg.Attachments), Filename: name, Description: "Sentiment Gauge", Path: abs,
				})
			}
		}
	}

	msg.Embeds = []Embed{embed}
	return msg
}

func colorFor(sentiment float64) int {
	switch {
	case sentiment >= 0.1:
		return colorBullish
	case sentiment <= -0.1:
		return colorBearish
	default:
		return colorNeutral
	}
}

func sentimentLine(ci *models.ClassifiedItem) string {
	arrow := "→"
	if ci.Sentiment >= 0.1 {
		arrow = "▲"
	} else if ci.Sentiment <= -0.1 {
		arrow = "▼"
	}
	return fmt.Sprintf("%s %.2f (conf %.2f)", arrow, ci.Sentiment, ci.Confidence)
}

func priceLine(p *models.PriceSnapshot) string {
	if p == nil || !p.HasLast() {
		return ""
	}
	line := fmt.Sprintf("$%.2f", *p.Last)
	if p.ChangePct != nil {
		line += fmt.Sprintf(" (%+.1f%%)", *p.ChangePct)
	}
	return line
}

func keywordTags(hits map[string]float64) string {
	if len(hits) == 0 {
		return ""
	}
	tags := make([]string, 0, len(hits))
	for tag := range hits {
		tags = append(tags, "`"+tag+"`")
	}
	sort.Strings(tags)
	return strings.Join(tags, " ")
}

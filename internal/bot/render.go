package bot

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/DukeRupert/askbot/internal/domain"
	"github.com/DukeRupert/askbot/internal/service"
)

// callbackPrefix marks inline buttons that purchase a tier.
const callbackPrefix = "sub_"

// Renderer formats replies for the chat. Numbers are grouped for the
// configured locale.
type Renderer struct {
	p *message.Printer
}

// NewRenderer returns a Renderer for a BCP 47 locale such as "en" or "de".
// Unknown locales fall back to English.
func NewRenderer(locale string) *Renderer {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return &Renderer{p: message.NewPrinter(tag)}
}

// Welcome is the /start greeting.
func (r *Renderer) Welcome(name string, w *service.Welcome) string {
	if name == "" {
		name = "there"
	}
	return r.p.Sprintf("Hello, %s! Ask me anything and I will answer with the help of a neural network. "+
		"You can also send a photo with a question in the caption.\n\n"+
		"You have %d free requests per day. For unlimited access, choose a subscription below.",
		name, w.FreeLimit)
}

// Stats is the /stats summary.
func (r *Renderer) Stats(s *service.UserStats) string {
	var b strings.Builder
	b.WriteString("Your stats\n\n")
	b.WriteString(userLine(s.Username, s.UserID))
	b.WriteString(r.p.Sprintf("Registered: %s\n", s.RegisteredAt.Format("2006-01-02")))

	switch {
	case s.SubscriptionActive:
		b.WriteString(r.p.Sprintf("Status: subscribed until %s\n", s.SubscriptionEnd.String()))
	case s.SubscriptionEnd != nil && s.SubscriptionEnd.IsValid():
		b.WriteString(r.p.Sprintf("Status: free tier (subscription ended %s)\n", s.SubscriptionEnd.String()))
	default:
		b.WriteString("Status: free tier\n")
	}

	for _, q := range s.Quotas {
		b.WriteString(r.quotaLine(q))
	}

	if !s.SubscriptionActive {
		b.WriteString(r.p.Sprintf("Next reset: tomorrow (%s)", s.NextReset.String()))
	}
	return strings.TrimRight(b.String(), "\n")
}

// userLine is printed without locale grouping: an id is not a quantity.
func userLine(username string, userID int64) string {
	if username == "" {
		return fmt.Sprintf("User ID: %d\n", userID)
	}
	return fmt.Sprintf("User: @%s (ID %d)\n", username, userID)
}

func (r *Renderer) quotaLine(q service.QuotaStatus) string {
	label := "Requests"
	if q.Category == domain.QuotaCategoryImage {
		label = "Photo requests"
	}
	if q.Remaining.IsUnbounded() {
		return r.p.Sprintf("%s left today: %s\n", label, q.Remaining.String())
	}
	return r.p.Sprintf("%s left today: %d of %d\n", label, q.Remaining.Count(), q.Limit)
}

// Denied explains an exhausted quota.
func (r *Renderer) Denied(reply *service.Reply) string {
	what := "free requests"
	if reply.Category == domain.QuotaCategoryImage {
		what = "free photo requests"
	}
	return r.p.Sprintf("You have used all %d %s for today. "+
		"Subscribe for unlimited access or come back tomorrow.", reply.Limit, what)
}

// Remaining is the follow-up after a free-tier answer. It returns "" for
// unbounded quota so subscribers never see a count.
func (r *Renderer) Remaining(reply *service.Reply) string {
	if reply.Remaining.IsUnbounded() {
		return ""
	}
	return r.p.Sprintf("Free requests left today: %d", reply.Remaining.Count())
}

// Plans introduces the tier keyboard.
func (r *Renderer) Plans() string {
	return "Choose a subscription for unlimited requests:"
}

// TierLabel is the button text for a tier.
func (r *Renderer) TierLabel(t domain.SubscriptionTier) string {
	return r.p.Sprintf("%s: %d days for %d", t.Title, t.DurationDays, t.PriceUnits)
}

// Purchased confirms an activated subscription.
func (r *Renderer) Purchased(c *service.Confirmation) string {
	return r.p.Sprintf("Subscription \"%s\" activated for %d days (price %d). "+
		"Unlimited access until %s inclusive.",
		c.Tier.Title, c.DurationDays, c.Tier.PriceUnits, c.NewExpiry.String())
}

// ManualPayment answers a tier button when payments are confirmed by the
// operator.
func (r *Renderer) ManualPayment(t domain.SubscriptionTier) string {
	return r.p.Sprintf("To activate \"%s\" (%d days, price %d), contact the operator. "+
		"Your subscription starts as soon as the payment is confirmed.",
		t.Title, t.DurationDays, t.PriceUnits)
}

// Keyboard renders the tier buttons, one per row.
func (r *Renderer) Keyboard(tiers []domain.SubscriptionTier) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(tiers))
	for _, t := range tiers {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(r.TierLabel(t), callbackPrefix+t.ID),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// tierFromCallback extracts the tier id from callback data.
func tierFromCallback(data string) (string, bool) {
	if !strings.HasPrefix(data, callbackPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(data, callbackPrefix)
	return id, id != ""
}

// userMessage converts an error into text safe to show in the chat.
func userMessage(err error) string {
	switch domain.ErrorCode(err) {
	case domain.EUPSTREAM, domain.ETIMEOUT:
		return "Error contacting the neural network. Please try again later."
	case domain.ESTORAGE, domain.EINTERNAL:
		return "Something went wrong on our side. Please try again later."
	case domain.ERATELIMIT:
		return "You are sending messages too fast. Please slow down."
	default:
		return fmt.Sprintf("Sorry, I can't do that: %s", domain.ErrorMessage(err))
	}
}

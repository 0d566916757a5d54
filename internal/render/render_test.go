package render

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/example/prospect-sender/internal/prospect"
)

func TestRender(t *testing.T) {
	in := Input{
		RecipientID: "p-42",
		Recipient: prospect.RecipientData{
			CompanyName: "Barbearia Central",
			City:        "Campinas",
			Niche:       "barbershop",
			HasWebsite:  true,
			HasReviews:  true,
		},
		Campaign:    prospect.Campaign{Headline: "Get booked online", Offer: "30 days free"},
		LinkBaseURL: "https://demo.example.com/",
	}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{
			name:     "recipient fields",
			template: "Hi {company_name} from {city}, we help {niche} owners.",
			want:     "Hi Barbearia Central from Campinas, we help barbershop owners.",
		},
		{
			name:     "missing features",
			template: "We noticed:\n{missing_features}",
			want:     "We noticed:\n• No online booking\n• No social media profile",
		},
		{
			name:     "deep link",
			template: "See it: {link}",
			want:     "See it: https://demo.example.com/p/p-42",
		},
		{
			name:     "campaign fields",
			template: "{headline}! {offer}",
			want:     "Get booked online! 30 days free",
		},
		{
			name:     "optional campaign field without data stays literal",
			template: "Benefits: {benefits}",
			want:     "Benefits: {benefits}",
		},
		{
			name:     "unknown placeholder stays literal",
			template: "Hello {owner_name}, {company_name}",
			want:     "Hello {owner_name}, Barbearia Central",
		},
		{
			name:     "no placeholders",
			template: "plain text",
			want:     "plain text",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Render(tc.template, in))
		})
	}
}

func TestRenderLinkWithoutBaseURL(t *testing.T) {
	got := Render("{link}", Input{RecipientID: "p-1"})
	assert.Equal(t, "{link}", got)
}

func TestMessagePrefersPrecomputed(t *testing.T) {
	c := prospect.Candidate{
		ID:                 "p-7",
		Data:               prospect.RecipientData{CompanyName: "Acme"},
		PrecomputedMessage: "Written upstream for {company_name}",
	}
	got := Message("Hi {company_name}", c, prospect.Campaign{}, "")
	assert.Equal(t, "Written upstream for {company_name}", got)

	c.PrecomputedMessage = "  "
	got = Message("Hi {company_name}", c, prospect.Campaign{}, "")
	assert.Equal(t, "Hi Acme", got)
}

func TestMissingFeaturesAllPresent(t *testing.T) {
	d := prospect.RecipientData{HasWebsite: true, HasOnlineBooking: true, HasSocialProfile: true, HasReviews: true}
	assert.Empty(t, MissingFeatures(d))
}

package render

import (
	"regexp"
	"strings"

	"github.com/example/prospect-sender/internal/prospect"
)

type Key string

const (
	KeyCompanyName     Key = "company_name"
	KeyCity            Key = "city"
	KeyNiche           Key = "niche"
	KeyMissingFeatures Key = "missing_features"
	KeyLink            Key = "link"
	KeyHeadline        Key = "headline"
	KeyBenefits        Key = "benefits"
	KeyOffer           Key = "offer"
)

// Input is everything a template may reference for one recipient.
type Input struct {
	RecipientID string
	Recipient   prospect.RecipientData
	Campaign    prospect.Campaign
	LinkBaseURL string
}

// accessor returns the value for a key and whether it resolved. Unresolved
// keys keep their literal placeholder.
type accessor func(in Input) (string, bool)

var accessors = map[Key]accessor{
	KeyCompanyName:     func(in Input) (string, bool) { return in.Recipient.CompanyName, true },
	KeyCity:            func(in Input) (string, bool) { return in.Recipient.City, true },
	KeyNiche:           func(in Input) (string, bool) { return in.Recipient.Niche, true },
	KeyMissingFeatures: func(in Input) (string, bool) { return MissingFeatures(in.Recipient), true },
	KeyLink:            link,
	KeyHeadline:        optional(func(c prospect.Campaign) string { return c.Headline }),
	KeyBenefits:        optional(func(c prospect.Campaign) string { return c.Benefits }),
	KeyOffer:           optional(func(c prospect.Campaign) string { return c.Offer }),
}

var placeholder = regexp.MustCompile(`\{([a-z_]+)\}`)

// Render fills template with the recipient and campaign values. Unknown
// placeholders are left untouched.
func Render(template string, in Input) string {
	return placeholder.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		fn, ok := accessors[Key(name)]
		if !ok {
			return match
		}
		value, ok := fn(in)
		if !ok {
			return match
		}
		return value
	})
}

// Message returns the final body for a candidate. A precomputed message wins
// over the template.
func Message(template string, c prospect.Candidate, campaign prospect.Campaign, linkBaseURL string) string {
	if strings.TrimSpace(c.PrecomputedMessage) != "" {
		return c.PrecomputedMessage
	}
	return Render(template, Input{
		RecipientID: c.ID,
		Recipient:   c.Data,
		Campaign:    campaign,
		LinkBaseURL: linkBaseURL,
	})
}

// MissingFeatures lists, one per line, the online presence items the
// recipient lacks.
func MissingFeatures(d prospect.RecipientData) string {
	var lines []string
	if !d.HasWebsite {
		lines = append(lines, "• No website")
	}
	if !d.HasOnlineBooking {
		lines = append(lines, "• No online booking")
	}
	if !d.HasSocialProfile {
		lines = append(lines, "• No social media profile")
	}
	if !d.HasReviews {
		lines = append(lines, "• No customer reviews")
	}
	return strings.Join(lines, "\n")
}

func link(in Input) (string, bool) {
	if in.RecipientID == "" || in.LinkBaseURL == "" {
		return "", false
	}
	return strings.TrimRight(in.LinkBaseURL, "/") + "/p/" + in.RecipientID, true
}

func optional(get func(prospect.Campaign) string) accessor {
	return func(in Input) (string, bool) {
		v := get(in.Campaign)
		return v, v != ""
	}
}

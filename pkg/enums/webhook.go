package enums

// WebhookSource records which entry point accepted a processor event.
type WebhookSource string

const (
	WebhookSourceSigned WebhookSource = "signed"
	WebhookSourceStripe WebhookSource = "stripe"
)

func (w WebhookSource) IsValid() bool {
	return w == WebhookSourceSigned || w == WebhookSourceStripe
}

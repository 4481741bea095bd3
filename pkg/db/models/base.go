package models

import "github.com/google/uuid"

// ensureID assigns a UUID in Go so inserts behave the same on Postgres and SQLite.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

// All lists every model owned by this service, in dependency order.
func All() []any {
	return []any{
		&User{},
		&Organization{},
		&OrganizationMembership{},
		&BillingIdentity{},
		&FundingIntent{},
		&BountyFunding{},
		&Settlement{},
		&MembershipPlan{},
		&CanceledSubscription{},
		&WebhookEvent{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}

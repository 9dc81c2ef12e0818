package models

// All lists every model managed by AutoMigrate.
func All() []any {
	return []any{
		&Organization{},
		&Site{},
		&Device{},
		&PassType{},
		&IntegrationConfig{},
		&IntegrationLog{},
		&Pass{},
		&Payment{},
		&LockCode{},
		&BackupPincode{},
		&ProcessedWebhookEvent{},
		&OutboxEvent{},
		&WebhookSubscription{},
		&WebhookDelivery{},
	}
}

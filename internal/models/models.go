package models

// All lists every table the service migrates, parents before children.
func All() []any {
	return []any{
		&Profile{},
		&Handbook{},
		&HandbookMember{},
		&Section{},
		&Page{},
		&Subscription{},
		&SubscriptionLog{},
		&SubscriptionDailySnapshot{},
		&GDPRRequest{},
		&GDPRExport{},
		&AccountDeletion{},
		&UserConsent{},
		&AuditLog{},
		&CriticalAlert{},
		&ForumTopic{},
		&ForumPost{},
		&ForumNotification{},
		&NotificationPreference{},
		&DocumentImport{},
		&WebhookLog{},
	}
}

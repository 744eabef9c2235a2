package model

import "time"

type AuditKind string

const (
	AuditUserKeys         AuditKind = "user_keys"
	AuditChatSecret       AuditKind = "chat_secret"
	AuditPlaintextMessage AuditKind = "plaintext_message"
	AuditEncryptedMessage AuditKind = "encrypted_message"
	AuditNetworkTraffic   AuditKind = "network_traffic"
)

type (
	AuditRecord struct {
		Kind      AuditKind      `json:"kind" bson:"kind"`
		Fields    map[string]any `json:"fields" bson:"fields"`
		CreatedAt time.Time      `json:"created_at" bson:"created_at"`
	}
)

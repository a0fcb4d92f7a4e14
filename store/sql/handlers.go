package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func magicLinkHandlers() repository.ModelHandlers[*magicLinkRecord] {
	return repository.ModelHandlers[*magicLinkRecord]{
		NewRecord: func() *magicLinkRecord {
			return &magicLinkRecord{}
		},
		GetID: func(record *magicLinkRecord) uuid.UUID {
			// Magic link ids are random tokens, not UUIDs; lookups go
			// through the identifier column instead.
			return uuid.Nil
		},
		SetID: func(record *magicLinkRecord, id uuid.UUID) {
			if record == nil || record.ID != "" {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *magicLinkRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func deviceHandlers() repository.ModelHandlers[*deviceRecord] {
	return repository.ModelHandlers[*deviceRecord]{
		NewRecord: func() *deviceRecord {
			return &deviceRecord{}
		},
		GetID: func(record *deviceRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *deviceRecord, id uuid.UUID) {
			if record == nil || record.ID != "" {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *deviceRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func eventHandlers() repository.ModelHandlers[*eventRecord] {
	return repository.ModelHandlers[*eventRecord]{
		NewRecord: func() *eventRecord {
			return &eventRecord{}
		},
		GetID: func(record *eventRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *eventRecord, id uuid.UUID) {
			if record == nil || record.ID != "" {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *eventRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func parseUUID(input string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(input))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}

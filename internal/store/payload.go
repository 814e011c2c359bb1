package store

import (
	"database/sql"
	"encoding/json"
)

func decodeEventPayload(payload sql.NullString) json.RawMessage {
	if !payload.Valid || payload.String == "" {
		return nil
	}

	var decoded any
	if err := json.Unmarshal([]byte(payload.String), &decoded); err != nil {
		return nil
	}

	normalized, err := json.Marshal(decoded)
	if err != nil {
		return nil
	}

	return json.RawMessage(normalized)
}

package quota

import (
	"encoding/json"
	"fmt"

	"github.com/kailas-cloud/printbot/internal/domain"
	domquota "github.com/kailas-cloud/printbot/internal/domain/quota"
)

// schemaVersion is written with every record. Records without it are read as version 1.
const schemaVersion = 1

type recordDTO struct {
	Version int    `json:"version,omitempty"`
	Date    string `json:"date"`
	Count   *int   `json:"count"`
}

func encodeRecord(rec domquota.Record) ([]byte, error) {
	count := rec.Count
	data, err := json.Marshal(recordDTO{Version: schemaVersion, Date: rec.Date, Count: &count})
	if err != nil {
		return nil, fmt.Errorf("marshal quota record: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (domquota.Record, error) {
	var dto recordDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return domquota.Record{}, fmt.Errorf("%w: %v", domain.ErrQuotaStorageCorrupt, err)
	}
	if dto.Count == nil {
		return domquota.Record{}, fmt.Errorf("%w: missing count", domain.ErrQuotaStorageCorrupt)
	}
	if dto.Version > schemaVersion {
		return domquota.Record{}, fmt.Errorf("%w: unsupported version %d", domain.ErrQuotaStorageCorrupt, dto.Version)
	}

	rec := domquota.Record{Date: dto.Date, Count: *dto.Count}
	if err := rec.Validate(); err != nil {
		return domquota.Record{}, fmt.Errorf("%w: %v", domain.ErrQuotaStorageCorrupt, err)
	}
	return rec, nil
}

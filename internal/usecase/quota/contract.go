package quota

import (
	"context"

	domquota "github.com/kailas-cloud/printbot/internal/domain/quota"
)

// Store persists the single quota record.
// Load returns found=false with no error when nothing has been stored yet.
// Lock opens a critical section shared with every other holder of the same record,
// including other processes; the returned func closes it.
type Store interface {
	Load(ctx context.Context) (rec domquota.Record, found bool, err error)
	Save(ctx context.Context, rec domquota.Record) error
	Lock(ctx context.Context) (unlock func() error, err error)
}

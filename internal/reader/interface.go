package reader

import (
	"context"

	"github.com/mattjoyce/rfidgate/internal/directory"
	"github.com/mattjoyce/rfidgate/internal/verify"
)

//go:generate mockgen -destination=mocks/mock_reader.go -package=mocks github.com/mattjoyce/rfidgate/internal/reader Directory,Verifier

// Directory resolves scanned identifiers. Implementations must be safe for
// concurrent use and return directory.ErrNotFound for unknown identifiers.
type Directory interface {
	FindByID(ctx context.Context, rfid string) (*directory.Employee, error)
}

// Verifier confirms an identity out of band. It never fails; problems are
// reported through the Result's Outcome.
type Verifier interface {
	Verify(ctx context.Context, rfid string) verify.Result
}

// Package blob selects the object store snapshot exports are published to.
package blob

import (
	"context"
	"fmt"

	"archcore/internal/blob/core"
	"archcore/internal/infra/blob/fs"
	"archcore/internal/infra/blob/memory"
	"archcore/internal/infra/blob/s3"
)

// Store is the object store abstraction.
type Store = core.Store

// Config chooses and parameterises a backend. An empty Driver means no
// publication target.
type Config struct {
	Driver string
	FSRoot string
	S3     s3.Config
}

// DriverNone disables blob publication.
const DriverNone = "none"

// Open builds the store named by cfg.Driver. It returns a nil store for the
// "none" or empty driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverNone:
		return nil, nil
	case string(core.DriverFilesystem):
		st, err := fs.New(cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		return st, nil
	case string(core.DriverMemory):
		return memory.New(), nil
	case string(core.DriverS3):
		st, err := s3.New(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}

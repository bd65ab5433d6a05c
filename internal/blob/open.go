package blob

import (
	"context"
	"fmt"
)

// Config selects and configures a driver
type Config struct {
	Driver Driver
	// Root is the directory of the filesystem driver
	Root string
	S3   S3Config
}

// Open builds the store named by cfg.Driver. The filesystem driver is the
// default.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverFilesystem, "":
		return NewFilesystem(cfg.Root)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

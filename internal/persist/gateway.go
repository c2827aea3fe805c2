package persist

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Gateway reads and writes the workspace snapshot through a Slot.
type Gateway struct {
	slot Slot
	key  string
	log  *zap.Logger
}

// NewGateway creates a gateway writing under Key. log may be nil.
func NewGateway(slot Slot, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{slot: slot, key: Key, log: log}
}

// Slot returns the backing slot.
func (g *Gateway) Slot() Slot { return g.slot }

// Key returns the key snapshots are stored under.
func (g *Gateway) Key() string { return g.key }

// Save overwrites the stored snapshot wholesale. It returns the encoded size.
func (g *Gateway) Save(ctx context.Context, snap *Snapshot) (int, error) {
	data, err := Encode(snap)
	if err != nil {
		return 0, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := g.slot.Write(ctx, g.key, data); err != nil {
		return 0, err
	}
	g.log.Debug("snapshot saved",
		zap.String("slot", g.slot.Name()),
		zap.Int("bytes", len(data)),
	)
	return len(data), nil
}

// Load returns the stored snapshot. It returns (nil, nil) when nothing is
// stored and (nil, error) when the value is unreadable; the caller falls back
// to defaults in both cases. Load never writes to the slot.
func (g *Gateway) Load(ctx context.Context) (snap *Snapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			snap = nil
			err = fmt.Errorf("%w: panic while decoding: %v", ErrMalformedState, r)
		}
	}()

	data, err := g.slot.Read(ctx, g.key)
	if errors.Is(err, ErrEmpty) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	snap, err = Decode(data)
	if err != nil {
		g.log.Warn("stored snapshot is malformed, using defaults",
			zap.String("slot", g.slot.Name()),
			zap.Error(err),
		)
		return nil, err
	}
	if snap.FilesDefaulted {
		g.log.Info("stored snapshot has no file tree, using default files")
	}
	return snap, nil
}

// Close releases the slot.
func (g *Gateway) Close() error {
	return g.slot.Close()
}

// Options selects and configures a slot backend.
type Options struct {
	Driver string // memory, file, sqlite, postgres, s3
	Path   string // file directory or sqlite database
	DSN    string
	Table  string
	S3     S3Config
}

// OpenSlot creates the slot named by opts.Driver.
func OpenSlot(ctx context.Context, opts Options) (Slot, error) {
	var (
		slot Slot
		err  error
	)
	switch opts.Driver {
	case "", "memory":
		return NewMemorySlot(), nil
	case "file":
		var s *FileSlot
		if s, err = NewFileSlot(opts.Path); err == nil {
			slot = s
		}
	case "sqlite":
		var s *SQLiteSlot
		if s, err = NewSQLiteSlot(opts.Path, opts.Table); err == nil {
			slot = s
		}
	case "postgres":
		var s *PostgresSlot
		if s, err = NewPostgresSlot(ctx, opts.DSN, opts.Table); err == nil {
			slot = s
		}
	case "s3":
		var s *S3Slot
		if s, err = NewS3Slot(ctx, opts.S3); err == nil {
			slot = s
		}
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}
	return slot, nil
}

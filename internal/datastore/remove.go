package datastore

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"harvest/internal/faults"
	"harvest/internal/logging"
)

// RemoveItem deletes an item and its tracker. The directory is first renamed
// out of the identifier namespace so the removal is atomic to readers.
func (s *Store) RemoveItem(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validID(id) {
		return faults.NotFound(component, "remove item", id)
	}

	trash := filepath.Join(s.root, trashPrefix+id+"-"+uuid.NewString()[:8])
	if err := os.Rename(s.itemDir(id), trash); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return faults.NotFound(component, "remove item", id)
		}
		return faults.Wrap(faults.ErrIO, component, "remove item", id, err)
	}
	s.recorder.IncItemsRemoved()

	if err := os.RemoveAll(trash); err != nil {
		logging.WarnWithContext(s.logger, "failed to delete removed item", "store_trash_cleanup_failed",
			logging.String(logging.FieldItemID, id),
			logging.String("path", trash),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run items cleanup to sweep leftovers"),
			logging.String(logging.FieldImpact, "disk space not reclaimed until cleanup"),
		)
	}
	s.logger.Debug("item removed",
		logging.String(logging.FieldItemID, id),
		logging.String(logging.FieldEventType, "store_item_removed"),
	)
	return nil
}

package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Schema versions:
// 1 - run reports with id index
const CurrentSchemaVersion = 1

const schemaKey = prefixMeta + "__schema__"

// ErrSchemaTooNew is returned when the database was written by a newer
// release.
var ErrSchemaTooNew = errors.New("history schema is newer than this build")

// Schema holds database schema information.
type Schema struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Schema returns the stored schema, or nil for an empty database.
func (s *Store) Schema() *Schema {
	var schema *Schema
	_ = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(schemaKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			schema = &Schema{}
			return json.Unmarshal(val, schema)
		})
	})
	return schema
}

func (s *Store) ensureSchema() error {
	current := s.Schema()
	if current != nil {
		if current.Version > CurrentSchemaVersion {
			return fmt.Errorf("%w: %d > %d", ErrSchemaTooNew, current.Version, CurrentSchemaVersion)
		}
		if current.Version == CurrentSchemaVersion {
			return nil
		}
	}

	data, err := json.Marshal(Schema{Version: CurrentSchemaVersion, UpdatedAt: time.Now()})
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(schemaKey), data)
	})
}
